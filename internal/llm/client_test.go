package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

func fastRetry(n int) Option {
	return WithRetryConfig(&RetryConfig{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
}

func stageConfig(url string) config.StageConfig {
	cfg := config.DefaultConfig().OCR
	cfg.Endpoint = url + "/v1"
	cfg.Timeout = 2 * time.Second
	return cfg
}

func writeJSON(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{
		ID:      "cmpl-1",
		Choices: []Choice{{Message: Delta{Role: "assistant", Content: content}, FinishReason: "stop"}},
	})
}

func TestOCRClient_RequestShape(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer EMPTY", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, "recognized text")
	}))
	defer srv.Close()

	img := filepath.Join(t.TempDir(), "page_001.jpg")
	require.NoError(t, os.WriteFile(img, []byte{0xff, 0xd8, 0xff}, 0o644))

	client := NewOCRClient(stageConfig(srv.URL), fastRetry(0))
	text, err := client.Recognize(context.Background(), img, "system prompt")
	require.NoError(t, err)
	assert.Equal(t, "recognized text", text)

	assert.Equal(t, "Qwen/Qwen2.5-VL-7B-Instruct", captured["model"])
	assert.InDelta(t, 0.01, captured["temperature"], 1e-9)
	assert.Equal(t, float64(30000), captured["max_tokens"])

	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	system := messages[0].(map[string]interface{})
	assert.Equal(t, "system prompt", system["content"])

	parts := messages[1].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	imagePart := parts[0].(map[string]interface{})
	url := imagePart["image_url"].(map[string]interface{})["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image;base64,"))
	assert.Equal(t, ocrInstruction, parts[1].(map[string]interface{})["text"])
}

func TestOCRClient_MissingImage(t *testing.T) {
	client := NewOCRClient(stageConfig("http://127.0.0.1:1"), fastRetry(0))
	_, err := client.Recognize(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"), "p")

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.FailureInput, se.Kind)
	assert.Equal(t, domain.StageOCR, se.Stage)
}

func TestTranslateClient_RequestShape(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, "translated")
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Translate
	cfg.Endpoint = srv.URL + "/v1/"

	text, err := NewTranslateClient(cfg, fastRetry(0)).Translate(context.Background(), "source", "translate it")
	require.NoError(t, err)
	assert.Equal(t, "translated", text)

	assert.Equal(t, "Qwen/Qwen3-14B-FP8", captured["model"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-9)
	assert.InDelta(t, 0.8, captured["top_p"], 1e-9)
	assert.Equal(t, float64(20), captured["top_k"])
	assert.Equal(t, float64(4096), captured["max_tokens"])
	assert.Equal(t, map[string]interface{}{"enable_thinking": false}, captured["chat_template_kwargs"])

	messages := captured["messages"].([]interface{})
	assert.Equal(t, "source", messages[1].(map[string]interface{})["content"])
}

func TestTranslateClient_EmptySource(t *testing.T) {
	_, err := NewTranslateClient(config.DefaultConfig().Translate).Translate(context.Background(), "  ", "p")
	assert.Equal(t, domain.FailureInput, domain.FailureKindOf(err))
}

func TestClient_NonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(domain.StageOCR, ClientConfig{BaseURL: srv.URL}, fastRetry(3))
	_, err := client.Complete(context.Background(), &Request{})

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.FailureHTTPStatus, se.Kind)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, "ok")
	}))
	defer srv.Close()

	client := NewClient(domain.StageTranslate, ClientConfig{BaseURL: srv.URL}, fastRetry(2))
	text, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(domain.StageOCR, ClientConfig{BaseURL: srv.URL}, fastRetry(1))
	_, err := client.Complete(context.Background(), &Request{})

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, "after wait")
	}))
	defer srv.Close()

	client := NewClient(domain.StageOCR, ClientConfig{BaseURL: srv.URL},
		WithRetryConfig(&RetryConfig{MaxRetries: 1, InitialBackoff: time.Minute, MaxBackoff: time.Minute}))

	start := time.Now()
	text, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "after wait", text)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestClient_EmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "   ")
	}))
	defer srv.Close()

	_, err := NewClient(domain.StageOCR, ClientConfig{BaseURL: srv.URL}).Complete(context.Background(), &Request{})
	assert.Equal(t, domain.FailureEmptyOutput, domain.FailureKindOf(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(domain.StageOCR, ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, domain.FailureTimeout, domain.FailureKindOf(err))
}

func TestClient_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", ", ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var chunks []string
	client := NewClient(domain.StageTranslate, ClientConfig{BaseURL: srv.URL, Stream: true},
		WithChunkHandler(func(s string) { chunks = append(chunks, s) }))

	text, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"Hello", ", ", "world"}, chunks)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(domain.StageOCR, ClientConfig{BaseURL: url}, fastRetry(1)).Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, domain.FailureTransport, domain.FailureKindOf(err))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
