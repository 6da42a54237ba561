package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const (
	sseInitialBuf = 64 << 10
	sseMaxLine    = 1 << 20
	sseDone       = "[DONE]"
)

// delta is one decoded fragment of a streamed completion.
type delta struct {
	text   string
	finish string
	last   bool
}

// eventReader decodes the data lines of an OpenAI-style event stream.
// Comments, other fields and undecodable payloads are skipped.
type eventReader struct {
	sc *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, sseInitialBuf), sseMaxLine)
	return &eventReader{sc: sc}
}

// next returns the following fragment. End of input without a [DONE] marker
// is reported as a final, empty fragment.
func (er *eventReader) next() (delta, error) {
	for er.sc.Scan() {
		payload, ok := strings.CutPrefix(er.sc.Text(), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == sseDone {
			return delta{last: true}, nil
		}

		var resp Response
		if json.Unmarshal([]byte(payload), &resp) != nil || len(resp.Choices) == 0 {
			continue
		}
		ch := resp.Choices[0]
		return delta{text: ch.Delta.Content, finish: ch.FinishReason, last: ch.FinishReason != ""}, nil
	}
	return delta{last: true}, er.sc.Err()
}

// collect concatenates fragments until the stream ends, passing each
// non-empty one to onChunk when set.
func (er *eventReader) collect(onChunk func(string)) (string, error) {
	var out strings.Builder
	for {
		d, err := er.next()
		if err != nil {
			return out.String(), err
		}
		if d.text != "" {
			out.WriteString(d.text)
			if onChunk != nil {
				onChunk(d.text)
			}
		}
		if d.last {
			return out.String(), nil
		}
	}
}
