package api

import (
	"encoding/json"
	"net/http"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

// PromptHandler serves the active prompt set.
type PromptHandler struct {
	prompts PromptManager
	logger  *observability.Logger
}

// Get handles GET /prompts.
func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	ps, err := h.prompts.Prompts(r.Context())
	if err != nil {
		writeDomainError(w, "failed to load prompts", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// Put handles PUT /prompts. Both prompts are required; the new revision takes
// effect for the next task run.
func (h *PromptHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req domain.PromptSet
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Operator == "" {
		req.Operator = r.Header.Get("X-Operator")
	}

	saved, err := h.prompts.Save(r.Context(), req)
	if err != nil {
		writeDomainError(w, "failed to save prompts", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
