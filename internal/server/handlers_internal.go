package server

import (
	"net/http"

	"github.com/threatveil/threatveil/internal/scan"
)

type rescanRequest struct {
	Domain    string `json:"domain"`
	GitHubOrg string `json:"github_org,omitempty"`
}

// handleInternalRescan triggers an immediate scan outside the public quota
// and rate limits. Token-guarded; used by operators and the scheduler's
// manual catch-up.
func (h *handlers) handleInternalRescan(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)

	var req rescanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	domain, err := scan.ValidateDomain(req.Domain)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.scanner.Run(r.Context(), domain, req.GitHubOrg)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeDetail(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	status, err := h.scheduler.Snapshot(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
