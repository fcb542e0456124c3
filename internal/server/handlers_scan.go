package server

import (
	"errors"
	"net/http"

	"github.com/threatveil/threatveil/internal/scan"
	"github.com/threatveil/threatveil/internal/storage"
)

type scanRequest struct {
	Domain    string `json:"domain"`
	GitHubOrg string `json:"github_org,omitempty"`
}

// handleScanVendor runs a full passive scan. The quota gate runs before any
// probe fires so free-plan orgs over their limit get a clean 402.
func (h *handlers) handleScanVendor(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	domain, err := scan.ValidateDomain(req.Domain)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := h.db.GetOrCreateOrganizationByDomain(r.Context(), domain)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if !org.CanScan() {
		writeDetail(w, http.StatusPaymentRequired,
			"monthly scan limit reached, upgrade your plan to keep scanning")
		return
	}

	result, err := h.scanner.Run(r.Context(), domain, req.GitHubOrg)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s, err := h.db.GetScan(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.db.DeleteScan(r.Context(), id); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleGetAIScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ai, err := h.db.GetAIScanByScanID(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ai)
}

// handlePreviousScan returns the scan immediately preceding this one for the
// same domain, or nulls when this is the first scan.
func (h *handlers) handlePreviousScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s, err := h.db.GetScan(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	prev, err := h.db.GetPreviousScan(r.Context(), s)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"previous_score":      nil,
				"previous_scan_id":    nil,
				"previous_created_at": nil,
			})
			return
		}
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"previous_score":      prev.RiskScore,
		"previous_scan_id":    prev.ID,
		"previous_created_at": prev.CreatedAt,
	})
}
