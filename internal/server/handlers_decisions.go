package server

import (
	"net/http"

	"github.com/threatveil/threatveil/internal/model"
)

func (h *handlers) handleGenerateDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	decisions, err := h.decisions.Generate(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (h *handlers) handleListScanDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	decisions, err := h.db.ListDecisionsByScan(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

type transitionRequest struct {
	Status model.DecisionStatus `json:"status"`
}

func (h *handlers) handleTransitionDecision(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.decisions.Transition(r.Context(), id, req.Status)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	resp := map[string]any{"decision": result.Decision}
	if result.RiskDelta != nil {
		resp["risk_delta"] = *result.RiskDelta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleDecisionImpact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	impact, err := h.db.GetDecisionImpact(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

func (h *handlers) handleVerifyDecision(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeDetail(w, http.StatusServiceUnavailable, "verification is not configured")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	run, err := h.verifier.Verify(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handlers) handleVerificationRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	runs, err := h.db.ListVerificationRuns(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.VerificationRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handlers) handleDecisionEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	evidence, err := h.db.ListDecisionEvidence(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if evidence == nil {
		evidence = []model.DecisionEvidence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evidence})
}
