package server

import (
	"net/http"
	"strconv"

	"github.com/threatveil/threatveil/internal/model"
)

func (h *handlers) handleOrgOverview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	overview, err := h.aggregator.Overview(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *handlers) handleOrgHorizon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	horizon, err := h.aggregator.Horizon(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, horizon)
}

func (h *handlers) handleOrgRiskTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	weeks := 12
	if raw := r.URL.Query().Get("weeks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "weeks must be a positive integer")
			return
		}
		weeks = n
	}
	points, err := h.aggregator.RiskTimeline(r.Context(), id, weeks)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weeks": points})
}

func (h *handlers) handleOrgWeeklyBrief(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	brief, err := h.aggregator.WeeklyBrief(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

func (h *handlers) handleOrgAIGovernance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	gov, err := h.aggregator.AIGovernance(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gov)
}

func (h *handlers) handleOrgAISecurity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sec, err := h.aggregator.AISecurity(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (h *handlers) handleOrgSignals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	signals, err := h.aggregator.Signals(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func (h *handlers) handleOrgSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	summary, err := h.aggregator.Summary(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleOrgDecisions lists an org's decisions with the per-status rollup.
func (h *handlers) handleOrgDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	decisions, err := h.db.ListDecisionsByOrg(r.Context(), id, 0)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}
	rollup, err := h.db.GetDecisionRollup(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"rollup":    rollup,
	})
}

type assetRequest struct {
	Type       model.AssetType     `json:"type"`
	Name       string              `json:"name"`
	RiskWeight float64             `json:"risk_weight,omitempty"`
	Priority   int                 `json:"priority,omitempty"`
	Frequency  model.ScanFrequency `json:"scan_frequency,omitempty"`
	Status     model.AssetStatus   `json:"status,omitempty"`
}

func (h *handlers) handleListAssets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	assets, err := h.db.ListAssetsByOrg(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (h *handlers) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	orgID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeDetail(w, http.StatusBadRequest, "name is required")
		return
	}
	switch req.Type {
	case model.AssetDomain, model.AssetCodeOrg, model.AssetCloudAccount, model.AssetSaaSVendor:
	default:
		writeDetail(w, http.StatusBadRequest, "unknown asset type")
		return
	}
	if req.Frequency != "" && !req.Frequency.Valid() {
		writeDetail(w, http.StatusBadRequest, "unknown scan frequency")
		return
	}
	if req.RiskWeight != 0 && (req.RiskWeight < 0.1 || req.RiskWeight > 2.0) {
		writeDetail(w, http.StatusBadRequest, "risk_weight must be between 0.1 and 2.0")
		return
	}

	asset, err := h.db.CreateAsset(r.Context(), model.Asset{
		OrgID:      orgID,
		Type:       req.Type,
		Name:       req.Name,
		RiskWeight: req.RiskWeight,
		Priority:   req.Priority,
		Frequency:  req.Frequency,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (h *handlers) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	assetID, ok := pathID(w, r, "asset_id")
	if !ok {
		return
	}
	asset, err := h.db.GetAsset(r.Context(), assetID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (h *handlers) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	assetID, ok := pathID(w, r, "asset_id")
	if !ok {
		return
	}
	asset, err := h.db.GetAsset(r.Context(), assetID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	var req assetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name != "" {
		asset.Name = req.Name
	}
	if req.RiskWeight != 0 {
		if req.RiskWeight < 0.1 || req.RiskWeight > 2.0 {
			writeDetail(w, http.StatusBadRequest, "risk_weight must be between 0.1 and 2.0")
			return
		}
		asset.RiskWeight = req.RiskWeight
	}
	if req.Priority != 0 {
		asset.Priority = req.Priority
	}
	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			writeDetail(w, http.StatusBadRequest, "unknown scan frequency")
			return
		}
		asset.Frequency = req.Frequency
	}
	if req.Status != "" {
		switch req.Status {
		case model.AssetActive, model.AssetPaused:
			asset.Status = req.Status
		default:
			writeDetail(w, http.StatusBadRequest, "status must be active or paused")
			return
		}
	}

	if err := h.db.UpdateAsset(r.Context(), asset); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (h *handlers) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	assetID, ok := pathID(w, r, "asset_id")
	if !ok {
		return
	}
	if err := h.db.DeleteAsset(r.Context(), assetID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
