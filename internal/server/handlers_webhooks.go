package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/threatveil/threatveil/internal/model"
)

var knownEvents = map[model.EventType]bool{
	model.EventWeeklyBrief:      true,
	model.EventDecisionCreated:  true,
	model.EventDecisionVerified: true,
	model.EventRiskScoreChanged: true,
	model.EventTest:             true,
}

type webhookRequest struct {
	URL    string            `json:"url"`
	Events []model.EventType `json:"events,omitempty"`
	Active *bool             `json:"active,omitempty"`
}

func validateEvents(events []model.EventType) (model.EventType, bool) {
	for _, e := range events {
		if !knownEvents[e] {
			return e, false
		}
	}
	return "", true
}

func (h *handlers) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	hooks, err := h.db.ListWebhooksByOrg(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []model.Webhook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

// handleCreateWebhook registers an endpoint and returns its signing secret.
// The secret is shown exactly once; it is never serialized again.
func (h *handlers) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	orgID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeDetail(w, http.StatusBadRequest, "url is required")
		return
	}
	if bad, ok := validateEvents(req.Events); !ok {
		writeDetail(w, http.StatusBadRequest, "unknown event type: "+string(bad))
		return
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	secret := hex.EncodeToString(secretBytes)

	hook, err := h.db.CreateWebhook(r.Context(), model.Webhook{
		OrgID:  orgID,
		URL:    req.URL,
		Secret: secret,
		Events: req.Events,
		Active: true,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": hook,
		"secret":  secret,
	})
}

func (h *handlers) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	hookID, ok := pathID(w, r, "webhook_id")
	if !ok {
		return
	}
	hook, err := h.db.GetWebhook(r.Context(), hookID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL != "" {
		hook.URL = req.URL
	}
	if req.Events != nil {
		if bad, ok := validateEvents(req.Events); !ok {
			writeDetail(w, http.StatusBadRequest, "unknown event type: "+string(bad))
			return
		}
		hook.Events = req.Events
	}
	if req.Active != nil {
		hook.Active = *req.Active
	}

	if err := h.db.UpdateWebhook(r.Context(), hook); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (h *handlers) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	hookID, ok := pathID(w, r, "webhook_id")
	if !ok {
		return
	}
	if err := h.db.DeleteWebhook(r.Context(), hookID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestWebhook fires a signed test event at the endpoint synchronously
// and reports the delivery outcome.
func (h *handlers) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeDetail(w, http.StatusServiceUnavailable, "webhook delivery is not configured")
		return
	}
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	hookID, ok := pathID(w, r, "webhook_id")
	if !ok {
		return
	}
	hook, err := h.db.GetWebhook(r.Context(), hookID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	delivery, err := h.dispatcher.Deliver(r.Context(), hook, model.EventTest, map[string]any{
		"message":      "This is a test event.",
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Delivery failure is a result, not a server error.
		writeJSON(w, http.StatusOK, map[string]any{"delivery": delivery, "delivered": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivery": delivery, "delivered": true})
}

func (h *handlers) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	hookID, ok := pathID(w, r, "webhook_id")
	if !ok {
		return
	}
	deliveries, err := h.db.ListWebhookDeliveries(r.Context(), hookID, 50)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []model.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

type connectorRequest struct {
	Type        model.ConnectorType `json:"type,omitempty"`
	Name        string              `json:"name,omitempty"`
	Credentials map[string]any      `json:"credentials,omitempty"`
	Config      map[string]any      `json:"config,omitempty"`
	Status      string              `json:"status,omitempty"`
}

func (h *handlers) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	if h.connectors == nil {
		writeDetail(w, http.StatusServiceUnavailable, "connectors are not configured")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.connectors.List(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": list})
}

func (h *handlers) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	if h.connectors == nil {
		writeDetail(w, http.StatusServiceUnavailable, "connectors are not configured")
		return
	}
	h.limitBody(w, r)
	orgID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created, err := h.connectors.Create(r.Context(), model.Connector{
		OrgID:       orgID,
		Type:        req.Type,
		Name:        req.Name,
		Credentials: req.Credentials,
		Config:      req.Config,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	if h.connectors == nil {
		writeDetail(w, http.StatusServiceUnavailable, "connectors are not configured")
		return
	}
	h.limitBody(w, r)
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	connectorID, ok := pathID(w, r, "connector_id")
	if !ok {
		return
	}
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	updated, err := h.connectors.Update(r.Context(), model.Connector{
		ID:          connectorID,
		Name:        req.Name,
		Credentials: req.Credentials,
		Config:      req.Config,
		Status:      req.Status,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) handleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	if h.connectors == nil {
		writeDetail(w, http.StatusServiceUnavailable, "connectors are not configured")
		return
	}
	if _, ok := pathID(w, r, "id"); !ok {
		return
	}
	connectorID, ok := pathID(w, r, "connector_id")
	if !ok {
		return
	}
	if err := h.connectors.Delete(r.Context(), connectorID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
