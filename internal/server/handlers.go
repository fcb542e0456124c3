package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/connector"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/orgrisk"
	"github.com/threatveil/threatveil/internal/scan"
	"github.com/threatveil/threatveil/internal/scheduler"
	"github.com/threatveil/threatveil/internal/storage"
	"github.com/threatveil/threatveil/internal/webhook"
)

type handlers struct {
	db         *storage.DB
	scanner    ScanRunner
	decisions  *decision.Engine
	verifier   Verifier
	aggregator *orgrisk.Aggregator
	connectors *connector.Service
	dispatcher *webhook.Dispatcher
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger
	version    string
	maxBody    int64
}

// pathID parses the named path value as a UUID. Writes a 400 and returns
// false when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// limitBody caps the request body size when a limit is configured.
func (h *handlers) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
}

// writeStorageError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500.
func (h *handlers) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, scan.ErrInvalidDomain):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, decision.ErrInvalidStatus):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, decision.ErrInvalidTransition):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, connector.ErrInvalidType):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path, "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}
