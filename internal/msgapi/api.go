// Package msgapi exposes the triage engine's external events over HTTP.
package msgapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sift/internal/triage"
)

// TriageService defines the business operations msgapi needs.
type TriageService interface {
	Ingest(ctx context.Context, in *triage.IngestInput) (*triage.IngestResult, error)
	Review(ctx context.Context, days int) ([]triage.RankedItem, error)
	Summarize(ctx context.Context, days int) (*triage.Summary, error)
	Resolve(ctx context.Context, messageID string) error
	Snooze(ctx context.Context, messageID string, delay time.Duration) error
	Get(ctx context.Context, id string) (*triage.Message, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", a.handleIngest)
		r.Get("/messages/{id}", a.handleGetMessage)
		r.Post("/messages/{id}/resolve", a.handleResolve)
		r.Post("/messages/{id}/snooze", a.handleSnooze)
		r.Get("/review", a.handleReview)
		r.Get("/summary", a.handleSummary)
	})
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.message.id", id))

	m, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get message", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (a *API) writeActionError(w http.ResponseWriter, r *http.Request, err error, action, id string) {
	switch {
	case errors.Is(err, triage.ErrInvalidInput):
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
	case errors.Is(err, triage.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	default:
		a.logger.Error(r.Context(), err, action+" failed", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
