package msgapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sift/internal/triage"
)

// ingestRequest is one inbound message delivery from the chat transport.
type ingestRequest struct {
	ExternalRef string    `json:"external_ref,omitempty"`
	AuthorRef   string    `json:"author_ref"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.Ingest(r.Context(), &triage.IngestInput{
		ExternalRef: req.ExternalRef,
		AuthorRef:   req.AuthorRef,
		Text:        req.Text,
		CreatedAt:   req.CreatedAt,
		Raw:         body,
	})
	if err != nil {
		if errors.Is(err, triage.ErrInvalidInput) {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		a.logger.Error(r.Context(), err, "ingest failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

type snoozeRequest struct {
	Hours int `json:"hours,omitempty"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.svc.Resolve(r.Context(), id); err != nil {
		a.writeActionError(w, r, err, "resolve", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSnooze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req snoozeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}
	if req.Hours < 0 {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	// zero hours means the service default
	if err := a.svc.Snooze(r.Context(), id, time.Duration(req.Hours)*time.Hour); err != nil {
		a.writeActionError(w, r, err, "snooze", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
