package msgapi

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/triage"
)

const shortTextLen = 200

// reviewItem is one ranked entry with enough identifying data to act on.
type reviewItem struct {
	ID         string   `json:"id"`
	CreatedAt  string   `json:"created_at"`
	Text       string   `json:"text"`
	IsQuestion bool     `json:"is_question"`
	NeedsReply bool     `json:"needs_reply"`
	Followup   bool     `json:"followup"`
	Urgency    float64  `json:"urgency_score"`
	Replied    bool     `json:"replied"`
	Snoozed    bool     `json:"snoozed"`
	Score      float64  `json:"score"`
	Topics     []string `json:"topics,omitempty"`
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	days, ok := daysParam(w, r)
	if !ok {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sift.review.days", days))

	ranked, err := a.svc.Review(r.Context(), days)
	if err != nil {
		a.logger.Error(r.Context(), err, "review failed", "days", days)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	items := make([]reviewItem, len(ranked))
	for i, it := range ranked {
		items[i] = toReviewItem(it)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	days, ok := daysParam(w, r)
	if !ok {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sift.summary.days", days))

	sum, err := a.svc.Summarize(r.Context(), days)
	if err != nil {
		a.logger.Error(r.Context(), err, "summary failed", "days", days)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

// daysParam parses the optional days query parameter. Zero means "use
// the service default"; a non-numeric value is rejected.
func daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		http.Error(w, `{"error":"invalid days"}`, http.StatusBadRequest)
		return 0, false
	}
	return days, true
}

func toReviewItem(it triage.RankedItem) reviewItem {
	m := it.Message
	out := reviewItem{
		ID:        m.ID,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		Text:      shorten(m.Text),
		Replied:   m.Replied,
		Score:     it.Score,
		Topics:    m.Topics,
	}
	if m.IsQuestion != nil {
		out.IsQuestion = *m.IsQuestion
	}
	if m.NeedsReply != nil {
		out.NeedsReply = *m.NeedsReply
	}
	if m.Followup != nil {
		out.Followup = *m.Followup
	}
	if m.Urgency != nil {
		out.Urgency = *m.Urgency
	}
	if it.Followup != nil && it.Followup.DueAt != nil && it.Followup.Status == triage.FollowupOpen {
		out.Snoozed = true
	}
	return out
}

func shorten(s string) string {
	if len(s) <= shortTextLen {
		return s
	}
	return s[:shortTextLen-3] + "..."
}
