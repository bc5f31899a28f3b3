package triage

import "time"

// FollowupStatus tracks where a follow-up is in its lifecycle.
type FollowupStatus string

const (
	// FollowupOpen means the item still needs attention.
	FollowupOpen FollowupStatus = "open"

	// FollowupDone means the item has been resolved.
	FollowupDone FollowupStatus = "done"
)

// Message is one ingested message plus the AI metadata attached to it
// after enrichment. Classification fields are pointers: nil means the
// message has not been enriched yet.
type Message struct {
	ID          string         `json:"id"`
	ExternalRef string         `json:"external_ref,omitempty"`
	AuthorRef   string         `json:"author_ref"`
	Text        string         `json:"text"`
	CreatedAt   time.Time      `json:"created_at"`
	IsQuestion  *bool          `json:"is_question,omitempty"`
	NeedsReply  *bool          `json:"needs_reply,omitempty"`
	Followup    *bool          `json:"followup,omitempty"`
	Urgency     *float64       `json:"urgency_score,omitempty"`
	Topics      []string       `json:"topics,omitempty"`
	Entities    map[string]any `json:"entities,omitempty"`
	Sentiment   *float64       `json:"sentiment,omitempty"`
	Replied     bool           `json:"replied"`
}

// Embedding is the semantic vector for one message. The vector length
// always equals the configured embedding dimension; wrong-length
// vectors are rejected before they reach a store.
type Embedding struct {
	MessageID string    `json:"message_id"`
	Vector    []float32 `json:"vector"`
}

// Followup is the actionable-item tracker for a message. At most one
// row exists per message; transitions are last-write-wins upserts.
type Followup struct {
	MessageID  string         `json:"message_id"`
	Status     FollowupStatus `json:"status"`
	DueAt      *time.Time     `json:"due_at,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Summary is a cached digest for an inclusive UTC calendar date range.
// Once stored it is immutable and reused for that exact pair.
type Summary struct {
	StartDate string    `json:"start_date"` // YYYY-MM-DD, UTC
	EndDate   string    `json:"end_date"`   // YYYY-MM-DD, UTC
	Markdown  string    `json:"summary_md"`
	CreatedAt time.Time `json:"created_at"`
}

// DateOnly is the layout for summary date pairs.
const DateOnly = "2006-01-02"
