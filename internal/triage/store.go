package triage

import (
	"context"
	"time"
)

// Order controls the sort direction of QueryWindow results.
type Order string

const (
	// OrderAsc returns oldest messages first (summarization).
	OrderAsc Order = "asc"

	// OrderDesc returns newest messages first (review).
	OrderDesc Order = "desc"
)

// Store is the persistence interface for the triage engine. Every
// mutating operation is an atomic insert-or-update keyed by its row's
// unique key, so concurrent duplicate calls are safe without locks.
type Store interface {
	// InsertMessage stores a message. If m.ExternalRef is non-empty and a
	// message with that reference already exists, the existing id is
	// returned with wasNew=false and nothing is written; a duplicate is
	// success, not an error.
	InsertMessage(ctx context.Context, m *Message, raw []byte) (id string, wasNew bool, err error)

	// GetMessage retrieves a message by id.
	GetMessage(ctx context.Context, id string) (*Message, bool, error)

	// UpdateMetadata overwrites the classification fields of a message.
	// Idempotent; re-enrichment is last-write-wins.
	UpdateMetadata(ctx context.Context, id string, c *Classification) error

	// MarkReplied sets replied=true on a message.
	MarkReplied(ctx context.Context, id string) error

	// QueryWindow returns messages with created_at in [start, end],
	// ordered by created_at, capped at limit.
	QueryWindow(ctx context.Context, start, end time.Time, limit int, order Order) ([]Message, error)

	// PutEmbedding stores the embedding for a message, replacing any
	// previous vector. Callers must have validated the vector length.
	PutEmbedding(ctx context.Context, e *Embedding) error

	// GetEmbedding retrieves the embedding for a message.
	GetEmbedding(ctx context.Context, messageID string) (*Embedding, bool, error)

	// OpenFollowup ensures an open follow-up with no due date exists for
	// the message. A done row is re-opened: new evidence re-opens the
	// item (see the note in the package docs before changing this).
	OpenFollowup(ctx context.Context, messageID string) error

	// ResolveFollowup marks the follow-up done at resolvedAt. Resolving
	// an already-done row keeps its original resolved_at.
	ResolveFollowup(ctx context.Context, messageID string, resolvedAt time.Time) error

	// SnoozeFollowup sets the follow-up open with the given due time,
	// replacing any previous due time. The last snooze wins.
	SnoozeFollowup(ctx context.Context, messageID string, dueAt time.Time) error

	// GetFollowup retrieves the follow-up row for a message.
	GetFollowup(ctx context.Context, messageID string) (*Followup, bool, error)

	// Followups returns the follow-up rows for the given message ids,
	// keyed by message id. Ids without a row are absent from the map.
	Followups(ctx context.Context, messageIDs []string) (map[string]Followup, error)

	// GetSummary retrieves the cached summary for an exact date pair.
	GetSummary(ctx context.Context, startDate, endDate string) (*Summary, bool, error)

	// PutSummary stores a summary. A concurrent insert for the same date
	// pair is a benign race: the first writer wins and the duplicate is
	// silently dropped.
	PutSummary(ctx context.Context, s *Summary) error
}
