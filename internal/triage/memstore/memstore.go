// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

// Store holds triage state in memory. Suitable for dev/testing; the
// mutex stands in for the row-level atomicity Postgres provides.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]*triage.Message   // message ID -> message
	byRef     map[string]string            // external_ref -> message ID (dedup)
	raw       map[string][]byte            // message ID -> raw inbound payload
	vectors   map[string]*triage.Embedding // message ID -> embedding
	followups map[string]*triage.Followup  // message ID -> follow-up
	summaries map[string]*triage.Summary   // start|end -> summary
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		messages:  make(map[string]*triage.Message),
		byRef:     make(map[string]string),
		raw:       make(map[string][]byte),
		vectors:   make(map[string]*triage.Embedding),
		followups: make(map[string]*triage.Followup),
		summaries: make(map[string]*triage.Summary),
	}
}

// InsertMessage stores a copy of the message, deduplicating on
// external_ref. A redelivered reference returns the existing id.
func (s *Store) InsertMessage(_ context.Context, m *triage.Message, raw []byte) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ExternalRef != "" {
		if id, ok := s.byRef[m.ExternalRef]; ok {
			return id, false, nil
		}
	}

	cp := *m
	s.messages[m.ID] = &cp
	if m.ExternalRef != "" {
		s.byRef[m.ExternalRef] = m.ID
	}
	if raw != nil {
		s.raw[m.ID] = raw
	}
	return m.ID, true, nil
}

// GetMessage retrieves a message by id. Returns a copy.
func (s *Store) GetMessage(_ context.Context, id string) (*triage.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false, nil
	}
	cp := *m
	return &cp, true, nil
}

// UpdateMetadata overwrites the classification fields of a message.
// Unknown ids are a no-op, matching an UPDATE that affects zero rows.
func (s *Store) UpdateMetadata(_ context.Context, id string, c *triage.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	isQuestion, needsReply, followup := c.IsQuestion, c.NeedsReply, c.Followup
	urgency, sentiment := c.Urgency, c.Sentiment
	m.IsQuestion = &isQuestion
	m.NeedsReply = &needsReply
	m.Followup = &followup
	m.Urgency = &urgency
	m.Sentiment = &sentiment
	m.Topics = c.Topics
	m.Entities = c.Entities
	return nil
}

// MarkReplied sets replied=true on a message.
func (s *Store) MarkReplied(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Replied = true
	}
	return nil
}

// QueryWindow returns messages with created_at in [start, end] ordered
// by created_at, capped at limit.
func (s *Store) QueryWindow(_ context.Context, start, end time.Time, limit int, order triage.Order) ([]triage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []triage.Message
	for _, m := range s.messages {
		if m.CreatedAt.Before(start) || m.CreatedAt.After(end) {
			continue
		}
		out = append(out, *m)
	}

	sort.Slice(out, func(i, j int) bool {
		if order == triage.OrderDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutEmbedding stores a copy of the embedding, replacing any previous
// vector for the message.
func (s *Store) PutEmbedding(_ context.Context, e *triage.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := triage.Embedding{MessageID: e.MessageID, Vector: append([]float32(nil), e.Vector...)}
	s.vectors[e.MessageID] = &cp
	return nil
}

// GetEmbedding retrieves the embedding for a message. Returns a copy.
func (s *Store) GetEmbedding(_ context.Context, messageID string) (*triage.Embedding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vectors[messageID]
	if !ok {
		return nil, false, nil
	}
	cp := triage.Embedding{MessageID: e.MessageID, Vector: append([]float32(nil), e.Vector...)}
	return &cp, true, nil
}

// OpenFollowup upserts an open follow-up with no due date. A done row
// is re-opened; a snoozed row loses its due date.
func (s *Store) OpenFollowup(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followups[messageID] = &triage.Followup{
		MessageID: messageID,
		Status:    triage.FollowupOpen,
	}
	return nil
}

// ResolveFollowup upserts the follow-up as done. An already-done row
// keeps its original resolved_at.
func (s *Store) ResolveFollowup(_ context.Context, messageID string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.followups[messageID]; ok && f.Status == triage.FollowupDone {
		return nil
	}
	s.followups[messageID] = &triage.Followup{
		MessageID:  messageID,
		Status:     triage.FollowupDone,
		ResolvedAt: &resolvedAt,
	}
	return nil
}

// SnoozeFollowup upserts the follow-up as open with the given due time,
// replacing any previous one.
func (s *Store) SnoozeFollowup(_ context.Context, messageID string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followups[messageID] = &triage.Followup{
		MessageID: messageID,
		Status:    triage.FollowupOpen,
		DueAt:     &dueAt,
	}
	return nil
}

// GetFollowup retrieves the follow-up row for a message. Returns a copy.
func (s *Store) GetFollowup(_ context.Context, messageID string) (*triage.Followup, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.followups[messageID]
	if !ok {
		return nil, false, nil
	}
	cp := *f
	return &cp, true, nil
}

// Followups returns the follow-up rows for the given message ids.
func (s *Store) Followups(_ context.Context, messageIDs []string) (map[string]triage.Followup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]triage.Followup)
	for _, id := range messageIDs {
		if f, ok := s.followups[id]; ok {
			out[id] = *f
		}
	}
	return out, nil
}

// GetSummary retrieves the cached summary for an exact date pair.
func (s *Store) GetSummary(_ context.Context, startDate, endDate string) (*triage.Summary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[startDate+"|"+endDate]
	if !ok {
		return nil, false, nil
	}
	cp := *sum
	return &cp, true, nil
}

// PutSummary stores a summary unless one already exists for the date
// pair; the first writer wins.
func (s *Store) PutSummary(_ context.Context, sum *triage.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sum.StartDate + "|" + sum.EndDate
	if _, ok := s.summaries[key]; ok {
		return nil
	}
	cp := *sum
	s.summaries[key] = &cp
	return nil
}
