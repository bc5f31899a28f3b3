// Package pgstore provides a PostgreSQL implementation of triage.Store.
//
// Every idempotency contract in the store interface maps to a single
// ON CONFLICT statement here, so concurrent duplicate operations settle
// at the row level without application locks.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const messageColumns = `id, COALESCE(external_ref, ''), author_ref, content, created_at,
	is_question, needs_reply, followup, urgency_score, topics, entities, sentiment, replied`

// InsertMessage stores a message, deduplicating on external_ref. The
// insert and the dedup decision are one statement: a redelivered
// reference inserts nothing, and the follow-up select returns the
// winner's id regardless of which writer got there first.
func (s *Store) InsertMessage(ctx context.Context, m *triage.Message, raw []byte) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.InsertMessage", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, external_ref, author_ref, content, created_at, raw_payload)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		m.ID, m.ExternalRef, m.AuthorRef, m.Text, m.CreatedAt, nullableJSON(raw),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("insert message: %w", err)
	}

	// Conflict on external_ref: fetch the existing row's id.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM messages WHERE external_ref = $1`, m.ExternalRef,
	).Scan(&id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("select existing message: %w", err)
	}
	return id, false, nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*triage.Message, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetMessage", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessageRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if m == nil {
		return nil, false, nil
	}
	return m, true, nil
}

// UpdateMetadata overwrites the classification fields of a message.
func (s *Store) UpdateMetadata(ctx context.Context, id string, c *triage.Classification) error {
	ctx, span := tracer.Start(ctx, "pgstore.UpdateMetadata", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	topicsJSON, err := json.Marshal(c.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	entitiesJSON, err := json.Marshal(c.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET
			is_question   = $2,
			needs_reply   = $3,
			followup      = $4,
			urgency_score = $5,
			topics        = $6,
			entities      = $7,
			sentiment     = $8
		 WHERE id = $1`,
		id, c.IsQuestion, c.NeedsReply, c.Followup, c.Urgency, topicsJSON, entitiesJSON, c.Sentiment,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// MarkReplied sets replied=true on a message.
func (s *Store) MarkReplied(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "pgstore.MarkReplied", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `UPDATE messages SET replied = TRUE WHERE id = $1`, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

// QueryWindow returns messages with created_at in [start, end].
func (s *Store) QueryWindow(ctx context.Context, start, end time.Time, limit int, order triage.Order) ([]triage.Message, error) {
	ctx, span := tracer.Start(ctx, "pgstore.QueryWindow", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	dir := "ASC"
	if order == triage.OrderDesc {
		dir = "DESC"
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ` + dir + ` LIMIT $3`

	rows, err := s.pool.Query(ctx, query, start, end, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query window: %w", err)
	}
	defer rows.Close()

	var out []triage.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// PutEmbedding stores the vector for a message, replacing any previous one.
func (s *Store) PutEmbedding(ctx context.Context, e *triage.Embedding) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutEmbedding", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO embeddings (message_id, vector)
		 VALUES ($1, $2)
		 ON CONFLICT (message_id) DO UPDATE SET vector = EXCLUDED.vector`,
		e.MessageID, e.Vector,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// GetEmbedding retrieves the embedding for a message.
func (s *Store) GetEmbedding(ctx context.Context, messageID string) (*triage.Embedding, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetEmbedding", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	e := triage.Embedding{MessageID: messageID}
	err := s.pool.QueryRow(ctx,
		`SELECT vector FROM embeddings WHERE message_id = $1`, messageID,
	).Scan(&e.Vector)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get embedding: %w", err)
	}
	return &e, true, nil
}

// OpenFollowup upserts an open follow-up with no due date. Re-opens a
// done row and clears the due date of a snoozed one.
func (s *Store) OpenFollowup(ctx context.Context, messageID string) error {
	return s.upsertFollowup(ctx, "OpenFollowup",
		`INSERT INTO followups (message_id, status)
		 VALUES ($1, 'open')
		 ON CONFLICT (message_id) DO UPDATE SET
			status = 'open', due_at = NULL, resolved_at = NULL`,
		messageID,
	)
}

// ResolveFollowup upserts the follow-up as done. An already-done row
// keeps its original resolved_at.
func (s *Store) ResolveFollowup(ctx context.Context, messageID string, resolvedAt time.Time) error {
	return s.upsertFollowup(ctx, "ResolveFollowup",
		`INSERT INTO followups (message_id, status, resolved_at)
		 VALUES ($1, 'done', $2)
		 ON CONFLICT (message_id) DO UPDATE SET
			status = 'done',
			due_at = NULL,
			resolved_at = CASE
				WHEN followups.status = 'done' THEN followups.resolved_at
				ELSE EXCLUDED.resolved_at
			END`,
		messageID, resolvedAt,
	)
}

// SnoozeFollowup upserts the follow-up as open with the given due time.
// The last snooze wins.
func (s *Store) SnoozeFollowup(ctx context.Context, messageID string, dueAt time.Time) error {
	return s.upsertFollowup(ctx, "SnoozeFollowup",
		`INSERT INTO followups (message_id, status, due_at)
		 VALUES ($1, 'open', $2)
		 ON CONFLICT (message_id) DO UPDATE SET
			status = 'open', due_at = EXCLUDED.due_at, resolved_at = NULL`,
		messageID, dueAt,
	)
}

func (s *Store) upsertFollowup(ctx context.Context, op, query string, args ...any) error {
	ctx, span := tracer.Start(ctx, "pgstore."+op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert followup: %w", err)
	}
	return nil
}

// GetFollowup retrieves the follow-up row for a message.
func (s *Store) GetFollowup(ctx context.Context, messageID string) (*triage.Followup, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetFollowup", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	f := triage.Followup{MessageID: messageID}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status, due_at, resolved_at FROM followups WHERE message_id = $1`, messageID,
	).Scan(&status, &f.DueAt, &f.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get followup: %w", err)
	}
	f.Status = triage.FollowupStatus(status)
	return &f, true, nil
}

// Followups returns follow-up rows for the given message ids.
func (s *Store) Followups(ctx context.Context, messageIDs []string) (map[string]triage.Followup, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Followups", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	out := make(map[string]triage.Followup)
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, status, due_at, resolved_at FROM followups WHERE message_id = ANY($1)`,
		messageIDs,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query followups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f triage.Followup
		var status string
		if err := rows.Scan(&f.MessageID, &status, &f.DueAt, &f.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		f.Status = triage.FollowupStatus(status)
		out[f.MessageID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followups: %w", err)
	}
	return out, nil
}

// GetSummary retrieves the cached summary for an exact date pair.
func (s *Store) GetSummary(ctx context.Context, startDate, endDate string) (*triage.Summary, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetSummary", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		sum        triage.Summary
		start, end time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT start_date, end_date, summary_md, created_at
		 FROM summaries WHERE start_date = $1 AND end_date = $2`,
		startDate, endDate,
	).Scan(&start, &end, &sum.Markdown, &sum.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get summary: %w", err)
	}
	sum.StartDate = start.Format(triage.DateOnly)
	sum.EndDate = end.Format(triage.DateOnly)
	return &sum, true, nil
}

// PutSummary stores a summary. A duplicate date pair is dropped; the
// first writer wins and summaries are never rewritten.
func (s *Store) PutSummary(ctx context.Context, sum *triage.Summary) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutSummary", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO summaries (start_date, end_date, summary_md, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (start_date, end_date) DO NOTHING`,
		sum.StartDate, sum.EndDate, sum.Markdown, sum.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put summary: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// scanMessageRow scans a single row into a triage.Message.
// Returns (nil, nil) when no row is found.
func scanMessageRow(row pgx.Row) (*triage.Message, error) {
	var (
		m            triage.Message
		topicsJSON   []byte
		entitiesJSON []byte
	)

	err := row.Scan(
		&m.ID, &m.ExternalRef, &m.AuthorRef, &m.Text, &m.CreatedAt,
		&m.IsQuestion, &m.NeedsReply, &m.Followup, &m.Urgency,
		&topicsJSON, &entitiesJSON, &m.Sentiment, &m.Replied,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if topicsJSON != nil {
		if err := json.Unmarshal(topicsJSON, &m.Topics); err != nil {
			return nil, fmt.Errorf("unmarshal topics: %w", err)
		}
	}
	if entitiesJSON != nil {
		if err := json.Unmarshal(entitiesJSON, &m.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}

	return &m, nil
}
