package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrInvalidInput marks a request rejected before any side effect.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound marks a request referencing a message that does not exist.
var ErrNotFound = errors.New("not found")

const (
	minWindowDays = 1
	maxWindowDays = 30
)

// Options tune the coordinator. Zero values fall back to defaults.
type Options struct {
	ReviewTopK         int           // ranked items returned per review, default 10
	ReviewQueryLimit   int           // messages scanned per review window, default 500
	DefaultReviewDays  int           // default 3
	DefaultSummaryDays int           // default 7
	DefaultSnooze      time.Duration // default 24h
	SummaryMaxMessages int           // messages batched per summary, default 1000
	MessageTruncateLen int           // chars of each message sent upstream, default 500
	Weights            Weights
}

func (o *Options) fillDefaults() {
	if o.ReviewTopK <= 0 {
		o.ReviewTopK = 10
	}
	if o.ReviewQueryLimit <= 0 {
		o.ReviewQueryLimit = 500
	}
	if o.DefaultReviewDays <= 0 {
		o.DefaultReviewDays = 3
	}
	if o.DefaultSummaryDays <= 0 {
		o.DefaultSummaryDays = 7
	}
	if o.DefaultSnooze <= 0 {
		o.DefaultSnooze = 24 * time.Hour
	}
	if o.SummaryMaxMessages <= 0 {
		o.SummaryMaxMessages = 1000
	}
	if o.MessageTruncateLen <= 0 {
		o.MessageTruncateLen = 500
	}
	if o.Weights == (Weights{}) {
		o.Weights = DefaultWeights()
	}
}

// Service is the triage coordinator: it stitches the store, the
// enricher, the ranker, and the summary cache together per external
// event. Shared state lives only in the store; each event is an
// independent unit of work.
type Service struct {
	store      Store
	enricher   *Enricher
	summarizer Summarizer
	notifier   Notifier // may be nil
	logger     log.Logger
	metrics    *Metrics
	opts       Options
	now        func() time.Time
}

// NewService creates the triage coordinator.
func NewService(store Store, enricher *Enricher, summarizer Summarizer, notifier Notifier, logger log.Logger, m *Metrics, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}
	opts.fillDefaults()
	return &Service{
		store:      store,
		enricher:   enricher,
		summarizer: summarizer,
		notifier:   notifier,
		logger:     logger,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
	}
}

// IngestInput is one inbound message event.
type IngestInput struct {
	ExternalRef string
	AuthorRef   string
	Text        string
	CreatedAt   time.Time
	Raw         []byte
}

// IngestResult reports the stored id and whether the row is new.
type IngestResult struct {
	ID     string `json:"id"`
	WasNew bool   `json:"was_new"`
}

// Ingest durably stores a message, then enriches it asynchronously.
// Redelivery of an already-seen external_ref returns the existing id
// with WasNew=false and triggers no enrichment. Enrichment failure can
// never lose the message: the row is stored before enrichment starts.
func (s *Service) Ingest(ctx context.Context, in *IngestInput) (*IngestResult, error) {
	if in == nil || in.Text == "" {
		s.metrics.IngestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	m := &Message{
		ID:          ulid.Make().String(),
		ExternalRef: in.ExternalRef,
		AuthorRef:   in.AuthorRef,
		Text:        in.Text,
		CreatedAt:   createdAt.UTC(),
	}

	id, wasNew, err := s.store.InsertMessage(ctx, m, in.Raw)
	if err != nil {
		s.metrics.IngestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if !wasNew {
		s.metrics.IngestsTotal.WithLabelValues("duplicate").Inc()
		return &IngestResult{ID: id, WasNew: false}, nil
	}
	s.metrics.IngestsTotal.WithLabelValues("new").Inc()

	// enrichment runs detached - pass only id and text so the stored row
	// stays the single source of truth.
	go s.enrich(context.WithoutCancel(ctx), id, in.Text)

	return &IngestResult{ID: id, WasNew: true}, nil
}

func (s *Service) enrich(ctx context.Context, id, text string) {
	L := s.logger.With("message_id", id)
	start := s.now()

	cls, vec := s.enricher.Enrich(ctx, text)

	if err := s.store.UpdateMetadata(ctx, id, cls); err != nil {
		L.Error(ctx, err, "failed to write classification metadata")
		return
	}

	if vec != nil {
		if err := s.store.PutEmbedding(ctx, &Embedding{MessageID: id, Vector: vec}); err != nil {
			L.Error(ctx, err, "failed to store embedding")
		}
	}

	if cls.Followup || cls.IsQuestion {
		if err := s.store.OpenFollowup(ctx, id); err != nil {
			L.Error(ctx, err, "failed to open follow-up")
		} else {
			s.metrics.FollowupActionsTotal.WithLabelValues("open").Inc()
			s.notifyFollowup(ctx, id)
		}
	}

	s.metrics.EnrichmentDuration.Observe(s.now().Sub(start).Seconds())
	L.Info(ctx, "enrichment complete",
		"is_question", cls.IsQuestion,
		"followup", cls.Followup,
		"urgency", cls.Urgency,
		"embedded", vec != nil,
	)
}

func (s *Service) notifyFollowup(ctx context.Context, id string) {
	if s.notifier == nil {
		return
	}
	m, ok, err := s.store.GetMessage(ctx, id)
	if err != nil || !ok {
		s.logger.Error(ctx, err, "failed to load message for notification", "message_id", id)
		return
	}
	if err := s.notifier.FollowupOpened(ctx, m); err != nil {
		s.metrics.NotifyTotal.WithLabelValues("error").Inc()
		s.logger.Error(ctx, err, "follow-up notification failed", "message_id", id)
		return
	}
	s.metrics.NotifyTotal.WithLabelValues("ok").Inc()
}

// Review returns the top-ranked messages from the trailing window of
// the given number of days. days outside 1..30 is clamped; zero takes
// the default.
func (s *Service) Review(ctx context.Context, days int) ([]RankedItem, error) {
	days = clampDays(days, s.opts.DefaultReviewDays)
	now := s.now().UTC()
	start := s.now()

	msgs, err := s.store.QueryWindow(ctx, now.AddDate(0, 0, -days), now, s.opts.ReviewQueryLimit, OrderDesc)
	if err != nil {
		return nil, fmt.Errorf("query review window: %w", err)
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	followups, err := s.store.Followups(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load followups: %w", err)
	}

	cands := make([]Candidate, len(msgs))
	for i := range msgs {
		cands[i] = Candidate{Message: msgs[i]}
		if f, ok := followups[msgs[i].ID]; ok {
			fu := f
			cands[i].Followup = &fu
		}
	}

	items := Rank(cands, now, s.opts.Weights, s.opts.ReviewTopK)

	s.metrics.ReviewDuration.Observe(s.now().Sub(start).Seconds())
	s.metrics.ReviewItems.Observe(float64(len(items)))
	return items, nil
}

// Summarize returns the digest for the trailing window of the given
// number of days, generating and caching it on first request. The
// window is a UTC calendar date pair: end is today, start is today
// minus days-1, both inclusive.
func (s *Service) Summarize(ctx context.Context, days int) (*Summary, error) {
	days = clampDays(days, s.opts.DefaultSummaryDays)

	now := s.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startDay := end.AddDate(0, 0, -(days - 1))
	startDate := startDay.Format(DateOnly)
	endDate := end.Format(DateOnly)

	if cached, ok, err := s.store.GetSummary(ctx, startDate, endDate); err != nil {
		s.metrics.SummariesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("summary lookup: %w", err)
	} else if ok {
		s.metrics.SummariesTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}

	msgs, err := s.store.QueryWindow(ctx,
		startDay,
		end.Add(24*time.Hour-time.Second),
		s.opts.SummaryMaxMessages,
		OrderAsc,
	)
	if err != nil {
		s.metrics.SummariesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("query summary window: %w", err)
	}

	texts := make([]string, len(msgs))
	for i := range msgs {
		texts[i] = truncate(msgs[i].Text, s.opts.MessageTruncateLen)
	}

	genStart := s.now()
	md, err := s.summarizer.Summarize(ctx, texts, days)
	if err != nil {
		s.metrics.SummariesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("summarize: %w", err)
	}
	s.metrics.SummarizerDuration.Observe(s.now().Sub(genStart).Seconds())
	s.metrics.SummaryMessages.Observe(float64(len(msgs)))

	sum := &Summary{
		StartDate: startDate,
		EndDate:   endDate,
		Markdown:  md,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.PutSummary(ctx, sum); err != nil {
		s.metrics.SummariesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store summary: %w", err)
	}
	s.metrics.SummariesTotal.WithLabelValues("miss").Inc()

	// Re-read so a concurrent first writer's row is what we return.
	if stored, ok, err := s.store.GetSummary(ctx, startDate, endDate); err == nil && ok {
		return stored, nil
	}
	return sum, nil
}

// Resolve marks the message's follow-up done and the message replied.
// Resolving an already-done follow-up is a no-op success.
func (s *Service) Resolve(ctx context.Context, messageID string) error {
	if err := s.checkMessage(ctx, messageID); err != nil {
		return err
	}

	if err := s.store.ResolveFollowup(ctx, messageID, s.now().UTC()); err != nil {
		return fmt.Errorf("resolve followup: %w", err)
	}
	if err := s.store.MarkReplied(ctx, messageID); err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	s.metrics.FollowupActionsTotal.WithLabelValues("resolve").Inc()
	return nil
}

// Snooze pushes the message's follow-up out by delay, replacing any
// previous due time. The last snooze wins; delays never accumulate.
// Zero or negative delay takes the default.
func (s *Service) Snooze(ctx context.Context, messageID string, delay time.Duration) error {
	if err := s.checkMessage(ctx, messageID); err != nil {
		return err
	}

	if delay <= 0 {
		delay = s.opts.DefaultSnooze
	}
	if err := s.store.SnoozeFollowup(ctx, messageID, s.now().UTC().Add(delay)); err != nil {
		return fmt.Errorf("snooze followup: %w", err)
	}
	s.metrics.FollowupActionsTotal.WithLabelValues("snooze").Inc()
	return nil
}

// Get retrieves a message by id.
func (s *Service) Get(ctx context.Context, id string) (*Message, bool, error) {
	return s.store.GetMessage(ctx, id)
}

func (s *Service) checkMessage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	_, ok, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	return nil
}

func clampDays(days, def int) int {
	if days == 0 {
		return def
	}
	if days < minWindowDays {
		return minWindowDays
	}
	if days > maxWindowDays {
		return maxWindowDays
	}
	return days
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
