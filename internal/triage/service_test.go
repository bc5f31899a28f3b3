package triage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	messages  map[string]*Message
	byRef     map[string]string
	vectors   map[string]*Embedding
	followups map[string]*Followup
	summaries map[string]*Summary
	insertErr error
	getErr    error
}

func newMockStore() *mockStore {
	return &mockStore{
		messages:  make(map[string]*Message),
		byRef:     make(map[string]string),
		vectors:   make(map[string]*Embedding),
		followups: make(map[string]*Followup),
		summaries: make(map[string]*Summary),
	}
}

func (m *mockStore) InsertMessage(_ context.Context, msg *Message, _ []byte) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", false, m.insertErr
	}
	if msg.ExternalRef != "" {
		if id, ok := m.byRef[msg.ExternalRef]; ok {
			return id, false, nil
		}
		m.byRef[msg.ExternalRef] = msg.ID
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return msg.ID, true, nil
}

func (m *mockStore) GetMessage(_ context.Context, id string) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, false, nil
	}
	cp := *msg
	return &cp, true, nil
}

func (m *mockStore) UpdateMetadata(_ context.Context, id string, c *Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return errors.New("no such message")
	}
	q, nr, fu := c.IsQuestion, c.NeedsReply, c.Followup
	urg, sent := c.Urgency, c.Sentiment
	msg.IsQuestion = &q
	msg.NeedsReply = &nr
	msg.Followup = &fu
	msg.Urgency = &urg
	msg.Sentiment = &sent
	msg.Topics = c.Topics
	msg.Entities = c.Entities
	return nil
}

func (m *mockStore) MarkReplied(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return errors.New("no such message")
	}
	msg.Replied = true
	return nil
}

func (m *mockStore) QueryWindow(_ context.Context, start, end time.Time, limit int, order Order) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(start) || msg.CreatedAt.After(end) {
			continue
		}
		out = append(out, *msg)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			before := out[i].CreatedAt.Before(out[j].CreatedAt)
			if (order == OrderAsc && !before) || (order == OrderDesc && before) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) PutEmbedding(_ context.Context, e *Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.vectors[e.MessageID] = &cp
	return nil
}

func (m *mockStore) GetEmbedding(_ context.Context, messageID string) (*Embedding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vectors[messageID]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (m *mockStore) OpenFollowup(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups[messageID] = &Followup{MessageID: messageID, Status: FollowupOpen}
	return nil
}

func (m *mockStore) ResolveFollowup(_ context.Context, messageID string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.followups[messageID]; ok && f.Status == FollowupDone {
		return nil
	}
	m.followups[messageID] = &Followup{MessageID: messageID, Status: FollowupDone, ResolvedAt: &resolvedAt}
	return nil
}

func (m *mockStore) SnoozeFollowup(_ context.Context, messageID string, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups[messageID] = &Followup{MessageID: messageID, Status: FollowupOpen, DueAt: &dueAt}
	return nil
}

func (m *mockStore) GetFollowup(_ context.Context, messageID string) (*Followup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followups[messageID]
	if !ok {
		return nil, false, nil
	}
	cp := *f
	return &cp, true, nil
}

func (m *mockStore) Followups(_ context.Context, messageIDs []string) (map[string]Followup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Followup)
	for _, id := range messageIDs {
		if f, ok := m.followups[id]; ok {
			out[id] = *f
		}
	}
	return out, nil
}

func (m *mockStore) GetSummary(_ context.Context, startDate, endDate string) (*Summary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[startDate+"|"+endDate]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (m *mockStore) PutSummary(_ context.Context, s *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.StartDate + "|" + s.EndDate
	if _, ok := m.summaries[key]; ok {
		return nil
	}
	cp := *s
	m.summaries[key] = &cp
	return nil
}

// mockClassifier returns a fixed JSON payload and counts calls.
type mockClassifier struct {
	calls atomic.Int64
	raw   []byte
	err   error
}

func (c *mockClassifier) Classify(_ context.Context, _ string) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.raw, nil
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (e *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return e.vec, e.err
}

type mockSummarizer struct {
	calls atomic.Int64
	out   string
	err   error

	mu        sync.Mutex
	lastTexts []string
	lastDays  int
}

func (s *mockSummarizer) Summarize(_ context.Context, texts []string, days int) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastTexts = texts
	s.lastDays = days
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	opened []string
}

func (n *mockNotifier) FollowupOpened(_ context.Context, m *Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, m.ID)
	return nil
}

func newTestService(store Store, cls Classifier, emb Embedder, sum Summarizer, not Notifier, opts Options) *Service {
	enricher := NewEnricher(cls, emb, 3, log.Nop(), nil)
	return NewService(store, enricher, sum, not, log.Nop(), nil, opts)
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIngest_RejectsEmptyText(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil, nil, nil, Options{})

	for _, in := range []*IngestInput{nil, {Text: ""}} {
		if _, err := svc.Ingest(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Ingest(%v) err = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestIngest_StoresNewMessage(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil, nil, nil, nil, Options{})

	res, err := svc.Ingest(context.Background(), &IngestInput{
		ExternalRef: "slack-123",
		AuthorRef:   "U42",
		Text:        "can someone look at the deploy?",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.WasNew {
		t.Error("WasNew = false, want true")
	}
	if res.ID == "" {
		t.Fatal("empty id")
	}

	m, ok, err := store.GetMessage(context.Background(), res.ID)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if m.Text != "can someone look at the deploy?" {
		t.Errorf("text = %q", m.Text)
	}
	if m.CreatedAt.IsZero() || m.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at = %v, want non-zero UTC", m.CreatedAt)
	}
}

func TestIngest_DuplicateReturnsExistingID(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	cls := &mockClassifier{raw: []byte(`{}`)}
	svc := newTestService(store, cls, nil, nil, nil, Options{})

	// seed the existing row directly so no enrichment goroutine runs
	store.byRef["slack-dup"] = "existing-id"
	store.messages["existing-id"] = &Message{ID: "existing-id", ExternalRef: "slack-dup", Text: "first"}

	res, err := svc.Ingest(context.Background(), &IngestInput{ExternalRef: "slack-dup", Text: "redelivered"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.WasNew {
		t.Error("WasNew = true, want false for redelivery")
	}
	if res.ID != "existing-id" {
		t.Errorf("id = %q, want %q", res.ID, "existing-id")
	}
	if n := cls.calls.Load(); n != 0 {
		t.Errorf("classifier calls = %d, want 0 for duplicate", n)
	}
	if store.messages["existing-id"].Text != "first" {
		t.Error("duplicate ingest mutated stored message")
	}
}

func TestEnrich_WritesMetadataAndEmbedding(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "hello"}

	cls := &mockClassifier{raw: []byte(`{"is_question":true,"needs_reply":true,"followup":false,"urgency_score":0.8,"topics":["deploy"],"sentiment":-0.2}`)}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	svc := newTestService(store, cls, emb, nil, nil, Options{})

	svc.enrich(context.Background(), "m1", "hello")

	m, _, _ := store.GetMessage(context.Background(), "m1")
	if m.IsQuestion == nil || !*m.IsQuestion {
		t.Error("is_question not set")
	}
	if m.Urgency == nil || *m.Urgency != 0.8 {
		t.Errorf("urgency = %v, want 0.8", m.Urgency)
	}
	if len(m.Topics) != 1 || m.Topics[0] != "deploy" {
		t.Errorf("topics = %v", m.Topics)
	}

	e, ok, _ := store.GetEmbedding(context.Background(), "m1")
	if !ok {
		t.Fatal("embedding not stored")
	}
	if len(e.Vector) != 3 {
		t.Errorf("vector len = %d, want 3", len(e.Vector))
	}
}

func TestEnrich_ClassifierFailureDegradesToNeutral(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "hello"}

	cls := &mockClassifier{err: errors.New("model unavailable")}
	svc := newTestService(store, cls, nil, nil, nil, Options{})

	svc.enrich(context.Background(), "m1", "hello")

	m, _, _ := store.GetMessage(context.Background(), "m1")
	if m.IsQuestion == nil || *m.IsQuestion {
		t.Error("is_question should be set false on failure")
	}
	if m.Urgency == nil || *m.Urgency != 0 {
		t.Errorf("urgency = %v, want 0", m.Urgency)
	}
	if _, ok := store.followups["m1"]; ok {
		t.Error("no follow-up should open on neutral classification")
	}
}

func TestEnrich_WrongDimensionEmbeddingRejected(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "hello"}

	cls := &mockClassifier{raw: []byte(`{}`)}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}} // dim 2, want 3
	svc := newTestService(store, cls, emb, nil, nil, Options{})

	svc.enrich(context.Background(), "m1", "hello")

	if _, ok, _ := store.GetEmbedding(context.Background(), "m1"); ok {
		t.Error("wrong-length vector must not be stored")
	}
	// classification still lands
	m, _, _ := store.GetMessage(context.Background(), "m1")
	if m.IsQuestion == nil {
		t.Error("metadata missing despite embedding rejection")
	}
}

func TestEnrich_OpensFollowupAndNotifies(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "please follow up on the invoice"}

	cls := &mockClassifier{raw: []byte(`{"followup":true}`)}
	not := &mockNotifier{}
	svc := newTestService(store, cls, nil, nil, not, Options{})

	svc.enrich(context.Background(), "m1", "please follow up on the invoice")

	f, ok, _ := store.GetFollowup(context.Background(), "m1")
	if !ok || f.Status != FollowupOpen {
		t.Fatalf("followup = %+v ok=%v, want open", f, ok)
	}
	if f.DueAt != nil {
		t.Error("freshly opened follow-up must have no due time")
	}
	not.mu.Lock()
	defer not.mu.Unlock()
	if len(not.opened) != 1 || not.opened[0] != "m1" {
		t.Errorf("notifier opened = %v, want [m1]", not.opened)
	}
}

func TestResolve_Validation(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil, nil, nil, Options{})

	if err := svc.Resolve(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty id err = %v, want ErrInvalidInput", err)
	}
	if err := svc.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}
}

func TestResolve_MarksDoneAndReplied(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "x"}
	store.followups["m1"] = &Followup{MessageID: "m1", Status: FollowupOpen}

	svc := newTestService(store, nil, nil, nil, nil, Options{})

	if err := svc.Resolve(context.Background(), "m1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	f, _, _ := store.GetFollowup(context.Background(), "m1")
	if f.Status != FollowupDone || f.ResolvedAt == nil {
		t.Errorf("followup = %+v, want done with resolved_at", f)
	}
	m, _, _ := store.GetMessage(context.Background(), "m1")
	if !m.Replied {
		t.Error("replied = false, want true")
	}

	// resolving again is a no-op success
	if err := svc.Resolve(context.Background(), "m1"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
}

func TestSnooze_DefaultAndOverwrite(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "x"}

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(store, nil, nil, nil, nil, Options{})
	svc.now = fixedNow(now)

	// zero delay takes the 24h default
	if err := svc.Snooze(context.Background(), "m1", 0); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	f, _, _ := store.GetFollowup(context.Background(), "m1")
	if got, want := *f.DueAt, now.Add(24*time.Hour); !got.Equal(want) {
		t.Errorf("due_at = %v, want %v", got, want)
	}

	// a later snooze replaces the due time, it does not accumulate
	if err := svc.Snooze(context.Background(), "m1", time.Hour); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	f, _, _ = store.GetFollowup(context.Background(), "m1")
	if got, want := *f.DueAt, now.Add(time.Hour); !got.Equal(want) {
		t.Errorf("due_at after resnooze = %v, want %v", got, want)
	}
	if f.Status != FollowupOpen {
		t.Errorf("status = %q, want open", f.Status)
	}
}

func TestSnooze_UnknownMessage(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil, nil, nil, nil, Options{})
	if err := svc.Snooze(context.Background(), "nope", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReview_RanksAndExcludesSnoozed(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	boolp := func(b bool) *bool { return &b }

	store := newMockStore()
	store.messages["q"] = &Message{ID: "q", Text: "question", CreatedAt: now.Add(-time.Hour), IsQuestion: boolp(true)}
	store.messages["plain"] = &Message{ID: "plain", Text: "fyi", CreatedAt: now.Add(-2 * time.Hour), Replied: true}
	store.messages["snoozed"] = &Message{ID: "snoozed", Text: "later", CreatedAt: now.Add(-time.Hour), IsQuestion: boolp(true)}
	due := now.Add(6 * time.Hour)
	store.followups["snoozed"] = &Followup{MessageID: "snoozed", Status: FollowupOpen, DueAt: &due}
	store.messages["old"] = &Message{ID: "old", Text: "ancient", CreatedAt: now.AddDate(0, 0, -20)}

	svc := newTestService(store, nil, nil, nil, nil, Options{})
	svc.now = fixedNow(now)

	items, err := svc.Review(context.Background(), 3)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Message.ID
	}
	// "old" is outside the 3-day window, "snoozed" is due in the future
	if len(ids) != 2 || ids[0] != "q" || ids[1] != "plain" {
		t.Fatalf("ids = %v, want [q plain]", ids)
	}
	if items[0].Score <= items[1].Score {
		t.Errorf("scores not descending: %v vs %v", items[0].Score, items[1].Score)
	}
}

func TestReview_TopKCap(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	for _, id := range []string{"a", "b", "c"} {
		store.messages[id] = &Message{ID: id, Text: id, CreatedAt: now.Add(-time.Hour)}
	}

	svc := newTestService(store, nil, nil, nil, nil, Options{ReviewTopK: 2})
	svc.now = fixedNow(now)

	items, err := svc.Review(context.Background(), 1)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
}

func TestSummarize_CachesByDatePair(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: "deploy went fine", CreatedAt: now.Add(-time.Hour)}

	sum := &mockSummarizer{out: "## Digest\n- deploys fine"}
	svc := newTestService(store, nil, nil, sum, nil, Options{})
	svc.now = fixedNow(now)

	first, err := svc.Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if first.StartDate != "2024-03-04" || first.EndDate != "2024-03-10" {
		t.Errorf("window = %s..%s, want 2024-03-04..2024-03-10", first.StartDate, first.EndDate)
	}
	if first.Markdown != "## Digest\n- deploys fine" {
		t.Errorf("markdown = %q", first.Markdown)
	}

	second, err := svc.Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("second Summarize: %v", err)
	}
	if second.Markdown != first.Markdown {
		t.Error("cached summary differs from generated one")
	}
	if n := sum.calls.Load(); n != 1 {
		t.Errorf("summarizer calls = %d, want 1 (second request must hit the cache)", n)
	}
}

func TestSummarize_TruncatesLongMessages(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	long := make([]byte, 1200)
	for i := range long {
		long[i] = 'a'
	}
	store := newMockStore()
	store.messages["m1"] = &Message{ID: "m1", Text: string(long), CreatedAt: now.Add(-time.Hour)}

	sum := &mockSummarizer{out: "ok"}
	svc := newTestService(store, nil, nil, sum, nil, Options{MessageTruncateLen: 100})
	svc.now = fixedNow(now)

	if _, err := svc.Summarize(context.Background(), 1); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	sum.mu.Lock()
	defer sum.mu.Unlock()
	if len(sum.lastTexts) != 1 || len(sum.lastTexts[0]) != 100 {
		t.Errorf("summarizer got %d texts, first len %d, want 1 text of len 100",
			len(sum.lastTexts), len(sum.lastTexts[0]))
	}
	if sum.lastDays != 1 {
		t.Errorf("days = %d, want 1", sum.lastDays)
	}
}

func TestSummarize_GeneratorFailureLeavesNoCacheEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	sum := &mockSummarizer{err: errors.New("model unavailable")}
	svc := newTestService(store, nil, nil, sum, nil, Options{})
	svc.now = fixedNow(now)

	if _, err := svc.Summarize(context.Background(), 7); err == nil {
		t.Fatal("expected error")
	}
	if len(store.summaries) != 0 {
		t.Error("failed generation must not populate the cache")
	}

	// a later request retries generation
	sum.err = nil
	sum.out = "recovered"
	got, err := svc.Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("retry Summarize: %v", err)
	}
	if got.Markdown != "recovered" {
		t.Errorf("markdown = %q, want %q", got.Markdown, "recovered")
	}
}

func TestClampDays(t *testing.T) {
	t.Parallel()

	tests := []struct {
		days, def, want int
	}{
		{0, 7, 7},
		{-5, 7, 1},
		{1, 7, 1},
		{30, 7, 30},
		{31, 7, 30},
		{365, 7, 30},
		{15, 7, 15},
	}
	for _, tt := range tests {
		if got := clampDays(tt.days, tt.def); got != tt.want {
			t.Errorf("clampDays(%d, %d) = %d, want %d", tt.days, tt.def, got, tt.want)
		}
	}
}
