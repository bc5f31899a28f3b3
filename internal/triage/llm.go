package triage

import "context"

// Classifier is the external classification capability: message text in,
// raw model output out. Implementations may fail; the Enricher is the
// layer that degrades failure to no signal.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]byte, error)
}

// Embedder is the external embedding capability: message text in, a
// float vector out. Implementations report the upstream vector as-is;
// the Enricher enforces the configured dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer is the external summarization capability: an ordered batch
// of message texts plus the day count of the window, markdown out.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, days int) (string, error)
}

// Notifier delivers out-of-band notice that a message opened a
// follow-up. Best effort: failures are logged by the caller, never
// surfaced to the ingestion path.
type Notifier interface {
	FollowupOpened(ctx context.Context, m *Message) error
}
