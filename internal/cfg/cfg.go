package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the service-level knobs that are not already covered by
// the common go-core log/ops configuration.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	ClaudeAPIKey          string
	ClaudeModel           string
	GeminiAPIKey          string
	EmbeddingModel        string
	EmbeddingDim          int
	ReviewTopK            int
	ReviewDays            int
	SummaryDays           int
	SnoozeHours           int
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 routes (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use for classification and summaries")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for the Gemini embedding provider (empty = embeddings disabled)")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-004", "Gemini embedding model name")
	fs.IntVar(&c.EmbeddingDim, "embedding-dim", 768, "expected embedding vector dimension (1..4096)")
	fs.IntVar(&c.ReviewTopK, "review-top-k", 10, "maximum entries returned by the review queue (1..100)")
	fs.IntVar(&c.ReviewDays, "review-days", 3, "default lookback window for the review queue in days (1..30)")
	fs.IntVar(&c.SummaryDays, "summary-days", 7, "default window for summaries in days (1..30)")
	fs.IntVar(&c.SnoozeHours, "snooze-hours", 24, "default snooze duration in hours (1..720)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for follow-up notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.GeminiAPIKey != "" && c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EMBEDDING_MODEL is required when GEMINI_API_KEY is set"))
	}
	if c.EmbeddingDim <= 0 || c.EmbeddingDim > 4096 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIM %d (must be 1..4096)", c.EmbeddingDim))
	}

	if c.ReviewTopK <= 0 || c.ReviewTopK > 100 {
		errs = append(errs, fmt.Errorf("invalid REVIEW_TOP_K %d (must be 1..100)", c.ReviewTopK))
	}
	if c.ReviewDays <= 0 || c.ReviewDays > 30 {
		errs = append(errs, fmt.Errorf("invalid REVIEW_DAYS %d (must be 1..30)", c.ReviewDays))
	}
	if c.SummaryDays <= 0 || c.SummaryDays > 30 {
		errs = append(errs, fmt.Errorf("invalid SUMMARY_DAYS %d (must be 1..30)", c.SummaryDays))
	}
	if c.SnoozeHours <= 0 || c.SnoozeHours > 720 {
		errs = append(errs, fmt.Errorf("invalid SNOOZE_HOURS %d (must be 1..720)", c.SnoozeHours))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
