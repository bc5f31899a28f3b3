// Package claude implements the classification and summarization
// capabilities on the Anthropic Messages API. Calls are single-turn
// request/response with no streaming and no tool use.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	classifyMaxTokens  = 1024
	summarizeMaxTokens = 4096
)

// Client talks to the Claude API.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New creates a new Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}
}

const classifySystem = `You label short personal messages for a triage queue.
Respond with a single JSON object and nothing else:
{
  "is_question": bool,       // does the message ask something of the recipient
  "needs_reply": bool,       // does it expect a response
  "followup": bool,          // does it name an action the recipient must take later
  "urgency_score": float,    // 0.0 (none) to 1.0 (drop everything)
  "topics": [string],        // up to 5 short topic labels
  "entities": {string: any}, // named people, places, dates, amounts
  "sentiment": float         // -1.0 (negative) to 1.0 (positive)
}`

// Classify labels one message text and returns the raw model output.
// The caller is responsible for tolerant parsing; this method only
// strips prose around the JSON object.
func (c *Client) Classify(ctx context.Context, text string) ([]byte, error) {
	out, err := c.send(ctx, classifyMaxTokens, classifySystem, text)
	if err != nil {
		return nil, err
	}
	return []byte(extractJSON(out)), nil
}

const summarizeSystem = `You write a markdown digest of a batch of personal messages.
Group related messages, call out open questions and pending actions, and
keep it short enough to read in one sitting. Output markdown only.`

// Summarize produces a markdown digest for an ordered batch of message
// texts covering the given number of days.
func (c *Client) Summarize(ctx context.Context, texts []string, days int) (string, error) {
	return c.send(ctx, summarizeMaxTokens, summarizeSystem, summarizePrompt(texts, days))
}

func summarizePrompt(texts []string, days int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Messages from the last %d day(s), oldest first:\n\n", days)
	if len(texts) == 0 {
		b.WriteString("(none)\n")
	}
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return b.String()
}

func (c *Client) send(ctx context.Context, maxTokens int64, system, user string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude: empty response (stop_reason %s)", msg.StopReason)
	}
	return out.String(), nil
}

// extractJSON returns the outermost JSON object in s, tolerating prose
// or code fences around it. Returns s unchanged when no braces exist;
// the tolerant parser downstream treats that as no signal.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
