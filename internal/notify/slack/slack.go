// Package slack posts follow-up notifications to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	maxTextLen  = 1000
	httpTimeout = 10 * time.Second
)

// Notifier sends follow-up notices to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty,
// FollowupOpened is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// FollowupOpened posts the message that just opened a follow-up to the
// configured webhook.
func (n *Notifier) FollowupOpened(ctx context.Context, m *triage.Message) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(m))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(m *triage.Message) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("%s New follow-up", urgencyEmoji(m)),
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": truncate(m.Text, maxTextLen),
				},
			},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("*From:* %s", m.AuthorRef)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Flags:* %s", flagLine(m))},
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("sift • message %s • %s", m.ID, m.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
					},
				},
			},
		},
	}
}

func flagLine(m *triage.Message) string {
	var flags []string
	if m.IsQuestion != nil && *m.IsQuestion {
		flags = append(flags, "question")
	}
	if m.NeedsReply != nil && *m.NeedsReply {
		flags = append(flags, "needs reply")
	}
	if m.Followup != nil && *m.Followup {
		flags = append(flags, "follow-up")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ", ")
}

func urgencyEmoji(m *triage.Message) string {
	if m.Urgency != nil && *m.Urgency >= 0.7 {
		return "\U0001f534" // red circle
	}
	if m.Urgency != nil && *m.Urgency >= 0.3 {
		return "\U0001f7e1" // yellow circle
	}
	return "\U0001f7e2" // green circle
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
