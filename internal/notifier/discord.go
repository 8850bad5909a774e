package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mirrord/internal/transfer"
)

type Notifier interface {
	Notify(content string) error
}

type DiscordNotifier struct {
	WebhookURL string
}

func (d *DiscordNotifier) Notify(content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := http.Post(d.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// CompletedContent renders the webhook message for a finished mirror.
func CompletedContent(t transfer.Transfer) string {
	msg := fmt.Sprintf("✅ Mirror ready: %s (%s) %s", t.Filename, sizeLabel(t.Size), t.PublishURL)
	if t.Warning != "" {
		msg += "\n⚠️ " + t.Warning
	}

	return msg
}

// FailedContent renders the webhook message for a failed mirror.
func FailedContent(t transfer.Transfer) string {
	return fmt.Sprintf("❌ Mirror failed for %s: %s", t.SourceURL, t.Error)
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown size"
	}

	return humanize.Bytes(uint64(n))
}
