package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gleaner/internal/config"
)

const userAgent = "gleaner-notify/0.1"

// Event names a notification type.
type Event string

const (
	EventItemFailed     Event = "item_failed"
	EventItemRejected   Event = "item_rejected"
	EventBatchCompleted Event = "batch_completed"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes notification events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op service when no topic
// is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	minItems := cfg.Notifications.BatchMinItems
	if minItems < 1 {
		minItems = 1
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		failures: cfg.Notifications.Failures,
		batches:  cfg.Notifications.Batches,
		minItems: minItems,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	failures bool
	batches  bool
	minItems int
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventItemFailed:
		if !n.failures {
			return message{}, false
		}
		return message{
			title:    "Gleaner - Item Failed",
			body:     fmt.Sprintf("Item %s failed after %s attempt(s): %s", payloadString(payload, "itemID"), payloadString(payload, "attempts"), itemLabel(payload)),
			tags:     []string{"gleaner", "failed"},
			priority: "high",
		}, true
	case EventItemRejected:
		if !n.failures {
			return message{}, false
		}
		return message{
			title: "Gleaner - Item Rejected",
			body:  fmt.Sprintf("Item %s rejected: %s", payloadString(payload, "itemID"), itemLabel(payload)),
			tags:  []string{"gleaner", "rejected"},
		}, true
	case EventBatchCompleted:
		if !n.batches {
			return message{}, false
		}
		processed := payloadInt(payload, "completed") + payloadInt(payload, "rejected") + payloadInt(payload, "failed")
		if processed < n.minItems {
			return message{}, false
		}
		title := "Gleaner - Batch Complete"
		if payloadInt(payload, "failed") > 0 {
			title = "Gleaner - Batch Complete (with failures)"
		}
		return message{
			title: title,
			body: fmt.Sprintf("%d ready for review, %d rejected, %d failed, %d retrying in %s",
				payloadInt(payload, "completed"),
				payloadInt(payload, "rejected"),
				payloadInt(payload, "failed"),
				payloadInt(payload, "retried"),
				formatDuration(payload["duration"]),
			),
			tags: []string{"gleaner", "batch"},
		}, true
	case EventError:
		if !n.failures {
			return message{}, false
		}
		body := "Error"
		if label := payloadString(payload, "context"); label != "" {
			body += " in " + label
		}
		return message{
			title:    "Gleaner - Error",
			body:     body + ": " + firstNonEmpty(payloadString(payload, "error"), "unknown"),
			tags:     []string{"gleaner", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Gleaner - Test",
			body:     "Notification system test",
			tags:     []string{"gleaner", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func itemLabel(payload Payload) string {
	label := firstNonEmpty(payloadString(payload, "title"), payloadString(payload, "url"), "unknown item")
	if reason := payloadString(payload, "reason"); reason != "" {
		label += "\n" + reason
	}
	return label
}

func payloadString(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func payloadInt(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func formatDuration(value any) string {
	d, _ := value.(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
