// Package notify delivers batch terminal-state events to an external
// alerting or reporting collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
)

// Event is the single notification emitted when a batch reaches a
// terminal state
type Event struct {
	BatchID string  `json:"batch_id"`
	Status  string  `json:"status"`
	Summary Summary `json:"summary"`
}

// Summary is the aggregate counts carried in a terminal notification
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SummaryFromAggregate builds the notification summary from a finalized
// aggregate result
func SummaryFromAggregate(agg *models.AggregateResult) Summary {
	if agg == nil {
		return Summary{}
	}
	return Summary{
		Total:     agg.Total,
		Succeeded: agg.Succeeded,
		Failed:    agg.Failed,
	}
}

// Notifier delivers terminal batch events
type Notifier interface {
	NotifyBatchTerminal(ctx context.Context, event Event) error
}

// LogNotifier records terminal events in the application log. It is the
// default when no webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyBatchTerminal(_ context.Context, event Event) error {
	n.logger.Info("Batch reached terminal state",
		"batch_id", event.BatchID,
		"status", event.Status,
		"total", event.Summary.Total,
		"succeeded", event.Summary.Succeeded,
		"failed", event.Summary.Failed)
	return nil
}

// WebhookNotifier posts terminal events to a configured HTTP endpoint
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier
func NewWebhookNotifier(cfg config.NotifyConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (n *WebhookNotifier) NotifyBatchTerminal(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Delivered batch notification",
		"batch_id", event.BatchID,
		"status", event.Status)
	return nil
}

// New selects the webhook notifier when configured, the log notifier
// otherwise
func New(cfg config.NotifyConfig, logger *slog.Logger) (Notifier, error) {
	if cfg.WebhookURL == "" {
		return NewLogNotifier(logger), nil
	}
	return NewWebhookNotifier(cfg, logger)
}
