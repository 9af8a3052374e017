// Package notify delivers user-facing notifications to an external relay
// (the Telegram bot). Delivery is best-effort: failures never roll back the
// state change they describe.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// Notifier receives progression events for user-facing display.
type Notifier interface {
	LevelUp(ctx context.Context, evt level.LevelUp) error
	TaskCompleted(ctx context.Context, userID string, taskNumber int, reward decimal.Decimal) error
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) LevelUp(context.Context, level.LevelUp) error { return nil }
func (Noop) TaskCompleted(context.Context, string, int, decimal.Decimal) error {
	return nil
}

// HTTPNotifier posts notification payloads as JSON to a webhook endpoint.
type HTTPNotifier struct {
	client   *http.Client
	endpoint string
	apiKey   string
	log      *logger.Logger
}

// NewHTTPNotifier builds a webhook notifier. The endpoint is required.
func NewHTTPNotifier(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPNotifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("notifier endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &HTTPNotifier{client: client, endpoint: endpoint, apiKey: apiKey, log: log}, nil
}

func (n *HTTPNotifier) LevelUp(ctx context.Context, evt level.LevelUp) error {
	return n.post(ctx, map[string]any{
		"type":      "level_up",
		"user_id":   evt.UserID,
		"old_level": evt.OldLevel,
		"new_level": evt.NewLevel,
	})
}

func (n *HTTPNotifier) TaskCompleted(ctx context.Context, userID string, taskNumber int, reward decimal.Decimal) error {
	return n.post(ctx, map[string]any{
		"type":    "task_completed",
		"user_id": userID,
		"task":    taskNumber,
		"reward":  reward.String(),
	})
}

func (n *HTTPNotifier) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
