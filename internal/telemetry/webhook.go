package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/events"
)

// Embed colours by severity.
const (
	colorError   = 0xFF0000
	colorWarning = 0xFFAA00
	colorOK      = 0x00FF00
)

// WebhookAlerter posts health and router alerts to a Discord-compatible
// webhook.
type WebhookAlerter struct {
	cfg      config.AlertsConfig
	eventBus *events.EventBus
	client   *http.Client
	hostname string
}

// NewWebhookAlerter creates an alerter. hostname is shown in the footer.
func NewWebhookAlerter(cfg config.AlertsConfig, eventBus *events.EventBus, hostname string) *WebhookAlerter {
	return &WebhookAlerter{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
		hostname: hostname,
	}
}

// Start subscribes to alert-worthy events until ctx is cancelled.
func (w *WebhookAlerter) Start(ctx context.Context) {
	w.eventBus.Subscribe(events.EventHealth, "alerts.health", w.onHealth)
	w.eventBus.Subscribe(events.EventRouterState, "alerts.router", w.onRouterState)
	defer func() {
		w.eventBus.Unsubscribe(events.EventHealth, "alerts.health")
		w.eventBus.Unsubscribe(events.EventRouterState, "alerts.router")
	}()

	log.Info().Msg("webhook alerts enabled")
	<-ctx.Done()
}

func (w *WebhookAlerter) onHealth(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.HealthPayload)
	if !ok {
		return nil
	}
	if p.Healthy {
		if !w.cfg.NotifyRecovery {
			return nil
		}
		return w.Send(ctx, "Health check recovered: "+p.Check, p.Message, colorOK)
	}
	return w.Send(ctx, "Health check failed: "+p.Check, p.Message, colorWarning)
}

func (w *WebhookAlerter) onRouterState(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.RouterStatePayload)
	if !ok || p.To != "stopped" {
		return nil
	}
	return w.Send(ctx, "Packet router stopped", fmt.Sprintf("router went from %s to stopped", p.From), colorError)
}

// Send posts one embed to the webhook.
func (w *WebhookAlerter) Send(ctx context.Context, title, message string, color int) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "matchmaker on " + w.hostname,
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", title).Msg("webhook alert sent")
	return nil
}
