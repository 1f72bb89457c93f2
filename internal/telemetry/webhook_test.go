package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/events"
)

type embedBody struct {
	Embeds []struct {
		Title string `json:"title"`
		Color int    `json:"color"`
	} `json:"embeds"`
}

func webhookServer(t *testing.T) (*httptest.Server, chan embedBody) {
	t.Helper()
	got := make(chan embedBody, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body embedBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		got <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestWebhookSend(t *testing.T) {
	srv, got := webhookServer(t)
	w := NewWebhookAlerter(config.AlertsConfig{Enabled: true, WebhookURL: srv.URL}, events.NewEventBus(), "host1")

	if err := w.Send(context.Background(), "title", "message", colorError); err != nil {
		t.Fatal(err)
	}
	body := <-got
	if len(body.Embeds) != 1 || body.Embeds[0].Title != "title" || body.Embeds[0].Color != colorError {
		t.Errorf("body = %+v", body)
	}
}

func TestWebhookSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhookAlerter(config.AlertsConfig{WebhookURL: srv.URL}, events.NewEventBus(), "host1")
	if err := w.Send(context.Background(), "t", "m", colorOK); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestWebhookForwardsEvents(t *testing.T) {
	srv, got := webhookServer(t)
	bus := events.NewEventBus()
	defer bus.Stop()

	w := NewWebhookAlerter(config.AlertsConfig{Enabled: true, WebhookURL: srv.URL}, bus, "host1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for bus.HandlerCount(events.EventHealth) == 0 || bus.HandlerCount(events.EventRouterState) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("alerter did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Recovery and non-stop transitions are not reported.
	bus.Emit(ctx, events.New(events.EventHealth, "test", events.HealthPayload{Check: "disk", Healthy: true}))
	bus.Emit(ctx, events.New(events.EventRouterState, "test", events.RouterStatePayload{From: "ready", To: "starting"}))

	bus.Emit(ctx, events.New(events.EventHealth, "test", events.HealthPayload{Check: "disk", Healthy: false, Message: "full"}))
	bus.Emit(ctx, events.New(events.EventRouterState, "test", events.RouterStatePayload{From: "stopping", To: "stopped"}))

	titles := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case body := <-got:
			titles[body.Embeds[0].Title] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("alert %d not delivered", i)
		}
	}
	if !titles["Health check failed: disk"] || !titles["Packet router stopped"] {
		t.Errorf("titles = %v", titles)
	}

	select {
	case body := <-got:
		t.Errorf("unexpected alert %+v", body)
	case <-time.After(100 * time.Millisecond):
	}
}
