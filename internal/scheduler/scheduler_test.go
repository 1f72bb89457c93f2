package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	remove  int
	count   int
	err     error
}

func (f *fakeStore) ExpireBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.cutoffs = append(f.cutoffs, cutoff)
	f.count -= f.remove
	return f.remove, nil
}

func (f *fakeStore) CountServers() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeStore) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func dbConfig() config.DatabaseConfig {
	return config.DatabaseConfig{CleanupEnabled: true, CleanupIntervalSec: 600, ExpireAfterSec: 3600}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == name {
			m := f.GetMetric()[0]
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestRunCleanupUsesExpiryWindow(t *testing.T) {
	store := &fakeStore{remove: 2, count: 5}
	reg := prometheus.NewRegistry()
	s := NewScheduler(dbConfig(), store, metrics.New(metrics.Config{Namespace: "test", Registry: reg}), nil)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	removed, err := s.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if want := now.Add(-time.Hour); !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}

	last, n := s.LastCleanup()
	if !last.Equal(now) || n != 2 {
		t.Errorf("LastCleanup = %v, %d", last, n)
	}

	if v := gaugeValue(t, reg, "test_servers_expired_total"); v != 2 {
		t.Errorf("servers expired = %v, want 2", v)
	}
	if v := gaugeValue(t, reg, "test_servers_tracked"); v != 3 {
		t.Errorf("servers tracked = %v, want 3", v)
	}
}

func TestRunCleanupEmitsEvent(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventServersExpired, "test", func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	s := NewScheduler(dbConfig(), &fakeStore{remove: 1, count: 1}, nil, bus)
	if _, err := s.RunCleanup(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		p, ok := e.Payload.(events.ServersExpiredPayload)
		if !ok || p.Count != 1 {
			t.Errorf("payload = %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no servers_expired event")
	}
}

func TestRunCleanupError(t *testing.T) {
	boom := errors.New("locked")
	s := NewScheduler(dbConfig(), &fakeStore{err: boom}, nil, nil)
	if _, err := s.RunCleanup(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestStartSweepsPeriodically(t *testing.T) {
	store := &fakeStore{}
	cfg := dbConfig()
	cfg.CleanupIntervalSec = 1
	s := NewScheduler(cfg, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for store.sweeps() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if store.sweeps() == 0 {
		t.Fatal("no sweep ran")
	}
}

func TestStartWithCleanupDisabled(t *testing.T) {
	store := &fakeStore{}
	cfg := dbConfig()
	cfg.CleanupEnabled = false
	s := NewScheduler(cfg, store, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if store.sweeps() != 0 {
		t.Fatal("sweep ran with cleanup disabled")
	}
}
