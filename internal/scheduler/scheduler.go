// Package scheduler runs the matchmaker's background maintenance: expiring
// servers that stopped pinging and refreshing store gauges.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/metrics"
)

// DefaultStatsInterval is how often the tracked-servers gauge is refreshed.
const DefaultStatsInterval = time.Minute

// Store is the part of the address store the scheduler maintains.
type Store interface {
	ExpireBefore(cutoff time.Time) (int, error)
	CountServers() (int, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      config.DatabaseConfig
	store    Store
	metrics  *metrics.Collector
	eventBus *events.EventBus

	statsInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	lastRun   time.Time
	lastSwept int
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.DatabaseConfig, store Store, m *metrics.Collector, eventBus *events.EventBus) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		store:         store,
		metrics:       m,
		eventBus:      eventBus,
		statsInterval: DefaultStatsInterval,
		now:           time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Bool("cleanup", s.cfg.CleanupEnabled).
		Dur("interval", s.cfg.CleanupInterval()).
		Dur("expire_after", s.cfg.ExpireAfter()).
		Msg("scheduler started")

	var wg sync.WaitGroup

	if s.cfg.CleanupEnabled && s.cfg.CleanupIntervalSec > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runCleanupLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runStatsLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunCleanup(ctx); err != nil {
				log.Warn().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

func (s *Scheduler) runStatsLoop(ctx context.Context) {
	s.refreshStats()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshStats()
		}
	}
}

// RunCleanup removes servers not seen within the expiry window and returns
// how many were removed.
func (s *Scheduler) RunCleanup(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.ExpireAfter())

	removed, err := s.store.ExpireBefore(cutoff)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastRun = now
	s.lastSwept = removed
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.ServersExpired(removed)
		s.eventBus.Emit(ctx, events.New(events.EventServersExpired, "scheduler",
			events.ServersExpiredPayload{Count: removed, Cutoff: cutoff}))
		log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("expired silent servers")
	} else {
		log.Debug().Time("cutoff", cutoff).Msg("expiry sweep found nothing")
	}

	s.refreshStats()
	return removed, nil
}

// LastCleanup reports when the last sweep ran and what it removed.
func (s *Scheduler) LastCleanup() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastSwept
}

func (s *Scheduler) refreshStats() {
	n, err := s.store.CountServers()
	if err != nil {
		log.Debug().Err(err).Msg("failed to count servers")
		return
	}
	s.metrics.SetServersTracked(n)
}
