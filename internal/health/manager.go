// Package health runs periodic checks on the matchmaker's own subsystems:
// the UDP router binding, the address database and the disk it lives on.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/util"
)

const (
	DefaultCheckInterval     = 30 * time.Second
	DefaultHeartbeatInterval = time.Minute

	// DiskWarnPercent is the usage above which the disk check fails.
	DiskWarnPercent = 90.0
)

// Router is the part of the packet router the checks look at.
type Router interface {
	State() network.State
}

// Store is the part of the address store the checks look at.
type Store interface {
	CountServers() (int, error)
}

// DiskUsageFunc reports usage for the filesystem holding path.
type DiskUsageFunc func(path string) (*util.DiskUsage, error)

// Config wires a Manager. Zero intervals take the defaults.
type Config struct {
	Router            Router
	Store             Store
	DataPath          string
	Bus               *events.EventBus
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration
	DiskUsage         DiskUsageFunc
}

// CheckResult is the latest outcome of one check.
type CheckResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

type check struct {
	name string
	fn   func(ctx context.Context) (bool, string)
}

// Manager runs the checks and keeps their latest results.
type Manager struct {
	cfg    Config
	checks []check
	logger zerolog.Logger

	mu      sync.RWMutex
	results map[string]CheckResult
}

// NewManager creates a Manager with the router, database and disk checks.
// A check whose dependency is nil is skipped.
func NewManager(cfg Config) *Manager {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.DiskUsage == nil {
		cfg.DiskUsage = util.GetDiskUsage
	}

	m := &Manager{
		cfg:     cfg,
		logger:  util.ComponentLogger("health"),
		results: make(map[string]CheckResult),
	}
	if cfg.Router != nil {
		m.checks = append(m.checks, check{"router", m.checkRouter})
	}
	if cfg.Store != nil {
		m.checks = append(m.checks, check{"database", m.checkDatabase})
	}
	if cfg.DataPath != "" {
		m.checks = append(m.checks, check{"disk", m.checkDisk})
	}
	return m
}

// Start runs every check now and then on each interval, and publishes a
// heartbeat, until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.RunChecks(ctx)

	checkTicker := time.NewTicker(m.cfg.CheckInterval)
	defer checkTicker.Stop()
	heartbeatTicker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	m.logger.Info().Int("checks", len(m.checks)).Dur("interval", m.cfg.CheckInterval).Msg("health check manager started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-checkTicker.C:
			m.RunChecks(ctx)
		case <-heartbeatTicker.C:
			m.heartbeat(ctx)
		}
	}
}

// RunChecks runs every check once. A check that changes between passing
// and failing is logged and emitted.
func (m *Manager) RunChecks(ctx context.Context) {
	for _, c := range m.checks {
		healthy, msg := c.fn(ctx)
		res := CheckResult{Name: c.name, Healthy: healthy, Message: msg, CheckedAt: time.Now()}

		m.mu.Lock()
		prev, seen := m.results[c.name]
		m.results[c.name] = res
		m.mu.Unlock()

		if seen && prev.Healthy == healthy {
			continue
		}

		if healthy {
			m.logger.Debug().Str("check", c.name).Msg(msg)
		} else {
			m.logger.Warn().Str("check", c.name).Msg(msg)
		}
		m.cfg.Bus.Emit(ctx, events.New(events.EventHealth, "health",
			events.HealthPayload{Check: c.name, Healthy: healthy, Message: msg}))
	}
}

// Results returns the latest result of every check, sorted by name.
func (m *Manager) Results() []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CheckResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every check passed on its latest run.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

func (m *Manager) checkRouter(ctx context.Context) (bool, string) {
	state := m.cfg.Router.State()
	if state != network.StateRunning {
		return false, fmt.Sprintf("packet router is %s", state)
	}
	return true, "packet router running"
}

func (m *Manager) checkDatabase(ctx context.Context) (bool, string) {
	n, err := m.cfg.Store.CountServers()
	if err != nil {
		return false, fmt.Sprintf("address store query failed: %v", err)
	}
	return true, fmt.Sprintf("address store reachable, %d server(s)", n)
}

func (m *Manager) checkDisk(ctx context.Context) (bool, string) {
	usage, err := m.cfg.DiskUsage(filepath.Dir(m.cfg.DataPath))
	if err != nil {
		return false, fmt.Sprintf("disk usage unavailable: %v", err)
	}

	msg := fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB)", usage.UsedPercent, usage.Free, usage.Total)
	return usage.UsedPercent < DiskWarnPercent, msg
}

func (m *Manager) heartbeat(ctx context.Context) {
	payload := events.HeartbeatPayload{Healthy: m.Healthy()}
	if m.cfg.Router != nil {
		payload.RouterState = m.cfg.Router.State().String()
	}
	if m.cfg.Store != nil {
		if n, err := m.cfg.Store.CountServers(); err == nil {
			payload.ServersTracked = n
		}
	}
	m.cfg.Bus.Emit(ctx, events.New(events.EventHeartbeat, "health", payload))
}
