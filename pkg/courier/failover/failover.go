// Package failover executes units of work against named backend AI
// providers with ordered failover, bounded retries, and a per-provider
// circuit breaker. Provider health never leaves this package except as
// read-only snapshots.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/courierbot/courier/pkg/courier/config"
	"github.com/courierbot/courier/pkg/courier/events"
)

// Status is the circuit state of one provider.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// degradedAfter is the consecutive-failure count that demotes an online
// provider to degraded.
const degradedAfter = 2

// ErrAllProvidersFailed is returned when every provider in the list was
// exhausted and no attempt ever produced an error of its own.
var ErrAllProvidersFailed = errors.New("all providers failed")

// AttemptFunc is one unit of work against a named provider. The caller
// captures its result in a closure; Execute only needs the error.
type AttemptFunc func(ctx context.Context, provider string) error

// Health is a read-only snapshot of one provider's record.
type Health struct {
	Provider     string    `json:"provider"`
	Status       Status    `json:"status"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
}

// providerState is the mutable record behind a Health snapshot.
// FailureCount is consecutive failures; a success clears it.
type providerState struct {
	status       Status
	lastCheck    time.Time
	lastError    string
	successCount int
	failureCount int
	avgLatencyMs float64
}

// ExecuteOptions narrows one Execute call.
type ExecuteOptions struct {
	// Providers restricts the attempt order to a subset. Empty means
	// the full configured order.
	Providers []string
}

// Manager tracks provider health and runs calls with failover.
type Manager struct {
	order  []string
	states map[string]*providerState
	active string
	cfg    config.FailoverConfig
	bus    *events.Bus
	logger *slog.Logger

	// sleep and afterFunc are swapped out in tests.
	sleep     func(time.Duration)
	afterFunc func(time.Duration, func())

	mu sync.Mutex
}

// NewManager creates a failover manager for the providers in preferred
// order. Every provider starts online.
func NewManager(providers []string, cfg config.FailoverConfig, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		order:  append([]string(nil), providers...),
		states: make(map[string]*providerState, len(providers)),
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "failover"),
		sleep:  time.Sleep,
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, name := range providers {
		m.states[name] = &providerState{status: StatusOnline}
	}
	return m
}

// Execute runs fn against the providers in order, skipping any that are
// offline. Each non-offline provider gets up to MaxRetries attempts with
// linear backoff between them. The first success wins: it is recorded,
// the provider becomes the active one, and later providers are not tried.
// When the whole list is exhausted, the last-seen error (or
// ErrAllProvidersFailed) is returned and a failover:allFailed event fires.
// Returns the name of the provider that succeeded.
func (m *Manager) Execute(ctx context.Context, fn AttemptFunc, opts ExecuteOptions) (string, error) {
	order := opts.Providers
	if len(order) == 0 {
		order = m.order
	}

	var lastErr error
	for _, provider := range order {
		state := m.state(provider)
		if state == nil {
			m.logger.Warn("skipping unknown provider", "provider", provider)
			continue
		}
		if m.statusOf(provider) == StatusOffline {
			m.logger.Debug("skipping offline provider", "provider", provider)
			continue
		}

		for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			start := time.Now()
			err := fn(ctx, provider)
			latency := time.Since(start)

			if err == nil {
				m.recordSuccess(provider, latency)
				m.mu.Lock()
				m.active = provider
				m.mu.Unlock()
				return provider, nil
			}

			lastErr = err
			m.recordFailure(provider, err)
			m.logger.Warn("provider call failed",
				"provider", provider,
				"attempt", attempt,
				"error", err,
			)

			if attempt < m.cfg.MaxRetries {
				m.sleep(m.cfg.RetryDelay() * time.Duration(attempt))
			}
		}
	}

	if lastErr == nil {
		lastErr = ErrAllProvidersFailed
	}
	m.logger.Error("all providers exhausted", "error", lastErr)
	if m.bus != nil {
		m.bus.Emit(events.AllProvidersFailed, map[string]any{
			"providers": order,
			"error":     lastErr.Error(),
		})
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

// Active returns the provider that served the most recent success.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HealthOf returns the snapshot for one provider.
func (m *Manager) HealthOf(provider string) (Health, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[provider]
	if !ok {
		return Health{}, false
	}
	return snapshot(provider, state), true
}

// Snapshot returns health for every provider in preferred order.
func (m *Manager) Snapshot() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Health, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, snapshot(name, m.states[name]))
	}
	return out
}

func snapshot(name string, s *providerState) Health {
	h := Health{
		Provider:     name,
		Status:       s.status,
		LastCheck:    s.lastCheck,
		LastError:    s.lastError,
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
		AvgLatencyMs: s.avgLatencyMs,
	}
	if total := s.successCount + s.failureCount; total > 0 {
		h.SuccessRate = float64(s.successCount) / float64(total)
	}
	return h
}

func (m *Manager) state(provider string) *providerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[provider]
}

func (m *Manager) statusOf(provider string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[provider]; ok {
		return s.status
	}
	return StatusOffline
}

// recordSuccess clears the consecutive-failure counter, folds the latency
// sample into the running average as (avg + sample) / 2 starting from
// zero, and restores a degraded provider to online.
func (m *Manager) recordSuccess(provider string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[provider]
	if !ok {
		return
	}
	s.successCount++
	s.failureCount = 0
	s.lastCheck = time.Now()
	s.lastError = ""
	s.avgLatencyMs = (s.avgLatencyMs + float64(latency.Milliseconds())) / 2
	if s.status == StatusDegraded {
		s.status = StatusOnline
		m.logger.Info("provider recovered", "provider", provider)
	}
}

// recordFailure bumps the consecutive-failure counter and walks the state
// machine: online → degraded at two failures, degraded → offline at the
// circuit-breaker threshold. Tripping offline emits the circuit-breaker
// event once per crossing and schedules the one-shot half-open timer.
func (m *Manager) recordFailure(provider string, err error) {
	m.mu.Lock()
	s, ok := m.states[provider]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.failureCount++
	s.lastCheck = time.Now()
	s.lastError = err.Error()

	tripped := false
	if s.failureCount >= m.cfg.CircuitBreakerThreshold && s.status != StatusOffline {
		s.status = StatusOffline
		tripped = true
	} else if s.failureCount >= degradedAfter && s.status == StatusOnline {
		s.status = StatusDegraded
	}
	failures := s.failureCount
	m.mu.Unlock()

	if !tripped {
		return
	}

	m.logger.Error("circuit breaker tripped",
		"provider", provider,
		"failures", failures,
	)
	if m.bus != nil {
		m.bus.Emit(events.CircuitBreaker, map[string]any{
			"provider": provider,
			"failures": failures,
		})
	}
	m.scheduleReset(provider)
}

// scheduleReset arms the one-shot half-open timer. At fire time the
// provider's status is re-checked: only a still-offline provider is
// demoted to degraded with its failure counter cleared. This is a
// half-open probe, not a recovery; the provider only truly returns to
// online on the next real successful call.
func (m *Manager) scheduleReset(provider string) {
	m.afterFunc(m.cfg.ResetTime(), func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.states[provider]
		if !ok || s.status != StatusOffline {
			return
		}
		s.status = StatusDegraded
		s.failureCount = 0
		m.logger.Info("circuit breaker half-open", "provider", provider)
	})
}
