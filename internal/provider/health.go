// ABOUTME: Per-provider health state shared by all session loops.
// ABOUTME: Providers demote to unavailable after consecutive failures and recover only on success.

package provider

import (
	"sort"
	"sync"
	"time"
)

// Status is a provider's health state.
type Status string

const (
	// StatusHealthy means the last generation or probe succeeded.
	StatusHealthy Status = "healthy"

	// StatusDegraded means recent failures below the demotion threshold.
	StatusDegraded Status = "degraded"

	// StatusUnavailable means the failure threshold was crossed; the provider
	// is excluded from auto-selection until a success restores it.
	StatusUnavailable Status = "unavailable"
)

// HealthInfo is a point-in-time view of one provider's health.
type HealthInfo struct {
	Provider            string    `json:"provider"`
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastChecked         time.Time `json:"last_checked"`
}

// healthState is the mutable health record for one provider.
type healthState struct {
	status              Status
	consecutiveFailures int
	lastChecked         time.Time
}

// HealthTracker holds health state for all registered providers. It is shared
// mutable state across every session loop, guarded by one RWMutex; reads take
// the read lock only.
type HealthTracker struct {
	mu        sync.RWMutex
	providers map[string]*healthState
	threshold int
}

// NewHealthTracker creates a tracker with every named provider starting
// healthy. The threshold is the consecutive-failure count that demotes a
// provider to unavailable.
func NewHealthTracker(threshold int, names ...string) *HealthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	t := &HealthTracker{
		providers: make(map[string]*healthState, len(names)),
		threshold: threshold,
	}
	for _, name := range names {
		t.providers[name] = &healthState{status: StatusHealthy}
	}
	return t
}

// RecordSuccess resets the provider to healthy with a zero failure counter.
func (t *HealthTracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.providers[name]
	if !ok {
		return
	}
	s.status = StatusHealthy
	s.consecutiveFailures = 0
	s.lastChecked = time.Now().UTC()
}

// RecordFailure increments the provider's consecutive-failure counter and
// returns true if this failure crossed the demotion threshold.
func (t *HealthTracker) RecordFailure(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.providers[name]
	if !ok {
		return false
	}
	s.consecutiveFailures++
	s.lastChecked = time.Now().UTC()

	if s.consecutiveFailures >= t.threshold {
		crossed := s.status != StatusUnavailable
		s.status = StatusUnavailable
		return crossed
	}
	s.status = StatusDegraded
	return false
}

// Status returns the provider's current status. Unknown providers read as
// unavailable.
func (t *HealthTracker) Status(name string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.providers[name]
	if !ok {
		return StatusUnavailable
	}
	return s.status
}

// Failures returns the provider's consecutive-failure counter.
func (t *HealthTracker) Failures(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.providers[name]
	if !ok {
		return 0
	}
	return s.consecutiveFailures
}

// Selectable reports whether the provider may be auto-selected: healthy or
// degraded, but never unavailable.
func (t *HealthTracker) Selectable(name string) bool {
	switch t.Status(name) {
	case StatusHealthy, StatusDegraded:
		return true
	default:
		return false
	}
}

// Order filters the given priority order down to selectable providers,
// healthy ones first, preserving relative order within each band. The result
// is deterministic for a given health snapshot.
func (t *HealthTracker) Order(priority []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var healthy, degraded []string
	for _, name := range priority {
		s, ok := t.providers[name]
		if !ok {
			continue
		}
		switch s.status {
		case StatusHealthy:
			healthy = append(healthy, name)
		case StatusDegraded:
			degraded = append(degraded, name)
		}
	}
	return append(healthy, degraded...)
}

// Snapshot returns the health of every registered provider, sorted by name.
func (t *HealthTracker) Snapshot() []HealthInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]HealthInfo, 0, len(t.providers))
	for name, s := range t.providers {
		out = append(out, HealthInfo{
			Provider:            name,
			Status:              s.status,
			ConsecutiveFailures: s.consecutiveFailures,
			LastChecked:         s.lastChecked,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
