// ABOUTME: Tests for the provider health tracker.
// ABOUTME: Covers demotion thresholds, recovery, and deterministic ordering.

package provider

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTracker_StartsHealthy(t *testing.T) {
	tr := NewHealthTracker(3, "a", "b")

	assert.Equal(t, StatusHealthy, tr.Status("a"))
	assert.Equal(t, StatusHealthy, tr.Status("b"))
	assert.True(t, tr.Selectable("a"))
}

func TestHealthTracker_UnknownProviderIsUnavailable(t *testing.T) {
	tr := NewHealthTracker(3, "a")

	assert.Equal(t, StatusUnavailable, tr.Status("nope"))
	assert.False(t, tr.Selectable("nope"))
}

func TestHealthTracker_DemotionAfterThreshold(t *testing.T) {
	tr := NewHealthTracker(3, "a")

	assert.False(t, tr.RecordFailure("a"))
	assert.Equal(t, StatusDegraded, tr.Status("a"))
	assert.True(t, tr.Selectable("a"), "one failure keeps the provider selectable")

	assert.False(t, tr.RecordFailure("a"))
	assert.Equal(t, StatusDegraded, tr.Status("a"))

	// The third consecutive failure crosses the threshold
	assert.True(t, tr.RecordFailure("a"))
	assert.Equal(t, StatusUnavailable, tr.Status("a"))
	assert.False(t, tr.Selectable("a"))
	assert.Equal(t, 3, tr.Failures("a"))

	// Further failures do not re-report the crossing
	assert.False(t, tr.RecordFailure("a"))
}

func TestHealthTracker_SuccessResets(t *testing.T) {
	tr := NewHealthTracker(3, "a")

	tr.RecordFailure("a")
	tr.RecordFailure("a")
	tr.RecordFailure("a")
	require.Equal(t, StatusUnavailable, tr.Status("a"))

	tr.RecordSuccess("a")
	assert.Equal(t, StatusHealthy, tr.Status("a"))
	assert.Equal(t, 0, tr.Failures("a"))
	assert.True(t, tr.Selectable("a"))
}

func TestHealthTracker_OrderFiltersAndBands(t *testing.T) {
	tr := NewHealthTracker(3, "a", "b", "c", "d")

	// b degraded, c unavailable
	tr.RecordFailure("b")
	for range 3 {
		tr.RecordFailure("c")
	}

	order := tr.Order([]string{"a", "b", "c", "d"})
	assert.Equal(t, []string{"a", "d", "b"}, order,
		"healthy providers first in priority order, then degraded; unavailable excluded")
}

func TestHealthTracker_SnapshotSorted(t *testing.T) {
	tr := NewHealthTracker(3, "zeta", "alpha")
	tr.RecordFailure("zeta")

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Provider)
	assert.Equal(t, StatusHealthy, snap[0].Status)
	assert.Equal(t, "zeta", snap[1].Provider)
	assert.Equal(t, StatusDegraded, snap[1].Status)
	assert.Equal(t, 1, snap[1].ConsecutiveFailures)
	assert.False(t, snap[1].LastChecked.IsZero())
}

func TestHealthTracker_ConcurrentRecording(t *testing.T) {
	tr := NewHealthTracker(3, "a", "b")

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 100 {
				tr.RecordFailure("a")
				tr.RecordSuccess("b")
				_ = tr.Order([]string{"a", "b"})
				_ = tr.Snapshot()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, StatusUnavailable, tr.Status("a"))
	assert.Equal(t, StatusHealthy, tr.Status("b"))
}
