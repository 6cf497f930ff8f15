package sync

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkMonitor(t *testing.T) {

	monitor := NewNetworkMonitor()
	assert.Equal(t, NetworkOffline, monitor.Status())

	monitor.SetStatus(NetworkLimited)
	assert.Equal(t, NetworkLimited, monitor.Status())

	monitor.SetStatus(NetworkOnline)
	assert.Equal(t, NetworkOnline, monitor.Status())
}

func TestTrackerRound(t *testing.T) {

	tracker := NewTracker()

	state := tracker.Snapshot()
	assert.False(t, state.IsSyncing)
	assert.Nil(t, state.LastSync)
	assert.Equal(t, NetworkOffline, state.NetworkStatus)

	tracker.SetNetworkStatus(NetworkOnline)
	tracker.Begin(10)

	state = tracker.Snapshot()
	assert.True(t, state.IsSyncing)
	assert.Equal(t, 10, state.PendingOperations)
	assert.Equal(t, float32(0), state.Progress)

	tracker.Advance(0.5, 5)

	state = tracker.Snapshot()
	assert.Equal(t, float32(0.5), state.Progress)
	assert.Equal(t, 5, state.PendingOperations)

	tracker.Complete()

	state = tracker.Snapshot()
	assert.False(t, state.IsSyncing)
	assert.Equal(t, float32(1), state.Progress)
	assert.Zero(t, state.PendingOperations)
	require.NotNil(t, state.LastSync)
	assert.Equal(t, NetworkOnline, state.NetworkStatus)
}

func TestTrackerFail(t *testing.T) {

	tracker := NewTracker()

	tracker.Begin(3)
	tracker.Fail(errors.New("replica unreachable"))

	state := tracker.Snapshot()
	assert.False(t, state.IsSyncing)
	assert.Equal(t, 1, state.FailedOperations)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, "replica unreachable", state.Errors[0])

	// A nil error still counts the failure.
	tracker.Fail(nil)

	state = tracker.Snapshot()
	assert.Equal(t, 2, state.FailedOperations)
	assert.Len(t, state.Errors, 1)
}

func TestSnapshotIsolation(t *testing.T) {

	tracker := NewTracker()
	tracker.Fail(errors.New("first"))

	state := tracker.Snapshot()
	state.Errors[0] = "mutated"
	state.FailedOperations = 99

	fresh := tracker.Snapshot()
	assert.Equal(t, "first", fresh.Errors[0])
	assert.Equal(t, 1, fresh.FailedOperations)
}
