package sync

import (
	"sync"
	"time"
)

// Constants

// Network connectivity states.
const (
	NetworkOnline  NetworkStatus = "online"
	NetworkLimited NetworkStatus = "limited"
	NetworkOffline NetworkStatus = "offline"
)

// Structs

// NetworkStatus is the coarse connectivity state reported by the
// embedding application.
type NetworkStatus string

// NetworkMonitor is a thin holder for the current connectivity status.
// It performs no probing of its own.
type NetworkMonitor struct {
	mu     sync.RWMutex
	status NetworkStatus
}

// State is a snapshot of the current synchronization progress.
type State struct {
	IsSyncing         bool
	LastSync          *time.Time
	Progress          float32
	PendingOperations int
	FailedOperations  int
	NetworkStatus     NetworkStatus
	Errors            []string
}

// Tracker keeps the synchronization state of one device and hands out
// consistent snapshots to UI and scheduling layers.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// Functions

// NewNetworkMonitor returns a monitor starting out offline.
func NewNetworkMonitor() *NetworkMonitor {

	return &NetworkMonitor{
		status: NetworkOffline,
	}
}

// Status returns the current connectivity status.
func (n *NetworkMonitor) Status() NetworkStatus {

	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.status
}

// SetStatus records a connectivity change observed by the embedding
// application.
func (n *NetworkMonitor) SetStatus(status NetworkStatus) {

	n.mu.Lock()
	defer n.mu.Unlock()

	n.status = status
}

// NewTracker returns a tracker with an idle, offline state.
func NewTracker() *Tracker {

	return &Tracker{
		state: State{
			NetworkStatus: NetworkOffline,
		},
	}
}

// Snapshot returns a copy of the current sync state.
func (t *Tracker) Snapshot() State {

	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.state
	snapshot.Errors = append([]string(nil), t.state.Errors...)

	return snapshot
}

// Begin marks the start of a sync round with the given number of
// pending operations.
func (t *Tracker) Begin(pending int) {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.IsSyncing = true
	t.state.Progress = 0
	t.state.PendingOperations = pending
}

// Advance updates the progress of the running sync round.
func (t *Tracker) Advance(progress float32, pending int) {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Progress = progress
	t.state.PendingOperations = pending
}

// Complete marks the end of a successful sync round.
func (t *Tracker) Complete() {

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()

	t.state.IsSyncing = false
	t.state.Progress = 1
	t.state.PendingOperations = 0
	t.state.LastSync = &now
}

// Fail records a failed operation and its error.
func (t *Tracker) Fail(err error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.IsSyncing = false
	t.state.FailedOperations++

	if err != nil {
		t.state.Errors = append(t.state.Errors, err.Error())
	}
}

// SetNetworkStatus mirrors the connectivity status into the sync state.
func (t *Tracker) SetNetworkStatus(status NetworkStatus) {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.NetworkStatus = status
}
