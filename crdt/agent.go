package crdt

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"hash/fnv"

	uuid "github.com/satori/go.uuid"
)

// Structs

// Agent represents the local device in the replicated system. It carries
// the identity all operations originating here are tagged with, a Lamport
// clock for causal ordering, and a strictly increasing operation counter.
// Both counters are atomic and safe for concurrent use without locking.
type Agent struct {
	id        uint64
	deviceID  uuid.UUID
	timestamp atomic.Uint64
	opCounter atomic.Uint64
}

// Functions

// NewAgent creates an agent with a freshly derived numeric id and a
// random device UUID. Restoring a persisted identity is the job of an
// outside storage layer, which should use NewAgentWithID instead.
func NewAgent() *Agent {

	device := uuid.NewV4()

	return &Agent{
		id:       deriveAgentID(device),
		deviceID: device,
	}
}

// NewAgentWithID creates an agent with a fixed numeric id, used when
// restoring a device identity or in tests.
func NewAgentWithID(id uint64) *Agent {

	return &Agent{
		id:       id,
		deviceID: uuid.NewV4(),
	}
}

// deriveAgentID hashes the current wall clock and the device UUID into
// a numeric agent id unique for the process lifetime.
func deriveAgentID(device uuid.UUID) uint64 {

	h := fnv.New64a()

	var now [8]byte
	binary.BigEndian.PutUint64(now[:], uint64(time.Now().UnixNano()))

	_, _ = h.Write(now[:])
	_, _ = h.Write(device.Bytes())

	return h.Sum64()
}

// ID returns the agent's numeric id.
func (a *Agent) ID() uint64 {

	return a.id
}

// DeviceID returns the agent's device UUID.
func (a *Agent) DeviceID() uuid.UUID {

	return a.deviceID
}

// CurrentTimestamp returns the current value of the Lamport clock.
func (a *Agent) CurrentTimestamp() uint64 {

	return a.timestamp.Load()
}

// AdvanceTimestamp increments the Lamport clock by one and returns the
// new value. Call after every local event.
func (a *Agent) AdvanceTimestamp() uint64 {

	return a.timestamp.Add(1)
}

// UpdateTimestamp advances the Lamport clock past a timestamp received
// from a remote agent following Lamport's rule: the new clock value is
// max(local, received) + 1. The clock never decreases.
func (a *Agent) UpdateTimestamp(received uint64) uint64 {

	for {

		current := a.timestamp.Load()

		next := current
		if received > next {
			next = received
		}
		next++

		if a.timestamp.CompareAndSwap(current, next) {
			return next
		}
	}
}

// NextOperationID returns a strictly increasing 64-bit value per call.
func (a *Agent) NextOperationID() uint64 {

	return a.opCounter.Add(1)
}

// NewOperation assembles an operation envelope tagged with this agent's
// identity, next operation id and current Lamport timestamp.
func (a *Agent) NewOperation(kind OperationType, data []byte) Operation {

	return Operation{
		ID:        a.NextOperationID(),
		AgentID:   a.id,
		Timestamp: a.CurrentTimestamp(),
		Kind:      kind,
		Data:      data,
	}
}
