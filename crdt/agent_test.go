package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAgent(t *testing.T) {

	a := NewAgent()
	b := NewAgent()

	assert.NotZero(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.DeviceID(), b.DeviceID())
	assert.Zero(t, a.CurrentTimestamp())

	fixed := NewAgentWithID(42)
	assert.Equal(t, uint64(42), fixed.ID())
}

func TestUpdateTimestamp(t *testing.T) {

	a := NewAgentWithID(1)

	assert.Equal(t, uint64(1), a.AdvanceTimestamp())

	// Receiving a timestamp ahead of us moves the clock past it.
	assert.Equal(t, uint64(6), a.UpdateTimestamp(5))

	// Receiving an old timestamp still ticks the clock forward.
	assert.Equal(t, uint64(7), a.UpdateTimestamp(2))
	assert.Equal(t, uint64(7), a.CurrentTimestamp())
}

func TestNextOperationIDConcurrent(t *testing.T) {

	a := NewAgentWithID(1)

	const callers = 8
	const perCaller = 1000

	ids := make(chan uint64, callers*perCaller)

	var wg sync.WaitGroup
	wg.Add(callers)

	for i := 0; i < callers; i++ {

		go func() {
			defer wg.Done()

			for j := 0; j < perCaller; j++ {
				ids <- a.NextOperationID()
			}
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, callers*perCaller)
	for id := range ids {

		_, dup := seen[id]
		assert.False(t, dup, "operation id %d handed out twice", id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, callers*perCaller)
	assert.Equal(t, uint64(callers*perCaller), a.NextOperationID()-1)
}

func TestNewOperationEnvelope(t *testing.T) {

	a := NewAgentWithID(9)
	a.UpdateTimestamp(3)

	op := a.NewOperation(OpAdd, []byte(`{"user":"u"}`))

	assert.Equal(t, uint64(1), op.ID)
	assert.Equal(t, uint64(9), op.AgentID)
	assert.Equal(t, uint64(4), op.Timestamp)
	assert.Equal(t, OpAdd, op.Kind)
	assert.Equal(t, []byte(`{"user":"u"}`), op.Data)

	next := a.NewOperation(OpRemove, nil)
	assert.Equal(t, uint64(2), next.ID)
}
