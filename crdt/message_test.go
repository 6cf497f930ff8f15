package crdt

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receivedEntry builds a message entry as another replica would have
// minted it.
func receivedEntry(conversation uuid.UUID, agent uint64, lamport uint64, content string, parents []string) MessageEntry {

	vv := NewVersionVector()
	vv.Versions[agent] = lamport

	return MessageEntry{
		ID:               uuid.NewV4(),
		ConversationID:   conversation,
		Content:          content,
		MessageType:      "text",
		SenderID:         uuid.NewV4(),
		VersionVector:    vv,
		LamportTimestamp: lamport,
		BraidVersion:     fmt.Sprintf("msg-%d-%d", agent, lamport),
		BraidParents:     parents,
		CreatedAt:        nowUTC(),
	}
}

func TestCreateMessage(t *testing.T) {

	conversation := uuid.NewV4()
	m := NewMessages(conversation, 7)

	entry := m.CreateMessage("hello", "text", uuid.NewV4())

	assert.Equal(t, "msg-7-1", entry.BraidVersion)
	assert.Equal(t, uint64(1), entry.LamportTimestamp)
	assert.Equal(t, uint64(1), entry.VersionVector.Get(7))
	assert.Empty(t, entry.BraidParents)
	assert.Equal(t, conversation, entry.ConversationID)

	// Fresh messages sit in the outbox until the sync layer confirms
	// them; the causal store holds only received messages.
	assert.Len(t, m.PendingMessages(), 1)
	assert.True(t, m.IsEmpty())
	assert.Equal(t, uint64(1), m.LamportClock())

	second := m.CreateMessage("again", "text", uuid.NewV4())
	assert.Equal(t, "msg-7-2", second.BraidVersion)

	m.ClearPending()
	assert.Empty(t, m.PendingMessages())
}

func TestAddReceivedMessage(t *testing.T) {

	conversation := uuid.NewV4()
	m := NewMessages(conversation, 2)

	entry := receivedEntry(conversation, 1, 4, "hello", nil)
	m.AddReceivedMessage(entry)

	assert.True(t, m.HasMessage("msg-1-4"))
	assert.False(t, m.IsEmpty())

	// The local clock advances past the remote timestamp.
	assert.Equal(t, uint64(5), m.LamportClock())
	assert.Equal(t, uint64(4), m.VersionVector().Get(1))

	assert.Equal(t, StatusSent, m.delivery[entry.ID])
}

func TestDeliveryStatusLattice(t *testing.T) {

	conversation := uuid.NewV4()
	m := NewMessages(conversation, 2)

	entry := receivedEntry(conversation, 1, 1, "hello", nil)
	m.AddReceivedMessage(entry)

	m.MarkRead(entry.ID)
	assert.Equal(t, StatusRead, m.delivery[entry.ID])

	// Status never moves back down the lattice.
	m.MarkDelivered(entry.ID)
	assert.Equal(t, StatusRead, m.delivery[entry.ID])

	stored := m.messages[entry.BraidVersion]
	assert.True(t, stored.IsDelivered)
	assert.True(t, stored.IsRead)
}

func TestStatusBeforeAddReplay(t *testing.T) {

	conversation := uuid.NewV4()

	a := NewMessages(conversation, 1)
	c := NewMessages(conversation, 3)

	entry := a.CreateMessage("hello", "text", uuid.NewV4())

	// A read receipt from another replica can arrive before the
	// message it refers to.
	receipt, err := json.Marshal(statusPayload{MessageID: entry.ID, IsDelivered: true, IsRead: true})
	require.NoError(t, err)
	require.NoError(t, c.ApplyOperation(Operation{ID: 1, AgentID: 2, Timestamp: 3, Kind: OpUpdate, Data: receipt}))
	assert.Equal(t, StatusRead, c.delivery[entry.ID])

	// Replaying the creator's delta must not regress the status.
	for _, op := range a.OperationsSince(0) {
		require.NoError(t, c.ApplyOperation(op))
	}

	assert.Equal(t, StatusRead, c.delivery[entry.ID])

	stored := c.messages[entry.BraidVersion]
	require.NotNil(t, stored)
	assert.True(t, stored.IsDelivered)
	assert.True(t, stored.IsRead)
}

func TestMessagesMerge(t *testing.T) {

	conversation := uuid.NewV4()

	a := NewMessages(conversation, 1)
	b := NewMessages(conversation, 2)

	entry := receivedEntry(conversation, 3, 1, "hello", nil)
	a.AddReceivedMessage(entry)
	b.AddReceivedMessage(entry)

	other := receivedEntry(conversation, 3, 2, "more", nil)
	b.AddReceivedMessage(other)
	b.MarkRead(entry.ID)

	result := a.Merge(b)
	require.Equal(t, MergeRemoteMerged, result.Status)

	assert.True(t, a.HasMessage(other.BraidVersion))
	assert.Equal(t, StatusRead, a.delivery[entry.ID])
	assert.Empty(t, a.MissingVersions(b))

	// Merging again changes nothing.
	result = a.Merge(b)
	assert.Equal(t, MergeIdentical, result.Status)

	// A remote replica missing local messages counts as local change.
	result = b.Merge(NewMessages(conversation, 4))
	assert.Equal(t, MergeLocalUpdated, result.Status)
}

func TestMessagesMergeCrossConversation(t *testing.T) {

	a := NewMessages(uuid.NewV4(), 1)
	b := NewMessages(uuid.NewV4(), 2)

	result := a.Merge(b)
	require.Equal(t, MergeConflict, result.Status)
	assert.Equal(t, ConflictCrossEntity, result.Conflict.Kind)
	assert.True(t, result.Conflict.Fatal())
}

func TestMessagesMergeContentConflict(t *testing.T) {

	conversation := uuid.NewV4()

	a := NewMessages(conversation, 1)
	b := NewMessages(conversation, 2)

	entry := receivedEntry(conversation, 3, 1, "hello", nil)
	divergent := entry
	divergent.Content = "goodbye"

	a.AddReceivedMessage(entry)
	b.AddReceivedMessage(divergent)

	result := a.Merge(b)
	require.Equal(t, MergeConflict, result.Status)
	assert.Equal(t, ConflictContent, result.Conflict.Kind)
	assert.False(t, result.Conflict.Fatal())
	assert.NotEmpty(t, result.Conflict.Local)
	assert.NotEmpty(t, result.Conflict.Remote)

	// The conflicting version keeps its local content.
	assert.Equal(t, "hello", a.messages[entry.BraidVersion].Content)
}

func TestMessagesOrdering(t *testing.T) {

	conversation := uuid.NewV4()
	m := NewMessages(conversation, 9)

	first := receivedEntry(conversation, 1, 1, "first", nil)
	reply := receivedEntry(conversation, 1, 5, "reply", []string{first.BraidVersion})

	// A reply whose sender's clock lagged behind: its Lamport timestamp
	// undercuts its own parent.
	skewed := receivedEntry(conversation, 2, 2, "skewed reply", []string{reply.BraidVersion})

	m.AddReceivedMessage(skewed)
	m.AddReceivedMessage(reply)
	m.AddReceivedMessage(first)

	// Chronological order follows Lamport timestamps only.
	chronological := m.Chronological()
	require.Len(t, chronological, 3)
	assert.Equal(t, "first", chronological[0].Content)
	assert.Equal(t, "skewed reply", chronological[1].Content)
	assert.Equal(t, "reply", chronological[2].Content)

	// Causal order keeps children after their braid parents even when
	// timestamps disagree.
	ordered := m.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "first", ordered[0].Content)
	assert.Equal(t, "reply", ordered[1].Content)
	assert.Equal(t, "skewed reply", ordered[2].Content)
}

func TestMessagesOrderingMissingParent(t *testing.T) {

	conversation := uuid.NewV4()
	m := NewMessages(conversation, 9)

	// The parent never arrived; ordering must not block on it.
	orphan := receivedEntry(conversation, 1, 3, "orphan", []string{"msg-1-1"})
	m.AddReceivedMessage(orphan)

	ordered := m.Ordered()
	require.Len(t, ordered, 1)
	assert.Equal(t, "orphan", ordered[0].Content)
}

func TestMessagesApplyOperation(t *testing.T) {

	conversation := uuid.NewV4()

	a := NewMessages(conversation, 1)
	b := NewMessages(conversation, 2)

	entry := a.CreateMessage("hello", "text", uuid.NewV4())

	// Ship the creation over the operation log.
	for _, op := range a.OperationsSince(0) {
		require.NoError(t, b.ApplyOperation(op))
	}

	assert.True(t, b.HasMessage(entry.BraidVersion))

	// Replaying the same delta again changes nothing.
	before := len(b.operations)
	for _, op := range a.OperationsSince(0) {
		require.NoError(t, b.ApplyOperation(op))
	}
	assert.Len(t, b.operations, before)

	// Unknown kinds and foreign conversations are reported.
	err := b.ApplyOperation(Operation{ID: 9, AgentID: 1, Timestamp: 2, Kind: OpRemove})
	assert.Equal(t, ErrUnknownOperationKind, errors.Cause(err))

	foreign := receivedEntry(uuid.NewV4(), 3, 1, "foreign", nil)
	data, _ := json.Marshal(foreign)

	err = b.ApplyOperation(Operation{ID: 10, AgentID: 3, Timestamp: 1, Kind: OpAdd, Data: data})
	assert.Error(t, err)
}
