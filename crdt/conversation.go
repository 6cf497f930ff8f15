package crdt

import (
	"bytes"
	"sort"
	"time"

	"encoding/json"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Constants

// Conversation types carried in the metadata.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// wallClockLayout is a fixed-width UTC timestamp layout. Fixed width
// keeps lexicographic comparison of rendered timestamps a valid time
// order, which the presence merge relies on.
const wallClockLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Structs

// Conversation is the replicated state of one conversation: metadata and
// a participant set with operation-sourced add and remove logs.
type Conversation struct {
	conversationID uuid.UUID
	agentID        uint64
	version        uint64
	metadata       Metadata
	active         map[uuid.UUID]struct{}
	adds           map[uuid.UUID]uint64
	removes        map[uuid.UUID]uint64
	operations     []Operation
}

// Metadata holds the mutable conversation header fields.
type Metadata struct {
	Name      *string `json:"name,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	Type      string  `json:"type"`
}

// ConversationState is the read-only snapshot handed to embedding code.
type ConversationState struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	Metadata       Metadata    `json:"metadata"`
	Participants   []uuid.UUID `json:"participants"`
	Version        uint64      `json:"version"`
}

// conversationPayload is the tagged payload of a conversation operation.
// The operation kind selects which field is meaningful: Add and Remove
// carry a user, Update carries a name.
type conversationPayload struct {
	User *uuid.UUID `json:"user,omitempty"`
	Name *string    `json:"name,omitempty"`
}

// conversationWire is the serialized form of a conversation replica.
type conversationWire struct {
	ConversationID uuid.UUID            `json:"conversation_id"`
	AgentID        uint64               `json:"agent_id"`
	Version        uint64               `json:"version"`
	Metadata       Metadata             `json:"metadata"`
	Active         []uuid.UUID          `json:"active"`
	Adds           map[uuid.UUID]uint64 `json:"adds"`
	Removes        map[uuid.UUID]uint64 `json:"removes"`
	Operations     []Operation          `json:"operations"`
}

// Functions

// NewConversation returns an empty conversation replica with a fresh
// conversation UUID owned by the given agent.
func NewConversation(agentID uint64) *Conversation {

	now := nowUTC()

	return &Conversation{
		conversationID: uuid.NewV4(),
		agentID:        agentID,
		metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Type:      ConversationDirect,
		},
		active:  make(map[uuid.UUID]struct{}),
		adds:    make(map[uuid.UUID]uint64),
		removes: make(map[uuid.UUID]uint64),
	}
}

// ConversationFrom builds a replica for an already existing conversation,
// e.g. one loaded from the outside storage layer.
func ConversationFrom(agentID uint64, conversationID uuid.UUID, participants []uuid.UUID, name *string) *Conversation {

	c := NewConversation(agentID)
	c.conversationID = conversationID
	c.metadata.Name = name

	for _, participant := range participants {
		c.AddParticipant(participant)
	}

	return c
}

// nowUTC renders the current wall clock in the fixed-width UTC layout.
func nowUTC() string {

	return time.Now().UTC().Format(wallClockLayout)
}

// ConversationID returns the conversation's UUID.
func (c *Conversation) ConversationID() uuid.UUID {

	return c.conversationID
}

// Name returns the conversation name, nil if never set.
func (c *Conversation) Name() *string {

	return c.metadata.Name
}

// Participants returns the currently active participants in a
// deterministic order.
func (c *Conversation) Participants() []uuid.UUID {

	participants := make([]uuid.UUID, 0, len(c.active))

	for user := range c.active {
		participants = append(participants, user)
	}

	sortUUIDs(participants)

	return participants
}

// HasParticipant reports whether a user is currently active in the
// conversation.
func (c *Conversation) HasParticipant(user uuid.UUID) bool {

	_, found := c.active[user]

	return found
}

// State returns a snapshot of the conversation for embedding code.
func (c *Conversation) State() ConversationState {

	return ConversationState{
		ConversationID: c.conversationID,
		Metadata:       c.metadata,
		Participants:   c.Participants(),
		Version:        c.version,
	}
}

// AddParticipant inserts a user into the participant set. Adding an
// already active user is a no-op.
func (c *Conversation) AddParticipant(user uuid.UUID) {

	if _, found := c.active[user]; found {
		return
	}

	op := c.record(OpAdd, conversationPayload{User: &user})

	c.active[user] = struct{}{}
	c.adds[user] = op.ID
}

// RemoveParticipant removes a user from the participant set. Removing a
// user that is not active is a no-op.
func (c *Conversation) RemoveParticipant(user uuid.UUID) {

	if _, found := c.active[user]; !found {
		return
	}

	op := c.record(OpRemove, conversationPayload{User: &user})

	delete(c.active, user)
	c.removes[user] = op.ID
}

// UpdateName sets the conversation name and bumps the updated timestamp.
func (c *Conversation) UpdateName(name string) {

	c.metadata.Name = &name
	c.metadata.UpdatedAt = nowUTC()

	c.record(OpUpdate, conversationPayload{Name: &name})
}

// record appends a new operation to the history and advances the version
// counter. The operation id is instance-local; cross-agent identity is
// the (agent, id) pair.
func (c *Conversation) record(kind OperationType, payload conversationPayload) Operation {

	data, _ := json.Marshal(payload)

	op := Operation{
		ID:        uint64(len(c.operations)) + 1,
		AgentID:   c.agentID,
		Timestamp: c.version,
		Kind:      kind,
		Data:      data,
	}

	c.operations = append(c.operations, op)
	c.version++

	return op
}

// Merge reconciles a remote conversation replica into this one by
// replaying every remote operation not yet present in the local history.
// A conflict is produced only if replay itself errors.
func (c *Conversation) Merge(other State) MergeResult {

	o, ok := other.(*Conversation)
	if !ok {
		return Conflicted(ConflictTypeMismatch, "cannot merge conversation state with a different replica type", nil, nil)
	}

	hasLocal := false
	hasRemote := false

	// Replay remote operations missing from local history.
	for _, remoteOp := range o.operations {

		if containsOp(c.operations, remoteOp) {
			continue
		}

		if err := c.ApplyOperation(remoteOp); err != nil {

			localSnap, _ := json.Marshal(c)
			remoteSnap, _ := json.Marshal(o)

			return Conflicted(
				ConflictApplyFailed,
				errors.Wrap(err, "failed to apply remote conversation operation").Error(),
				localSnap, remoteSnap,
			)
		}

		hasRemote = true
	}

	// Any operation the remote side lacks counts as a local change.
	for _, localOp := range c.operations {

		if !containsOp(o.operations, localOp) {
			hasLocal = true
			break
		}
	}

	return resultFromFlags(hasLocal, hasRemote)
}

// OperationsSince returns all operations recorded after the given
// version.
func (c *Conversation) OperationsSince(version uint64) []Operation {

	return opsSince(c.operations, version)
}

// ApplyOperation replays a single operation on the participant set or
// the metadata. Malformed payloads are reported, never panicked on.
func (c *Conversation) ApplyOperation(op Operation) error {

	if !op.Kind.Valid() {
		return errors.Wrapf(ErrUnknownOperationKind, "conversation operation %d from agent %d", op.ID, op.AgentID)
	}

	var payload conversationPayload
	if err := json.Unmarshal(op.Data, &payload); err != nil {
		return errors.Wrap(err, "malformed conversation operation payload")
	}

	switch op.Kind {

	case OpAdd:

		if payload.User == nil {
			return errors.New("conversation add operation carries no user")
		}

		c.active[*payload.User] = struct{}{}
		c.adds[*payload.User] = op.ID

	case OpRemove:

		if payload.User == nil {
			return errors.New("conversation remove operation carries no user")
		}

		delete(c.active, *payload.User)
		c.removes[*payload.User] = op.ID

	case OpUpdate:

		if payload.Name == nil {
			return errors.New("conversation update operation carries no name")
		}

		c.metadata.Name = payload.Name
		c.metadata.UpdatedAt = nowUTC()
	}

	// Keep the original operation record so replay is idempotent.
	if !containsOp(c.operations, op) {
		c.operations = append(c.operations, op)
	}

	if (op.Timestamp + 1) > c.version {
		c.version = op.Timestamp + 1
	}

	return nil
}

// Version returns the operation-count version of this replica.
func (c *Conversation) Version() uint64 {

	return c.version
}

// IsEmpty reports whether the conversation has no active participants.
func (c *Conversation) IsEmpty() bool {

	return len(c.active) == 0
}

// CloneState returns a deep copy of the replica.
func (c *Conversation) CloneState() State {

	clone := &Conversation{
		conversationID: c.conversationID,
		agentID:        c.agentID,
		version:        c.version,
		metadata:       c.metadata,
		active:         make(map[uuid.UUID]struct{}, len(c.active)),
		adds:           make(map[uuid.UUID]uint64, len(c.adds)),
		removes:        make(map[uuid.UUID]uint64, len(c.removes)),
		operations:     append([]Operation(nil), c.operations...),
	}

	for user := range c.active {
		clone.active[user] = struct{}{}
	}
	for user, id := range c.adds {
		clone.adds[user] = id
	}
	for user, id := range c.removes {
		clone.removes[user] = id
	}

	return clone
}

// MarshalJSON serializes the replica including its operation history.
func (c *Conversation) MarshalJSON() ([]byte, error) {

	active := make([]uuid.UUID, 0, len(c.active))
	for user := range c.active {
		active = append(active, user)
	}
	sortUUIDs(active)

	return json.Marshal(conversationWire{
		ConversationID: c.conversationID,
		AgentID:        c.agentID,
		Version:        c.version,
		Metadata:       c.metadata,
		Active:         active,
		Adds:           c.adds,
		Removes:        c.removes,
		Operations:     c.operations,
	})
}

// UnmarshalJSON restores a replica serialized with MarshalJSON.
func (c *Conversation) UnmarshalJSON(data []byte) error {

	var wire conversationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "malformed conversation state")
	}

	c.conversationID = wire.ConversationID
	c.agentID = wire.AgentID
	c.version = wire.Version
	c.metadata = wire.Metadata
	c.operations = wire.Operations

	c.active = make(map[uuid.UUID]struct{}, len(wire.Active))
	for _, user := range wire.Active {
		c.active[user] = struct{}{}
	}

	c.adds = wire.Adds
	if c.adds == nil {
		c.adds = make(map[uuid.UUID]uint64)
	}

	c.removes = wire.Removes
	if c.removes == nil {
		c.removes = make(map[uuid.UUID]uint64)
	}

	return nil
}

// sortUUIDs orders a slice of UUIDs by their byte representation.
func sortUUIDs(ids []uuid.UUID) {

	sort.Slice(ids, func(i int, j int) bool {
		return bytes.Compare(ids[i].Bytes(), ids[j].Bytes()) < 0
	})
}
