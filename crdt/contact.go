package crdt

import (
	"encoding/json"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Constants

// Relationship statuses form a closed set. Transitions overwrite the
// previous status outright.
const (
	RelationNone      RelationshipStatus = "None"
	RelationRequested RelationshipStatus = "Requested"
	RelationPending   RelationshipStatus = "Pending"
	RelationFriends   RelationshipStatus = "Friends"
	RelationBlocked   RelationshipStatus = "Blocked"
)

// Structs

// RelationshipStatus is the closed set of contact relationship states.
type RelationshipStatus string

// Contacts is the replicated per-peer relationship state of one device.
type Contacts struct {
	agentID       uint64
	version       uint64
	relationships map[uuid.UUID]Relationship
	operations    []Operation
}

// Relationship carries the current status towards one peer and the
// moment the friendship was established, if any.
type Relationship struct {
	UserID        uuid.UUID          `json:"user_id"`
	Status        RelationshipStatus `json:"status"`
	EstablishedAt *string            `json:"established_at,omitempty"`
}

// contactPayload is the payload of a contact operation.
type contactPayload struct {
	User   uuid.UUID          `json:"user"`
	Status RelationshipStatus `json:"status"`
}

// contactsWire is the serialized form of a contacts replica.
type contactsWire struct {
	AgentID       uint64                     `json:"agent_id"`
	Version       uint64                     `json:"version"`
	Relationships map[uuid.UUID]Relationship `json:"relationships"`
	Operations    []Operation                `json:"operations"`
}

// Functions

// NewContacts returns an empty contacts replica for the given agent.
func NewContacts(agentID uint64) *Contacts {

	return &Contacts{
		agentID:       agentID,
		relationships: make(map[uuid.UUID]Relationship),
	}
}

// SendRequest records an outgoing friend request towards a peer.
func (c *Contacts) SendRequest(user uuid.UUID) {

	c.UpdateRelationship(user, RelationRequested)
}

// ReceiveRequest records an incoming friend request from a peer.
func (c *Contacts) ReceiveRequest(user uuid.UUID) {

	c.UpdateRelationship(user, RelationPending)
}

// AcceptRequest marks a peer as friends.
func (c *Contacts) AcceptRequest(user uuid.UUID) {

	c.UpdateRelationship(user, RelationFriends)
}

// BlockContact blocks a peer.
func (c *Contacts) BlockContact(user uuid.UUID) {

	c.UpdateRelationship(user, RelationBlocked)
}

// Status returns the current relationship status towards a peer,
// RelationNone if the peer is unknown.
func (c *Contacts) Status(user uuid.UUID) RelationshipStatus {

	if relationship, found := c.relationships[user]; found {
		return relationship.Status
	}

	return RelationNone
}

// Relationship returns the full relationship record for a peer.
func (c *Contacts) Relationship(user uuid.UUID) (Relationship, bool) {

	relationship, found := c.relationships[user]

	return relationship, found
}

// UpdateRelationship overwrites the relationship status towards a peer
// and records the transition in the operation history.
func (c *Contacts) UpdateRelationship(user uuid.UUID, status RelationshipStatus) {

	c.setRelationship(user, status)

	data, _ := json.Marshal(contactPayload{User: user, Status: status})

	op := Operation{
		ID:        uint64(len(c.operations)) + 1,
		AgentID:   c.agentID,
		Timestamp: c.version,
		Kind:      OpUpdate,
		Data:      data,
	}

	c.operations = append(c.operations, op)
	c.version++
}

// setRelationship applies a status transition without touching the
// operation history. EstablishedAt is set exactly once, the first time a
// relationship reaches Friends.
func (c *Contacts) setRelationship(user uuid.UUID, status RelationshipStatus) {

	relationship, found := c.relationships[user]
	if !found {
		relationship = Relationship{
			UserID: user,
			Status: RelationNone,
		}
	}

	relationship.Status = status

	if (status == RelationFriends) && (relationship.EstablishedAt == nil) {
		now := nowUTC()
		relationship.EstablishedAt = &now
	}

	c.relationships[user] = relationship
}

// Merge reconciles a remote contacts replica using whole-state
// last-write-wins on the version counter. Identical copies yield
// Identical; otherwise the side with the higher version wins and the
// loser's unmatched operations are replayed on top. This type never
// produces a Conflict.
func (c *Contacts) Merge(other State) MergeResult {

	o, ok := other.(*Contacts)
	if !ok {
		return Conflicted(ConflictTypeMismatch, "cannot merge contact state with a different replica type", nil, nil)
	}

	if (c.version == o.version) && c.sameHistory(o) {
		return Identical()
	}

	if c.version >= o.version {
		return LocalUpdated()
	}

	// Remote wins: replay its operations we have not seen. Replay of a
	// malformed unit is skipped, never aborts the whole merge.
	for _, remoteOp := range o.operations {

		if containsOp(c.operations, remoteOp) {
			continue
		}

		_ = c.ApplyOperation(remoteOp)
	}

	return RemoteMerged()
}

// sameHistory reports whether both replicas recorded exactly the same
// operations, keyed by (agent, id).
func (c *Contacts) sameHistory(o *Contacts) bool {

	if len(c.operations) != len(o.operations) {
		return false
	}

	for _, op := range o.operations {

		if !containsOp(c.operations, op) {
			return false
		}
	}

	return true
}

// OperationsSince returns all operations recorded after the given
// version.
func (c *Contacts) OperationsSince(version uint64) []Operation {

	return opsSince(c.operations, version)
}

// ApplyOperation replays a single relationship transition. The original
// operation record is preserved so repeated replay changes nothing.
func (c *Contacts) ApplyOperation(op Operation) error {

	var payload contactPayload
	if err := json.Unmarshal(op.Data, &payload); err != nil {
		return errors.Wrap(err, "malformed contact operation payload")
	}

	c.setRelationship(payload.User, payload.Status)

	if !containsOp(c.operations, op) {
		c.operations = append(c.operations, op)
	}

	if (op.Timestamp + 1) > c.version {
		c.version = op.Timestamp + 1
	}

	return nil
}

// Version returns the operation-count version of this replica.
func (c *Contacts) Version() uint64 {

	return c.version
}

// IsEmpty reports whether no relationships are tracked.
func (c *Contacts) IsEmpty() bool {

	return len(c.relationships) == 0
}

// CloneState returns a deep copy of the replica.
func (c *Contacts) CloneState() State {

	clone := &Contacts{
		agentID:       c.agentID,
		version:       c.version,
		relationships: make(map[uuid.UUID]Relationship, len(c.relationships)),
		operations:    append([]Operation(nil), c.operations...),
	}

	for user, relationship := range c.relationships {
		clone.relationships[user] = relationship
	}

	return clone
}

// MarshalJSON serializes the replica including its operation history.
func (c *Contacts) MarshalJSON() ([]byte, error) {

	return json.Marshal(contactsWire{
		AgentID:       c.agentID,
		Version:       c.version,
		Relationships: c.relationships,
		Operations:    c.operations,
	})
}

// UnmarshalJSON restores a replica serialized with MarshalJSON.
func (c *Contacts) UnmarshalJSON(data []byte) error {

	var wire contactsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "malformed contact state")
	}

	c.agentID = wire.AgentID
	c.version = wire.Version
	c.operations = wire.Operations

	c.relationships = wire.Relationships
	if c.relationships == nil {
		c.relationships = make(map[uuid.UUID]Relationship)
	}

	return nil
}
