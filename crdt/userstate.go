package crdt

import (
	"encoding/json"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Constants

// Presence statuses form a closed set.
const (
	PresenceOnline  PresenceStatus = "Online"
	PresenceAway    PresenceStatus = "Away"
	PresenceOffline PresenceStatus = "Offline"
	PresenceBusy    PresenceStatus = "Busy"
)

// Structs

// PresenceStatus is the closed set of user presence states.
type PresenceStatus string

// UserState is the replicated per-peer presence state of one device.
type UserState struct {
	agentID    uint64
	version    uint64
	presence   map[uuid.UUID]Presence
	operations []Operation
}

// Presence carries the presence record of one peer. LastSeen is a
// fixed-width UTC timestamp so lexicographic comparison is a valid time
// order, which the merge relies on.
type Presence struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen string         `json:"last_seen"`
	Activity *string        `json:"activity,omitempty"`
}

// presencePayload is the payload of a presence operation. LastSeen is
// carried so replay preserves the original update moment.
type presencePayload struct {
	User     uuid.UUID      `json:"user"`
	Status   PresenceStatus `json:"status"`
	LastSeen string         `json:"last_seen"`
	Activity *string        `json:"activity,omitempty"`
}

// userStateWire is the serialized form of a user state replica.
type userStateWire struct {
	AgentID    uint64                 `json:"agent_id"`
	Version    uint64                 `json:"version"`
	Presence   map[uuid.UUID]Presence `json:"presence"`
	Operations []Operation            `json:"operations"`
}

// Functions

// NewUserState returns an empty presence replica for the given agent.
func NewUserState(agentID uint64) *UserState {

	return &UserState{
		agentID:  agentID,
		presence: make(map[uuid.UUID]Presence),
	}
}

// UpdatePresence records a presence change for a peer and reflects it in
// local state.
func (u *UserState) UpdatePresence(user uuid.UUID, status PresenceStatus, activity *string) {

	now := nowUTC()

	u.presence[user] = Presence{
		UserID:   user,
		Status:   status,
		LastSeen: now,
		Activity: activity,
	}

	data, _ := json.Marshal(presencePayload{
		User:     user,
		Status:   status,
		LastSeen: now,
		Activity: activity,
	})

	op := Operation{
		ID:        uint64(len(u.operations)) + 1,
		AgentID:   u.agentID,
		Timestamp: u.version,
		Kind:      OpUpdate,
		Data:      data,
	}

	u.operations = append(u.operations, op)
	u.version++
}

// Presence returns the presence record of a peer.
func (u *UserState) Presence(user uuid.UUID) (Presence, bool) {

	presence, found := u.presence[user]

	return presence, found
}

// OnlineUsers returns all peers currently known to be online, in a
// deterministic order.
func (u *UserState) OnlineUsers() []uuid.UUID {

	online := make([]uuid.UUID, 0, len(u.presence))

	for user, presence := range u.presence {

		if presence.Status == PresenceOnline {
			online = append(online, user)
		}
	}

	sortUUIDs(online)

	return online
}

// Merge reconciles a remote presence replica with per-peer
// last-write-wins keyed on the LastSeen timestamp. Peers only present
// remotely are adopted. No conflict path exists for this type.
func (u *UserState) Merge(other State) MergeResult {

	o, ok := other.(*UserState)
	if !ok {
		return Conflicted(ConflictTypeMismatch, "cannot merge user state with a different replica type", nil, nil)
	}

	hasChanges := false

	for user, remote := range o.presence {

		local, found := u.presence[user]

		if !found || (remote.LastSeen > local.LastSeen) {
			u.presence[user] = remote
			hasChanges = true
		}
	}

	if hasChanges {

		if o.version > u.version {
			u.version = o.version
		}

		return BothMerged()
	}

	return Identical()
}

// OperationsSince returns all operations recorded after the given
// version.
func (u *UserState) OperationsSince(version uint64) []Operation {

	return opsSince(u.operations, version)
}

// ApplyOperation replays a single presence update. The carried LastSeen
// value is kept so replay does not fabricate a newer update.
func (u *UserState) ApplyOperation(op Operation) error {

	var payload presencePayload
	if err := json.Unmarshal(op.Data, &payload); err != nil {
		return errors.Wrap(err, "malformed presence operation payload")
	}

	// Replay is itself last-write-wins against the current record.
	if local, found := u.presence[payload.User]; !found || (payload.LastSeen > local.LastSeen) {
		u.presence[payload.User] = Presence{
			UserID:   payload.User,
			Status:   payload.Status,
			LastSeen: payload.LastSeen,
			Activity: payload.Activity,
		}
	}

	if !containsOp(u.operations, op) {
		u.operations = append(u.operations, op)
	}

	if (op.Timestamp + 1) > u.version {
		u.version = op.Timestamp + 1
	}

	return nil
}

// Version returns the operation-count version of this replica.
func (u *UserState) Version() uint64 {

	return u.version
}

// IsEmpty reports whether no presence records are tracked.
func (u *UserState) IsEmpty() bool {

	return len(u.presence) == 0
}

// CloneState returns a deep copy of the replica.
func (u *UserState) CloneState() State {

	clone := &UserState{
		agentID:    u.agentID,
		version:    u.version,
		presence:   make(map[uuid.UUID]Presence, len(u.presence)),
		operations: append([]Operation(nil), u.operations...),
	}

	for user, presence := range u.presence {
		clone.presence[user] = presence
	}

	return clone
}

// MarshalJSON serializes the replica including its operation history.
func (u *UserState) MarshalJSON() ([]byte, error) {

	return json.Marshal(userStateWire{
		AgentID:    u.agentID,
		Version:    u.version,
		Presence:   u.presence,
		Operations: u.operations,
	})
}

// UnmarshalJSON restores a replica serialized with MarshalJSON.
func (u *UserState) UnmarshalJSON(data []byte) error {

	var wire userStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "malformed user state")
	}

	u.agentID = wire.AgentID
	u.version = wire.Version
	u.operations = wire.Operations

	u.presence = wire.Presence
	if u.presence == nil {
		u.presence = make(map[uuid.UUID]Presence)
	}

	return nil
}
