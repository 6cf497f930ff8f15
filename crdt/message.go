package crdt

import (
	"fmt"
	"sort"

	"encoding/json"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Constants

// Delivery statuses form the lattice Sent < Delivered < Read. Merging
// only ever moves a message up this lattice, never down.
const (
	StatusSent      DeliveryStatus = "Sent"
	StatusDelivered DeliveryStatus = "Delivered"
	StatusRead      DeliveryStatus = "Read"
)

// Structs

// DeliveryStatus is the closed set of message delivery states.
type DeliveryStatus string

// Messages is the replicated message state of one conversation. It
// implements a Braid-style causal protocol: every message records its
// braid version, minted from the local agent and Lamport clock, and the
// set of version keys known at creation time as its causal parents.
type Messages struct {
	conversationID uuid.UUID
	agentID        uint64
	vclock         VersionVector
	lamport        uint64
	messages       map[string]*MessageEntry
	delivery       map[uuid.UUID]DeliveryStatus
	operations     []Operation
	pending        []MessageEntry
}

// MessageEntry carries one message with its full causal metadata.
type MessageEntry struct {
	ID               uuid.UUID     `json:"id"`
	ConversationID   uuid.UUID     `json:"conversation_id"`
	Content          string        `json:"content"`
	MessageType      string        `json:"message_type"`
	SenderID         uuid.UUID     `json:"sender_id"`
	VersionVector    VersionVector `json:"version_vector"`
	LamportTimestamp uint64        `json:"lamport_timestamp"`
	BraidVersion     string        `json:"braid_version"`
	BraidParents     []string      `json:"braid_parents"`
	CreatedAt        string        `json:"created_at"`
	IsDelivered      bool          `json:"is_delivered"`
	IsRead           bool          `json:"is_read"`
}

// statusPayload is the payload of an Update operation changing delivery
// state.
type statusPayload struct {
	MessageID   uuid.UUID `json:"message_id"`
	IsDelivered bool      `json:"is_delivered"`
	IsRead      bool      `json:"is_read"`
}

// messagesWire is the serialized form of a message replica.
type messagesWire struct {
	ConversationID uuid.UUID                    `json:"conversation_id"`
	AgentID        uint64                       `json:"agent_id"`
	VersionVector  VersionVector                `json:"version_vector"`
	LamportClock   uint64                       `json:"lamport_clock"`
	Messages       map[string]*MessageEntry     `json:"messages"`
	Delivery       map[uuid.UUID]DeliveryStatus `json:"delivery_status"`
	Operations     []Operation                  `json:"operations"`
	Pending        []MessageEntry               `json:"pending"`
}

// Functions

// NewMessages returns an empty message replica for a conversation owned
// by the given agent.
func NewMessages(conversationID uuid.UUID, agentID uint64) *Messages {

	return &Messages{
		conversationID: conversationID,
		agentID:        agentID,
		vclock:         NewVersionVector(),
		messages:       make(map[string]*MessageEntry),
		delivery:       make(map[uuid.UUID]DeliveryStatus),
	}
}

// Rank orders delivery statuses along the Sent < Delivered < Read
// lattice.
func (s DeliveryStatus) Rank() int {

	switch s {
	case StatusRead:
		return 2
	case StatusDelivered:
		return 1
	default:
		return 0
	}
}

// statusOf derives a delivery status from the flags of an entry.
func statusOf(entry *MessageEntry) DeliveryStatus {

	switch {
	case entry.IsRead:
		return StatusRead
	case entry.IsDelivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// CreateMessage mints a new message: it increments the local slot of the
// version vector and the Lamport clock, derives the braid version from
// (agent, clock), and snapshots all currently known version keys as the
// causal parent set. The entry lands in the pending outbox for the sync
// layer to transmit; it is not yet merged into the causal store.
func (m *Messages) CreateMessage(content string, messageType string, sender uuid.UUID) MessageEntry {

	m.vclock.Increment(m.agentID)
	m.lamport++

	braidVersion := fmt.Sprintf("msg-%d-%d", m.agentID, m.lamport)

	parents := make([]string, 0, len(m.messages))
	for version := range m.messages {
		parents = append(parents, version)
	}
	sort.Strings(parents)

	entry := MessageEntry{
		ID:               uuid.NewV4(),
		ConversationID:   m.conversationID,
		Content:          content,
		MessageType:      messageType,
		SenderID:         sender,
		VersionVector:    m.vclock.Clone(),
		LamportTimestamp: m.lamport,
		BraidVersion:     braidVersion,
		BraidParents:     parents,
		CreatedAt:        nowUTC(),
	}

	m.pending = append(m.pending, entry)

	// Record the creation so OperationsSince yields a usable delta.
	data, _ := json.Marshal(entry)
	m.recordOperation(OpAdd, data)

	return entry
}

// AddReceivedMessage merges a message received from another replica:
// the entry's version vector is folded into the local one, the Lamport
// clock advances past the remote timestamp, and the entry is stored
// under its braid version key.
func (m *Messages) AddReceivedMessage(entry MessageEntry) {

	m.vclock.Merge(entry.VersionVector)

	if entry.LamportTimestamp > m.lamport {
		m.lamport = entry.LamportTimestamp
	}
	m.lamport++

	m.storeEntry(entry)
}

// storeEntry inserts an entry under its braid version key. A delivery
// status recorded before the message itself arrived must survive the
// insert, so a higher pre-recorded status is folded back into the
// entry's flags.
func (m *Messages) storeEntry(entry MessageEntry) {

	stored := entry

	if prior := m.delivery[stored.ID]; prior.Rank() > statusOf(&stored).Rank() {
		stored.IsDelivered = true
		stored.IsRead = stored.IsRead || prior == StatusRead
	}

	m.messages[stored.BraidVersion] = &stored
	m.delivery[stored.ID] = statusOf(&stored)
}

// MarkDelivered escalates a message to delivered.
func (m *Messages) MarkDelivered(messageID uuid.UUID) {

	m.escalateStatus(messageID, StatusDelivered)
}

// MarkRead escalates a message to read.
func (m *Messages) MarkRead(messageID uuid.UUID) {

	m.escalateStatus(messageID, StatusRead)
}

// escalateStatus moves a message up the delivery lattice and records the
// change. Downward transitions are ignored.
func (m *Messages) escalateStatus(messageID uuid.UUID, status DeliveryStatus) {

	if m.delivery[messageID].Rank() >= status.Rank() && m.delivery[messageID] != "" {
		return
	}

	for _, entry := range m.messages {

		if !uuid.Equal(entry.ID, messageID) {
			continue
		}

		entry.IsDelivered = entry.IsDelivered || (status.Rank() >= StatusDelivered.Rank())
		entry.IsRead = entry.IsRead || (status == StatusRead)
	}

	m.delivery[messageID] = status
	m.lamport++

	data, _ := json.Marshal(statusPayload{
		MessageID:   messageID,
		IsDelivered: status.Rank() >= StatusDelivered.Rank(),
		IsRead:      status == StatusRead,
	})
	m.recordOperation(OpUpdate, data)
}

// recordOperation appends an operation stamped with the current Lamport
// clock.
func (m *Messages) recordOperation(kind OperationType, data []byte) {

	m.operations = append(m.operations, Operation{
		ID:        uint64(len(m.operations)) + 1,
		AgentID:   m.agentID,
		Timestamp: m.lamport,
		Kind:      kind,
		Data:      data,
	})
}

// ConversationID returns the conversation this replica belongs to.
func (m *Messages) ConversationID() uuid.UUID {

	return m.conversationID
}

// VersionVector returns a copy of the current version vector.
func (m *Messages) VersionVector() VersionVector {

	return m.vclock.Clone()
}

// LamportClock returns the current Lamport clock value.
func (m *Messages) LamportClock() uint64 {

	return m.lamport
}

// HasMessage reports whether a braid version is present in the store.
func (m *Messages) HasMessage(braidVersion string) bool {

	_, found := m.messages[braidVersion]

	return found
}

// MissingVersions lists all braid versions the other replica holds that
// this one lacks, in a deterministic order.
func (m *Messages) MissingVersions(other *Messages) []string {

	missing := make([]string, 0, len(other.messages))

	for version := range other.messages {

		if _, found := m.messages[version]; !found {
			missing = append(missing, version)
		}
	}

	sort.Strings(missing)

	return missing
}

// PendingMessages returns the outbox of locally created messages not yet
// confirmed by the sync layer.
func (m *Messages) PendingMessages() []MessageEntry {

	return m.pending
}

// ClearPending empties the outbox after a successful sync.
func (m *Messages) ClearPending() {

	m.pending = nil
}

// Chronological returns all stored messages sorted by Lamport timestamp,
// braid version as deterministic tie-break.
func (m *Messages) Chronological() []MessageEntry {

	entries := make([]MessageEntry, 0, len(m.messages))

	for _, entry := range m.messages {
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i int, j int) bool {

		if entries[i].LamportTimestamp != entries[j].LamportTimestamp {
			return entries[i].LamportTimestamp < entries[j].LamportTimestamp
		}

		return entries[i].BraidVersion < entries[j].BraidVersion
	})

	return entries
}

// Ordered returns all stored messages in causal order: a topological
// sort over the braid parent pointers, with Lamport timestamp and braid
// version as tie-break among causally unrelated messages.
func (m *Messages) Ordered() []MessageEntry {

	// Count unresolved parents per message and invert the parent
	// pointers into child lists. Parents missing from the store do not
	// block ordering.
	indegree := make(map[string]int, len(m.messages))
	children := make(map[string][]string, len(m.messages))

	for version, entry := range m.messages {

		indegree[version] = 0

		for _, parent := range entry.BraidParents {

			if _, found := m.messages[parent]; found {
				indegree[version]++
				children[parent] = append(children[parent], version)
			}
		}
	}

	ready := make([]string, 0, len(m.messages))
	for version, degree := range indegree {

		if degree == 0 {
			ready = append(ready, version)
		}
	}

	ordered := make([]MessageEntry, 0, len(m.messages))

	for len(ready) > 0 {

		// Pick the causally ready message with the smallest Lamport
		// timestamp, braid version breaking ties.
		next := 0
		for i := 1; i < len(ready); i++ {

			a := m.messages[ready[i]]
			b := m.messages[ready[next]]

			if (a.LamportTimestamp < b.LamportTimestamp) ||
				((a.LamportTimestamp == b.LamportTimestamp) && (ready[i] < ready[next])) {
				next = i
			}
		}

		version := ready[next]
		ready = append(ready[:next], ready[next+1:]...)

		ordered = append(ordered, *m.messages[version])

		for _, child := range children[version] {

			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	return ordered
}

// Merge reconciles a remote message replica. Replicas of different
// conversations never merge; that is an immediate fatal conflict. For
// shared messages delivery status only ever escalates, and messages
// sharing a braid version with divergent content are surfaced as a
// content conflict with both snapshots attached.
func (m *Messages) Merge(other State) MergeResult {

	o, ok := other.(*Messages)
	if !ok {
		return Conflicted(ConflictTypeMismatch, "cannot merge message state with a different replica type", nil, nil)
	}

	if !uuid.Equal(m.conversationID, o.conversationID) {
		return Conflicted(ConflictCrossEntity, "cannot merge message state from different conversations", nil, nil)
	}

	hasLocal := false
	hasRemote := false
	var conflicts []string

	// Union the causal clocks.
	m.vclock.Merge(o.vclock)
	if o.lamport > m.lamport {
		m.lamport = o.lamport
	}

	for version, remote := range o.messages {

		local, found := m.messages[version]
		if !found {

			m.storeEntry(*remote)
			hasRemote = true

			continue
		}

		// Same causal key on both sides: content must agree.
		if local.Content != remote.Content {
			conflicts = append(conflicts, fmt.Sprintf("message %s has divergent content at version %s", local.ID, version))
			continue
		}

		// Escalate delivery status, never regress.
		if statusOf(remote).Rank() > statusOf(local).Rank() {

			local.IsDelivered = local.IsDelivered || remote.IsDelivered
			local.IsRead = local.IsRead || remote.IsRead
			m.delivery[local.ID] = statusOf(local)
			hasRemote = true
		}
	}

	for version := range m.messages {

		if _, found := o.messages[version]; !found {
			hasLocal = true
			break
		}
	}

	// Union the operation histories so delta computation keeps working
	// after snapshot merges.
	for _, remoteOp := range o.operations {

		if !containsOp(m.operations, remoteOp) {
			m.operations = append(m.operations, remoteOp)
		}
	}

	if len(conflicts) > 0 {

		localSnap, _ := json.Marshal(m.messages)
		remoteSnap, _ := json.Marshal(o.messages)

		return Conflicted(
			ConflictContent,
			fmt.Sprintf("content conflicts detected: %v", conflicts),
			localSnap, remoteSnap,
		)
	}

	return resultFromFlags(hasLocal, hasRemote)
}

// OperationsSince returns all operations recorded after the given
// Lamport version.
func (m *Messages) OperationsSince(version uint64) []Operation {

	return opsSince(m.operations, version)
}

// ApplyOperation replays a single remote message operation: Add inserts
// a received message, Update escalates delivery status. Malformed
// payloads and unknown kinds are reported, never panicked on.
func (m *Messages) ApplyOperation(op Operation) error {

	switch op.Kind {

	case OpAdd:

		var entry MessageEntry
		if err := json.Unmarshal(op.Data, &entry); err != nil {
			return errors.Wrap(err, "malformed message operation payload")
		}

		if !uuid.Equal(entry.ConversationID, m.conversationID) {
			return errors.Errorf("message %s belongs to a different conversation", entry.ID)
		}

		if local, found := m.messages[entry.BraidVersion]; found {

			// Already known: only the delivery flags may advance.
			if statusOf(&entry).Rank() > statusOf(local).Rank() {
				local.IsDelivered = local.IsDelivered || entry.IsDelivered
				local.IsRead = local.IsRead || entry.IsRead
				m.delivery[local.ID] = statusOf(local)
			}
		} else {
			m.AddReceivedMessage(entry)
		}

	case OpUpdate:

		var payload statusPayload
		if err := json.Unmarshal(op.Data, &payload); err != nil {
			return errors.Wrap(err, "malformed status operation payload")
		}

		status := StatusSent
		if payload.IsRead {
			status = StatusRead
		} else if payload.IsDelivered {
			status = StatusDelivered
		}

		if m.delivery[payload.MessageID].Rank() < status.Rank() {

			for _, entry := range m.messages {

				if uuid.Equal(entry.ID, payload.MessageID) {
					entry.IsDelivered = entry.IsDelivered || payload.IsDelivered
					entry.IsRead = entry.IsRead || payload.IsRead
				}
			}

			m.delivery[payload.MessageID] = status
		}

	default:
		return errors.Wrapf(ErrUnknownOperationKind, "message operation %d from agent %d", op.ID, op.AgentID)
	}

	if !containsOp(m.operations, op) {
		m.operations = append(m.operations, op)
	}

	if op.Timestamp > m.lamport {
		m.lamport = op.Timestamp
	}

	return nil
}

// Version returns the Lamport clock as the progress scalar of this
// replica.
func (m *Messages) Version() uint64 {

	return m.lamport
}

// IsEmpty reports whether the causal store holds no messages.
func (m *Messages) IsEmpty() bool {

	return len(m.messages) == 0
}

// CloneState returns a deep copy of the replica.
func (m *Messages) CloneState() State {

	clone := &Messages{
		conversationID: m.conversationID,
		agentID:        m.agentID,
		vclock:         m.vclock.Clone(),
		lamport:        m.lamport,
		messages:       make(map[string]*MessageEntry, len(m.messages)),
		delivery:       make(map[uuid.UUID]DeliveryStatus, len(m.delivery)),
		operations:     append([]Operation(nil), m.operations...),
		pending:        append([]MessageEntry(nil), m.pending...),
	}

	for version, entry := range m.messages {
		stored := *entry
		clone.messages[version] = &stored
	}

	for id, status := range m.delivery {
		clone.delivery[id] = status
	}

	return clone
}

// MarshalJSON serializes the replica including outbox and history.
func (m *Messages) MarshalJSON() ([]byte, error) {

	return json.Marshal(messagesWire{
		ConversationID: m.conversationID,
		AgentID:        m.agentID,
		VersionVector:  m.vclock,
		LamportClock:   m.lamport,
		Messages:       m.messages,
		Delivery:       m.delivery,
		Operations:     m.operations,
		Pending:        m.pending,
	})
}

// UnmarshalJSON restores a replica serialized with MarshalJSON.
func (m *Messages) UnmarshalJSON(data []byte) error {

	var wire messagesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "malformed message state")
	}

	m.conversationID = wire.ConversationID
	m.agentID = wire.AgentID
	m.lamport = wire.LamportClock
	m.operations = wire.Operations
	m.pending = wire.Pending

	m.vclock = wire.VersionVector
	if m.vclock.Versions == nil {
		m.vclock = NewVersionVector()
	}

	m.messages = wire.Messages
	if m.messages == nil {
		m.messages = make(map[string]*MessageEntry)
	}

	m.delivery = wire.Delivery
	if m.delivery == nil {
		m.delivery = make(map[uuid.UUID]DeliveryStatus)
	}

	return nil
}
