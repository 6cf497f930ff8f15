package crdt

import (
	"github.com/pkg/errors"
)

// Constants

// Operation kinds shared by all replicated types. The string values
// double as the wire representation of the kind field.
const (
	OpAdd    OperationType = "Add"
	OpRemove OperationType = "Remove"
	OpUpdate OperationType = "Update"
)

// Merge outcomes. Every merge call resolves to exactly one of these.
const (
	MergeIdentical MergeStatus = iota
	MergeLocalUpdated
	MergeRemoteMerged
	MergeBothMerged
	MergeConflict
)

// Conflict kinds. Cross-entity and type-mismatch conflicts are fatal and
// must never be auto-resolved by a merge strategy.
const (
	ConflictCrossEntity  ConflictKind = "cross-entity"
	ConflictTypeMismatch ConflictKind = "type-mismatch"
	ConflictContent      ConflictKind = "content"
	ConflictApplyFailed  ConflictKind = "apply-failed"
)

// Variables

// ErrUnknownResolutionOption is returned by the merger when a caller
// supplies a resolution option id outside of local, remote and merge.
var ErrUnknownResolutionOption = errors.New("unknown resolution option")

// ErrUnknownOperationKind is returned when an operation carries a kind
// outside of the closed Add, Remove, Update set.
var ErrUnknownOperationKind = errors.New("unknown operation kind")

// Structs

// OperationType is the closed set of operation kinds.
type OperationType string

// Operation is the uniform envelope every replicated type records its
// mutations in. It is immutable once created and conceptually identified
// by the (AgentID, ID) pair.
type Operation struct {
	ID        uint64        `json:"id"`
	AgentID   uint64        `json:"agent_id"`
	Timestamp uint64        `json:"timestamp"`
	Kind      OperationType `json:"kind"`
	Data      []byte        `json:"data"`
}

// MergeStatus enumerates the possible outcomes of merging two replicas.
type MergeStatus uint8

// MergeResult is the outcome of a merge call. Conflict is non-nil if and
// only if Status is MergeConflict.
type MergeResult struct {
	Status   MergeStatus
	Conflict *Conflict
}

// ConflictKind classifies why automatic merging stopped.
type ConflictKind string

// Conflict describes a merge that automatic resolution could not handle
// safely. Local and Remote carry serialized snapshots of the diverging
// state for a human-facing resolution surface.
type Conflict struct {
	Kind        ConflictKind
	Description string
	Local       []byte
	Remote      []byte
}

// Fatal reports whether a conflict must be surfaced to the caller rather
// than forced through a merge strategy.
func (c *Conflict) Fatal() bool {

	return (c.Kind == ConflictCrossEntity) || (c.Kind == ConflictTypeMismatch)
}

// Interfaces

// State is the capability set every replicated type implements. Merge
// mutates the receiver in place and must be safe to call repeatedly:
// merging a replica with an identical copy of itself yields Identical.
// OperationsSince returns all recorded operations with a timestamp
// strictly greater than version, ordered by timestamp, for minimal delta
// transmission. ApplyOperation replays a single remote operation and
// reports unknown or malformed payloads as an error instead of panicking.
// Version is a monotonic scalar summarizing state progress.
type State interface {
	Merge(other State) MergeResult
	OperationsSince(version uint64) []Operation
	ApplyOperation(op Operation) error
	Version() uint64
	IsEmpty() bool
}

// Cloner is implemented by replicated types that can produce a deep copy
// of themselves. The merger uses it to probe merges without touching the
// caller's state.
type Cloner interface {
	CloneState() State
}

// Functions

// Identical reports that both replicas already contained the same state.
func Identical() MergeResult {

	return MergeResult{Status: MergeIdentical}
}

// LocalUpdated reports that only the local replica carried changes the
// remote one lacked.
func LocalUpdated() MergeResult {

	return MergeResult{Status: MergeLocalUpdated}
}

// RemoteMerged reports that remote changes were incorporated and the
// local replica carried nothing new.
func RemoteMerged() MergeResult {

	return MergeResult{Status: MergeRemoteMerged}
}

// BothMerged reports that changes from both replicas were combined.
func BothMerged() MergeResult {

	return MergeResult{Status: MergeBothMerged}
}

// Conflicted wraps a conflict kind, description and the serialized local
// and remote snapshots into a merge result requiring outside resolution.
func Conflicted(kind ConflictKind, description string, local []byte, remote []byte) MergeResult {

	return MergeResult{
		Status: MergeConflict,
		Conflict: &Conflict{
			Kind:        kind,
			Description: description,
			Local:       local,
			Remote:      remote,
		},
	}
}

// resultFromFlags maps the has-local-changes and has-remote-changes pair
// onto the shared result lattice used by all history-based merges.
func resultFromFlags(local bool, remote bool) MergeResult {

	switch {
	case local && remote:
		return BothMerged()
	case local:
		return LocalUpdated()
	case remote:
		return RemoteMerged()
	default:
		return Identical()
	}
}

// String returns a human-readable name for a merge status.
func (s MergeStatus) String() string {

	switch s {
	case MergeIdentical:
		return "identical"
	case MergeLocalUpdated:
		return "local-updated"
	case MergeRemoteMerged:
		return "remote-merged"
	case MergeBothMerged:
		return "both-merged"
	case MergeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Valid reports whether the operation kind is part of the closed set.
func (t OperationType) Valid() bool {

	return (t == OpAdd) || (t == OpRemove) || (t == OpUpdate)
}

// sameOp reports whether two operations denote the same logical event.
// Operations are keyed by the (agent, id) pair because per-instance
// counters may collide across agents.
func sameOp(a Operation, b Operation) bool {

	return (a.AgentID == b.AgentID) && (a.ID == b.ID)
}

// containsOp reports whether history already holds the given operation.
func containsOp(history []Operation, op Operation) bool {

	for i := range history {

		if sameOp(history[i], op) {
			return true
		}
	}

	return false
}

// opsSince filters history down to all operations with a timestamp
// strictly greater than version, preserving recording order.
func opsSince(history []Operation, version uint64) []Operation {

	ops := make([]Operation, 0, len(history))

	for _, op := range history {

		if op.Timestamp > version {
			ops = append(ops, op)
		}
	}

	return ops
}
