package crdt

import (
	"github.com/pkg/errors"
)

// Constants

// Type tags the merger keys its strategy table by. The serializer uses
// the same tags in its envelope.
const (
	TypeConversation = "conversation"
	TypeContact      = "contact"
	TypeMessage      = "message"
	TypeUserState    = "user_state"
)

// Merge strategies a conflict can be forced through.
const (
	StrategyLastWriteWins Strategy = "last-write-wins"
	StrategyUnion         Strategy = "union"
)

// Conflict types surfaced to the resolution UI.
const (
	ConflictConcurrentModification ConflictType = "concurrent-modification"
	ConflictParticipant            ConflictType = "participant"
	ConflictMessageOrdering        ConflictType = "message-ordering"
	ConflictMetadata               ConflictType = "metadata"
)

// Structs

// Strategy names a coarse conflict resolution heuristic.
type Strategy string

// ConflictType classifies a conflict for the resolution surface.
type ConflictType string

// Merger dispatches merges over any replicated type and falls back to
// configured per-type strategies when automatic merging conflicts.
type Merger struct {
	strategies map[string]Strategy
}

// ConflictResolution is the human-facing description of a conflict that
// automatic merging could not resolve.
type ConflictResolution struct {
	ConflictType ConflictType       `json:"conflict_type"`
	Description  string             `json:"description"`
	Options      []ResolutionOption `json:"options"`
	Local        []byte             `json:"local,omitempty"`
	Remote       []byte             `json:"remote,omitempty"`
}

// ResolutionOption is one way a human can resolve a conflict.
type ResolutionOption struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
}

// Functions

// NewMerger returns a merger with the default strategy table: union for
// conversation and message state, last-write-wins for contact and user
// state.
func NewMerger() *Merger {

	return &Merger{
		strategies: map[string]Strategy{
			TypeConversation: StrategyUnion,
			TypeContact:      StrategyLastWriteWins,
			TypeMessage:      StrategyUnion,
			TypeUserState:    StrategyLastWriteWins,
		},
	}
}

// SetStrategy overrides the strategy for one type tag.
func (m *Merger) SetStrategy(dataType string, strategy Strategy) {

	m.strategies[dataType] = strategy
}

// Strategy returns the configured strategy for a type tag.
func (m *Merger) Strategy(dataType string) (Strategy, bool) {

	strategy, found := m.strategies[dataType]

	return strategy, found
}

// Merge reconciles remote into local via the type's own merge. If that
// surfaces a non-fatal conflict and a strategy is configured for the
// type, the conflict is forced through the strategy: last-write-wins
// keeps the side with the higher version, union keeps both sides'
// effects. Fatal conflicts (cross-entity, type mismatch) always pass
// through untouched.
func (m *Merger) Merge(local State, remote State, dataType string) MergeResult {

	// Capture both versions up front; merging mutates local in place.
	localVersion := local.Version()
	remoteVersion := remote.Version()

	result := local.Merge(remote)

	if result.Status != MergeConflict {
		return result
	}

	if result.Conflict.Fatal() {
		return result
	}

	strategy, found := m.strategies[dataType]
	if !found {
		return result
	}

	switch strategy {

	case StrategyLastWriteWins:

		if localVersion >= remoteVersion {
			return LocalUpdated()
		}

		return RemoteMerged()

	case StrategyUnion:
		return BothMerged()

	default:
		return result
	}
}

// AnalyzeConflict probes a merge without touching the caller's state and
// returns a structured description if it would conflict, nil otherwise.
// Types implementing Cloner are probed on a deep copy.
func (m *Merger) AnalyzeConflict(local State, remote State, dataType string) *ConflictResolution {

	probe := local
	if cloner, ok := local.(Cloner); ok {
		probe = cloner.CloneState()
	}

	// Probe the raw merge, not the strategy-backed one, so conflicts a
	// strategy would force through are still surfaced for inspection.
	result := probe.Merge(remote)

	if result.Status != MergeConflict {
		return nil
	}

	return &ConflictResolution{
		ConflictType: inferConflictType(dataType),
		Description:  result.Conflict.Description,
		Options:      resolutionOptions(dataType),
		Local:        result.Conflict.Local,
		Remote:       result.Conflict.Remote,
	}
}

// ResolveConflict applies a chosen resolution option id. The option set
// is exactly local, remote and merge; anything else is a hard error, as
// is a merge attempt that conflicts again.
func (m *Merger) ResolveConflict(local State, remote State, option string) error {

	switch option {

	case "local":
		// Keep the local state untouched.
		return nil

	case "remote":
		local.Merge(remote)
		return nil

	case "merge":

		result := local.Merge(remote)
		if result.Status == MergeConflict {
			return errors.Errorf("merge resolution failed: %s", result.Conflict.Description)
		}

		return nil

	default:
		return errors.Wrapf(ErrUnknownResolutionOption, "%q", option)
	}
}

// inferConflictType maps a type tag to the conflict class shown to the
// user.
func inferConflictType(dataType string) ConflictType {

	switch dataType {
	case TypeConversation:
		return ConflictParticipant
	case TypeMessage:
		return ConflictMessageOrdering
	case TypeContact:
		return ConflictConcurrentModification
	default:
		return ConflictConcurrentModification
	}
}

// resolutionOptions builds the fixed option set for a type tag. The
// merge option is offered only where combining both sides can succeed,
// for conversation and contact state.
func resolutionOptions(dataType string) []ResolutionOption {

	options := []ResolutionOption{
		{
			ID:          "local",
			Description: "Keep your local changes",
			Recommended: true,
		},
		{
			ID:          "remote",
			Description: "Use the remote changes",
			Recommended: false,
		},
	}

	if (dataType == TypeConversation) || (dataType == TypeContact) {

		options = append(options, ResolutionOption{
			ID:          "merge",
			Description: "Attempt to merge both changes",
			Recommended: false,
		})
	}

	return options
}
