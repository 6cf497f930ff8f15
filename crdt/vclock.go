package crdt

// Structs

// VersionVector maps agent ids to the highest logical clock value
// observed from that agent. Entries only ever increase.
type VersionVector struct {
	Versions map[uint64]uint64 `json:"versions"`
}

// Functions

// NewVersionVector returns an empty initialized version vector.
func NewVersionVector() VersionVector {

	return VersionVector{
		Versions: make(map[uint64]uint64),
	}
}

// Get returns the clock value observed for the given agent, zero if the
// agent was never seen.
func (v VersionVector) Get(agentID uint64) uint64 {

	return v.Versions[agentID]
}

// Increment advances the entry of the given agent by one and returns the
// new value.
func (v *VersionVector) Increment(agentID uint64) uint64 {

	if v.Versions == nil {
		v.Versions = make(map[uint64]uint64)
	}

	v.Versions[agentID]++

	return v.Versions[agentID]
}

// Merge folds another vector into this one by taking the component-wise
// maximum of all entries.
func (v *VersionVector) Merge(other VersionVector) {

	if v.Versions == nil {
		v.Versions = make(map[uint64]uint64)
	}

	for agentID, version := range other.Versions {

		if version > v.Versions[agentID] {
			v.Versions[agentID] = version
		}
	}
}

// Dominates reports whether this vector is at least as advanced as the
// other one for every agent the other one has observed.
func (v VersionVector) Dominates(other VersionVector) bool {

	for agentID, version := range other.Versions {

		if v.Versions[agentID] < version {
			return false
		}
	}

	return true
}

// Concurrent reports whether neither vector dominates the other, i.e.
// the two replicas advanced independently.
func (v VersionVector) Concurrent(other VersionVector) bool {

	return !v.Dominates(other) && !other.Dominates(v)
}

// Equal reports whether both vectors carry exactly the same non-zero
// entries.
func (v VersionVector) Equal(other VersionVector) bool {

	return v.Dominates(other) && other.Dominates(v)
}

// MaxVersion returns the highest clock value across all agents.
func (v VersionVector) MaxVersion() uint64 {

	var max uint64

	for _, version := range v.Versions {

		if version > max {
			max = version
		}
	}

	return max
}

// Clone returns a deep copy of the vector.
func (v VersionVector) Clone() VersionVector {

	clone := NewVersionVector()

	for agentID, version := range v.Versions {
		clone.Versions[agentID] = version
	}

	return clone
}
