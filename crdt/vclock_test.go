package crdt

import (
	"testing"
)

// Functions

// TestVersionVectorIncrement executes a white-box unit test
// on implemented Increment() function.
func TestVersionVectorIncrement(t *testing.T) {

	v := NewVersionVector()

	if value := v.Get(1); value != 0 {
		t.Fatalf("[crdt.TestVersionVectorIncrement] Expected unseen agent to report 0, but got %d\n", value)
	}

	if value := v.Increment(1); value != 1 {
		t.Fatalf("[crdt.TestVersionVectorIncrement] Expected first increment to return 1, but got %d\n", value)
	}

	if value := v.Increment(1); value != 2 {
		t.Fatalf("[crdt.TestVersionVectorIncrement] Expected second increment to return 2, but got %d\n", value)
	}

	// A zero value vector allocates its map lazily.
	var lazy VersionVector
	if value := lazy.Increment(5); value != 1 {
		t.Fatalf("[crdt.TestVersionVectorIncrement] Expected increment on zero value vector to return 1, but got %d\n", value)
	}
}

// TestVersionVectorMerge executes a white-box unit test
// on implemented Merge() function.
func TestVersionVectorMerge(t *testing.T) {

	a := NewVersionVector()
	a.Versions[1] = 3
	a.Versions[2] = 1

	b := NewVersionVector()
	b.Versions[2] = 4
	b.Versions[3] = 2

	a.Merge(b)

	if (a.Get(1) != 3) || (a.Get(2) != 4) || (a.Get(3) != 2) {
		t.Fatalf("[crdt.TestVersionVectorMerge] Expected component-wise maximum {1:3, 2:4, 3:2}, but got %v\n", a.Versions)
	}

	if max := a.MaxVersion(); max != 4 {
		t.Fatalf("[crdt.TestVersionVectorMerge] Expected max version 4, but got %d\n", max)
	}
}

// TestVersionVectorOrdering executes a white-box unit test
// on implemented Dominates() and Concurrent() functions.
func TestVersionVectorOrdering(t *testing.T) {

	a := NewVersionVector()
	a.Versions[1] = 2
	a.Versions[2] = 1

	b := NewVersionVector()
	b.Versions[1] = 1

	if !a.Dominates(b) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected a to dominate b, but it did not\n")
	}

	if b.Dominates(a) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected b not to dominate a, but it did\n")
	}

	if a.Concurrent(b) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected ordered vectors not to be concurrent, but they were\n")
	}

	// Let both sides advance independently.
	b.Versions[3] = 1

	if !a.Concurrent(b) || !b.Concurrent(a) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected independently advanced vectors to be concurrent both ways\n")
	}

	if a.Equal(b) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected concurrent vectors not to be equal, but they were\n")
	}

	c := a.Clone()

	if !a.Equal(c) {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected clone to equal its source, but it did not\n")
	}

	// Mutating the clone must not affect the source.
	c.Increment(1)

	if a.Get(1) != 2 {
		t.Fatalf("[crdt.TestVersionVectorOrdering] Expected source untouched after clone mutation, but got %d\n", a.Get(1))
	}
}
