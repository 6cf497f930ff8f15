/*
Package crdt implements the conflict-free replicated data types upon that the
local-first state replication of weave is built: conversation metadata and
participants, contact relationships, user presence, and causally-ordered
messages following the Braid protocol, together with the merger that
reconciles divergent replicas and the serializer that prepares state for
handoff to storage and transport layers.

CAUTION! Consider these two requirements:
  - For correct results we expect exchange of snapshots and operation batches
    between replicas to be handled by an outside sync layer. This package
    decides how to merge, never when.
  - Except for Agent, whose counters are atomic, access to the types this
    package provides is expected to be synchronized explicitly by some outside
    measures, e.g. by wrapping calls to this package with a mutex lock if
    concurrent access is possible. This package does not(!) synchronize access
    by itself.
*/
package crdt
