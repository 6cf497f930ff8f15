/*
Package comm implements the wire envelope for exchanging CRDT operation
batches between replicas. It is a pure codec: marshalling and parsing of
sync messages carrying the originating agent, its version vector and a
serialized operation batch. Actually moving these messages between
devices is the job of an outside transport layer.
*/
package comm
