/*
Package sync provides the thin status surfaces around the replication
core: a network connectivity holder, a synchronization state tracker and
the metrics counters exported to Prometheus. Deciding when to sync and
moving bytes between devices stays with the embedding application.
*/
package sync
