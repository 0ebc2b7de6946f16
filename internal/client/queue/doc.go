// Package queue holds the mutation queue processor: enqueueing local changes
// durably and replaying them against the remote store in dependency order.
//
// A pass partitions the queue by kind, drops structurally invalid entries,
// coalesces repeated edits of one record, defers children whose parent create
// is still queued and submits the rest in small batches. Only confirmed
// mutations leave the queue; everything else is retried on a later pass.
package queue
