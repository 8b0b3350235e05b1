// Package bus models the cluster messaging layer as an opaque collaborator:
// per-peer and all-peer ordered message delivery, plus membership-change
// callbacks. It does not implement quorum, election, or a real wire
// protocol to peer daemons — it gives the aggregator (pkg/attrd) and proxy
// (pkg/proxy) a Bus interface to program against, backed by an in-process
// broker for standalone operation and tests.
package bus
