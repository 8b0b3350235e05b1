/*
Package executor implements the local resource-operation executor: submission
validation, class probing, per-resource serialization, recurring scheduling,
cancellation, and alert dispatch.

# Per-resource serialization

Each rsc_id owns a FIFO queue. An action dispatches only when no other action
for the same rsc_id is in flight; everything else waits on the blocked queue.
Draining the blocked queue after a completion is guarded by a recursion flag
(processingBlocked) so a completion callback that itself submits a new action
cannot re-enter the drain and process the queue twice.

# Recurring actions

A completed action whose IntervalMS is non-zero and which was not
cancelled schedules its own resubmission via time.AfterFunc; the recurring
table is keyed by Identity so a duplicate submission for the same identity
coalesces onto the existing timer rather than creating a second one.
*/
package executor
