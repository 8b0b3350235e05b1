/*
Package attrd implements the attribute-aggregation daemon core: the
per-attribute dampening state machine, value expansion, peer broadcast, and
configuration-store commit.

# Dampening state machine

Each AttributeEntry moves through three states as updates arrive and commits
land:

	┌──────── Engine.Update(v) ─────────┐
	│ │
	▼ │
	idle ──update(v)──► armed ──timer-fire──► committing
	 ▲ ▲ │
	 │ │ commit-fail │
	 │ └──(transient, backoff)────┤
	 │ │
	 └───────────────── commit-success ◄─────────────┘

A commit in flight when a new update arrives is never cancelled; the new
value starts another dampening cycle once the in-flight commit resolves,
tracked by bumping the entry's timer generation so a stale timer callback
cannot regress a newer state.

# Ownership

All entry-table mutation happens under Engine.mu. Timer callbacks
(time.AfterFunc) and store completion callbacks reacquire the lock before
touching entry state, which is what lets logic modeled on a single-threaded
event loop run safely under Go's actual concurrency.
*/
package attrd
