package types

import (
	"time"

	"github.com/cuemby/attrd-core/pkg/valuefmt"
)

// AttributeEntry represents a single named node attribute tracked by the
// aggregator on the local node. It is created on first reference to Name and
// lives until process shutdown.
type AttributeEntry struct {
	Name string

	// Set and Section are opaque strings pointing into the configuration
	// store's namespace. Section defaults to the node-status section when
	// empty.
	Set     string
	Section string

	// HostKey identifies the node this attribute belongs to. It starts
	// empty ("unknown") until the first update resolves it.
	HostKey string

	// CurrentValue is the pending-to-commit value. Nil means "delete".
	CurrentValue *string

	// CommittedValue is the last known-committed value, used for change
	// detection against CurrentValue.
	CommittedValue *string

	// DampenMS is the dampening window in milliseconds. Zero means
	// "flush immediately, no dampening".
	DampenMS int64

	// ActingUser, if set, is the identity the commit should be attributed
	// to for access-control purposes on the configuration store.
	ActingUser string

	// state is managed internally by the aggregator's dampening state
	// machine; see pkg/attrd.
	state        DampeningState
	deadline     time.Time
	timerVersion uint64
}

// DampeningState is the aggregator's per-attribute state machine position.
type DampeningState string

const (
	DampeningIdle       DampeningState = "idle"
	DampeningArmed      DampeningState = "armed"
	DampeningCommitting DampeningState = "committing"
)

// State returns the entry's current dampening state.
func (a *AttributeEntry) State() DampeningState { return a.state }

// SetState is used only by pkg/attrd to drive the state machine.
func (a *AttributeEntry) SetState(s DampeningState) { a.state = s }

// Deadline returns the armed commit deadline, valid only in DampeningArmed.
func (a *AttributeEntry) Deadline() time.Time { return a.deadline }

// SetDeadline is used only by pkg/attrd.
func (a *AttributeEntry) SetDeadline(t time.Time) { a.deadline = t }

// TimerVersion is a monotonically increasing generation counter used to
// invalidate stale timer callbacks after a rearm; see pkg/attrd.
func (a *AttributeEntry) TimerVersion() uint64 { return a.timerVersion }

// BumpTimerVersion increments and returns the new generation.
func (a *AttributeEntry) BumpTimerVersion() uint64 {
	a.timerVersion++
	return a.timerVersion
}

// NeedsCommit reports whether CurrentValue and CommittedValue diverge.
func (a *AttributeEntry) NeedsCommit() bool {
	return !stringPtrEqual(a.CurrentValue, a.CommittedValue)
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ActionClass is the closed set of resource-agent transport families a
// ResourceAction can be dispatched through.
type ActionClass string

const (
	ClassScriptInit      ActionClass = "script-init"
	ClassHeartbeatLegacy ActionClass = "heartbeat-legacy"
	ClassServiceBusA     ActionClass = "service-bus-A"
	ClassServiceBusB     ActionClass = "service-bus-B"
	ClassRemoteProbe     ActionClass = "remote-probe"
	ClassServiceAlias    ActionClass = "service"
	ClassGeneric         ActionClass = "generic"
	ClassAlertAgent      ActionClass = "alert-agent"
)

// RequiresProvider reports whether the class requires a non-empty Provider
// field on submission.
func (c ActionClass) RequiresProvider() bool {
	return c == ClassScriptInit
}

// UsesDirectProcess reports whether the class executes via a direct child
// process rather than a service bus round-trip.
func (c ActionClass) UsesDirectProcess() bool {
	switch c {
	case ClassScriptInit, ClassHeartbeatLegacy, ClassRemoteProbe, ClassGeneric, ClassAlertAgent:
		return true
	default:
		return false
	}
}

// ActionState is a ResourceAction's lifecycle position.
type ActionState string

const (
	ActionPending         ActionState = "pending"
	ActionBlocked         ActionState = "blocked"
	ActionInFlight        ActionState = "in-flight"
	ActionCancelRequested ActionState = "cancel-requested"
	ActionCompleted       ActionState = "completed"
)

// ActionStatus is the terminal outcome exposed on a completed action.
type ActionStatus string

const (
	StatusDone          ActionStatus = "done"
	StatusCancelled     ActionStatus = "cancelled"
	StatusTimedOut      ActionStatus = "timed-out"
	StatusNotInstalled  ActionStatus = "not-installed"
	StatusNotConfigured ActionStatus = "not-configured"
	StatusErrorHard     ActionStatus = "error-hard"
	StatusErrorGeneric  ActionStatus = "error-generic"
	StatusPending       ActionStatus = "pending"
)

// Identity is the (rsc_id, operation, interval_ms) tuple that identifies a
// ResourceAction for coalescing, recurring lookup, and cancellation.
type Identity struct {
	RscID      string
	Operation  string
	IntervalMS int64
}

// Result carries a completed action's outcome.
type Result struct {
	ExitCode int
	Status   ActionStatus
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Callback is invoked exactly once when a ResourceAction reaches a terminal
// state. UserData is opaque to the executor and is released after the call.
type Callback func(action *ResourceAction, userData interface{})

// ResourceAction represents one invocation of one operation on one resource.
type ResourceAction struct {
	RscID      string
	Operation  string
	IntervalMS int64
	TimeoutMS  int64

	Class    ActionClass
	Provider string
	Agent    string

	// Parameters is keyed by name for most classes, and by decimal
	// position ("1".."N") for ClassHeartbeatLegacy.
	Parameters map[string]string

	SequenceNo int64
	State      ActionState
	Result     *Result

	// Synchronous excludes the action from in-flight tracking: it is
	// dispatched but never serializes later submissions for the same
	// RscID behind it, and has no cancellation handle.
	Synchronous bool
	Callback    Callback
	UserData    interface{}

	Cancel bool

	CreatedAt    time.Time
	DispatchedAt time.Time
}

// ID returns the action's coalescing/lookup identity.
func (a *ResourceAction) ID() Identity {
	return Identity{RscID: a.RscID, Operation: a.Operation, IntervalMS: a.IntervalMS}
}

// String renders the canonical "<rsc_id>_<operation>_<interval_ms>" wire
// form of an Identity.
func (id Identity) String() string {
	return valuefmt.FormatIdentity(id.RscID, id.Operation, id.IntervalMS)
}

// AlertEventKind is one of the four event kinds an alert entry can filter
// on.
type AlertEventKind uint8

const (
	AlertKindNode AlertEventKind = 1 << iota
	AlertKindAttribute
	AlertKindFencing
	AlertKindResource
)

// AlertEntry is a read-only configuration record describing one alert agent.
type AlertEntry struct {
	ID        string
	Path      string
	TimeoutMS int64
	Recipient string

	// Kinds is a bitmask over AlertEventKind values.
	Kinds AlertEventKind

	// AttributeAllowList, if non-empty, restricts attribute-kind events to
	// the named attributes.
	AttributeAllowList []string

	Environment     map[string]string
	TimestampFormat string
}

// Matches reports whether the entry should fire for the given kind and,
// for attribute events, the given attribute name.
func (e *AlertEntry) Matches(kind AlertEventKind, attrName string) bool {
	if e.Kinds&kind == 0 {
		return false
	}
	if kind != AlertKindAttribute || len(e.AttributeAllowList) == 0 {
		return true
	}
	for _, a := range e.AttributeAllowList {
		if a == attrName {
			return true
		}
	}
	return false
}

// AlertDispatchOutcome aggregates the result of one alert dispatch round
// across all matching recipients.
type AlertDispatchOutcome string

const (
	AlertAllOK      AlertDispatchOutcome = "all-ok"
	AlertSomeFailed AlertDispatchOutcome = "some-failed"
	AlertAllFailed  AlertDispatchOutcome = "all-failed"
)

// ProxySession represents one tunneled IPC conversation between a remote
// node and a local service.
type ProxySession struct {
	SessionID string
	NodeName  string
	Channel   string

	// LastRequestID is non-zero while a proxied request is awaiting a
	// response from the local service.
	LastRequestID uint64

	// IsLocalShortcut is true when Channel equals the controller's own
	// service name; such sessions never open a local connection and any
	// request against them is a protocol error.
	IsLocalShortcut bool

	// Connected tracks whether the local IPC connection is live. It is
	// the Go-idiomatic stand-in for "local_connection == null".
	Connected bool

	CreatedAt time.Time
}
