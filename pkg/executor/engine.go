package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/attrd-core/pkg/log"
	"github.com/cuemby/attrd-core/pkg/types"
)

// Engine tracks in-flight and blocked actions per resource, drives dispatch,
// and owns the recurring-action table.
type Engine struct {
	mu sync.Mutex

	inFlight  map[string]*types.ResourceAction   // rsc_id -> currently dispatched action
	blocked   map[string][]*types.ResourceAction // rsc_id -> FIFO queue
	recurring map[types.Identity]*recurringEntry

	// cancelFuncs holds the termination handle for whichever direct-process
	// action is currently in flight for a resource, so Cancel can send it a
	// kill signal instead of only marking a flag that is checked after the
	// process would have finished on its own.
	cancelFuncs map[string]context.CancelFunc

	processingBlocked map[string]bool

	scriptInit ScriptInitPath
	busA       BusDiscovery
	busB       BusDiscovery

	sequence int64
}

// recurringEntry separates transient execution state from the action value
// stored by identity: break the cycle by storing actions by identity and
// holding transient state (the timer) apart from it.
type recurringEntry struct {
	action    *types.ResourceAction
	timer     *time.Timer
	cancelled bool

	// fireImmediately is set when a duplicate submission arrives while this
	// identity's instance is actively running: the next arm-after-completion
	// uses a zero delay instead of the configured interval, so the merged
	// submission's request for a fresh cycle is honored right away.
	fireImmediately bool
}

// Config configures a new Engine.
type Config struct {
	ScriptInit ScriptInitPath
	BusA       BusDiscovery
	BusB       BusDiscovery
}

// NewEngine constructs an action executor engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		inFlight:          make(map[string]*types.ResourceAction),
		blocked:           make(map[string][]*types.ResourceAction),
		recurring:         make(map[types.Identity]*recurringEntry),
		cancelFuncs:       make(map[string]context.CancelFunc),
		processingBlocked: make(map[string]bool),
		scriptInit:        cfg.ScriptInit,
		busA:              cfg.BusA,
		busB:              cfg.BusB,
	}
}

// ValidationError reports a submission that fails validation without
// mutating any table.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Submit validates, classifies, canonicalizes, and either dispatches
// immediately or enqueues behind the resource's in-flight action.
//
// A recurring submission (IntervalMS > 0) whose identity already has a
// scheduled instance - in flight, blocked, or waiting on its recurring timer
// - is a duplicate: the existing instance keeps running, its Callback and
// UserData are replaced by the new submission's, and the new submission is
// otherwise discarded rather than dispatched a second time.
func (e *Engine) Submit(a *types.ResourceAction) error {
	if a.RscID == "" || a.Class == "" || a.Operation == "" {
		return &ValidationError{Reason: "rsc_id, class, and operation are required"}
	}
	if a.Agent == "" {
		return &ValidationError{Reason: "agent is required"}
	}
	if a.Class.RequiresProvider() && a.Provider == "" {
		return &ValidationError{Reason: fmt.Sprintf("class %s requires a provider", a.Class)}
	}

	if a.Class == types.ClassServiceAlias {
		a.Class = classifyServiceAlias(a.Agent, e.scriptInit, e.busA, e.busB)
	}
	a.Operation = canonicalizeOperation(a.Class, a.Operation)

	e.mu.Lock()
	defer e.mu.Unlock()

	if a.IntervalMS > 0 {
		id := a.ID()
		if existing := e.findByIdentityLocked(id); existing != nil {
			if a.Callback != nil {
				existing.Callback = a.Callback
				existing.UserData = a.UserData
			}
			if running, ok := e.inFlight[id.RscID]; ok && running.ID() == id {
				// The duplicate arrived while the existing instance is
				// actively running: cancel its repeat timer (there may be
				// none armed yet) and mark it to re-arm with a zero delay
				// on completion, so the next cycle fires immediately rather
				// than waiting a full interval.
				if entry, ok := e.recurring[id]; ok {
					if entry.timer != nil {
						entry.timer.Stop()
					}
					entry.fireImmediately = true
				}
			}
			return nil
		}
		e.recurring[id] = &recurringEntry{action: a}
	}

	e.enqueueLocked(a)
	return nil
}

// findByIdentityLocked returns the instance currently representing id,
// whichever table it lives in, or nil if none is tracked. Callers must hold
// e.mu.
func (e *Engine) findByIdentityLocked(id types.Identity) *types.ResourceAction {
	if a, ok := e.inFlight[id.RscID]; ok && a.ID() == id {
		return a
	}
	for _, a := range e.blocked[id.RscID] {
		if a.ID() == id {
			return a
		}
	}
	if entry, ok := e.recurring[id]; ok && !entry.cancelled {
		return entry.action
	}
	return nil
}

// enqueueLocked assigns a sequence number and either dispatches a
// immediately or appends it to its resource's blocked queue. Callers must
// hold e.mu.
func (e *Engine) enqueueLocked(a *types.ResourceAction) {
	e.sequence++
	a.SequenceNo = e.sequence
	a.CreatedAt = time.Now()

	if _, busy := e.inFlight[a.RscID]; busy {
		a.State = types.ActionBlocked
		e.blocked[a.RscID] = append(e.blocked[a.RscID], a)
		return
	}

	e.dispatchLocked(a)
}

// dispatchLocked marks a in-flight and launches its execution. Callers must
// hold e.mu; the launched goroutine reacquires it on completion.
//
// A direct-process action gets a cancellable context whose CancelFunc is
// retained in e.cancelFuncs so Cancel can send it a kill signal while it is
// still running; a service-bus action cannot be force-terminated this way.
//
// A synchronous action is dispatched but never added to the in-flight
// table: it does not serialize later submissions for the same resource
// behind it, and has no cancellation handle, matching the rule that
// in-flight tracking applies only to asynchronous actions.
func (e *Engine) dispatchLocked(a *types.ResourceAction) {
	a.State = types.ActionInFlight
	a.DispatchedAt = time.Now()

	descriptor := buildDescriptor(a)
	ctx := context.Background()

	if !a.Synchronous {
		e.inFlight[a.RscID] = a
		if a.Class.UsesDirectProcess() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			e.cancelFuncs[a.RscID] = cancel
		}
	}

	go e.run(ctx, a, descriptor)
}

func (e *Engine) run(ctx context.Context, a *types.ResourceAction, d Descriptor) {
	logger := log.WithResource(a.RscID, a.Operation)

	var result types.Result
	switch {
	case a.Class.UsesDirectProcess():
		result = runProcess(ctx, d.Class, a.TimeoutMS)
	default:
		// Service-bus classes round-trip through a bus backend that is
		// outside this package's transport scope; report pending until a
		// caller-supplied bridge resolves it via Complete.
		result = types.Result{Status: types.StatusPending}
	}

	if result.Status == types.StatusPending {
		logger.Debug().Msg("service-bus dispatch pending external completion")
		return
	}

	e.complete(a, result)
}

// Complete resolves an action that was dispatched via a class this package
// does not execute directly (service-bus-A/B), letting the caller supply the
// backend's result once available.
func (e *Engine) Complete(rscID string, result types.Result) {
	e.mu.Lock()
	a, ok := e.inFlight[rscID]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.complete(a, result)
}

func (e *Engine) complete(a *types.ResourceAction, result types.Result) {
	logger := log.WithResource(a.RscID, a.Operation)

	e.mu.Lock()
	if a.Cancel {
		result.Status = types.StatusCancelled
	}
	a.Result = &result
	a.State = types.ActionCompleted
	if cur, ok := e.inFlight[a.RscID]; ok && cur == a {
		delete(e.inFlight, a.RscID)
		delete(e.cancelFuncs, a.RscID)
	}
	e.mu.Unlock()

	if a.Callback != nil {
		a.Callback(a, a.UserData)
	}

	logger.Info().Str("identity", a.ID().String()).Str("status", string(result.Status)).Int("exit_code", result.ExitCode).Msg("action completed")

	e.scheduleRecurring(a)
	e.drainBlocked(a.RscID)
}

// drainBlocked uses a recursion guard (processingBlocked) to prevent a
// completion callback that submits a new action for the same resource from
// re-entering the drain and dispatching twice.
func (e *Engine) drainBlocked(rscID string) {
	e.mu.Lock()
	if e.processingBlocked[rscID] {
		e.mu.Unlock()
		return
	}
	e.processingBlocked[rscID] = true
	defer func() {
		e.mu.Lock()
		e.processingBlocked[rscID] = false
		e.mu.Unlock()
	}()
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if _, busy := e.inFlight[rscID]; busy {
			e.mu.Unlock()
			return
		}
		queue := e.blocked[rscID]
		if len(queue) == 0 {
			e.mu.Unlock()
			return
		}
		next := queue[0]
		e.blocked[rscID] = queue[1:]
		e.dispatchLocked(next)
		e.mu.Unlock()
		return
	}
}

// scheduleRecurring re-submits a completed action with a non-zero
// IntervalMS at +IntervalMS unless cancelled. A duplicate submission for the
// same identity coalesces onto the existing timer instead of creating a
// second one.
func (e *Engine) scheduleRecurring(a *types.ResourceAction) {
	if a.IntervalMS <= 0 || a.Cancel {
		return
	}
	id := a.ID()

	e.mu.Lock()
	entry, exists := e.recurring[id]
	if !exists {
		entry = &recurringEntry{action: a}
		e.recurring[id] = entry
	} else {
		entry.action = a
	}
	if entry.cancelled {
		e.mu.Unlock()
		return
	}
	delay := time.Duration(a.IntervalMS) * time.Millisecond
	if entry.fireImmediately {
		delay = 0
		entry.fireImmediately = false
	}
	timer := time.AfterFunc(delay, func() {
		e.fireRecurring(id)
	})
	entry.timer = timer
	e.mu.Unlock()
}

// fireRecurring resubmits a scheduled recurring action for its next cycle.
// It calls enqueueLocked directly rather than Submit: this is the identity's
// own timer firing, not a second, duplicate submission, so it must not be
// coalesced away by Submit's duplicate check.
func (e *Engine) fireRecurring(id types.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.recurring[id]
	if !ok || entry.cancelled {
		return
	}
	next := *entry.action
	next.Result = nil
	next.Cancel = false
	e.enqueueLocked(&next)
}

// Cancel targets a single identity. Only a recurring action - one with a
// live entry in the recurring table - can be cancelled; if id has no
// recurring entry, nothing is cancelled and Cancel reports false, matching
// the one-shot case where there is no persistent handle to act on.
//
// If the identity's action is currently a direct child process, Cancel
// sends it a kill signal and reports true: whether the process actually
// dies is left to the signal, but the request itself succeeds. If it is
// currently a service-bus operation, it cannot be force-terminated, so
// Cancel only marks it and reports false; the operation is left to finish
// on its own; if it is blocked in the FIFO queue, Cancel dequeues it,
// completes it as cancelled without ever running, and reports true.
func (e *Engine) Cancel(id types.Identity) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.recurring[id]
	if !ok {
		return false
	}
	entry.cancelled = true
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(e.recurring, id)

	if a, ok := e.inFlight[id.RscID]; ok && a.ID() == id {
		a.Cancel = true
		a.State = types.ActionCancelRequested
		if a.Class.UsesDirectProcess() {
			if cancel, ok := e.cancelFuncs[a.RscID]; ok {
				cancel()
			}
			return true
		}
		return false
	}

	queue := e.blocked[id.RscID]
	for i, a := range queue {
		if a.ID() == id {
			a.Cancel = true
			result := types.Result{Status: types.StatusCancelled}
			a.Result = &result
			a.State = types.ActionCompleted
			e.blocked[id.RscID] = append(queue[:i], queue[i+1:]...)
			if a.Callback != nil {
				a.Callback(a, a.UserData)
			}
			return true
		}
	}

	return false
}

// InFlight reports the action currently dispatched for rscID, if any.
func (e *Engine) InFlight(rscID string) (*types.ResourceAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.inFlight[rscID]
	return a, ok
}

// Blocked reports the queued actions waiting behind rscID's in-flight
// action.
func (e *Engine) Blocked(rscID string) []*types.ResourceAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*types.ResourceAction(nil), e.blocked[rscID]...)
}

// Snapshot returns every currently in-flight and blocked action, for the
// admin debug surface.
func (e *Engine) Snapshot() (inFlight []*types.ResourceAction, blocked []*types.ResourceAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.inFlight {
		inFlight = append(inFlight, a)
	}
	for _, queue := range e.blocked {
		blocked = append(blocked, queue...)
	}
	return inFlight, blocked
}
