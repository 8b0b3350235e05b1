package attrd

import (
	"sync"
	"time"

	"github.com/cuemby/attrd-core/pkg/bus"
	"github.com/cuemby/attrd-core/pkg/cib"
	"github.com/cuemby/attrd-core/pkg/log"
	"github.com/cuemby/attrd-core/pkg/types"
	"github.com/cuemby/attrd-core/pkg/valuefmt"
)

// DefaultSection is used for an attribute's Section field when the caller
// leaves it empty.
const DefaultSection = "status"

// Engine holds the per-node attribute table and drives the dampening state
// machine, broadcast, and commit paths. All tables are private to one Engine
// value, passed explicitly to collaborators rather than held as globals.
type Engine struct {
	mu sync.Mutex

	nodeName string
	hostKey  string

	entries map[string]*types.AttributeEntry
	peers   map[string]bool

	bus          bus.Bus
	store        cib.Store
	retryLimiter *cib.RetryLimiter

	backoffMS int64
}

// Config configures a new Engine.
type Config struct {
	NodeName  string
	HostKey   string
	Bus       bus.Bus
	Store     cib.Store
	BackoffMS int64 // retry backoff after a transient commit failure
}

// NewEngine constructs an Engine over the given Bus and Store collaborators.
func NewEngine(cfg Config) *Engine {
	backoff := cfg.BackoffMS
	if backoff <= 0 {
		backoff = 250
	}
	return &Engine{
		nodeName:     cfg.NodeName,
		hostKey:      cfg.HostKey,
		entries:      make(map[string]*types.AttributeEntry),
		peers:        make(map[string]bool),
		bus:          cfg.Bus,
		store:        cfg.Store,
		retryLimiter: cib.NewRetryLimiter(4, 4),
		backoffMS:    backoff,
	}
}

// AddPeer registers a peer node as known, used by ClearFailure to decide
// whether a host argument names a cluster peer.
func (e *Engine) AddPeer(node string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[node] = true
}

func (e *Engine) resolveEntry(name, set, section string) *types.AttributeEntry {
	entry, ok := e.entries[name]
	if ok {
		return entry
	}
	if section == "" {
		section = DefaultSection
	}
	entry = &types.AttributeEntry{
		Name:    name,
		Set:     set,
		Section: section,
		HostKey: e.hostKey,
	}
	entry.SetState(types.DampeningIdle)
	e.entries[name] = entry
	return entry
}

// Get returns a snapshot copy of the named entry's current value, for
// callers (tests, the admin surface) that need read-only visibility without
// holding the engine lock.
func (e *Engine) Get(name string) (types.AttributeEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[name]
	if !ok {
		return types.AttributeEntry{}, false
	}
	return *entry, true
}

// Names returns every attribute name currently tracked.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	return names
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Update applies a new value to an attribute: idempotent in value, dampened
// per attribute, with re-arm suppressed for value-preserving updates while a
// commit is already scheduled.
func (e *Engine) Update(name string, value *string, dampenMS int64, set, section, user string) {
	logger := log.WithAttribute(name)

	e.mu.Lock()
	entry := e.resolveEntry(name, set, section)

	expanded := value
	if value != nil {
		v := ExpandValue(*value, derefOr(entry.CurrentValue, "0"))
		expanded = &v
	}

	if strPtrEqual(expanded, entry.CurrentValue) && strPtrEqual(expanded, entry.CommittedValue) {
		e.mu.Unlock()
		return
	}

	valueUnchanged := strPtrEqual(expanded, entry.CurrentValue)
	entry.CurrentValue = expanded
	if user != "" {
		entry.ActingUser = user
	}
	entry.DampenMS = dampenMS

	if dampenMS <= 0 {
		e.mu.Unlock()
		logger.Debug().Msg("update flushed immediately (no dampening)")
		e.broadcastAndCommitLocally(entry)
		return
	}

	if entry.State() == types.DampeningArmed && valueUnchanged {
		e.mu.Unlock()
		return
	}

	e.arm(entry, dampenMS)
	e.mu.Unlock()
}

// arm (re)starts the dampening timer for entry. Callers must hold e.mu.
func (e *Engine) arm(entry *types.AttributeEntry, dampenMS int64) {
	entry.SetState(types.DampeningArmed)
	entry.SetDeadline(time.Now().Add(time.Duration(dampenMS) * time.Millisecond))
	version := entry.BumpTimerVersion()
	name := entry.Name

	time.AfterFunc(time.Duration(dampenMS)*time.Millisecond, func() {
		e.onTimerFire(name, version)
	})
}

func (e *Engine) onTimerFire(name string, version uint64) {
	e.mu.Lock()
	entry, ok := e.entries[name]
	if !ok || entry.State() != types.DampeningArmed || entry.TimerVersion() != version {
		e.mu.Unlock()
		return
	}
	entry.SetState(types.DampeningCommitting)
	e.mu.Unlock()

	e.doBroadcast(entry)
	e.commit(entry)
}

// broadcastAndCommitLocally handles the dampenMS<=0 flush path: broadcast is
// emitted, and the local commit is submitted without waiting for the peer
// echo.
func (e *Engine) broadcastAndCommitLocally(entry *types.AttributeEntry) {
	e.doBroadcast(entry)
	e.commit(entry)
}

// doBroadcast emits one message to all peers carrying the converged value; a
// zero/negative dampen marks the message ignore-locally so the origin does
// not double-apply on echo.
func (e *Engine) doBroadcast(entry *types.AttributeEntry) {
	if e.bus == nil {
		return
	}
	fields := map[string]string{
		"name":    entry.Name,
		"set":     entry.Set,
		"section": entry.Section,
		"dampen":  valuefmt.FormatDuration(entry.DampenMS),
	}
	if entry.CurrentValue != nil {
		fields["value"] = *entry.CurrentValue
	}
	if entry.ActingUser != "" {
		fields["user"] = entry.ActingUser
	}
	if entry.DampenMS <= 0 {
		fields["ignore-locally"] = "true"
	}

	_ = e.bus.Broadcast(&bus.Message{
		Type:   "attrd",
		Task:   "flush",
		Origin: e.nodeName,
		Fields: fields,
	})
}

// commit issues an update or delete against (section, host_key, set, name),
// asynchronously. Callers must not hold e.mu.
func (e *Engine) commit(entry *types.AttributeEntry) {
	if e.store == nil {
		return
	}
	logger := log.WithAttribute(entry.Name)

	e.mu.Lock()
	section, host, set, name, user := entry.Section, entry.HostKey, entry.Set, entry.Name, entry.ActingUser
	var value *string
	if entry.CurrentValue != nil {
		v := *entry.CurrentValue
		value = &v
	}
	e.mu.Unlock()

	var id cib.CallID
	var err error
	if value == nil {
		id, err = e.store.Delete(section, host, set, name, user)
	} else {
		id, err = e.store.Update(section, host, set, name, *value, user)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("failed to submit commit")
		return
	}

	e.store.RegisterCallback(id, 0, nil, nil, func(_ cib.CallID, err error) {
		e.onCommitComplete(name, value, err)
	})
}

// onCommitComplete resolves the outcome of the commit that submitted
// value. A commit in flight does not cancel: if a new update arrives and
// re-arms the entry before this completion runs, entry.CurrentValue will
// have moved on to that newer value by the time this callback fires. This
// completion must not treat that as its own success (or retry it as its
// own failure) — the Idle/CommittedValue transition, and the transient-
// failure re-arm, both apply only while value still matches the entry's
// current pending value.
func (e *Engine) onCommitComplete(name string, value *string, err error) {
	logger := log.WithAttribute(name)

	e.mu.Lock()
	entry, ok := e.entries[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	stale := !strPtrEqual(entry.CurrentValue, value)

	if err == nil {
		if !stale {
			entry.CommittedValue = value
			entry.SetState(types.DampeningIdle)
		}
		e.mu.Unlock()
		return
	}

	if stale {
		// A newer update already re-armed this entry for its own cycle;
		// this stale failure has nothing left to retry.
		e.mu.Unlock()
		return
	}

	cibErr, isCIBErr := err.(*cib.Error)
	if isCIBErr && cibErr.Code.Transient() {
		backoff := e.backoffMS
		if wait := e.retryLimiter.Backoff(); wait > 0 {
			backoff = wait.Milliseconds()
			if backoff <= 0 {
				backoff = e.backoffMS
			}
		}
		e.mu.Unlock()
		logger.Info().Err(err).Msg("transient commit failure, re-arming for retry")
		e.mu.Lock()
		if entry, ok := e.entries[name]; ok && strPtrEqual(entry.CurrentValue, value) {
			e.arm(entry, backoff)
		}
		e.mu.Unlock()
		return
	}

	entry.SetState(types.DampeningIdle)
	e.mu.Unlock()
	logger.Error().Err(err).Msg("commit failed permanently")
}

// Refresh schedules a broadcast for every entry with a non-null current or
// committed value.
func (e *Engine) Refresh() {
	e.mu.Lock()
	var toFlush []*types.AttributeEntry
	for _, entry := range e.entries {
		if entry.CurrentValue != nil || entry.CommittedValue != nil {
			toFlush = append(toFlush, entry)
		}
	}
	e.mu.Unlock()

	for _, entry := range toFlush {
		e.doBroadcast(entry)
	}
}

// PeerRemove broadcasts the removal, then invokes onReap to let the caller
// drop cluster-membership state for the node.
func (e *Engine) PeerRemove(node string, onReap func(string)) {
	if e.bus != nil {
		_ = e.bus.Broadcast(&bus.Message{
			Type:   "attrd",
			Task:   "peer-remove",
			Origin: e.nodeName,
			Fields: map[string]string{"host": node},
		})
	}
	e.mu.Lock()
	delete(e.peers, node)
	e.mu.Unlock()

	if onReap != nil {
		onReap(node)
	}
}

// Start registers this engine's peer-tracking against bus membership
// changes: a joining node is added to the peer set, and a leaving node is
// reaped via PeerRemove. onReap is forwarded to PeerRemove for a departing
// node.
func (e *Engine) Start(onReap func(string)) {
	if e.bus == nil {
		return
	}
	e.bus.OnMembershipChange(func(node string, joined bool) {
		if joined {
			e.AddPeer(node)
			return
		}
		e.PeerRemove(node, onReap)
	})
}
