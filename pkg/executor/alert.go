package executor

import (
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/attrd-core/pkg/log"
	"github.com/cuemby/attrd-core/pkg/types"
)

// AlertEvent is one occurrence to dispatch against the configured alert
// entries.
type AlertEvent struct {
	Kind          types.AlertEventKind
	AttributeName string
	NodeName      string
	Timestamp     time.Time

	// ResourceID, Operation, IntervalMS, ExitCode, and ExpectedExitCode are
	// populated for Kind == AlertKindResource: they describe the completed
	// operation the alert reports on, and drive the success-suppression
	// rule in suppressed.
	ResourceID       string
	Operation        string
	IntervalMS       int64
	ExitCode         int
	ExpectedExitCode int

	// Extra carries kind-specific fields (e.g. fencing target, resource
	// state) surfaced to agents as additional CRM_alert_* environment
	// variables.
	Extra map[string]string
}

// suppressed reports whether a resource-operation event describes a
// successful zero-interval monitor matching its expected return code:
// probes that find the resource in its expected state are not noteworthy.
func (evt AlertEvent) suppressed() bool {
	return evt.Kind == types.AlertKindResource &&
		evt.IntervalMS == 0 &&
		evt.Operation == "monitor" &&
		evt.ExitCode == evt.ExpectedExitCode
}

// AlertDispatcher fans one event out to every matching alert entry's agent,
// submitting each execution through an Engine so alert agents share the same
// in-flight tracking, sequencing, and completion lifecycle as resource
// actions.
type AlertDispatcher struct {
	mu      sync.RWMutex
	entries []*types.AlertEntry
	engine  *Engine
	version string
}

// NewAlertDispatcher constructs a dispatcher over an initially empty entry
// list; entries are typically loaded from the configuration store. Every
// alert agent it runs is submitted through engine.
func NewAlertDispatcher(engine *Engine) *AlertDispatcher {
	return &AlertDispatcher{engine: engine}
}

// SetEntries replaces the tracked alert entries wholesale.
func (d *AlertDispatcher) SetEntries(entries []*types.AlertEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = entries
}

// SetVersion sets the value reported to alert agents as CRM_alert_version,
// augmenting the base parameter set alongside kind.
func (d *AlertDispatcher) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
}

// Dispatch runs every alert entry matching evt's kind (and, for attribute
// events, its allow-list) and returns the aggregate outcome. It blocks until
// every matching entry's agent has completed.
func (d *AlertDispatcher) Dispatch(evt AlertEvent) types.AlertDispatchOutcome {
	if evt.suppressed() {
		return types.AlertAllOK
	}

	d.mu.RLock()
	matching := make([]*types.AlertEntry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.Matches(evt.Kind, evt.AttributeName) {
			matching = append(matching, e)
		}
	}
	d.mu.RUnlock()

	if len(matching) == 0 {
		return types.AlertAllOK
	}

	d.mu.RLock()
	version := d.version
	d.mu.RUnlock()

	logger := log.WithAttribute("alert-dispatch")
	results := make(chan bool, len(matching))

	for _, entry := range matching {
		entry := entry
		action := buildAlertAction(entry, evt, version, func(a *types.ResourceAction, _ interface{}) {
			ok := a.Result != nil && a.Result.Status == types.StatusDone
			if !ok {
				logger.Warn().Str("alert_id", entry.ID).Msg("alert agent exited nonzero")
			}
			results <- ok
		})
		if err := d.engine.Submit(action); err != nil {
			logger.Warn().Err(err).Str("alert_id", entry.ID).Msg("failed to submit alert action")
			results <- false
		}
	}

	ok, failed := 0, 0
	for i := 0; i < len(matching); i++ {
		if <-results {
			ok++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0:
		return types.AlertAllOK
	case ok == 0:
		return types.AlertAllFailed
	default:
		return types.AlertSomeFailed
	}
}

// buildAlertAction constructs the ResourceAction that runs one alert entry's
// agent, keyed so concurrent firings of the same entry serialize behind one
// another the same way resource actions do, without blocking unrelated
// entries.
func buildAlertAction(entry *types.AlertEntry, evt AlertEvent, version string, callback types.Callback) *types.ResourceAction {
	return &types.ResourceAction{
		RscID:      "alert/" + entry.ID,
		Class:      types.ClassAlertAgent,
		Operation:  alertKindName(evt.Kind),
		Agent:      entry.Path,
		TimeoutMS:  entry.TimeoutMS,
		Parameters: alertParams(entry, evt, version),
		Callback:   callback,
	}
}

// alertParams builds the CRM_alert_* environment, plus the entry's own
// configured environment, keyed by name so duplicate keys naturally
// overwrite rather than producing an ambiguous env with the same name twice.
// The base set is augmented with kind and version before per-entry fields
// (recipient, timestamp, environment) are added.
func alertParams(entry *types.AlertEntry, evt AlertEvent, version string) map[string]string {
	params := map[string]string{
		"CRM_alert_kind":      alertKindName(evt.Kind),
		"CRM_alert_version":   version,
		"CRM_alert_node":      evt.NodeName,
		"CRM_alert_recipient": entry.Recipient,
		"CRM_alert_timestamp": formatAlertTimestamp(entry, evt.Timestamp),
	}
	if evt.Kind == types.AlertKindAttribute {
		params["CRM_alert_attribute_name"] = evt.AttributeName
	}
	if evt.Kind == types.AlertKindResource {
		params["CRM_alert_rsc"] = evt.ResourceID
		params["CRM_alert_task"] = evt.Operation
		params["CRM_alert_interval"] = strconv.FormatInt(evt.IntervalMS, 10)
		params["CRM_alert_rc"] = strconv.Itoa(evt.ExitCode)
	}
	for k, v := range entry.Environment {
		params[k] = v
	}
	for k, v := range evt.Extra {
		params["CRM_alert_"+k] = v
	}
	return params
}

func formatAlertTimestamp(entry *types.AlertEntry, ts time.Time) string {
	layout := entry.TimestampFormat
	if layout == "" {
		layout = time.RFC3339
	}
	return ts.Format(layout)
}

func alertKindName(kind types.AlertEventKind) string {
	switch kind {
	case types.AlertKindNode:
		return "node"
	case types.AlertKindAttribute:
		return "attribute"
	case types.AlertKindFencing:
		return "fencing"
	case types.AlertKindResource:
		return "resource"
	default:
		return "unknown"
	}
}
