package attrd

import (
	"regexp"
	"strconv"

	"github.com/cuemby/attrd-core/pkg/bus"
	"github.com/cuemby/attrd-core/pkg/cib"
	"github.com/cuemby/attrd-core/pkg/log"
)

// ClearFailure builds a regular expression over fail-count-<rsc>/
// last-failure-<rsc> attribute names, optionally narrowed by an
// operation#interval suffix, and routes the bulk clear according to host:
// local when host is empty or this node, relayed when host names a known
// peer, translated to a remote configuration-store delete when host names a
// node outside the cluster.
func (e *Engine) ClearFailure(resource, operation string, intervalMS int64, host string) {
	pattern := clearFailurePattern(resource, operation, intervalMS)

	if host == "" || host == e.nodeName {
		e.clearFailureLocal(pattern)
		return
	}

	e.mu.Lock()
	isPeer := e.peers[host]
	e.mu.Unlock()

	if isPeer {
		e.relayClearFailure(resource, operation, intervalMS, host)
		return
	}

	e.clearFailureRemote(pattern, host)
}

func clearFailurePattern(resource, operation string, intervalMS int64) *regexp.Regexp {
	rsc := resource
	if rsc == "" {
		rsc = ".+"
	} else {
		rsc = regexp.QuoteMeta(rsc)
	}

	suffix := ""
	if operation != "" {
		suffix = "#" + regexp.QuoteMeta(operation) + "_" + strconv.FormatInt(intervalMS, 10)
	}

	return regexp.MustCompile(`^(fail-count|last-failure)-` + rsc + suffix + `$`)
}

// clearFailureLocal applies a bulk update-to-null for every locally tracked
// entry whose name matches pattern.
func (e *Engine) clearFailureLocal(pattern *regexp.Regexp) {
	logger := log.WithAttribute("clear-failure")

	e.mu.Lock()
	var matched []string
	for name := range e.entries {
		if pattern.MatchString(name) {
			matched = append(matched, name)
		}
	}
	e.mu.Unlock()

	logger.Info().Int("count", len(matched)).Msg("clearing matched fail-count/last-failure attributes")
	for _, name := range matched {
		e.Update(name, nil, 0, "", "", "")
	}
}

// relayClearFailure forwards the original request to the named peer over the
// bus rather than acting on it locally.
func (e *Engine) relayClearFailure(resource, operation string, intervalMS int64, host string) {
	if e.bus == nil {
		return
	}
	fields := map[string]string{"host": host}
	if resource != "" {
		fields["resource"] = resource
	}
	if operation != "" {
		fields["operation"] = operation
		fields["interval"] = strconv.FormatInt(intervalMS, 10)
	}
	_ = e.bus.SendToPeer(host, &bus.Message{
		Type:   "attrd",
		Task:   "clear-failure",
		Origin: e.nodeName,
		Fields: fields,
	})
}

// clearFailureRemote translates the bulk clear into a configuration-store
// delete against a node outside the cluster's peer set: every attribute
// recorded for host whose name matches pattern is removed outright.
func (e *Engine) clearFailureRemote(pattern *regexp.Regexp, host string) {
	if e.store == nil {
		return
	}
	logger := log.WithAttribute("clear-failure")

	id, err := e.store.DeleteMatching(host, pattern.MatchString, "")
	if err != nil {
		logger.Warn().Err(err).Str("host", host).Msg("failed to submit remote clear-failure delete")
		return
	}
	e.store.RegisterCallback(id, 0, nil, nil, func(_ cib.CallID, err error) {
		if err != nil {
			logger.Warn().Err(err).Str("host", host).Msg("remote clear-failure delete failed")
		}
	})
}
