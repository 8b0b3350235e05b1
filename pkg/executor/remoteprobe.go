package executor

import (
	"sort"

	"github.com/cuemby/attrd-core/pkg/types"
)

// remoteProbeMetaParams names submission parameters that configure the
// action itself rather than something the Nagios-style plugin should see
// as a "--key value" argument.
var remoteProbeMetaParams = map[string]bool{
	"CRM_meta_interval": true,
	"CRM_meta_timeout":  true,
}

// remoteProbeArgs builds the CLI arguments for a remote-probe (Nagios
// plugin) invocation: a zero-interval monitor asks the plugin to report its
// own version; any other operation passes the action's parameters through
// as "--key value" pairs, in stable key order, skipping known
// meta-parameters.
func remoteProbeArgs(a *types.ResourceAction) []string {
	if a.Operation == "monitor" && a.IntervalMS == 0 {
		return []string{"--version"}
	}

	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		if remoteProbeMetaParams[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--"+k, a.Parameters[k])
	}
	return args
}
