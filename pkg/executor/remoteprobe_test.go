package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/attrd-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeArgDumpScript writes a script that records its own argv (one per
// line) to outPath, for asserting exactly what a remote-probe class
// invocation passed on the command line.
func writeArgDumpScript(t *testing.T, dir, name, outPath string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\nfor a in \"$@\"; do echo \"$a\"; done > " + outPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// TestSubmitRemoteProbeZeroIntervalMonitorPassesVersionFlag exercises the
// zero-interval monitor case: the agent is invoked with a single --version
// argument regardless of any configured parameters.
func TestSubmitRemoteProbeZeroIntervalMonitorPassesVersionFlag(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "args.out")
	script := writeArgDumpScript(t, dir, "probe.sh", capture)

	e := NewEngine(Config{})
	done := make(chan *types.ResourceAction, 1)

	require.NoError(t, e.Submit(&types.ResourceAction{
		RscID:      "remote1",
		Class:      types.ClassRemoteProbe,
		Operation:  "monitor",
		Agent:      script,
		Parameters: map[string]string{"hostname": "node2"},
		Callback:   func(a *types.ResourceAction, _ interface{}) { done <- a },
	}))

	a := waitCallback(t, done)
	assert.Equal(t, types.StatusDone, a.Result.Status)

	body, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "--version\n", string(body))
}

// TestSubmitRemoteProbeNonMonitorPassesKeyValueArgs exercises the general
// case: parameters are passed as sorted "--key value" pairs, skipping the
// CRM_meta_* configuration parameters.
func TestSubmitRemoteProbeNonMonitorPassesKeyValueArgs(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "args.out")
	script := writeArgDumpScript(t, dir, "probe.sh", capture)

	e := NewEngine(Config{})
	done := make(chan *types.ResourceAction, 1)

	require.NoError(t, e.Submit(&types.ResourceAction{
		RscID:     "remote2",
		Class:     types.ClassRemoteProbe,
		Operation: "start",
		Agent:     script,
		Parameters: map[string]string{
			"hostname":          "node2",
			"port":              "5666",
			"CRM_meta_interval": "10000",
		},
		Callback: func(a *types.ResourceAction, _ interface{}) { done <- a },
	}))

	a := waitCallback(t, done)
	assert.Equal(t, types.StatusDone, a.Result.Status)

	body, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "--hostname\nnode2\n--port\n5666\n", string(body))
}

// TestSubmitRemoteProbeRecurringMonitorPassesKeyValueArgs asserts that a
// monitor with a non-zero interval is not treated as the zero-interval
// version-probe case.
func TestSubmitRemoteProbeRecurringMonitorPassesKeyValueArgs(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "args.out")
	script := writeArgDumpScript(t, dir, "probe.sh", capture)

	e := NewEngine(Config{})
	done := make(chan *types.ResourceAction, 1)

	target := &types.ResourceAction{
		RscID:      "remote3",
		Class:      types.ClassRemoteProbe,
		Operation:  "monitor",
		IntervalMS: 10000,
		Agent:      script,
		Parameters: map[string]string{"hostname": "node2"},
		Callback:   func(a *types.ResourceAction, _ interface{}) { done <- a },
	}
	require.NoError(t, e.Submit(target))

	a := waitCallback(t, done)
	assert.Equal(t, types.StatusDone, a.Result.Status)
	e.Cancel(target.ID())

	body, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "--hostname\nnode2\n", string(body))
}
