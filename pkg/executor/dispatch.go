package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/attrd-core/pkg/types"
)

// ScriptInitPath is queried to decide whether an agent is available to the
// script-init class during service-alias probing.
type ScriptInitPath func(agent string) bool

// BusDiscovery answers whether a service-bus backend advertises agent, used
// by the same probing step.
type BusDiscovery func(agent string) bool

// Descriptor is the fully-resolved execution plan for one dispatch,
// built by buildDescriptor.
type Descriptor struct {
	Class ActionClassPlan
}

// ActionClassPlan carries only the fields the resolved class needs: model
// classes as a closed sum type, each variant carrying only the parameters it
// needs.
type ActionClassPlan struct {
	Class types.ActionClass

	// Process classes (script-init, heartbeat-legacy, remote-probe, generic).
	ExecPath string
	Args     []string
	Env      []string

	// Service-bus classes.
	BusUnit string
	BusOpts map[string]string
}

// classifyServiceAlias probes {script-init, service-bus-A, service-bus-B} in
// order and replaces service-alias with the first that advertises agent;
// defaults to script-init if none match.
func classifyServiceAlias(agent string, scriptInit ScriptInitPath, busA, busB BusDiscovery) types.ActionClass {
	if scriptInit != nil && scriptInit(agent) {
		return types.ClassScriptInit
	}
	if busA != nil && busA(agent) {
		return types.ClassServiceBusA
	}
	if busB != nil && busB(agent) {
		return types.ClassServiceBusB
	}
	return types.ClassScriptInit
}

// canonicalizeOperation renames "monitor" to "status" for legacy script
// classes.
func canonicalizeOperation(class types.ActionClass, operation string) string {
	switch class {
	case types.ClassScriptInit, types.ClassHeartbeatLegacy:
		if operation == "monitor" {
			return "status"
		}
	}
	return operation
}

// buildDescriptor constructs the execution descriptor for a resolved class.
func buildDescriptor(a *types.ResourceAction) Descriptor {
	switch a.Class {
	case types.ClassServiceBusA, types.ClassServiceBusB:
		return Descriptor{Class: ActionClassPlan{
			Class:    a.Class,
			ExecPath: "bus-backend",
			BusUnit:  a.Agent,
			BusOpts:  a.Parameters,
		}}
	case types.ClassHeartbeatLegacy:
		return Descriptor{Class: ActionClassPlan{
			Class:    a.Class,
			ExecPath: a.Agent,
			Args:     heartbeatArgs(a.Parameters, a.Operation),
		}}
	case types.ClassAlertAgent:
		// Alert agents take no positional arguments; everything they need
		// arrives as CRM_alert_* environment variables.
		return Descriptor{Class: ActionClassPlan{
			Class:    a.Class,
			ExecPath: a.Agent,
			Env:      envFromParams(a.Parameters),
		}}
	case types.ClassRemoteProbe:
		// Nagios-style plugin: args are "--version" for a zero-interval
		// monitor, else "--key value" pairs, not the [exec_path, operation]
		// shape script classes use.
		return Descriptor{Class: ActionClassPlan{
			Class:    a.Class,
			ExecPath: a.Agent,
			Args:     remoteProbeArgs(a),
		}}
	default: // script-init, generic
		return Descriptor{Class: ActionClassPlan{
			Class:    a.Class,
			ExecPath: a.Agent,
			Args:     []string{a.Agent, a.Operation},
			Env:      paramsToEnv(a.Parameters),
		}}
	}
}

// heartbeatArgs builds positional arguments from parameters keyed by decimal
// position "1".."N", terminated by operation. Emission stops at the first
// gap in the consecutive sequence starting from "1": {"1":"a","2":"b","4":"d"}
// yields [a, b, operation], not [a, b, d, operation].
func heartbeatArgs(parameters map[string]string, operation string) []string {
	args := make([]string, 0, len(parameters)+1)
	for n := 1; ; n++ {
		v, ok := parameters[strconv.Itoa(n)]
		if !ok {
			break
		}
		args = append(args, v)
	}
	return append(args, operation)
}

func paramsToEnv(parameters map[string]string) []string {
	env := make([]string, 0, len(parameters))
	for k, v := range parameters {
		env = append(env, "OCF_RESKEY_"+k+"="+v)
	}
	sort.Strings(env)
	return env
}

// envFromParams flattens parameters into "KEY=VALUE" pairs verbatim, with no
// prefix: used by classes (alert agents) whose parameter names are already
// the environment variable names the agent expects.
func envFromParams(parameters map[string]string) []string {
	env := make([]string, 0, len(parameters))
	for k, v := range parameters {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// runProcess executes a process-class descriptor and produces a Result,
// capturing stdout/stderr and classifying exit codes (agent exit nonzero,
// timeout, could-not-fork).
func runProcess(ctx context.Context, d ActionClassPlan, timeoutMS int64) types.Result {
	start := time.Now()

	if timeoutMS <= 0 {
		timeoutMS = 20000
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	if d.ExecPath == "" {
		return types.Result{Status: types.StatusNotConfigured, Elapsed: time.Since(start)}
	}

	args := d.Args
	if d.Class == types.ClassScriptInit || d.Class == types.ClassGeneric {
		// Args carries [exec_path, operation]; exec_path is passed
		// separately to exec.CommandContext.
		args = d.Args[1:]
	}

	cmd := exec.CommandContext(runCtx, d.ExecPath, args...)
	cmd.Env = append(os.Environ(), d.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return types.Result{Status: types.StatusTimedOut, Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: elapsed}
	}

	if err != nil {
		if execErr, ok := err.(*exec.Error); ok {
			return types.Result{
				Status:  types.StatusNotInstalled,
				Stderr:  fmt.Sprintf("could not fork %s: %v", d.ExecPath, execErr),
				Elapsed: elapsed,
			}
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		status := types.StatusErrorGeneric
		if exitCode == 1 {
			status = types.StatusErrorHard
		}
		return types.Result{
			ExitCode: exitCode,
			Status:   status,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Elapsed:  elapsed,
		}
	}

	return types.Result{ExitCode: 0, Status: types.StatusDone, Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: elapsed}
}
