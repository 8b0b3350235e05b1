// Package admin exposes an HTTP surface for observing and driving the
// running daemon: liveness, Prometheus metrics, debug snapshots of the
// attribute, action, and proxy-session tables, and the two operations the
// attrd CLI issues against a live daemon (the read-only attribute query and
// the mutating bulk failure clear).
package admin
