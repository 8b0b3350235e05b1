// Package types defines the shared data model for the attribute
// aggregator, action executor, and IPC proxy: AttributeEntry, ResourceAction,
// ProxySession, and AlertEntry, plus the enums their invariants are built on.
package types
