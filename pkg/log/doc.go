// Package log provides structured logging shared by the attribute
// aggregator, action executor, and IPC proxy.
//
// It wraps zerolog behind a package-level global logger initialized once via
// Init. Component-scoped child loggers (WithComponent, WithNodeID,
// WithAttribute, WithResource, WithSession) attach the field a given
// subsystem cares about without repeating it at every call site.
package log
