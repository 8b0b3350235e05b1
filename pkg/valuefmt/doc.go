// Package valuefmt implements the wire-level value formats used across the
// attribute aggregator and action executor: durations, booleans, scores
// (with the INFINITY sentinels), dotted versions, and the operation identity
// key.
package valuefmt
