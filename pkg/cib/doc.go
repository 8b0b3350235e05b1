// Package cib models the persistent configuration database as an opaque,
// asynchronous transactional store. It defines the Store interface the
// aggregator (pkg/attrd) programs against — query, update, delete, and
// change-notification — along with the ErrorCode taxonomy the aggregator
// switches on, and ships one concrete implementation (BoltStore) backed by
// go.etcd.io/bbolt for standalone operation and tests.
package cib
