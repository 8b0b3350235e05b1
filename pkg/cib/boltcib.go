package cib

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// defaultCallTimeoutMS is the fixed request-correlation timeout the
// configuration-store client uses ("commonly 120 s").
const defaultCallTimeoutMS = 120_000

var bucketAttrs = []byte("attrs")

// BoltStore is a bbolt-backed Store implementation for standalone daemon
// operation and tests. Every mutating call runs on its own goroutine to
// preserve the interface's asynchronous contract even though the local
// disk round-trip is fast.
type BoltStore struct {
	db *bolt.DB

	mu          sync.Mutex
	nextID      uint64
	calls       map[CallID]*pendingCall
	subscribers map[int]func(ChangeEvent)
	nextSubID   int
	connected   atomic.Bool
}

type pendingCall struct {
	done chan struct{}
	err  error
}

// NewBoltStore opens (or creates) the store's database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cib.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("cib: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAttrs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cib: create bucket: %w", err)
	}

	s := &BoltStore{
		db:          db,
		calls:       make(map[CallID]*pendingCall),
		subscribers: make(map[int]func(ChangeEvent)),
	}
	s.connected.Store(true)
	return s, nil
}

// SetConnected simulates the store's connection state for tests exercising
// the aggregator's transport-transient error handling.
func (s *BoltStore) SetConnected(connected bool) {
	s.connected.Store(connected)
}

func attrKey(section, host, set, name string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s/%s", section, host, set, name))
}

type attrRecord struct {
	Value string
	User  string
}

func (s *BoltStore) newCall() (CallID, *pendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := CallID(s.nextID)
	pc := &pendingCall{done: make(chan struct{})}
	s.calls[id] = pc
	return id, pc
}

func (s *BoltStore) finish(pc *pendingCall, err error) {
	pc.err = err
	close(pc.done)
}

// Query looks up a previously-committed attribute value by xpath, where
// xpath is the same "section/host/set/name" key Update/Delete use. Real CIB
// xpaths are richer; this store only needs to round-trip what this daemon
// itself wrote.
func (s *BoltStore) Query(xpath string, _ int) (CallID, error) {
	id, pc := s.newCall()
	go func() {
		if !s.connected.Load() {
			s.finish(pc, &Error{Code: ErrNotConnected})
			return
		}
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketAttrs)
			if b.Get([]byte(xpath)) == nil {
				return &Error{Code: ErrNotFound, Message: xpath}
			}
			return nil
		})
		s.finish(pc, err)
	}()
	return id, nil
}

// Update writes value at (section, host, set, name).
func (s *BoltStore) Update(section, host, set, name, value, user string) (CallID, error) {
	id, pc := s.newCall()
	go func() {
		if !s.connected.Load() {
			s.finish(pc, &Error{Code: ErrNotConnected})
			return
		}
		rec := attrRecord{Value: value, User: user}
		data, err := json.Marshal(rec)
		if err != nil {
			s.finish(pc, &Error{Code: ErrGenericFail, Message: err.Error()})
			return
		}
		key := attrKey(section, host, set, name)
		err = s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketAttrs).Put(key, data)
		})
		if err != nil {
			s.finish(pc, &Error{Code: ErrGenericFail, Message: err.Error()})
			return
		}
		s.notify(ChangeEvent{Type: ChangeDiff, Section: section, Host: host, Set: set, Name: name})
		s.finish(pc, nil)
	}()
	return id, nil
}

// Delete removes (section, host, set, name).
func (s *BoltStore) Delete(section, host, set, name, user string) (CallID, error) {
	id, pc := s.newCall()
	go func() {
		if !s.connected.Load() {
			s.finish(pc, &Error{Code: ErrNotConnected})
			return
		}
		key := attrKey(section, host, set, name)
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketAttrs).Delete(key)
		})
		if err != nil {
			s.finish(pc, &Error{Code: ErrGenericFail, Message: err.Error()})
			return
		}
		s.notify(ChangeEvent{Type: ChangeDiff, Section: section, Host: host, Set: set, Name: name})
		s.finish(pc, nil)
	}()
	return id, nil
}

// DeleteMatching removes every key recorded against host whose name
// component satisfies match. Keys are the same "section/host/set/name"
// encoding attrKey produces, so the host and name components are recovered
// by splitting on "/" rather than by parsing an xpath.
func (s *BoltStore) DeleteMatching(host string, match func(name string) bool, _ string) (CallID, error) {
	id, pc := s.newCall()
	go func() {
		if !s.connected.Load() {
			s.finish(pc, &Error{Code: ErrNotConnected})
			return
		}

		var doomed [][]byte
		var events []ChangeEvent
		err := s.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketAttrs).ForEach(func(k, v []byte) error {
				parts := strings.SplitN(string(k), "/", 4)
				if len(parts) != 4 || parts[1] != host || !match(parts[3]) {
					return nil
				}
				doomed = append(doomed, append([]byte(nil), k...))
				events = append(events, ChangeEvent{Type: ChangeDiff, Section: parts[0], Host: parts[1], Set: parts[2], Name: parts[3]})
				return nil
			})
		})
		if err != nil {
			s.finish(pc, &Error{Code: ErrGenericFail, Message: err.Error()})
			return
		}
		if len(doomed) == 0 {
			s.finish(pc, nil)
			return
		}

		err = s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketAttrs)
			for _, key := range doomed {
				if err := b.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.finish(pc, &Error{Code: ErrGenericFail, Message: err.Error()})
			return
		}
		for _, evt := range events {
			s.notify(evt)
		}
		s.finish(pc, nil)
	}()
	return id, nil
}

// RegisterCallback arranges fn to fire when id's call completes or times
// out, whichever comes first.
func (s *BoltStore) RegisterCallback(id CallID, timeoutMS int64, userData interface{}, freeFn func(interface{}), fn CompletionFunc) {
	s.mu.Lock()
	pc, ok := s.calls[id]
	if ok {
		delete(s.calls, id)
	}
	s.mu.Unlock()

	if !ok {
		fn(id, &Error{Code: ErrGenericFail, Message: "unknown call id"})
		if freeFn != nil {
			freeFn(userData)
		}
		return
	}

	if timeoutMS <= 0 {
		timeoutMS = defaultCallTimeoutMS
	}

	go func() {
		select {
		case <-pc.done:
			fn(id, pc.err)
		case <-time.After(time.Duration(timeoutMS) * time.Millisecond):
			fn(id, &Error{Code: ErrTimedOut})
		}
		if freeFn != nil {
			freeFn(userData)
		}
	}()
}

// Subscribe registers fn for change notifications.
func (s *BoltStore) Subscribe(fn func(ChangeEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *BoltStore) notify(evt ChangeEvent) {
	s.mu.Lock()
	fns := make([]func(ChangeEvent), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
