// Package kvstore implements the replica's state machine: a mapping
// from key to latest committed value, mutated strictly in log order.
package kvstore

import "github.com/tcondon31/raftkv/internal/raftlog"

// Store is the sole consumer of committed log entries. It is destroyed
// with the process; nothing here persists.
type Store struct {
	data map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Apply writes entry.Value to entry.Key. Callers must apply entries in
// log order, exactly once each; Apply itself does not enforce that.
func (s *Store) Apply(entry raftlog.Entry) {
	s.data[entry.Key] = entry.Value
}

// Lookup returns the stored value for key, or "" if it was never
// written.
func (s *Store) Lookup(key string) string {
	return s.data[key]
}
