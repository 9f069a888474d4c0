// Package raftlog implements the replicated, totally-ordered log each
// replica keeps: an index-0 sentinel followed by client-originated
// entries, indexed from zero.
package raftlog

import "fmt"

// Entry is one position in the log. It doubles as the wire
// representation of a log entry inside an appendEntry message, so its
// JSON tags match the field names used on the wire.
type Entry struct {
	Term      uint64 `json:"term"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	ClientID  string `json:"client_id"`
	RequestID string `json:"request_id"`
}

// sentinel is the synthetic entry at index 0. Per spec it carries
// term 1 and an empty key/value, and is never applied to the state
// machine.
var sentinel = Entry{Term: 1}

// Log is the ordered, index-checked sequence of entries a replica
// holds. Index 0 always holds the sentinel.
type Log struct {
	entries []Entry
}

// New returns a Log containing only the index-0 sentinel.
func New() *Log {
	return &Log{entries: []Entry{sentinel}}
}

// Len returns the number of entries in the log, including the
// sentinel, so the last valid index is always Len()-1.
func (l *Log) Len() int {
	return len(l.entries)
}

// EntryAt returns the entry at i. Out-of-range access is a programmer
// error and panics, per the log's checked-indexing contract.
func (l *Log) EntryAt(i uint64) Entry {
	l.checkIndex(i)
	return l.entries[i]
}

// TermAt returns the term of the entry at i.
func (l *Log) TermAt(i uint64) uint64 {
	return l.EntryAt(i).Term
}

// Append adds entry to the end of the log and returns its new index.
func (l *Log) Append(entry Entry) uint64 {
	l.entries = append(l.entries, entry)
	return uint64(len(l.entries) - 1)
}

// TruncateAndExtend replaces log[start:] with entries, discarding
// whatever previously followed index start-1. start must be in
// [1, Len()].
func (l *Log) TruncateAndExtend(start uint64, entries []Entry) {
	if start < 1 || start > uint64(len(l.entries)) {
		panic(fmt.Sprintf("raftlog: truncate start %d out of range [1,%d]", start, len(l.entries)))
	}
	l.entries = append(l.entries[:start], entries...)
}

// Slice returns a copy of log[from:min(to,Len())]. from==Len() is
// valid and yields an empty slice — the caught-up-peer case that
// produces a heartbeat appendEntry — but from>Len() is a programmer
// error and panics like the rest of this type's indexing.
func (l *Log) Slice(from, to uint64) []Entry {
	if from > uint64(len(l.entries)) {
		panic(fmt.Sprintf("raftlog: slice from %d out of range [0,%d]", from, len(l.entries)))
	}
	if to > uint64(len(l.entries)) {
		to = uint64(len(l.entries))
	}
	if to < from {
		return nil
	}
	out := make([]Entry, to-from)
	copy(out, l.entries[from:to])
	return out
}

func (l *Log) checkIndex(i uint64) {
	if i >= uint64(len(l.entries)) {
		panic(fmt.Sprintf("raftlog: index %d out of range [0,%d)", i, len(l.entries)))
	}
}
