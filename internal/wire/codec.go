package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tcondon31/raftkv/internal/raftlog"
)

// ErrBadMessage is returned for anything that isn't valid JSON or
// whose type discriminant isn't one of the eight known kinds. Callers
// drop the packet and continue, per the replica's error handling
// policy.
var ErrBadMessage = errors.New("wire: bad message")

// onWire is the union of every kind's fields, the same shape
// gobWrapper.go wraps the standard gob codec with to add validation;
// here the standard codec is encoding/json and the validation is
// "does Type name a kind we know how to build" rather than
// capitalization.
type onWire struct {
	Envelope
	MID                   string          `json:"MID,omitempty"`
	Key                   string          `json:"key,omitempty"`
	Value                 string          `json:"value,omitempty"`
	Term                  uint64          `json:"term,omitempty"`
	CandidateID           Addr            `json:"candidateID,omitempty"`
	LastLogIndex          uint64          `json:"lastLogIndex,omitempty"`
	LastLogTerm           uint64          `json:"lastLogTerm,omitempty"`
	VoteGranted           bool            `json:"voteGranted,omitempty"`
	PrevLogIndex          uint64          `json:"prevLogIndex,omitempty"`
	PrevLogTerm           uint64          `json:"prevLogTerm,omitempty"`
	LeaderCommit          uint64          `json:"leaderCommit,omitempty"`
	LeaderLastApplied     uint64          `json:"leaderLastApplied,omitempty"`
	Entries               []raftlog.Entry `json:"entries,omitempty"`
	Success               bool            `json:"success,omitempty"`
	FollowerPrevLastIndex uint64          `json:"followerPrevLastIndex,omitempty"`
	FollowerPrevLastTerm  uint64          `json:"followerPrevLastTerm,omitempty"`
}

// Decode parses a single packet into exactly one Message, or returns
// ErrBadMessage. This is the exhaustive switch the event loop's
// dispatch relies on: every Kind the wire can carry has a case, and
// anything else is rejected here rather than reaching the loop.
func Decode(b []byte) (Message, error) {
	var w onWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	switch w.Type {
	case KindGet:
		return &Get{Envelope: w.Envelope, MID: w.MID, Key: w.Key}, nil
	case KindPut:
		return &Put{Envelope: w.Envelope, MID: w.MID, Key: w.Key, Value: w.Value}, nil
	case KindRedirect:
		return &Redirect{Envelope: w.Envelope, MID: w.MID}, nil
	case KindOK:
		return &OK{Envelope: w.Envelope, MID: w.MID, Value: w.Value}, nil
	case KindRequestVote:
		return &RequestVote{
			Envelope:     w.Envelope,
			Term:         w.Term,
			CandidateID:  w.CandidateID,
			LastLogIndex: w.LastLogIndex,
			LastLogTerm:  w.LastLogTerm,
		}, nil
	case KindVote:
		return &Vote{
			Envelope:     w.Envelope,
			Term:         w.Term,
			LastLogIndex: w.LastLogIndex,
			LastLogTerm:  w.LastLogTerm,
			VoteGranted:  w.VoteGranted,
		}, nil
	case KindAppendEntry:
		return &AppendEntry{
			Envelope:          w.Envelope,
			Term:              w.Term,
			PrevLogIndex:      w.PrevLogIndex,
			PrevLogTerm:       w.PrevLogTerm,
			LeaderCommit:      w.LeaderCommit,
			LeaderLastApplied: w.LeaderLastApplied,
			Entries:           w.Entries,
		}, nil
	case KindConfirmation:
		return &Confirmation{
			Envelope:              w.Envelope,
			Term:                  w.Term,
			Success:               w.Success,
			FollowerPrevLastIndex: w.FollowerPrevLastIndex,
			FollowerPrevLastTerm:  w.FollowerPrevLastTerm,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadMessage, w.Type)
	}
}

// Encode marshals any Message to its wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
