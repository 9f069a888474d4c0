// Package wire defines the message envelope and the closed set of
// message kinds a replica's single socket carries, and the codec that
// turns bytes on the wire into one of them.
package wire

import "github.com/tcondon31/raftkv/internal/raftlog"

// Addr identifies a peer or client on the wire. The zero value is
// never valid; use Broadcast for "all peers" and "leader unknown".
type Addr string

// Broadcast is both the broadcast destination and the sentinel
// meaning "leader currently unknown".
const Broadcast Addr = "FFFF"

// Kind discriminates the message envelope's payload.
type Kind string

const (
	KindGet          Kind = "get"
	KindPut          Kind = "put"
	KindRedirect     Kind = "redirect"
	KindOK           Kind = "ok"
	KindRequestVote  Kind = "requestVote"
	KindVote         Kind = "vote"
	KindAppendEntry  Kind = "appendEntry"
	KindConfirmation Kind = "confirmation"
)

// Envelope carries the fields common to every message kind.
type Envelope struct {
	Src    Addr `json:"src"`
	Dst    Addr `json:"dst"`
	Leader Addr `json:"leader"`
	Type   Kind `json:"type"`
}

// Env returns e itself, satisfying Message.
func (e Envelope) Env() Envelope { return e }

// Message is implemented by every concrete message type. It exists so
// dispatch in the event loop can be exhaustive over a closed sum type.
type Message interface {
	Env() Envelope
}

// Get is a client's read request.
type Get struct {
	Envelope
	MID string `json:"MID"`
	Key string `json:"key"`
}

// Put is a client's write request.
type Put struct {
	Envelope
	MID   string `json:"MID"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Redirect tells a misdirected client which replica it believes is
// leader.
type Redirect struct {
	Envelope
	MID string `json:"MID"`
}

// OK answers a committed put or a drained get. Value is empty for
// puts and for gets of an absent key.
type OK struct {
	Envelope
	MID   string `json:"MID"`
	Value string `json:"value,omitempty"`
}

// RequestVote is a candidate's solicitation for votes.
type RequestVote struct {
	Envelope
	Term         uint64 `json:"term"`
	CandidateID  Addr   `json:"candidateID"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

// Vote is a follower's/candidate's response to a RequestVote.
type Vote struct {
	Envelope
	Term         uint64 `json:"term"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
	VoteGranted  bool   `json:"voteGranted"`
}

// AppendEntry is both the replication RPC and the heartbeat (when
// Entries is empty).
type AppendEntry struct {
	Envelope
	Term              uint64          `json:"term"`
	PrevLogIndex      uint64          `json:"prevLogIndex"`
	PrevLogTerm       uint64          `json:"prevLogTerm"`
	LeaderCommit      uint64          `json:"leaderCommit"`
	LeaderLastApplied uint64          `json:"leaderLastApplied"`
	Entries           []raftlog.Entry `json:"entries"`
}

// Confirmation is a follower's response to an AppendEntry.
type Confirmation struct {
	Envelope
	Term                  uint64 `json:"term"`
	Success               bool   `json:"success"`
	FollowerPrevLastIndex uint64 `json:"followerPrevLastIndex"`
	FollowerPrevLastTerm  uint64 `json:"followerPrevLastTerm"`
}
