// Package consensus implements the single-threaded Raft-family core:
// election, replication, commit advancement, state-machine
// application, and the client get/put pipeline that rides on top of
// them. A Replica owns all of its state outright; nothing here takes
// a lock, because nothing here runs concurrently with itself (see
// spec §5).
package consensus

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	iclock "github.com/tcondon31/raftkv/internal/clock"
	"github.com/tcondon31/raftkv/internal/kvstore"
	"github.com/tcondon31/raftkv/internal/raftlog"
	"github.com/tcondon31/raftkv/internal/wire"
)

// Role is one of the three Raft roles a replica can hold.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// minElectionTimeout and maxElectionTimeout bound the per-process
// randomized election timeout, per spec §3.
const (
	minElectionTimeout = 500 * time.Millisecond
	maxElectionTimeout = 3000 * time.Millisecond

	// heartbeatGrace is the §4.G step-8 threshold past which a leader
	// drains its get_queue even without fresh confirmations, so a
	// read issued right after the leader stops taking writes still
	// completes.
	heartbeatGrace = 2 * time.Second

	// splitVoteExtension is added to a withdrawing candidate's
	// election timeout so two candidates with identical logs don't
	// retry in lockstep forever (spec §4.D "Handling vote").
	splitVoteExtension = 2 * time.Second

	// maxBatch and backlogThreshold implement spec §4.E's
	// replication batching rule.
	maxBatch         = 50
	backlogThreshold = 100
)

// pendingRead is one deferred linearizable get, tagged with the log
// index observed when the leader received it (spec §4.F).
type pendingRead struct {
	src             wire.Addr
	mid             string
	key             string
	indexReceivedAt uint64
}

// Replica holds all state for one member of the cluster.
type Replica struct {
	myID    wire.Addr
	peerIDs []wire.Addr

	currentTerm   uint64
	votedForTerm  uint64
	currentLeader wire.Addr
	role          Role
	supporters    map[wire.Addr]struct{}

	commitIndex uint64
	lastApplied uint64

	nextIndex  map[wire.Addr]uint64
	matchIndex map[wire.Addr]uint64

	getQueue []pendingRead

	electionTimeout time.Duration
	lastEvent       time.Time

	log   *raftlog.Log
	store *kvstore.Store

	clock  iclock.Clock
	log_   zerolog.Logger
	outbox []wire.Message
}

// New constructs a Follower replica. The election timeout is chosen
// once, uniformly in [minElectionTimeout, maxElectionTimeout], using
// rng (pass a seeded *rand.Rand; tests can fix the seed for
// determinism).
func New(myID wire.Addr, peerIDs []wire.Addr, clk iclock.Clock, rng *rand.Rand, logger zerolog.Logger) *Replica {
	span := maxElectionTimeout - minElectionTimeout
	timeout := minElectionTimeout + time.Duration(rng.Int63n(int64(span)))

	r := &Replica{
		myID:            myID,
		peerIDs:         append([]wire.Addr(nil), peerIDs...),
		currentLeader:   wire.Broadcast,
		role:            Follower,
		supporters:      map[wire.Addr]struct{}{},
		nextIndex:       map[wire.Addr]uint64{},
		matchIndex:      map[wire.Addr]uint64{},
		electionTimeout: timeout,
		log:             raftlog.New(),
		store:           kvstore.New(),
		clock:           clk,
		log_:            logger.With().Str("replica", string(myID)).Logger(),
	}
	r.lastEvent = clk.Now()
	r.log_.Info().Dur("election_timeout", timeout).Msg("replica initialized")
	return r
}

// ClusterSize is the number of replicas in the cluster, leader
// included.
func (r *Replica) ClusterSize() int { return len(r.peerIDs) + 1 }

// hasQuorum reports whether total peers (the leader itself excluded;
// add 1 for it) amounts to a quorum, per spec §9's resolution of the
// Open Question about integer-division quorum counting: total+1 >
// clusterSize/2. This is algebraically identical to the commit rule's
// own "count >= clusterSize/2" (spec §4.E) — total+1 > k and total >=
// k are the same statement over integers — but expressed with the
// "+1 accounts for the leader" reasoning visible at the call site.
// Election's own quorum check (spec §4.D) counts supporters, which
// already includes self, so callers there must pass len(supporters)-1.
func (r *Replica) hasQuorum(total int) bool {
	return total+1 > r.ClusterSize()/2
}

// Role returns the replica's current role.
func (r *Replica) Role() Role { return r.role }

// CurrentTerm returns the replica's current term.
func (r *Replica) CurrentTerm() uint64 { return r.currentTerm }

// CurrentLeader returns who the replica currently believes is leader,
// or wire.Broadcast if unknown.
func (r *Replica) CurrentLeader() wire.Addr { return r.currentLeader }

// ElectionTimeout returns the randomized per-process timeout, used by
// the main loop to size its socket read deadline.
func (r *Replica) ElectionTimeout() time.Duration { return r.electionTimeout }

// Clock returns the time source passed to New, so callers driving
// Serve's read-or-tick loop derive `now` from the same clock a test
// can mock rather than from the wall clock directly.
func (r *Replica) Clock() iclock.Clock { return r.clock }

// send queues an outbound message, collected by Step/Tick.
func (r *Replica) send(m wire.Message) {
	r.outbox = append(r.outbox, m)
}

// drain returns and clears the outbox.
func (r *Replica) drain() []wire.Message {
	out := r.outbox
	r.outbox = nil
	return out
}

// resetToFollower implements spec §4.D's reset_to_follower: clears
// election and replication bookkeeping and adopts the given term and
// leader. get_queue is deliberately left untouched (spec §9 Open
// Question, resolved in favor of preserving it).
func (r *Replica) resetToFollower(newLeader wire.Addr, newTerm uint64) {
	r.role = Follower
	r.supporters = map[wire.Addr]struct{}{}
	r.nextIndex = map[wire.Addr]uint64{}
	r.matchIndex = map[wire.Addr]uint64{}
	r.currentTerm = newTerm
	r.currentLeader = newLeader
}

func (r *Replica) lastLogIndex() uint64 { return uint64(r.log.Len() - 1) }
func (r *Replica) lastLogTerm() uint64  { return r.log.TermAt(r.lastLogIndex()) }

// applyCommitted applies log[lastApplied+1 .. commitIndex] in order,
// emitting ok replies to each entry's origin client (spec §4.E step
// 3). max bounds how many entries to apply this call: followers
// apply at most one per appendEntry (spec §4.E "Apply cadence"), while
// leaders pass a negative max (no bound) to drain everything newly
// committable.
func (r *Replica) applyCommitted(max int) {
	applied := 0
	for r.lastApplied < r.commitIndex && (max < 0 || applied < max) {
		r.lastApplied++
		entry := r.log.EntryAt(r.lastApplied)
		r.store.Apply(entry)
		if r.role == Leader {
			r.send(&wire.OK{
				Envelope: wire.Envelope{Src: r.myID, Dst: wire.Addr(entry.ClientID), Leader: r.currentLeader, Type: wire.KindOK},
				MID:      entry.RequestID,
			})
		}
		applied++
	}
	r.drainGetQueue()
}
