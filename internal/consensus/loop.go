package consensus

import (
	"time"

	"github.com/tcondon31/raftkv/internal/wire"
)

// resetsTimer reports whether receiving a message of this kind counts
// as "activity" for election-timeout purposes, per spec §4.G steps 4
// and 7.
func resetsTimer(k wire.Kind) bool {
	switch k {
	case wire.KindAppendEntry, wire.KindRequestVote, wire.KindVote:
		return true
	default:
		return false
	}
}

// checkElectionTimeout is spec §4.G step 5: whether or not a message
// just arrived, a non-leader that hasn't heard from a leader within
// electionTimeout starts an election, and a leader re-broadcasts to
// suppress everyone else's timeout. It must run every iteration, not
// only on a bare timer tick — otherwise a follower fed nothing but
// non-timer traffic (misdirected client retries, say) never notices a
// dead leader.
func (r *Replica) checkElectionTimeout(now time.Time) {
	if now.Sub(r.lastEvent) > r.electionTimeout {
		if r.role != Leader {
			r.startElection()
		} else {
			r.broadcastHeartbeat()
		}
		r.lastEvent = now
	}
}

// Step feeds one received message through the replica's state machine
// and returns whatever it produced, per spec §4.G steps 1, 4, 5, 6 and
// 7.
func (r *Replica) Step(msg wire.Message, now time.Time) []wire.Message {
	r.maybeBecomeLeader()

	kind := msg.Env().Type
	if resetsTimer(kind) {
		r.lastEvent = now
	}

	r.checkElectionTimeout(now)

	switch m := msg.(type) {
	case *wire.Get:
		r.handleGet(m)
	case *wire.Put:
		r.handlePut(m)
	case *wire.RequestVote:
		r.handleRequestVote(m)
	case *wire.Vote:
		r.handleVote(m)
	case *wire.AppendEntry:
		r.handleAppendEntry(m)
	case *wire.Confirmation:
		r.handleConfirmation(m)
	case *wire.Redirect, *wire.OK:
		// replicas never receive their own reply kinds; dropped silently.
	}

	if resetsTimer(kind) {
		r.lastEvent = now
	}

	return r.drain()
}

// Tick drives the timer-based half of the loop when no message
// arrived within the socket read deadline (spec §4.G steps 1, 5 and
// 8): a non-leader whose timeout has elapsed starts an election; a
// leader whose timeout has elapsed re-broadcasts to suppress everyone
// else's timeout, which is the "whenever needed" heartbeat cadence
// spec §4.E describes without pinning to a separate interval. The
// longer-horizon get_queue safety drain runs independently of that
// check.
func (r *Replica) Tick(now time.Time) []wire.Message {
	r.maybeBecomeLeader()

	r.checkElectionTimeout(now)

	if r.role == Leader && now.Sub(r.lastEvent) > heartbeatGrace {
		r.drainGetQueue()
	}

	return r.drain()
}
