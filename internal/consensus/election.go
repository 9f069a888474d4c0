package consensus

import "github.com/tcondon31/raftkv/internal/wire"

// startElection implements spec §4.D "Starting an election".
func (r *Replica) startElection() {
	r.role = Candidate
	r.currentLeader = wire.Broadcast
	r.supporters = map[wire.Addr]struct{}{r.myID: {}}
	r.currentTerm++

	r.log_.Info().Uint64("term", r.currentTerm).Msg("starting election")

	r.send(&wire.RequestVote{
		Envelope:     wire.Envelope{Src: r.myID, Dst: wire.Broadcast, Leader: r.currentLeader, Type: wire.KindRequestVote},
		Term:         r.currentTerm,
		CandidateID:  r.myID,
		LastLogIndex: r.lastLogIndex(),
		LastLogTerm:  r.lastLogTerm(),
	})
}

// maybeBecomeLeader checks the Candidate-quorum condition evaluated at
// the top of the event loop (spec §4.G step 1 / §4.D "Winning").
func (r *Replica) maybeBecomeLeader() {
	if r.role != Candidate {
		return
	}
	// supporters already includes self (seeded in startElection), so
	// the peer-only count hasQuorum expects is len(supporters)-1.
	if !r.hasQuorum(len(r.supporters) - 1) {
		return
	}

	r.role = Leader
	r.currentLeader = r.myID
	for _, p := range r.peerIDs {
		r.nextIndex[p] = uint64(r.log.Len())
		r.matchIndex[p] = 0
	}
	r.getQueue = nil

	r.log_.Info().Uint64("term", r.currentTerm).Msg("won election, became leader")

	// "emit one heartbeat immediately": next_index is freshly set to
	// log.Len() for every peer, so the normal dispatch path naturally
	// sends an empty-entries (heartbeat) appendEntry here.
	for _, p := range r.peerIDs {
		r.dispatchAppendEntries(p)
	}
}

// handleRequestVote implements spec §4.D's vote decision table.
func (r *Replica) handleRequestVote(msg *wire.RequestVote) {
	myLast := r.lastLogIndex()
	myLastTerm := r.lastLogTerm()

	grant := false
	switch {
	case msg.Term <= r.votedForTerm:
		grant = false
	case msg.LastLogTerm < myLastTerm:
		grant = false
	case msg.LastLogTerm > myLastTerm:
		grant = true
		r.votedForTerm = msg.Term
		r.role = Follower
	case msg.LastLogIndex < myLast:
		grant = false
	case msg.LastLogIndex > myLast:
		grant = true
		r.votedForTerm = msg.Term
		r.role = Follower
	case r.role == Candidate && r.currentTerm == msg.Term:
		grant = false
	case r.currentTerm >= msg.Term:
		grant = false
	default:
		grant = true
		r.votedForTerm = msg.Term
		r.resetToFollower(wire.Broadcast, msg.Term)
	}

	r.send(&wire.Vote{
		Envelope:     wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.currentLeader, Type: wire.KindVote},
		Term:         r.currentTerm,
		LastLogIndex: myLast,
		LastLogTerm:  myLastTerm,
		VoteGranted:  grant,
	})
}

// handleVote implements spec §4.D "Handling vote".
func (r *Replica) handleVote(msg *wire.Vote) {
	if r.role != Candidate {
		return
	}

	if msg.VoteGranted {
		r.supporters[msg.Src] = struct{}{}
		return
	}

	identical := msg.LastLogIndex == r.lastLogIndex() &&
		msg.LastLogTerm == r.lastLogTerm() &&
		msg.Term == r.currentTerm
	if identical {
		// split between equal peers: keep waiting for our own timeout
		return
	}

	r.role = Follower
	r.currentTerm--
	r.electionTimeout += splitVoteExtension
	r.log_.Info().Uint64("term", r.currentTerm).Msg("withdrawing candidacy after rejected vote")
}
