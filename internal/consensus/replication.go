package consensus

import "github.com/tcondon31/raftkv/internal/wire"

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// dispatchAppendEntries sends peer the batch spec §4.E describes: up
// to maxBatch entries when the peer is more than backlogThreshold
// entries behind, otherwise everything from next_index to the end of
// the log (which is empty, i.e. a heartbeat, once the peer is caught
// up). next_index[peer] is advanced optimistically; a later
// confirmation corrects it if the guess was wrong.
func (r *Replica) dispatchAppendEntries(peer wire.Addr) {
	next := r.nextIndex[peer]
	prevLogIndex := next - 1
	prevLogTerm := r.log.TermAt(prevLogIndex)

	var to uint64
	if uint64(r.log.Len())-next > backlogThreshold {
		to = next + maxBatch
	} else {
		to = uint64(r.log.Len())
	}
	batch := r.log.Slice(next, to)

	r.send(&wire.AppendEntry{
		Envelope:          wire.Envelope{Src: r.myID, Dst: peer, Leader: r.currentLeader, Type: wire.KindAppendEntry},
		Term:              r.currentTerm,
		PrevLogIndex:      prevLogIndex,
		PrevLogTerm:       prevLogTerm,
		LeaderCommit:      r.commitIndex,
		LeaderLastApplied: r.lastApplied,
		Entries:           batch,
	})

	r.nextIndex[peer] = next + uint64(len(batch))
}

// broadcastHeartbeat sends every peer whatever dispatchAppendEntries
// would send them right now; for a caught-up peer that's an
// empty-entries heartbeat, for a lagging one it's a real replication
// batch, per spec §4.E.
func (r *Replica) broadcastHeartbeat() {
	for _, p := range r.peerIDs {
		r.dispatchAppendEntries(p)
	}
}

// handleAppendEntry implements spec §4.E "Follower handling of
// appendEntry".
func (r *Replica) handleAppendEntry(msg *wire.AppendEntry) {
	if len(msg.Entries) == 0 {
		if r.currentTerm <= msg.Term {
			r.resetToFollower(msg.Leader, msg.Term)
		}
		return
	}

	followerPLI := min64(r.lastLogIndex(), msg.PrevLogIndex)
	followerPLT := r.log.TermAt(followerPLI)

	if r.currentTerm <= msg.Term {
		r.resetToFollower(msg.Leader, msg.Term)
	}

	if followerPLI == msg.PrevLogIndex && followerPLT == msg.PrevLogTerm {
		r.log.TruncateAndExtend(followerPLI+1, msg.Entries)
		newLast := r.lastLogIndex()
		r.send(&wire.Confirmation{
			Envelope:              wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.currentLeader, Type: wire.KindConfirmation},
			Term:                  r.currentTerm,
			Success:               true,
			FollowerPrevLastIndex: newLast,
			FollowerPrevLastTerm:  r.log.TermAt(newLast),
		})
		r.commitIndex = msg.LeaderCommit
		if r.lastApplied < r.commitIndex {
			r.applyCommitted(1)
		}
		return
	}

	r.send(&wire.Confirmation{
		Envelope:              wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.currentLeader, Type: wire.KindConfirmation},
		Term:                  r.currentTerm,
		Success:               false,
		FollowerPrevLastIndex: followerPLI,
		FollowerPrevLastTerm:  followerPLT,
	})
}

// handleConfirmation implements spec §4.E "Leader handling of
// confirmation", including the commit-advancement quorum count and
// the next_index/match_index correction on rejection.
func (r *Replica) handleConfirmation(msg *wire.Confirmation) {
	if r.currentTerm < msg.Term {
		r.resetToFollower(msg.Leader, msg.Term)
		return
	}
	if r.role != Leader {
		return
	}

	peer := msg.Src
	if msg.Success {
		r.matchIndex[peer] = msg.FollowerPrevLastIndex

		next := r.commitIndex + 1
		for next < uint64(r.log.Len()) {
			term := r.log.TermAt(next)
			if term < r.currentTerm {
				next++
				continue
			}
			if term == r.currentTerm {
				count := 0
				for _, p := range r.peerIDs {
					if r.matchIndex[p] >= next {
						count++
					}
				}
				if r.hasQuorum(count) {
					r.commitIndex = next
					next++
					continue
				}
			}
			break
		}

		r.applyCommitted(-1)
		r.dispatchAppendEntries(peer)
		return
	}

	fpli := msg.FollowerPrevLastIndex
	if fpli > r.lastLogIndex() {
		fpli = r.lastLogIndex()
	}
	fplt := msg.FollowerPrevLastTerm

	if r.log.TermAt(fpli) == fplt && r.matchIndex[peer] <= fpli {
		r.nextIndex[peer] = fpli + 1
		r.matchIndex[peer] = fpli
	} else {
		r.nextIndex[peer] = fpli
	}
	if r.nextIndex[peer] < 1 {
		// next_index must never reach 0, per spec §9's closing note.
		r.nextIndex[peer] = 1
	}
	r.dispatchAppendEntries(peer)
}
