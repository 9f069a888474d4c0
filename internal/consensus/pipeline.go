package consensus

import (
	"github.com/tcondon31/raftkv/internal/raftlog"
	"github.com/tcondon31/raftkv/internal/wire"
)

// believedLeader is what a non-leader tells a misdirected client: its
// own current_leader, or itself if that's still unknown, so the
// client has somewhere to retry (spec §4.F).
func (r *Replica) believedLeader() wire.Addr {
	if r.currentLeader == wire.Broadcast {
		return r.myID
	}
	return r.currentLeader
}

// handleGet implements spec §4.F's client get path. A leader with an
// uncommitted tail enqueues the read against the log's current end so
// it only answers once that's provably committed; otherwise the log
// is already fully committed and the read (plus anything already
// queued) can answer immediately.
func (r *Replica) handleGet(msg *wire.Get) {
	if r.role != Leader {
		r.send(&wire.Redirect{
			Envelope: wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.believedLeader(), Type: wire.KindRedirect},
			MID:      msg.MID,
		})
		return
	}

	if r.commitIndex < r.lastLogIndex() {
		r.enqueueRead(msg.Src, msg.MID, msg.Key, r.lastLogIndex())
		return
	}

	r.drainGetQueue()
	r.send(&wire.OK{
		Envelope: wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.currentLeader, Type: wire.KindOK},
		MID:      msg.MID,
		Value:    r.store.Lookup(msg.Key),
	})
}

// handlePut implements spec §4.F's client put path: non-leaders
// redirect, leaders append the entry to their own log and dispatch it
// to every peer. The client only hears back once the entry commits
// and applyCommitted sends its ok (spec §4.E step 3).
func (r *Replica) handlePut(msg *wire.Put) {
	if r.role != Leader {
		r.send(&wire.Redirect{
			Envelope: wire.Envelope{Src: r.myID, Dst: msg.Src, Leader: r.believedLeader(), Type: wire.KindRedirect},
			MID:      msg.MID,
		})
		return
	}

	r.log.Append(raftlog.Entry{
		Term:      r.currentTerm,
		Key:       msg.Key,
		Value:     msg.Value,
		ClientID:  string(msg.Src),
		RequestID: msg.MID,
	})

	for _, p := range r.peerIDs {
		r.dispatchAppendEntries(p)
	}
}

// enqueueRead records a pending get tagged with the log index observed
// at intake (spec §4.F): the read only answers once that index is
// committed, which rules out a since-deposed leader serving a stale
// value.
func (r *Replica) enqueueRead(src wire.Addr, mid, key string, indexReceivedAt uint64) {
	r.getQueue = append(r.getQueue, pendingRead{
		src:             src,
		mid:             mid,
		key:             key,
		indexReceivedAt: indexReceivedAt,
	})
}

// drainGetQueue answers every pending read whose indexReceivedAt has
// since been committed, in FIFO order, leaving later ones (not yet
// committed) in the queue. It is a no-op for followers and candidates:
// a deposed leader keeps its queue (resetToFollower leaves it alone)
// but answers nothing from it, and winning an election clears it.
func (r *Replica) drainGetQueue() {
	if r.role != Leader {
		return
	}

	i := 0
	for i < len(r.getQueue) {
		read := r.getQueue[i]
		if read.indexReceivedAt > r.commitIndex {
			break
		}
		r.send(&wire.OK{
			Envelope: wire.Envelope{Src: r.myID, Dst: read.src, Leader: r.currentLeader, Type: wire.KindOK},
			MID:      read.mid,
			Value:    r.store.Lookup(read.key),
		})
		i++
	}
	r.getQueue = r.getQueue[i:]
}
