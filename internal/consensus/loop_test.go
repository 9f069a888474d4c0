package consensus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcondon31/raftkv/internal/consensus"
	"github.com/tcondon31/raftkv/internal/wire"
)

// cluster is a tiny in-memory router for end-to-end tests: it doesn't
// use internal/transport at all, just delivers each Replica's outbox
// to the others' Step calls directly, which is enough to exercise
// spec §8's end-to-end scenarios without a real socket.
type cluster struct {
	reps map[wire.Addr]*consensus.Replica
	now  time.Time
}

func newCluster() *cluster {
	return &cluster{reps: threeNode(), now: epoch}
}

// deliver feeds msgs into their destinations (expanding Broadcast to
// every other replica) and returns everything those replicas in turn
// produced.
func (c *cluster) deliver(from wire.Addr, msgs []wire.Message) []wire.Message {
	var produced []wire.Message
	for _, m := range msgs {
		dst := m.Env().Dst
		targets := []wire.Addr{dst}
		if dst == wire.Broadcast {
			targets = nil
			for id := range c.reps {
				if id != from {
					targets = append(targets, id)
				}
			}
		}
		for _, t := range targets {
			rep, ok := c.reps[t]
			if !ok {
				continue // client address, nothing to deliver to
			}
			produced = append(produced, rep.Step(m, c.now)...)
		}
	}
	return produced
}

// settle runs messages through the cluster, including whatever each
// hop produces, until nothing is left in flight or maxRounds is hit.
func (c *cluster) settle(from wire.Addr, initial []wire.Message, maxRounds int) []wire.Message {
	var toClient []wire.Message
	pending := map[wire.Addr][]wire.Message{from: initial}
	for round := 0; round < maxRounds; round++ {
		next := map[wire.Addr][]wire.Message{}
		any := false
		for src, msgs := range pending {
			for _, m := range c.deliver(src, msgs) {
				dst := m.Env().Dst
				if _, isReplica := c.reps[dst]; !isReplica {
					toClient = append(toClient, m)
					continue
				}
				next[dst] = append(next[dst], m)
				any = true
			}
		}
		pending = next
		if !any {
			break
		}
	}
	return toClient
}

func (c *cluster) electLeader(t *testing.T) wire.Addr {
	t.Helper()
	for _, id := range []wire.Addr{"A", "B", "C"} {
		rep := c.reps[id]
		out := rep.Tick(c.now.Add(rep.ElectionTimeout() + time.Millisecond))
		c.settle(id, out, 5)
		if rep.Role() == consensus.Leader {
			return id
		}
	}
	t.Fatal("no leader elected")
	return ""
}

func TestClusterBootstrapAndSinglePut(t *testing.T) {
	c := newCluster()
	leader := c.electLeader(t)

	out := c.reps[leader].Step(&wire.Put{
		Envelope: wire.Envelope{Src: "CLIENT", Dst: leader, Type: wire.KindPut},
		MID:      "m1",
		Key:      "x",
		Value:    "1",
	}, c.now)
	toClient := c.settle(leader, out, 5)

	oks := findByType[*wire.OK](toClient)
	require.Len(t, oks, 1)
	assert.Equal(t, "m1", oks[0].MID)

	out = c.reps[leader].Step(&wire.Get{
		Envelope: wire.Envelope{Src: "CLIENT", Dst: leader, Type: wire.KindGet},
		MID:      "m2",
		Key:      "x",
	}, c.now)
	toClient = c.settle(leader, out, 5)

	oks = findByType[*wire.OK](toClient)
	require.Len(t, oks, 1)
	assert.Equal(t, "1", oks[0].Value)
}

func TestClusterRedirectsToLeader(t *testing.T) {
	c := newCluster()
	leader := c.electLeader(t)

	var follower wire.Addr
	for _, id := range []wire.Addr{"A", "B", "C"} {
		if id != leader {
			follower = id
			break
		}
	}

	out := c.reps[follower].Step(&wire.Put{
		Envelope: wire.Envelope{Src: "CLIENT", Dst: follower, Type: wire.KindPut},
		MID:      "m1",
		Key:      "x",
		Value:    "1",
	}, c.now)

	require.Len(t, out, 1)
	redir, ok := out[0].(*wire.Redirect)
	require.True(t, ok)
	assert.Equal(t, leader, redir.Leader)
}
