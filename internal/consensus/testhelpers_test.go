package consensus_test

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	iclock "github.com/tcondon31/raftkv/internal/clock"
	"github.com/tcondon31/raftkv/internal/consensus"
	"github.com/tcondon31/raftkv/internal/wire"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestReplica builds a replica whose mock clock reads epoch, so its
// election timer starts at the same instant the tests' `now` values
// are measured from.
func newTestReplica(id wire.Addr, peers []wire.Addr, seed int64) *consensus.Replica {
	clk := iclock.NewMock()
	clk.Set(epoch)
	return consensus.New(id, peers, clk, rand.New(rand.NewSource(seed)), zerolog.Nop())
}

// threeNode builds A/B/C with A's peers {B,C} and so on, all sharing
// the same deterministic seed family so timeouts differ slightly but
// reproducibly.
func threeNode() map[wire.Addr]*consensus.Replica {
	a := newTestReplica("A", []wire.Addr{"B", "C"}, 1)
	b := newTestReplica("B", []wire.Addr{"A", "C"}, 2)
	c := newTestReplica("C", []wire.Addr{"A", "B"}, 3)
	return map[wire.Addr]*consensus.Replica{"A": a, "B": b, "C": c}
}

func findByType[T wire.Message](msgs []wire.Message) []T {
	var out []T
	for _, m := range msgs {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
