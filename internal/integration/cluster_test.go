// Package integration drives a real 3-replica raftkv cluster end to
// end over actual unixpacket sockets, using testutil.Client the way a
// real caller would, and checks the resulting get/put history against
// spec §8's round-trip property with the adapted linearizability
// checker in internal/linearize. Both internal/testutil and
// internal/linearize exist to be exercised here.
package integration_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tcondon31/raftkv/internal/clock"
	"github.com/tcondon31/raftkv/internal/consensus"
	"github.com/tcondon31/raftkv/internal/linearize"
	"github.com/tcondon31/raftkv/internal/testutil"
	"github.com/tcondon31/raftkv/internal/transport"
	"github.com/tcondon31/raftkv/internal/wire"
)

// testCluster runs consensus.Serve for three replicas against real
// sockets rooted at a temp directory, the same loop cmd/replica runs
// in production.
type testCluster struct {
	dir     string
	servers []wire.Addr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func startCluster(t *testing.T) *testCluster {
	t.Helper()
	dir := t.TempDir()
	ids := []wire.Addr{"A", "B", "C"}

	ctx, cancel := context.WithCancel(context.Background())
	tc := &testCluster{dir: dir, servers: ids, cancel: cancel}
	logger := zerolog.Nop()

	for i, id := range ids {
		var peers []wire.Addr
		for j, other := range ids {
			if j != i {
				peers = append(peers, other)
			}
		}

		hub, err := transport.NewHub(dir, id, logger)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(int64(i)*7 + 11))
		rep := consensus.New(id, peers, clock.Real(), rng, logger)

		tc.wg.Add(1)
		go func(rep *consensus.Replica, hub *transport.Hub, peers []wire.Addr) {
			defer tc.wg.Done()
			defer hub.Close()
			consensus.Serve(ctx, rep, hub, peers, logger)
		}(rep, hub, peers)
	}

	return tc
}

func (tc *testCluster) stop() {
	tc.cancel()
	tc.wg.Wait()
}

// TestClusterHistoryIsLinearizable hammers a single shared key from
// several concurrent clients through real sockets and verifies the
// recorded history admits a linearization, the way the teacher's own
// kvraft test suite uses its linearizability checker against Clerk
// traffic.
func TestClusterHistoryIsLinearizable(t *testing.T) {
	tc := startCluster(t)
	defer tc.stop()

	const (
		numClients     = 3
		opsPerClient   = 3
		sharedKey      = "shared"
		roundTripLimit = 5 * time.Second
	)

	var mu sync.Mutex
	var history []linearize.Operation

	record := func(op linearize.Operation) {
		mu.Lock()
		defer mu.Unlock()
		history = append(history, op)
	}

	var wg sync.WaitGroup
	for c := 0; c < numClients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()

			cl, err := testutil.NewClient(tc.dir, wire.Addr(fmt.Sprintf("CLIENT-%d", c)), tc.servers, zerolog.Nop())
			require.NoError(t, err)
			defer cl.Close()

			for op := 0; op < opsPerClient; op++ {
				value := fmt.Sprintf("c%d-%d", c, op)

				callAt := time.Now().UnixNano()
				require.NoError(t, cl.Put(sharedKey, value, roundTripLimit))
				record(linearize.Operation{
					Input:  linearize.KvInput{Op: 1, Key: sharedKey, Value: value},
					Call:   callAt,
					Output: linearize.KvOutput{},
					Return: time.Now().UnixNano(),
				})

				callAt = time.Now().UnixNano()
				got, err := cl.Get(sharedKey, roundTripLimit)
				require.NoError(t, err)
				record(linearize.Operation{
					Input:  linearize.KvInput{Op: 0, Key: sharedKey},
					Call:   callAt,
					Output: linearize.KvOutput{Value: got},
					Return: time.Now().UnixNano(),
				})
			}
		}(c)
	}
	wg.Wait()

	require.True(t, linearize.CheckOperations(linearize.KvModel(), history),
		"recorded get/put history is not linearizable")
}

// TestClusterSurvivesLeaderFailover exercises spec §8 scenario 4: a
// committed write followed by killing the leader still answers a get
// for the same key against whichever replica wins the next election.
func TestClusterSurvivesLeaderFailover(t *testing.T) {
	dir := t.TempDir()
	ids := []wire.Addr{"A", "B", "C"}
	logger := zerolog.Nop()

	type server struct {
		id     wire.Addr
		hub    *transport.Hub
		rep    *consensus.Replica
		peers  []wire.Addr
		cancel context.CancelFunc
	}
	servers := map[wire.Addr]*server{}
	var wg sync.WaitGroup

	launch := func(id wire.Addr) *server {
		var peers []wire.Addr
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		hub, err := transport.NewHub(dir, id, logger)
		require.NoError(t, err)
		rng := rand.New(rand.NewSource(int64(len(id)) + time.Now().UnixNano()))
		rep := consensus.New(id, peers, clock.Real(), rng, logger)
		ctx, cancel := context.WithCancel(context.Background())
		s := &server{id: id, hub: hub, rep: rep, peers: peers, cancel: cancel}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer hub.Close()
			consensus.Serve(ctx, rep, hub, peers, logger)
		}()
		return s
	}

	for _, id := range ids {
		servers[id] = launch(id)
	}
	defer func() {
		for _, s := range servers {
			s.cancel()
		}
		wg.Wait()
	}()

	cl, err := testutil.NewClient(dir, "CLIENT", ids, zerolog.Nop())
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Put("x", "9", 5*time.Second))

	// The client's last-known-good server is the one that actually
	// committed the put and answered ok, i.e. the leader — reading
	// this off the client avoids touching Replica state from outside
	// its own single-threaded loop (spec §5).
	leader := cl.CurrentServer()
	require.Contains(t, servers, leader)

	servers[leader].cancel()
	delete(servers, leader)

	value, err := cl.Get("x", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "9", value)
}
