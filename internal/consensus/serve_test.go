package consensus_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	iclock "github.com/tcondon31/raftkv/internal/clock"
	"github.com/tcondon31/raftkv/internal/consensus"
	"github.com/tcondon31/raftkv/internal/wire"
)

// idleTransport never has anything to receive, so every Serve
// iteration falls through to Tick; it exists to drive Serve purely
// off the replica's clock, with no real sleeping.
type idleTransport struct {
	mu   sync.Mutex
	sent []wire.Addr
}

func (t *idleTransport) Recv(timeout time.Duration) ([]byte, bool) {
	time.Sleep(time.Millisecond)
	return nil, false
}

func (t *idleTransport) Send(dst wire.Addr, b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, dst)
	return nil
}

func (t *idleTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// TestServeDerivesNowFromReplicaClock confirms Serve drives its
// election timeout off the mock clock passed to New, not off
// time.Now(): advancing the mock is what makes the replica start an
// election, not the passage of real wall-clock time.
func TestServeDerivesNowFromReplicaClock(t *testing.T) {
	mockClock := iclock.NewMock()
	rep := consensus.New("A", []wire.Addr{"B", "C"}, mockClock, rand.New(rand.NewSource(1)), zerolog.Nop())
	transport := &idleTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		consensus.Serve(ctx, rep, transport, []wire.Addr{"B", "C"}, zerolog.Nop())
	}()

	// Give the loop a chance to spin on the idle transport a few times
	// with the mock clock unchanged: nothing should fire yet.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, transport.sentCount(), "no election before the mock clock advances")

	mockClock.Add(rep.ElectionTimeout() + time.Millisecond)

	require.Eventually(t, func() bool {
		return transport.sentCount() > 0
	}, time.Second, 5*time.Millisecond, "advancing the mock clock should trigger an election broadcast")

	cancel()
	<-done
}
