package consensus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tcondon31/raftkv/internal/wire"
)

// Transport is the socket half of spec §4.G's event loop: receive one
// framed message with a bounded wait, or send one to an address.
// internal/transport.Hub satisfies this; tests can substitute an
// in-memory fake.
type Transport interface {
	Recv(timeout time.Duration) ([]byte, bool)
	Send(dst wire.Addr, b []byte) error
}

// Serve runs r's event loop against t until ctx is cancelled: read a
// message (or time out), feed it through Step or Tick, and fan the
// result back out over t, expanding wire.Broadcast to every address in
// peers. This is the body of spec §4.G, factored out of cmd/replica's
// main so both the real binary and in-process integration tests drive
// the identical loop.
func Serve(ctx context.Context, r *Replica, t Transport, peers []wire.Addr, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		packet, ok := t.Recv(r.ElectionTimeout())
		if ctx.Err() != nil {
			return
		}
		now := r.Clock().Now()

		var outbound []wire.Message
		if !ok {
			outbound = r.Tick(now)
		} else {
			msg, err := wire.Decode(packet)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping bad message")
				continue
			}
			outbound = r.Step(msg, now)
		}

		for _, m := range outbound {
			b, err := wire.Encode(m)
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode outbound message")
				continue
			}
			dst := m.Env().Dst
			if dst == wire.Broadcast {
				for _, p := range peers {
					if err := t.Send(p, b); err != nil {
						logger.Debug().Err(err).Str("peer", string(p)).Msg("send failed")
					}
				}
				continue
			}
			if err := t.Send(dst, b); err != nil {
				logger.Debug().Err(err).Str("peer", string(dst)).Msg("send failed")
			}
		}
	}
}
