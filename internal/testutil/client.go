// Package testutil provides a client for driving a raftkv cluster in
// tests and linearizability checks. It plays the same role the
// teacher's kvraft.Clerk plays for its RPC-based store: track a
// believed leader, retry elsewhere on a miss, and tag every request
// with an identifier the server can use for idempotency — just over
// raftkv's JSON/unixpacket transport instead of Go RPC.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcondon31/raftkv/internal/transport"
	"github.com/tcondon31/raftkv/internal/wire"
)

// Client is a single logical caller issuing get/put requests against a
// raftkv cluster.
type Client struct {
	id      wire.Addr
	hub     *transport.Hub
	servers []wire.Addr
	leader  int
	nextMID uint64
}

// NewClient binds a socket at dir/id and targets the given server
// addresses, starting with an arbitrary guess at the leader.
func NewClient(dir string, id wire.Addr, servers []wire.Addr, logger zerolog.Logger) (*Client, error) {
	hub, err := transport.NewHub(dir, id, logger)
	if err != nil {
		return nil, err
	}
	return &Client{id: id, hub: hub, servers: append([]wire.Addr(nil), servers...)}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error { return c.hub.Close() }

// CurrentServer returns the server address the client currently
// believes is leader (whoever last answered ok), useful for tests that
// need to single out the leader without reaching into replica state
// from another goroutine.
func (c *Client) CurrentServer() wire.Addr { return c.servers[c.leader] }

func (c *Client) mid() string {
	n := atomic.AddUint64(&c.nextMID, 1)
	return fmt.Sprintf("%s-%s-%d", c.id, uuid.NewString()[:8], n)
}

// Get fetches a key, retrying against other servers on redirect until
// one answers ok or the timeout elapses.
func (c *Client) Get(key string, timeout time.Duration) (string, error) {
	out, err := c.roundTrip(&wire.Get{
		Envelope: wire.Envelope{Src: c.id, Type: wire.KindGet},
		MID:      c.mid(),
		Key:      key,
	}, timeout)
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

// Put writes a key, retrying against other servers on redirect until
// one answers ok or the timeout elapses.
func (c *Client) Put(key, value string, timeout time.Duration) error {
	_, err := c.roundTrip(&wire.Put{
		Envelope: wire.Envelope{Src: c.id, Type: wire.KindPut},
		MID:      c.mid(),
		Key:      key,
		Value:    value,
	}, timeout)
	return err
}

func (c *Client) roundTrip(req wire.Message, timeout time.Duration) (*wire.OK, error) {
	deadline := time.Now().Add(timeout)
	reqMID := requestMID(req)

	for time.Now().Before(deadline) {
		req = withDst(req, c.servers[c.leader])

		b, err := wire.Encode(req)
		if err != nil {
			return nil, err
		}
		if err := c.hub.Send(c.servers[c.leader], b); err != nil {
			c.leader = (c.leader + 1) % len(c.servers)
			continue
		}

		packet, ok := c.hub.Recv(200 * time.Millisecond)
		if !ok {
			c.leader = (c.leader + 1) % len(c.servers)
			continue
		}
		resp, err := wire.Decode(packet)
		if err != nil {
			continue
		}

		switch m := resp.(type) {
		case *wire.OK:
			if m.MID == reqMID {
				return m, nil
			}
		case *wire.Redirect:
			if m.MID == reqMID {
				if m.Leader != "" && m.Leader != wire.Broadcast {
					for i, s := range c.servers {
						if s == m.Leader {
							c.leader = i
						}
					}
				} else {
					c.leader = (c.leader + 1) % len(c.servers)
				}
			}
		}
	}
	return nil, fmt.Errorf("testutil: %s timed out after %s", reqMID, timeout)
}

func requestMID(m wire.Message) string {
	switch v := m.(type) {
	case *wire.Get:
		return v.MID
	case *wire.Put:
		return v.MID
	default:
		return ""
	}
}

func withDst(m wire.Message, dst wire.Addr) wire.Message {
	switch v := m.(type) {
	case *wire.Get:
		g := *v
		g.Dst = dst
		return &g
	case *wire.Put:
		p := *v
		p.Dst = dst
		return &p
	default:
		return m
	}
}
