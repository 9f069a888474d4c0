// Command replica runs one member of a raftkv cluster. Usage:
//
//	replica <my_id> <peer_id>...
//
// my_id and every peer_id double as SOCK_SEQPACKET socket paths under
// the shared directory named by RAFTKV_SOCKET_DIR (current directory
// if unset) — per spec §6 there are no flags and no other environment
// variables.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcondon31/raftkv/internal/clock"
	"github.com/tcondon31/raftkv/internal/consensus"
	"github.com/tcondon31/raftkv/internal/transport"
	"github.com/tcondon31/raftkv/internal/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Error().Err(err).Msg("replica exiting")
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: replica <my_id> <peer_id>... (at least 2 peers, cluster_size >= 3)")
	}

	myID := wire.Addr(args[0])
	peers := make([]wire.Addr, 0, len(args)-1)
	for _, p := range args[1:] {
		peers = append(peers, wire.Addr(p))
	}

	runID := uuid.New().String()
	logger := zerolog.New(os.Stderr).With().
		Timestamp().
		Str("run_id", runID).
		Str("replica", string(myID)).
		Logger()

	dir := os.Getenv("RAFTKV_SOCKET_DIR")
	if dir == "" {
		dir = "."
	}

	hub, err := transport.NewHub(dir, myID, logger)
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	defer hub.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rep := consensus.New(myID, peers, clock.Real(), rng, logger)

	logger.Info().Strs("peers", addrsToStrings(peers)).Msg("replica started")

	consensus.Serve(context.Background(), rep, hub, peers, logger)
	return nil
}

func addrsToStrings(addrs []wire.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = string(a)
	}
	return out
}
