// Command matchmaker runs the single binary that hosts the matchmaking
// frontend, the ranking store, and every in-process match janitor/match
// server for one environment.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/rlarena/matchcore/internal/env" // its init registers the "test" reference environment
	"github.com/rlarena/matchcore/internal/frontend"
	"github.com/rlarena/matchcore/internal/log"
	"github.com/rlarena/matchcore/internal/matchmaker"
	"github.com/rlarena/matchcore/internal/rankingstore"
	_ "github.com/rlarena/matchcore/internal/rpcutil" // registers the gob wire codec
)

func main() {
	var (
		environment      = flag.String("environment", "test", "registered environment name to host matches for")
		config           = flag.String("config", "", "verbatim config string passed to the environment factory")
		hostname         = flag.String("hostname", "localhost", "hostname advertised to clients as their match's address")
		matchmakingPort  = flag.Int("matchmaking-port", 50051, "port the matchmaking frontend listens on")
		gamePort         = flag.Int("game-port", 21450, "first port probed for match servers")
		maxGames         = flag.Int("max-games", 1, "maximum number of simultaneous matches")
		tickRate         = flag.Int("tick-rate", 60, "match server tick rate, in Hz")
		realtime         = flag.Bool("realtime", false, "advance turns on a fixed clock instead of waiting for readiness")
		observationsOnly = flag.Bool("observations-only", false, "never populate ServerState.serialized_state")
		dbPath           = flag.String("db", "test.sqlite", "path to the ranking store's SQLite file")
	)
	flag.Parse()

	if err := run(runOptions{
		environment:      *environment,
		config:           *config,
		hostname:         *hostname,
		matchmakingPort:  *matchmakingPort,
		gamePort:         *gamePort,
		maxGames:         *maxGames,
		tickRate:         *tickRate,
		realtime:         *realtime,
		observationsOnly: *observationsOnly,
		dbPath:           *dbPath,
	}); err != nil {
		log.Error("matchmaker: %v", err)
		os.Exit(1)
	}
}

type runOptions struct {
	environment      string
	config           string
	hostname         string
	matchmakingPort  int
	gamePort         int
	maxGames         int
	tickRate         int
	realtime         bool
	observationsOnly bool
	dbPath           string
}

func run(opts runOptions) error {
	// Resolve the environment before touching the ranking store: per
	// spec.md §8 scenario 6, an unknown --environment must exit non-zero
	// naming the available environments without ever creating the
	// database file.
	factory, err := env.Lookup(opts.environment)
	if err != nil {
		return err
	}

	store, err := rankingstore.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open ranking store: %w", err)
	}
	defer store.Close()

	core, err := matchmaker.New(store, matchmaker.Options{
		Hostname:         opts.hostname,
		StartingPort:     opts.gamePort,
		MaxGames:         opts.maxGames,
		EnvName:          opts.environment,
		EnvFactory:       factory,
		EnvConfig:        opts.config,
		TickRate:         opts.tickRate,
		Realtime:         opts.realtime,
		ObservationsOnly: opts.observationsOnly,
	})
	if err != nil {
		return fmt.Errorf("construct matchmaker core: %w", err)
	}
	go core.Run()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.matchmakingPort))
	if err != nil {
		return fmt.Errorf("listen on matchmaking port %d: %w", opts.matchmakingPort, err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&frontend.ServiceDesc, (frontend.Server)(core))

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	log.Info("matchmaker: serving %s on %s, up to %d concurrent matches from port %d",
		opts.environment, lis.Addr(), opts.maxGames, opts.gamePort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("frontend server: %w", err)
	case sig := <-sigCh:
		log.Info("matchmaker: received %s, draining", sig)
	}

	grpcServer.GracefulStop()
	core.Shutdown()
	log.Info("matchmaker: shutdown complete")
	return nil
}
