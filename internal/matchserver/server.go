// Package matchserver drives one environment instance to completion over
// N remote clients (component C4): Phase A admission, Phase B play, Phase C
// teardown, exactly as spec.md §4.4 describes.
package matchserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/rlarena/matchcore/internal/dataframe"
	"github.com/rlarena/matchcore/internal/env"
	"github.com/rlarena/matchcore/internal/log"
	"github.com/rlarena/matchcore/internal/pacer"
)

// Default grace periods. Neither is exposed on the CLI; spec.md leaves both
// "implementation-defined."
const (
	defaultAckGrace        = 5 * time.Second
	defaultDisconnectGrace = 3 * time.Second
)

// Config bundles the per-match parameters the janitor supplies.
type Config struct {
	Port             int
	TickRate         int
	Realtime         bool
	ObservationsOnly bool
	EnvName          string
	EnvFactory       env.Factory
	EnvConfig        string
	Whitelist        []string
	AckGrace         time.Duration
	DisconnectGrace  time.Duration
}

// Server is one running match: its dataframe store, its environment
// instance, and the gRPC listener clients connect to.
type Server struct {
	cfg      Config
	env      env.Environment
	store    *dataframe.Store
	listener net.Listener
	grpc     *grpc.Server
}

// New constructs the match's environment and dataframe store and binds its
// listening port. A bind or environment-construction failure here is what
// spec.md §4.4 calls "port bind failure at startup": the caller must treat
// a non-nil error as fatal to this match without ever signaling ready.
func New(cfg Config) (*Server, error) {
	if cfg.AckGrace <= 0 {
		cfg.AckGrace = defaultAckGrace
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = defaultDisconnectGrace
	}

	e, err := cfg.EnvFactory(cfg.EnvConfig)
	if err != nil {
		return nil, fmt.Errorf("matchserver: construct environment: %w", err)
	}

	dims := e.ObservationNames()
	dimNames := make([]string, len(dims))
	for i, d := range dims {
		dimNames[i] = d.Name
	}
	store := dataframe.NewStore(cfg.Whitelist, cfg.EnvName, dimNames, cfg.DisconnectGrace)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("matchserver: listen on port %d: %w", cfg.Port, err)
	}

	s := &Server{cfg: cfg, env: e, store: store, listener: lis}
	s.grpc = grpc.NewServer()
	s.grpc.RegisterService(&dataframe.ServiceDesc, (dataframe.Server)(s))
	return s, nil
}

// Run starts accepting dataframe connections and drives Phase A, B, and C
// to completion. It blocks until the match is over; the janitor is the
// caller, and the janitor's "match server exit" wait is this call
// returning.
func (s *Server) Run() error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.grpc.Serve(s.listener) }()
	defer s.grpc.GracefulStop()

	log.Info("matchserver: listening on %s (env=%s, players=%d)", s.listener.Addr(), s.cfg.EnvName, s.env.MinPlayers())

	p := pacer.New(s.cfg.TickRate)

	seatToPID, err := s.runPhaseA(p)
	if err != nil {
		return err
	}
	log.Info("matchserver: all %d seats filled, starting play", len(seatToPID))

	s.writeInitialObservations(seatToPID)
	s.runPhaseB(p, seatToPID)

	log.Info("matchserver: match complete, tearing down")
	return nil
}

// runPhaseA waits until env.MinPlayers() distinct seats are filled,
// assigning Number in join order, and drops any player that disconnects
// before being seated.
func (s *Server) runPhaseA(p *pacer.Pacer) (map[int]int64, error) {
	need := s.env.MinPlayers()
	assigned := make(map[int64]int)
	for len(assigned) < need {
		p.Tick()
		for _, pr := range s.store.Players() {
			if _, done := assigned[pr.PID]; done {
				continue
			}
			if !s.store.IsConnected(pr.PID) {
				_ = s.store.Leave(pr.PID)
				continue
			}
			if len(assigned) >= need {
				break
			}
			seat := len(assigned)
			if err := s.store.SetSeat(pr.PID, seat); err != nil {
				continue
			}
			assigned[pr.PID] = seat
		}
	}

	out := make(map[int]int64, need)
	for pid, seat := range assigned {
		out[seat] = pid
	}
	return out, nil
}

// writeInitialObservations populates every seat's record with the
// environment's declared fields, zero-valued per field type, before Phase
// B's first turn. Without this, a player whose seat goes on turn first
// would have its Observations field still nil from Join — spec.md §4.7's
// Reset must return "the dictionary of {dimension_name: value} for all
// declared fields," not an empty map.
func (s *Server) writeInitialObservations(seatToPID map[int]int64) {
	dims := s.env.ObservationNames()
	for _, pid := range seatToPID {
		_ = s.store.WriteObservation(pid, zeroObservation(dims), 0)
	}
}

func zeroObservation(dims []env.Dimension) map[string]interface{} {
	out := make(map[string]interface{}, len(dims))
	for _, d := range dims {
		switch d.Type {
		case "int":
			out[d.Name] = 0
		case "float":
			out[d.Name] = 0.0
		case "bool":
			out[d.Name] = false
		case "bytes":
			out[d.Name] = []byte(nil)
		default: // "string" and anything unrecognized
			out[d.Name] = ""
		}
	}
	return out
}

// runPhaseB runs turns until the environment reports terminal (or a
// catastrophic Step error forces a draw), then waits for acknowledgements.
func (s *Server) runPhaseB(p *pacer.Pacer, seatToPID map[int]int64) {
	for {
		seat := s.env.NextPlayer()
		pid := seatToPID[seat]

		s.waitForTurn(p, pid)

		var action []byte
		if s.store.IsConnected(pid) {
			a, err := s.store.ConsumeAction(pid)
			if err == nil {
				action = a
			}
		} else {
			_ = s.store.SetTurn(pid, false)
		}

		result, err := s.env.Step(seat, action)
		if err != nil {
			log.Error("matchserver: environment step failed, ending match as a draw: %v", err)
			s.store.SetTerminal(nil)
			s.waitForAcknowledgements(p)
			return
		}

		for obsSeat, obs := range result.Observations {
			obsPID, ok := seatToPID[obsSeat]
			if !ok {
				continue
			}
			_ = s.store.WriteObservation(obsPID, obs, result.Rewards[obsSeat])
		}
		if !s.cfg.ObservationsOnly {
			s.store.SetSerializedState(s.env.SerializeState())
		}

		if result.Terminal {
			s.store.SetTerminal(result.Winners)
			s.waitForAcknowledgements(p)
			return
		}
	}
}

// waitForTurn blocks until the seat's occupant is ready to act. In realtime
// mode it waits exactly one tick, after which the occupant's committed
// action is applied (nil, the no-op, if it committed none since its last
// turn). Once the occupant is found disconnected it returns after the
// current tick and a no-op action is substituted.
func (s *Server) waitForTurn(p *pacer.Pacer, pid int64) {
	_ = s.store.SetTurn(pid, true)
	for {
		p.Tick()
		if s.cfg.Realtime {
			return
		}
		if !s.store.IsConnected(pid) {
			return
		}
		pr, ok := s.store.GetPlayer(pid)
		if !ok || pr.ReadyForAction {
			return
		}
	}
}

func (s *Server) waitForAcknowledgements(p *pacer.Pacer) {
	deadline := time.Now().Add(s.cfg.AckGrace)
	for !s.store.AllAcknowledged() && time.Now().Before(deadline) {
		p.Tick()
	}
}

// --- dataframe.Server implementation: the client-facing RPC surface ---

func (s *Server) Join(ctx context.Context, req *dataframe.JoinRequest) (*dataframe.JoinReply, error) {
	pr, err := s.store.Join(req.Token, req.Name)
	if err != nil {
		return nil, err
	}
	dims := s.env.ObservationNames()
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return &dataframe.JoinReply{PID: pr.PID, DimensionNames: names}, nil
}

func (s *Server) Pull(ctx context.Context, req *dataframe.PullRequest) (*dataframe.PullReply, error) {
	pr, clock, state, err := s.store.Pull(req.PID)
	if err != nil {
		return nil, err
	}
	return &dataframe.PullReply{Player: pr, PlayerClock: clock, State: state}, nil
}

func (s *Server) Commit(ctx context.Context, req *dataframe.CommitRequest) (*dataframe.CommitReply, error) {
	if err := s.store.Commit(req.PID, req.Action, req.Ready, req.AcknowledgesGameOver, req.SinceClock); err != nil {
		return nil, err
	}
	return &dataframe.CommitReply{}, nil
}

func (s *Server) Leave(ctx context.Context, req *dataframe.LeaveRequest) (*dataframe.LeaveReply, error) {
	if err := s.store.Leave(req.PID); err != nil {
		return nil, err
	}
	return &dataframe.LeaveReply{}, nil
}
