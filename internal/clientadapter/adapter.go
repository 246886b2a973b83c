// Package clientadapter hides the dataframe's Join/Pull/Commit/Leave
// polling loop behind a synchronous reset/step/close facade (component
// C8), the shape a reinforcement-learning agent loop expects.
package clientadapter

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rlarena/matchcore/internal/clocks"
	"github.com/rlarena/matchcore/internal/dataframe"
	"github.com/rlarena/matchcore/internal/pacer"
	_ "github.com/rlarena/matchcore/internal/rpcutil" // registers the gob wire codec
)

// StepResult is what Step hands back to the agent loop.
type StepResult struct {
	Observations map[string]interface{}
	Reward       float64
	Done         bool
	Winners      []int
}

// Adapter is one player's connection to one match's dataframe.
type Adapter struct {
	conn   *grpc.ClientConn
	client *dataframe.Client
	pacer  *pacer.Pacer
	pid    int64

	// knownClock is this adapter's high-water mark over every PlayerClock
	// it has pulled, folded in with Merge rather than simply overwritten —
	// a transport that could reorder two Pull replies would otherwise let
	// an older clock regress what gets reported as SinceClock on the next
	// Commit. Its String form is carried into the next Commit so the
	// store can detect a commit decision based on a stale read.
	knownClock *clocks.Vector

	DimensionNames []string
}

// Dial connects to a match server at address, joins with the given
// whitelisted token, and paces its own polling loop at clientTickRateHz —
// independent of the match server's own tick rate, per spec.md §4.9.
func Dial(ctx context.Context, address, token, name string, clientTickRateHz int) (*Adapter, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("clientadapter: dial %s: %w", address, err)
	}

	client := dataframe.NewClient(conn)
	reply, err := client.Join(ctx, &dataframe.JoinRequest{Token: token, Name: name})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientadapter: join: %w", err)
	}

	return &Adapter{
		conn:           conn,
		client:         client,
		pacer:          pacer.New(clientTickRateHz),
		pid:            reply.PID,
		knownClock:     clocks.New(),
		DimensionNames: reply.DimensionNames,
	}, nil
}

// Reset blocks until this player's seat is on turn (or the match is
// already over at join time — an edge case for a client that reconnects
// late) and returns the first observation it can act on.
func (a *Adapter) Reset(ctx context.Context) (map[string]interface{}, error) {
	pr, state, err := a.waitForTurnOrTerminal(ctx)
	if err != nil {
		return nil, err
	}
	if state.Terminal {
		_ = a.acknowledge(ctx)
	}
	return pr.Observations, nil
}

// Step commits an action for this player's turn and blocks until the
// environment has produced the next observation or the match has ended.
func (a *Adapter) Step(ctx context.Context, action []byte) (StepResult, error) {
	if err := a.commit(ctx, action, true, false); err != nil {
		return StepResult{}, err
	}

	pr, state, err := a.waitForTurnOrTerminal(ctx)
	if err != nil {
		return StepResult{}, err
	}

	result := StepResult{
		Observations: pr.Observations,
		Reward:       pr.RewardFromLastTurn,
		Done:         state.Terminal,
	}
	if state.Terminal {
		result.Winners = dataframe.DecodeWinners(state.Winners)
		if err := a.acknowledge(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// GetServerState returns the match's singleton server-state record: the
// environment's class name, its declared observation dimensions, whether
// the match has gone terminal, the winning seats (empty until terminal),
// and the environment's serialized state (empty in observations-only
// mode). A caller may call this at any point in the match's lifetime, not
// just after Reset/Step.
func (a *Adapter) GetServerState(ctx context.Context) (envClassName string, envDimensions []string, terminal bool, winners []int, serializedState []byte, err error) {
	reply, err := a.client.Pull(ctx, &dataframe.PullRequest{PID: a.pid})
	if err != nil {
		return "", nil, false, nil, nil, fmt.Errorf("clientadapter: pull: %w", err)
	}
	a.mergeClock(reply.PlayerClock)

	state := reply.State
	return state.EnvClassName, state.EnvDimensions, state.Terminal, dataframe.DecodeWinners(state.Winners), state.SerializedState, nil
}

// Close leaves the match (deleting this player's record) and tears down the
// connection. It does not acknowledge game-over; Step and Reset do that
// when they observe a terminal state.
func (a *Adapter) Close(ctx context.Context) error {
	defer a.conn.Close()
	if _, err := a.client.Leave(ctx, &dataframe.LeaveRequest{PID: a.pid}); err != nil {
		return fmt.Errorf("clientadapter: leave: %w", err)
	}
	return nil
}

func (a *Adapter) commit(ctx context.Context, action []byte, ready, ack bool) error {
	_, err := a.client.Commit(ctx, &dataframe.CommitRequest{
		PID: a.pid, Action: action, Ready: ready, AcknowledgesGameOver: ack,
		SinceClock: a.knownClock.String(),
	})
	if err != nil {
		return fmt.Errorf("clientadapter: commit: %w", err)
	}
	return nil
}

func (a *Adapter) acknowledge(ctx context.Context) error {
	return a.commit(ctx, nil, false, true)
}

// mergeClock folds a PlayerClock pulled from the server into knownClock.
func (a *Adapter) mergeClock(playerClock string) {
	pulled := clocks.New()
	if err := pulled.FromString(playerClock); err != nil {
		return
	}
	a.knownClock.Merge(pulled)
}

// waitForTurnOrTerminal polls Pull at the adapter's own tick rate until the
// match has gone terminal, or this player's record shows turn=true AND
// ready_for_action=false — the composite predicate spec.md §4.7/§5
// requires, since turn alone is still true on the very next Pull after
// this adapter's own Step committed ready=true (the server has not yet
// consumed and cleared it). Checking turn alone would return the prior
// turn's stale observation and reward one step early.
func (a *Adapter) waitForTurnOrTerminal(ctx context.Context) (dataframe.PlayerRecord, dataframe.ServerStateRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return dataframe.PlayerRecord{}, dataframe.ServerStateRecord{}, ctx.Err()
		default:
		}

		a.pacer.Tick()

		reply, err := a.client.Pull(ctx, &dataframe.PullRequest{PID: a.pid})
		if err != nil {
			return dataframe.PlayerRecord{}, dataframe.ServerStateRecord{}, fmt.Errorf("clientadapter: pull: %w", err)
		}
		a.mergeClock(reply.PlayerClock)
		if reply.State.Terminal || (reply.Player.Turn && !reply.Player.ReadyForAction) {
			return reply.Player, reply.State, nil
		}
	}
}
