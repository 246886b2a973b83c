package env

import (
	"fmt"
	"strconv"
	"strings"
)

// testEnv is the reference environment registered under the name "test",
// the CLI default. Each round every seat submits a single bit (0 or 1);
// seats that land on the round's majority value score a point. After a
// configured number of rounds the environment is terminal and the seats
// with the highest score are declared winners.
//
// Config string format: "players=N,rounds=R" (either key may be omitted;
// defaults are 2 players, 5 rounds).
type testEnv struct {
	players int
	rounds  int

	round       int
	current     int
	roundChoice map[int]int
	scores      []int
	terminal    bool
}

func init() {
	Register("test", newTestEnv)
}

func newTestEnv(config string) (Environment, error) {
	players, rounds := 2, 5
	for _, kv := range strings.Split(config, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("test env: bad config component %q", kv)
		}
		val, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("test env: bad config value %q: %w", kv, err)
		}
		switch strings.TrimSpace(parts[0]) {
		case "players":
			players = val
		case "rounds":
			rounds = val
		default:
			return nil, fmt.Errorf("test env: unknown config key %q", parts[0])
		}
	}
	if players < 1 {
		return nil, fmt.Errorf("test env: players must be >= 1, got %d", players)
	}
	if rounds < 1 {
		return nil, fmt.Errorf("test env: rounds must be >= 1, got %d", rounds)
	}
	return &testEnv{
		players:     players,
		rounds:      rounds,
		roundChoice: make(map[int]int, players),
		scores:      make([]int, players),
	}, nil
}

func (e *testEnv) MinPlayers() int { return e.players }

func (e *testEnv) ObservationNames() []Dimension {
	return []Dimension{
		{Name: "round", Type: "int"},
		{Name: "score", Type: "int"},
	}
}

func (e *testEnv) NextPlayer() int {
	return e.current
}

func (e *testEnv) Step(seat int, action []byte) (StepResult, error) {
	if e.terminal {
		return StepResult{}, fmt.Errorf("test env: step called after terminal")
	}
	if seat != e.current {
		return StepResult{}, fmt.Errorf("test env: step for seat %d, expected seat %d", seat, e.current)
	}

	choice := 0
	if len(action) > 0 && action[0] != 0 {
		choice = 1
	}
	e.roundChoice[seat] = choice

	result := StepResult{
		Observations: make(map[int]map[string]interface{}, e.players),
		Rewards:      make(map[int]float64, e.players),
	}

	isLastOfRound := e.current == e.players-1
	if isLastOfRound {
		ones := 0
		for _, c := range e.roundChoice {
			ones += c
		}
		majority := 0
		if ones*2 > e.players {
			majority = 1
		}
		for s := 0; s < e.players; s++ {
			if e.roundChoice[s] == majority {
				e.scores[s]++
				result.Rewards[s] = 1.0
			} else {
				result.Rewards[s] = 0.0
			}
		}
		e.roundChoice = make(map[int]int, e.players)
		e.round++
		e.current = 0

		if e.round >= e.rounds {
			e.terminal = true
			result.Terminal = true
			result.Winners = e.leaders()
		}
	} else {
		for s := 0; s < e.players; s++ {
			result.Rewards[s] = 0.0
		}
		e.current++
	}

	for s := 0; s < e.players; s++ {
		result.Observations[s] = map[string]interface{}{
			"round": e.round,
			"score": e.scores[s],
		}
	}
	return result, nil
}

func (e *testEnv) leaders() []int {
	best := -1
	for _, s := range e.scores {
		if s > best {
			best = s
		}
	}
	var winners []int
	for seat, s := range e.scores {
		if s == best {
			winners = append(winners, seat)
		}
	}
	return winners
}

func (e *testEnv) SerializeState() []byte {
	parts := make([]string, 0, e.players+2)
	parts = append(parts, fmt.Sprintf("round=%d", e.round))
	for s, score := range e.scores {
		parts = append(parts, fmt.Sprintf("seat%d=%d", s, score))
	}
	return []byte(strings.Join(parts, ","))
}
