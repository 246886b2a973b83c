package env

import "testing"

func TestNewTestEnvDefaults(t *testing.T) {
	e, err := newTestEnv("")
	if err != nil {
		t.Fatalf("newTestEnv(\"\") error = %v", err)
	}
	te := e.(*testEnv)
	if te.players != 2 || te.rounds != 5 {
		t.Fatalf("defaults = players=%d rounds=%d, want 2, 5", te.players, te.rounds)
	}
}

func TestNewTestEnvParsesConfig(t *testing.T) {
	e, err := newTestEnv("players=3,rounds=2")
	if err != nil {
		t.Fatalf("newTestEnv() error = %v", err)
	}
	if e.MinPlayers() != 3 {
		t.Fatalf("MinPlayers() = %d, want 3", e.MinPlayers())
	}
}

func TestNewTestEnvRejectsBadConfig(t *testing.T) {
	tests := []string{"players=0", "rounds=0", "bogus=1", "players=notanumber"}
	for _, cfg := range tests {
		if _, err := newTestEnv(cfg); err == nil {
			t.Errorf("newTestEnv(%q) = nil error, want error", cfg)
		}
	}
}

func TestTestEnvPlaysToTerminal(t *testing.T) {
	e, err := newTestEnv("players=2,rounds=3")
	if err != nil {
		t.Fatalf("newTestEnv() error = %v", err)
	}

	var lastResult StepResult
	steps := 0
	for {
		seat := e.NextPlayer()
		action := []byte{0}
		if seat == 1 {
			action = []byte{1}
		}
		result, err := e.Step(seat, action)
		if err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		lastResult = result
		steps++
		if result.Terminal {
			break
		}
		if steps > 100 {
			t.Fatalf("environment never reached terminal after %d steps", steps)
		}
	}

	if steps != 2*3 {
		t.Fatalf("steps to terminal = %d, want %d (players * rounds)", steps, 2*3)
	}
	if len(lastResult.Winners) == 0 {
		t.Fatalf("terminal result has no winners")
	}
	for _, obs := range lastResult.Observations {
		if _, ok := obs["round"]; !ok {
			t.Errorf("observation missing \"round\" field: %+v", obs)
		}
		if _, ok := obs["score"]; !ok {
			t.Errorf("observation missing \"score\" field: %+v", obs)
		}
	}
}

func TestTestEnvRejectsStepForWrongSeat(t *testing.T) {
	e, err := newTestEnv("players=2,rounds=1")
	if err != nil {
		t.Fatalf("newTestEnv() error = %v", err)
	}
	if _, err := e.Step(1, []byte{0}); err == nil {
		t.Fatalf("Step() for seat 1 when seat 0 is next = nil error, want error")
	}
}

func TestTestEnvRejectsStepAfterTerminal(t *testing.T) {
	e, err := newTestEnv("players=1,rounds=1")
	if err != nil {
		t.Fatalf("newTestEnv() error = %v", err)
	}
	result, err := e.Step(0, []byte{1})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !result.Terminal {
		t.Fatalf("single-round, single-player env did not terminate on first step")
	}
	if _, err := e.Step(0, []byte{1}); err == nil {
		t.Fatalf("Step() after terminal = nil error, want error")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	factory, err := Lookup("test")
	if err != nil {
		t.Fatalf("Lookup(\"test\") error = %v", err)
	}
	if _, err := factory("players=2,rounds=1"); err != nil {
		t.Fatalf("factory() error = %v", err)
	}

	if _, err := Lookup("does-not-exist"); err == nil {
		t.Fatalf("Lookup(\"does-not-exist\") = nil error, want error")
	}
}
