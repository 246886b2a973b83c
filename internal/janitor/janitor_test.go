package janitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rlarena/matchcore/internal/env"
	"github.com/rlarena/matchcore/internal/rankingstore"
)

func openTestStore(t *testing.T) *rankingstore.Store {
	t.Helper()
	s, err := rankingstore.Open(filepath.Join(t.TempDir(), "ranking.db"))
	if err != nil {
		t.Fatalf("rankingstore.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newConfig(t *testing.T, port int, usernames, whitelist []string) Config {
	factory, err := env.Lookup("test")
	if err != nil {
		t.Fatalf("env.Lookup(\"test\") error = %v", err)
	}
	return Config{
		Port:       port,
		TickRate:   200,
		EnvName:    "test",
		EnvFactory: factory,
		EnvConfig:  "players=1,rounds=1",
		Whitelist:  whitelist,
		Usernames:  usernames,
	}
}

func TestCleanupRunsExactlyOnceOnBindFailure(t *testing.T) {
	store := openTestStore(t)
	for _, u := range []string{"alice"} {
		if err := store.Set(u, rankingstore.HashPassword([]byte("pw"), []byte(u))); err != nil {
			t.Fatalf("Set(%q) error = %v", u, err)
		}
		if _, err := store.Login(u, rankingstore.HashPassword([]byte("pw"), []byte(u))); err != nil {
			t.Fatalf("Login(%q) error = %v", u, err)
		}
	}

	cfg := newConfig(t, -1, []string{"alice"}, []string{"tok-a"}) // negative port: bind always fails

	var (
		releasedPort int
		releasedSlot int
		endedPort    = -999
	)
	j := New(cfg, Deps{
		Store:        store,
		ReleasePort:  func(p int) { releasedPort++ },
		ReleaseSlot:  func() { releasedSlot++ },
		OnMatchEnded: func(p int) { endedPort = p },
	})
	j.Start()

	select {
	case err := <-j.Started:
		if err == nil {
			t.Fatalf("Started sent nil error for a port bind that must fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Started never fired")
	}

	// cleanup runs via defer inside run's goroutine; give it a moment.
	deadline := time.Now().Add(time.Second)
	for releasedSlot == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if releasedPort != 1 {
		t.Fatalf("ReleasePort called %d times after a failed match start, want exactly 1", releasedPort)
	}
	if releasedSlot != 1 {
		t.Fatalf("ReleaseSlot called %d times after a failed match start, want exactly 1", releasedSlot)
	}
	if endedPort != -1 {
		t.Fatalf("OnMatchEnded port = %d, want %d", endedPort, -1)
	}

	entries, err := store.GetMulti("alice")
	if err != nil {
		t.Fatalf("GetMulti() error = %v", err)
	}
	_ = entries
	result, err := store.Login("alice", rankingstore.HashPassword([]byte("pw"), []byte("alice")))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result != rankingstore.Ok {
		t.Fatalf("Login() after janitor cleanup = %v, want Ok (alice should have been logged off)", result)
	}
}
