package matchmaker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rlarena/matchcore/internal/env"
	"github.com/rlarena/matchcore/internal/frontend"
	"github.com/rlarena/matchcore/internal/rankingstore"
)

func newTestCore(t *testing.T, maxGames int) (*Core, *rankingstore.Store) {
	t.Helper()
	store, err := rankingstore.Open(filepath.Join(t.TempDir(), "ranking.db"))
	if err != nil {
		t.Fatalf("rankingstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	factory, err := env.Lookup("test")
	if err != nil {
		t.Fatalf("env.Lookup(\"test\") error = %v", err)
	}

	core, err := New(store, Options{
		Hostname:     "127.0.0.1",
		StartingPort: 21000 + maxGames*10,
		MaxGames:     maxGames,
		EnvName:      "test",
		EnvFactory:   factory,
		EnvConfig:    "players=2,rounds=1",
		TickRate:     200,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	go core.Run()
	t.Cleanup(core.Shutdown)
	return core, store
}

func getMatch(t *testing.T, core *Core, username, password string) *frontend.QuickMatchReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := core.GetMatch(ctx, &frontend.QuickMatchRequest{
		Username: username,
		Password: rankingstore.HashPassword([]byte(password), []byte(username)),
	})
	if err != nil {
		t.Fatalf("GetMatch(%q) error = %v", username, err)
	}
	return reply
}

func TestTwoPlayersFormACohort(t *testing.T) {
	core, _ := newTestCore(t, 2)

	type result struct {
		reply *frontend.QuickMatchReply
	}
	results := make(chan result, 2)
	for _, u := range []string{"alice", "bob"} {
		u := u
		go func() { results <- result{getMatch(t, core, u, "pw")} }()
	}

	first := <-results
	second := <-results

	if first.reply.Server == "FAIL" || second.reply.Server == "FAIL" {
		t.Fatalf("cohort replies: %+v %+v, want both successful", first.reply, second.reply)
	}
	if first.reply.Server != second.reply.Server {
		t.Fatalf("cohort members assigned different servers: %q vs %q", first.reply.Server, second.reply.Server)
	}
	if first.reply.AuthKey == second.reply.AuthKey {
		t.Fatalf("cohort members given the same auth token")
	}
}

func TestDuplicateLoginIsRejected(t *testing.T) {
	core, _ := newTestCore(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// carol alone never forms a cohort (min players is 2), so she stays
	// parked in the queue while we attempt a second login.
	firstDone := make(chan *frontend.QuickMatchReply, 1)
	go func() {
		reply, _ := core.GetMatch(ctx, &frontend.QuickMatchRequest{
			Username: "carol",
			Password: rankingstore.HashPassword([]byte("pw"), []byte("carol")),
		})
		firstDone <- reply
	}()

	time.Sleep(50 * time.Millisecond) // let the first login land

	second := getMatch(t, core, "carol", "pw")
	if second.Server != "FAIL" {
		t.Fatalf("second concurrent login for carol = %+v, want Server=FAIL", second)
	}
}

func TestAdminStatusReportsQueueAndPorts(t *testing.T) {
	core, _ := newTestCore(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go core.GetMatch(ctx, &frontend.QuickMatchRequest{
		Username: "dora",
		Password: rankingstore.HashPassword([]byte("pw"), []byte("dora")),
	})
	time.Sleep(50 * time.Millisecond)

	status, err := core.AdminStatus(context.Background(), &frontend.AdminStatusRequest{})
	if err != nil {
		t.Fatalf("AdminStatus() error = %v", err)
	}
	found := false
	for _, u := range status.QueueUsernames {
		if u == "dora" {
			found = true
		}
	}
	if !found {
		t.Fatalf("AdminStatus().QueueUsernames = %v, want to contain \"dora\"", status.QueueUsernames)
	}
}

func TestShutdownDrainsWaitingQueue(t *testing.T) {
	store, err := rankingstore.Open(filepath.Join(t.TempDir(), "ranking.db"))
	if err != nil {
		t.Fatalf("rankingstore.Open() error = %v", err)
	}
	defer store.Close()

	factory, err := env.Lookup("test")
	if err != nil {
		t.Fatalf("env.Lookup(\"test\") error = %v", err)
	}
	core, err := New(store, Options{
		Hostname:     "127.0.0.1",
		StartingPort: 21900,
		MaxGames:     1,
		EnvName:      "test",
		EnvFactory:   factory,
		EnvConfig:    "players=2,rounds=1",
		TickRate:     200,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	go core.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	replyCh := make(chan *frontend.QuickMatchReply, 1)
	go func() {
		reply, _ := core.GetMatch(ctx, &frontend.QuickMatchRequest{
			Username: "erin",
			Password: rankingstore.HashPassword([]byte("pw"), []byte("erin")),
		})
		replyCh <- reply
	}()
	time.Sleep(50 * time.Millisecond)

	core.Shutdown()

	select {
	case reply := <-replyCh:
		if reply == nil || reply.Server != "FAIL" {
			t.Fatalf("waiting request's reply after shutdown = %+v, want Server=FAIL", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiting request was never answered after Shutdown()")
	}

	result, err := store.Login("erin", rankingstore.HashPassword([]byte("pw"), []byte("erin")))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result != rankingstore.Ok {
		t.Fatalf("Login(\"erin\") after drain = %v, want Ok (shutdown must log off queued users)", result)
	}
}
