// Package janitor owns the lifecycle of one match server (component C5):
// start it, signal ready, wait for it to finish, and release every
// resource it was holding — exactly once, on every exit path.
package janitor

import (
	"time"

	"github.com/rlarena/matchcore/internal/env"
	"github.com/rlarena/matchcore/internal/log"
	"github.com/rlarena/matchcore/internal/matchserver"
	"github.com/rlarena/matchcore/internal/rankingstore"
)

// Config is the per-match configuration the matchmaker core hands to a
// fresh Janitor.
type Config struct {
	Port             int
	TickRate         int
	Realtime         bool
	ObservationsOnly bool
	EnvName          string
	EnvFactory       env.Factory
	EnvConfig        string
	Whitelist        []string
	Usernames        []string
}

// Deps are the plain handles a Janitor releases on exit. They are passed
// at construction — a Janitor never holds a back-pointer to the
// matchmaker core itself.
type Deps struct {
	Store        *rankingstore.Store
	ReleasePort  func(port int)
	ReleaseSlot  func()
	OnMatchEnded func(port int) // optional: e.g. drop the port from an admin-status view
}

// Janitor runs one match server to completion in a goroutine.
type Janitor struct {
	cfg  Config
	deps Deps

	// Started receives the startup outcome exactly once: nil means the
	// match server is listening and Phase A is open; non-nil means the
	// match aborted before ever signaling ready (spec.md §4.4's "port
	// bind failure at startup").
	Started chan error
}

// New creates a Janitor for one cohort. Call Start to run it.
func New(cfg Config, deps Deps) *Janitor {
	return &Janitor{
		cfg:     cfg,
		deps:    deps,
		Started: make(chan error, 1),
	}
}

// Start launches the janitor's goroutine. It returns immediately; the
// caller should then select on Started.
func (j *Janitor) Start() {
	go j.run()
}

func (j *Janitor) run() {
	defer j.cleanup()

	srv, err := matchserver.New(matchserver.Config{
		Port:             j.cfg.Port,
		TickRate:         j.cfg.TickRate,
		Realtime:         j.cfg.Realtime,
		ObservationsOnly: j.cfg.ObservationsOnly,
		EnvName:          j.cfg.EnvName,
		EnvFactory:       j.cfg.EnvFactory,
		EnvConfig:        j.cfg.EnvConfig,
		Whitelist:        j.cfg.Whitelist,
	})
	if err != nil {
		log.Error("janitor: match on port %d failed to start: %v", j.cfg.Port, err)
		j.Started <- err
		// Cooldown before the port is returned to the pool, so a
		// transient bind conflict doesn't immediately get handed to the
		// next cohort.
		time.Sleep(500 * time.Millisecond)
		return
	}

	j.Started <- nil
	if err := srv.Run(); err != nil {
		log.Error("janitor: match on port %d exited with error: %v", j.cfg.Port, err)
	}
}

// cleanup releases the port, the semaphore slot, and logs off every cohort
// member. It runs exactly once via defer on every exit path of run.
func (j *Janitor) cleanup() {
	j.deps.ReleasePort(j.cfg.Port)
	for _, u := range j.cfg.Usernames {
		if err := j.deps.Store.Logoff(u); err != nil {
			log.Error("janitor: logoff %q failed: %v", u, err)
		}
	}
	j.deps.ReleaseSlot()
	if j.deps.OnMatchEnded != nil {
		j.deps.OnMatchEnded(j.cfg.Port)
	}
	log.Info("janitor: released port %d and logged off %v", j.cfg.Port, j.cfg.Usernames)
}
