// Package matchmaker is the matchmaker core (component C6): it
// authenticates incoming requests, pools them into match-sized cohorts,
// allocates ports, spawns janitors, and replies with server coordinates
// and a per-player auth token.
//
// A single goroutine (Run) owns the waiting deque, the port queue, and the
// semaphore; concurrent callers of GetMatch only ever touch a channel, so
// arrivals are serialized through the core exactly as spec.md §4.3
// requires.
package matchmaker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rlarena/matchcore/internal/env"
	"github.com/rlarena/matchcore/internal/frontend"
	"github.com/rlarena/matchcore/internal/janitor"
	"github.com/rlarena/matchcore/internal/log"
	"github.com/rlarena/matchcore/internal/rankingstore"
)

// Options configures a Core at construction time.
type Options struct {
	Hostname         string
	StartingPort     int
	MaxGames         int
	EnvName          string
	EnvFactory       env.Factory
	EnvConfig        string
	TickRate         int
	Realtime         bool
	ObservationsOnly bool
}

type coreRequest struct {
	origUsername string
	username     string
	passwordHash []byte
	reply        chan *frontend.QuickMatchReply
}

type waitingEntry struct {
	req   coreRequest
	token string
}

type activeMatch struct {
	port      int
	usernames []string
	startedAt time.Time
}

// Core is the matchmaker's request-handling engine.
type Core struct {
	store      *rankingstore.Store
	opts       Options
	minPlayers int

	requestCh    chan coreRequest
	shutdownCh   chan struct{}
	shutdownDone chan struct{}

	sem       chan struct{}
	freePorts chan int
	numPorts  int

	mu     sync.Mutex
	waitUN []string // usernames currently waiting, for AdminStatus
	active map[int]*activeMatch
}

// New probes the configured port range and returns a ready-to-run Core, or
// a fatal configuration error if fewer than MaxGames ports are free.
func New(store *rankingstore.Store, opts Options) (*Core, error) {
	probe, err := opts.EnvFactory(opts.EnvConfig)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: construct environment %q: %w", opts.EnvName, err)
	}
	minPlayers := probe.MinPlayers()
	if minPlayers < 1 {
		return nil, fmt.Errorf("matchmaker: environment %q declares min_players=%d, must be >= 1", opts.EnvName, minPlayers)
	}

	maxPort := opts.StartingPort + 2*opts.MaxGames
	freePorts := make(chan int, 2*opts.MaxGames)
	count := 0
	for port := opts.StartingPort; port < maxPort; port++ {
		if portIsFree(port) {
			freePorts <- port
			count++
		} else {
			log.Warn("matchmaker: skipping port %d, already in use", port)
		}
	}
	if count < opts.MaxGames {
		return nil, fmt.Errorf("matchmaker: port range %d-%d has only %d free ports, need %d",
			opts.StartingPort, maxPort, count, opts.MaxGames)
	}

	return &Core{
		store:        store,
		opts:         opts,
		minPlayers:   minPlayers,
		requestCh:    make(chan coreRequest),
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
		sem:          make(chan struct{}, opts.MaxGames),
		freePorts:    freePorts,
		numPorts:     count,
		active:       make(map[int]*activeMatch),
	}, nil
}

func portIsFree(port int) bool {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	lis.Close()
	return true
}

// GetMatch implements frontend.Server: it forwards the request onto the
// core's internal channel and waits for the core's reply.
func (c *Core) GetMatch(ctx context.Context, req *frontend.QuickMatchRequest) (*frontend.QuickMatchReply, error) {
	cr := coreRequest{
		origUsername: req.Username,
		username:     strings.ToLower(req.Username),
		passwordHash: req.Password,
		reply:        make(chan *frontend.QuickMatchReply, 1),
	}
	select {
	case c.requestCh <- cr:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reply := <-cr.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AdminStatus implements frontend.Server: a read-only operator snapshot.
func (c *Core) AdminStatus(ctx context.Context, _ *frontend.AdminStatusRequest) (*frontend.AdminStatusReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply := &frontend.AdminStatusReply{
		QueueUsernames: append([]string(nil), c.waitUN...),
		FreePorts:      len(c.freePorts),
		InUsePorts:     c.numPorts - len(c.freePorts),
	}
	for _, m := range c.active {
		reply.Matches = append(reply.Matches, frontend.MatchStatus{
			Port:           m.port,
			Usernames:      append([]string(nil), m.usernames...),
			ElapsedSeconds: time.Since(m.startedAt).Seconds(),
		})
	}
	return reply, nil
}

// Shutdown stops the request loop from accepting new cohorts, drains the
// waiting deque, and blocks until Run has returned.
func (c *Core) Shutdown() {
	close(c.shutdownCh)
	<-c.shutdownDone
}

// Run is the matchmaker's single owning goroutine. It must be started
// exactly once.
func (c *Core) Run() {
	var queue []waitingEntry
	defer close(c.shutdownDone)

	for {
		select {
		case <-c.shutdownCh:
			c.drain(queue)
			return
		case req := <-c.requestCh:
			var stop bool
			queue, stop = c.handleRequest(req, queue)
			if stop {
				c.drain(queue)
				return
			}
		}
	}
}

// handleRequest runs spec.md §4.3's request-handling algorithm for one
// arrival: login, enqueue, and fill as many cohorts as the queue now
// supports. It returns stop=true if a shutdown was observed while blocked
// acquiring a semaphore slot — in which case the entry that would have
// been popped is still in queue (pop only ever happens after a successful
// acquire), so no cohort is ever leaked.
func (c *Core) handleRequest(req coreRequest, queue []waitingEntry) ([]waitingEntry, bool) {
	result, err := c.store.Login(req.username, req.passwordHash)
	if err != nil {
		log.Error("matchmaker: login(%q) failed: %v", req.username, err)
		req.reply <- &frontend.QuickMatchReply{Username: req.origUsername, Server: "FAIL", Response: "Internal error."}
		return queue, false
	}

	if result == rankingstore.NoUser {
		if err := c.store.Set(req.username, req.passwordHash); err != nil {
			log.Error("matchmaker: set(%q) failed: %v", req.username, err)
			req.reply <- &frontend.QuickMatchReply{Username: req.origUsername, Server: "FAIL", Response: "Internal error."}
			return queue, false
		}
		result, err = c.store.Login(req.username, req.passwordHash)
		if err != nil {
			log.Error("matchmaker: login(%q) failed after set: %v", req.username, err)
			req.reply <- &frontend.QuickMatchReply{Username: req.origUsername, Server: "FAIL", Response: "Internal error."}
			return queue, false
		}
	}

	switch result {
	case rankingstore.AlreadyLoggedIn:
		req.reply <- &frontend.QuickMatchReply{
			Username: req.origUsername, Server: "FAIL",
			Response: "Failed to login: Cannot login twice at the same time.",
		}
		return queue, false
	case rankingstore.WrongPassword:
		req.reply <- &frontend.QuickMatchReply{
			Username: req.origUsername, Server: "FAIL",
			Response: "Failed to login: Wrong password.",
		}
		return queue, false
	}

	token, err := newToken()
	if err != nil {
		log.Error("matchmaker: token generation failed: %v", err)
		req.reply <- &frontend.QuickMatchReply{Username: req.origUsername, Server: "FAIL", Response: "Internal error."}
		return queue, false
	}

	queue = append(queue, waitingEntry{req: req, token: token})
	c.setWaiting(queue)

	for len(queue) >= c.minPlayers {
		select {
		case c.sem <- struct{}{}:
		case <-c.shutdownCh:
			return queue, true
		}

		cohort := queue[:c.minPlayers]
		queue = queue[c.minPlayers:]
		c.setWaiting(queue)

		c.startMatch(cohort)
	}

	return queue, false
}

func (c *Core) startMatch(cohort []waitingEntry) {
	port := <-c.freePorts
	whitelist := make([]string, len(cohort))
	usernames := make([]string, len(cohort))
	for i, m := range cohort {
		whitelist[i] = m.token
		usernames[i] = m.req.username
	}

	j := janitor.New(janitor.Config{
		Port:             port,
		TickRate:         c.opts.TickRate,
		Realtime:         c.opts.Realtime,
		ObservationsOnly: c.opts.ObservationsOnly,
		EnvName:          c.opts.EnvName,
		EnvFactory:       c.opts.EnvFactory,
		EnvConfig:        c.opts.EnvConfig,
		Whitelist:        whitelist,
		Usernames:        usernames,
	}, janitor.Deps{
		Store:       c.store,
		ReleasePort: func(p int) { c.freePorts <- p },
		ReleaseSlot: func() { <-c.sem },
		OnMatchEnded: func(p int) {
			c.mu.Lock()
			delete(c.active, p)
			c.mu.Unlock()
		},
	})
	j.Start()

	if err := <-j.Started; err != nil {
		for _, m := range cohort {
			m.req.reply <- &frontend.QuickMatchReply{
				Username: m.req.origUsername, Server: "FAIL",
				Response: "Match failed to start.",
			}
		}
		return
	}

	entries, err := c.store.GetMulti(usernames...)
	if err != nil {
		log.Error("matchmaker: get_multi failed: %v", err)
	}
	rankingByUser := make(map[string]float64, len(entries))
	for _, e := range entries {
		rankingByUser[e.Username] = e.Ranking
	}

	c.mu.Lock()
	c.active[port] = &activeMatch{port: port, usernames: usernames, startedAt: time.Now()}
	c.mu.Unlock()

	server := fmt.Sprintf("%s:%d", c.opts.Hostname, port)
	for _, m := range cohort {
		m.req.reply <- &frontend.QuickMatchReply{
			Username: m.req.origUsername,
			Server:   server,
			AuthKey:  m.token,
			Ranking:  rankingByUser[m.req.username],
			Response: "",
		}
	}
	log.Info("matchmaker: started match on %s for %v", server, usernames)
}

// drain logs off and fails every request still parked in the waiting
// deque, so shutdown never leaves a username stuck logged-in-in-queue.
func (c *Core) drain(queue []waitingEntry) {
	for _, e := range queue {
		if err := c.store.Logoff(e.req.username); err != nil {
			log.Error("matchmaker: logoff(%q) during shutdown failed: %v", e.req.username, err)
		}
		e.req.reply <- &frontend.QuickMatchReply{
			Username: e.req.origUsername, Server: "FAIL",
			Response: "Matchmaker is shutting down.",
		}
	}
	c.setWaiting(nil)
}

func (c *Core) setWaiting(queue []waitingEntry) {
	usernames := make([]string, len(queue))
	for i, e := range queue {
		usernames[i] = e.req.username
	}
	c.mu.Lock()
	c.waitUN = usernames
	c.mu.Unlock()
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
