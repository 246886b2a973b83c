package dataframe

import (
	"errors"
	"sync"
	"time"

	"github.com/rlarena/matchcore/internal/clocks"
	"github.com/rlarena/matchcore/internal/log"
)

// ErrBadToken is returned by Join when the presented token is not on the
// match's whitelist, or has already been consumed by another player.
var ErrBadToken = errors.New("dataframe: token not whitelisted or already used")

// ErrNoSuchPlayer is returned when an operation names a pid the store
// doesn't hold.
var ErrNoSuchPlayer = errors.New("dataframe: no such player")

const serverWriterID = "server"

type playerRow struct {
	record    PlayerRecord
	connected bool
	lastSeen  time.Time
	clock     *clocks.Vector
}

// Store is the authoritative in-memory dataframe for one match. The match
// server is its sole writer for ServerState and for the cross-player
// bookkeeping fields; each client is the sole writer of its own action,
// ReadyForAction, and AcknowledgesGameOver — the writer-partitioning
// spec.md §4.8 relies on instead of needing stronger consistency.
type Store struct {
	mu sync.Mutex

	whitelist map[string]bool // token -> still available
	players   map[int64]*playerRow
	nextPID   int64

	state      ServerStateRecord
	stateClock *clocks.Vector

	disconnectGrace time.Duration
}

// NewStore creates a store whose whitelist admits exactly the given
// tokens, one join each.
func NewStore(whitelist []string, envClassName string, envDimensions []string, disconnectGrace time.Duration) *Store {
	wl := make(map[string]bool, len(whitelist))
	for _, t := range whitelist {
		wl[t] = true
	}
	return &Store{
		whitelist: wl,
		players:   make(map[int64]*playerRow),
		nextPID:   1,
		state: ServerStateRecord{
			EnvClassName:  envClassName,
			EnvDimensions: envDimensions,
		},
		stateClock:      clocks.New(serverWriterID),
		disconnectGrace: disconnectGrace,
	}
}

// Join admits a new player if token is whitelisted and unused, inserting
// its record. Implements spec.md §9's option (a): filtering happens before
// any record exists, not after.
func (s *Store) Join(token, name string) (PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used, known := s.whitelist[token]
	if !known || !used {
		return PlayerRecord{}, ErrBadToken
	}
	s.whitelist[token] = false // consumed

	pid := s.nextPID
	s.nextPID++

	row := &playerRow{
		record: PlayerRecord{
			PID:    pid,
			Name:   name,
			Number: -1,
		},
		connected: true,
		lastSeen:  time.Now(),
		clock:     clocks.New(serverWriterID, name),
	}
	row.clock.Tick(name)
	s.players[pid] = row
	return row.record, nil
}

// Pull returns a consistent snapshot of one player's record plus the
// server-state record, together with the record's current vector-clock
// stamp. Touches lastSeen so the match server's disconnect detector sees
// this client as alive.
func (s *Store) Pull(pid int64) (PlayerRecord, string, ServerStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.players[pid]
	if !ok {
		return PlayerRecord{}, "", ServerStateRecord{}, ErrNoSuchPlayer
	}
	row.lastSeen = time.Now()
	// Copy detaches the stamp from the live clock before it's handed to
	// the caller, matching §4.8(ii)'s "a reader sees a consistent
	// snapshot" — the formatted string below reflects this Pull's moment,
	// not whatever the match server ticks it to next.
	snapshot := row.clock.Copy()
	return row.record, snapshot.String(), s.state, nil
}

// Commit writes the client-owned fields of one player's record: action,
// readyForAction, and acknowledgesGameOver. This is the only path a client
// may use to mutate shared state, per the writer partition.
//
// sinceClock is the PlayerClock the caller's decision was based on (from
// its last Pull); if the record's clock has advanced past it, the server
// mutated the record after that Pull and before this Commit, so the
// commit is based on a stale read — logged, not rejected, since the
// writer partition means this never corrupts data, only the caller's
// decision may be one tick behind. An empty sinceClock (e.g. a caller
// that never pulled) skips the check.
func (s *Store) Commit(pid int64, action []byte, ready bool, acknowledgesGameOver bool, sinceClock string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.players[pid]
	if !ok {
		return ErrNoSuchPlayer
	}
	if sinceClock != "" {
		seen := clocks.New()
		if err := seen.FromString(sinceClock); err != nil {
			log.Warn("dataframe: commit for pid %d (%s) carried an unparseable clock %q: %v",
				pid, row.record.Name, sinceClock, err)
		} else if seen.HappensBefore(row.clock) {
			ids, values := row.clock.ToSlice()
			log.Warn("dataframe: stale commit for pid %d (%s): based on clock %q, record has since moved to ids=%v values=%v",
				pid, row.record.Name, sinceClock, ids, values)
		}
	}
	row.record.Action = action
	row.record.ReadyForAction = ready
	if acknowledgesGameOver {
		row.record.AcknowledgesGameOver = true
	}
	row.lastSeen = time.Now()
	row.clock.Tick(row.record.Name)
	return nil
}

// Leave deletes a player's record (the teardown half of the client
// adapter's close).
func (s *Store) Leave(pid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[pid]; !ok {
		return ErrNoSuchPlayer
	}
	delete(s.players, pid)
	return nil
}

// --- Server-side mutation API, called in-process by the match server ---

// Players returns a snapshot of every current player record, ordered by
// PID (insertion order).
func (s *Store) Players() []PlayerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PlayerRecord, 0, len(s.players))
	for pid := int64(1); pid < s.nextPID; pid++ {
		if row, ok := s.players[pid]; ok {
			out = append(out, row.record)
		}
	}
	return out
}

// GetPlayer returns a snapshot of one player's record.
func (s *Store) GetPlayer(pid int64) (PlayerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.players[pid]
	if !ok {
		return PlayerRecord{}, false
	}
	return row.record, true
}

// Count reports how many player records currently exist.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// IsConnected reports whether pid has been seen within the configured
// disconnect grace period.
func (s *Store) IsConnected(pid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.players[pid]
	if !ok {
		return false
	}
	return time.Since(row.lastSeen) <= s.disconnectGrace
}

// SetSeat assigns a player's seat number (Phase A admission order).
func (s *Store) SetSeat(pid int64, number int) error {
	return s.mutate(pid, func(r *PlayerRecord) { r.Number = number })
}

// SetTurn sets or clears a player's turn flag.
func (s *Store) SetTurn(pid int64, turn bool) error {
	return s.mutate(pid, func(r *PlayerRecord) { r.Turn = turn })
}

// ConsumeAction reads back the pending action and clears Action,
// ReadyForAction and Turn in the same step, per spec.md §4.4 Phase B step 3
// ("atomically within one commit").
func (s *Store) ConsumeAction(pid int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.players[pid]
	if !ok {
		return nil, ErrNoSuchPlayer
	}
	action := row.record.Action
	row.record.Action = nil
	row.record.ReadyForAction = false
	row.record.Turn = false
	row.clock.Tick(serverWriterID)
	return action, nil
}

// WriteObservation writes one seat's post-step observation fields and
// reward.
func (s *Store) WriteObservation(pid int64, observations map[string]interface{}, reward float64) error {
	return s.mutate(pid, func(r *PlayerRecord) {
		r.Observations = observations
		r.RewardFromLastTurn = reward
	})
}

func (s *Store) mutate(pid int64, fn func(*PlayerRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.players[pid]
	if !ok {
		return ErrNoSuchPlayer
	}
	fn(&row.record)
	row.clock.Tick(serverWriterID)
	return nil
}

// SetTerminal writes the terminal ServerState transition.
func (s *Store) SetTerminal(winners []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Terminal = true
	s.state.Winners = EncodeWinners(winners)
	s.stateClock.Tick(serverWriterID)
}

// SetSerializedState writes ServerState.serialized_state. In
// observations-only mode the match server simply never calls this, so the
// field stays at its empty default.
func (s *Store) SetSerializedState(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SerializedState = data
	s.stateClock.Tick(serverWriterID)
}

// AllAcknowledged reports whether every still-connected player has set
// AcknowledgesGameOver.
func (s *Store) AllAcknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.players {
		if !row.connected {
			continue
		}
		if time.Since(row.lastSeen) > s.disconnectGrace {
			continue
		}
		if !row.record.AcknowledgesGameOver {
			return false
		}
	}
	return true
}
