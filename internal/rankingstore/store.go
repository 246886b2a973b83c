// Package rankingstore is the thread-safe users+rankings+login-state store
// (component C2), backed by a local embedded SQLite database.
package rankingstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rlarena/matchcore/internal/log"
)

// DefaultRanking is assigned to a username the first time it is seen.
const DefaultRanking = 1000.0

// LoginResult enumerates the outcomes of Login.
type LoginResult int

const (
	Ok LoginResult = iota
	WrongPassword
	AlreadyLoggedIn
	NoUser
)

func (r LoginResult) String() string {
	switch r {
	case Ok:
		return "Ok"
	case WrongPassword:
		return "WrongPassword"
	case AlreadyLoggedIn:
		return "AlreadyLoggedIn"
	case NoUser:
		return "NoUser"
	default:
		return "Unknown"
	}
}

// UserEntry is one row returned by GetMulti.
type UserEntry struct {
	Username     string
	PasswordHash []byte
	Ranking      float64
}

// Store serializes every call through a single writer lock; contention is
// expected to be low since only the matchmaker's request loop calls it.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the SQLite file at path and ensures the
// user table exists. Every row's logged_in flag is reset to false, per the
// spec's "logged-in state is reset on startup" rule.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rankingstore: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("rankingstore: ping %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash BLOB,
	ranking REAL,
	logged_in BOOLEAN
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rankingstore: create schema: %w", err)
	}
	if _, err := db.Exec(`UPDATE users SET logged_in = 0`); err != nil {
		db.Close()
		return nil, fmt.Errorf("rankingstore: reset logged_in: %w", err)
	}

	log.Info("rankingstore: opened %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HashPassword computes SHA-256(password || username), the wire and
// storage form of a user's credential. Order-sensitive in (password,
// username), per spec.
func HashPassword(password, username []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(username)
	return h.Sum(nil)
}

// Set inserts a new user with the default ranking, logged out. A no-op if
// the username already exists.
func (s *Store) Set(username string, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO users (username, password_hash, ranking, logged_in) VALUES (?, ?, ?, 0)
		 ON CONFLICT(username) DO NOTHING`,
		username, passwordHash, DefaultRanking,
	)
	return err
}

// Login atomically checks the password and flips logged_in to true on
// success.
func (s *Store) Login(username string, passwordHash []byte) (LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var storedHash []byte
	var loggedIn bool
	row := s.db.QueryRow(`SELECT password_hash, logged_in FROM users WHERE username = ?`, username)
	switch err := row.Scan(&storedHash, &loggedIn); {
	case err == sql.ErrNoRows:
		return NoUser, nil
	case err != nil:
		return Ok, err
	}

	if len(storedHash) != len(passwordHash) || subtle.ConstantTimeCompare(storedHash, passwordHash) != 1 {
		return WrongPassword, nil
	}
	if loggedIn {
		return AlreadyLoggedIn, nil
	}

	if _, err := s.db.Exec(`UPDATE users SET logged_in = 1 WHERE username = ?`, username); err != nil {
		return Ok, err
	}
	return Ok, nil
}

// Logoff clears logged_in. Idempotent: a not-logged-in or unknown user is a
// no-op.
func (s *Store) Logoff(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE users SET logged_in = 0 WHERE username = ?`, username)
	return err
}

// GetMulti performs a read-only bulk fetch of the given usernames. Missing
// usernames are silently omitted from the result.
func (s *Store) GetMulti(usernames ...string) ([]UserEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UserEntry, 0, len(usernames))
	for _, u := range usernames {
		var e UserEntry
		e.Username = u
		row := s.db.QueryRow(`SELECT password_hash, ranking FROM users WHERE username = ?`, u)
		if err := row.Scan(&e.PasswordHash, &e.Ranking); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateRanking adjusts a user's ranking by delta. Present for completeness
// per spec; not invoked by the matchmaking core itself.
func (s *Store) UpdateRanking(username string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE users SET ranking = ranking + ? WHERE username = ?`, delta, username)
	return err
}
