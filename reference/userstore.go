// Package reference is a worked implementation of smtpfsm.Handler: a small
// in-memory mailbox sink backed by an on-disk, scrypt-hashed user store,
// SASL username normalization, and an advisory SPF check. It exists to
// exercise the engine end to end and to give the domain dependencies that
// have no home in the core (crypto/x509-adjacent password hashing,
// precis normalization, SPF) a concrete caller.
package reference

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/scrypt"

	"overcaffeinated.net/go/smtpfsm/internal/safeio"
)

// scrypt parameters. Fixed rather than exposed as a tunable: there is
// exactly one supported scheme here, following the recommendations from
// the scrypt paper.
const (
	scryptLogN  = 14
	scryptR     = 8
	scryptP     = 1
	scryptKeyLen = 32
	saltLen     = 16
)

// scryptRecord is one user's stored credential. Persisted as JSON rather
// than as a textproto-encoded protobuf message (see DESIGN.md for why).
type scryptRecord struct {
	Salt      []byte `json:"salt"`
	Encrypted []byte `json:"encrypted"`
}

func (r scryptRecord) matches(plain string) bool {
	dk, err := scrypt.Key([]byte(plain), r.Salt, 1<<scryptLogN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		// Parameters are fixed and validated at record-creation time, so
		// this can only mean something is badly wrong with the runtime.
		panic(fmt.Sprintf("reference: scrypt failed: %v", err))
	}
	return subtle.ConstantTimeCompare(dk, r.Encrypted) == 1
}

// UserStore is a small on-disk user database, one scrypt-hashed password
// per normalized username. Safe for concurrent use within one process; not
// safe for concurrent use across processes sharing the same file.
type UserStore struct {
	fname string
	mu    sync.RWMutex
	users map[string]scryptRecord
}

// NewUserStore returns an empty store bound to fname. Use LoadUserStore to
// read an existing file instead, or Write to create one.
func NewUserStore(fname string) *UserStore {
	return &UserStore{fname: fname, users: map[string]scryptRecord{}}
}

// LoadUserStore reads fname, returning an empty (but usable) store if the
// file does not yet exist.
func LoadUserStore(fname string) (*UserStore, error) {
	s := NewUserStore(fname)
	data, err := os.ReadFile(fname)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, err
	}
	return s, nil
}

// Write persists the store to its file, overwriting it completely. The
// write is atomic: a crash or concurrent reader never observes a partially
// written file.
func (s *UserStore) Write() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	return safeio.WriteFile(s.fname, data, 0o600)
}

// AddUser hashes plainPassword with scrypt and stores it under the given
// (already-normalized) username, overwriting any existing entry.
func (s *UserStore) AddUser(username, plainPassword string) error {
	salt := make([]byte, saltLen)
	if n, err := rand.Read(salt); n != saltLen || err != nil {
		return fmt.Errorf("reference: failed to generate salt: %w", err)
	}
	encrypted, err := scrypt.Key([]byte(plainPassword), salt, 1<<scryptLogN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("reference: scrypt failed: %w", err)
	}

	s.mu.Lock()
	s.users[username] = scryptRecord{Salt: salt, Encrypted: encrypted}
	s.mu.Unlock()
	return nil
}

// RemoveUser deletes username from the store, reporting whether it was
// present.
func (s *UserStore) RemoveUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.users[username]
	delete(s.users, username)
	return present
}

// Exists reports whether username has a record.
func (s *UserStore) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, present := s.users[username]
	return present
}

// Authenticate reports whether plainPassword matches the stored hash for
// username. A missing username always fails rather than erroring.
func (s *UserStore) Authenticate(username, plainPassword string) bool {
	s.mu.RLock()
	rec, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return rec.matches(plainPassword)
}
