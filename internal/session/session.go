// Package session stores the bearer token and user identity between runs.
// It is the client-side analogue of the browser's local storage: the
// backend issues the token, we only hold on to it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSession = errors.New("internal/session: no stored session")

// User identifies the logged-in account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// Store is a file-backed session holder. The zero value is not usable;
// call New with the target path.
type Store struct {
	path string

	mu    sync.Mutex
	token string
	user  User
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load reads a previously saved session from disk. ErrNoSession is
// returned when no session file exists.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("internal/session: failed to read session file: %w", err)
	}

	var stored struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("internal/session: failed to decode session file: %w", err)
	}

	s.token = stored.Token
	s.user = stored.User
	return nil
}

// Save persists the token and user and keeps them in memory for the
// current process.
func (s *Store) Save(token string, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.user = user

	raw, err := json.Marshal(struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}{Token: token, User: user})
	if err != nil {
		return fmt.Errorf("internal/session: failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("internal/session: failed to create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("internal/session: failed to write session file: %w", err)
	}
	return nil
}

// Clear forgets the session in memory and on disk. Wired as the API
// client's unauthorized hook: a 401 from the backend lands here.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.user = User{}
	_ = os.Remove(s.path)
}

// Token returns the stored bearer token, empty when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// User returns the stored identity.
func (s *Store) User() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Active reports whether a token is present and, when the token is a
// well-formed JWT with an expiry claim, whether it is still valid.
func (s *Store) Active() bool {
	tok := s.Token()
	if tok == "" {
		return false
	}

	exp, err := tokenExpiry(tok)
	if err != nil {
		// Not every backend issues a parseable JWT; treat an opaque
		// token as usable and let the 401 path sort it out.
		return true
	}
	return exp.After(time.Now())
}

// tokenExpiry extracts the exp claim without verifying the signature.
// The client never holds the signing secret, so verification is the
// backend's job; we only need the claim for a local freshness check.
func tokenExpiry(tokenString string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, fmt.Errorf("internal/session: failed to parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("internal/session: exp claim is missing")
	}
	return claims.ExpiresAt.Time, nil
}
