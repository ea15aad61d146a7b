// Package auth is the access gate in front of the scoring and dashboard
// operations. Operators log in with a configured username and bcrypt
// password hash and receive an opaque session token; the gate only answers
// whether a presented token belongs to a live session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a
// wrong password; callers cannot tell the two apart.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Gate decides whether a session token may call protected operations.
type Gate interface {
	Authorized(ctx context.Context, token string) bool
}

// AllowAll admits every caller. It is installed when AUTH_DISABLED is set.
type AllowAll struct{}

func (AllowAll) Authorized(context.Context, string) bool { return true }

// SessionManager issues and checks session tokens.
type SessionManager struct {
	users map[string][]byte
	store SessionStore
	ttl   time.Duration
}

// NewSessionManager builds a manager over users (name to bcrypt hash).
func NewSessionManager(users map[string]string, store SessionStore, ttl time.Duration) (*SessionManager, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("no users configured")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	m := &SessionManager{users: make(map[string][]byte, len(users)), store: store, ttl: ttl}
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %s: invalid bcrypt hash: %w", name, err)
		}
		m.users[name] = []byte(hash)
	}
	return m, nil
}

// ParseUsers reads "name:hash,name:hash". Hashes contain no commas.
func ParseUsers(list string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("malformed user entry %q, want name:bcrypt-hash", entry)
		}
		if _, dup := users[name]; dup {
			return nil, fmt.Errorf("duplicate user %q", name)
		}
		users[name] = hash
	}
	return users, nil
}

// Login checks the password and opens a session.
func (m *SessionManager) Login(ctx context.Context, user, password string) (string, error) {
	hash, ok := m.users[user]
	if !ok {
		// Burn comparable time so unknown users are not distinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		log.Info().Str("user", user).Msg("Login rejected")
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := m.store.Put(ctx, token, user, m.ttl); err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	log.Info().Str("user", user).Msg("Session opened")
	return token, nil
}

// Logout ends the session. Unknown tokens are ignored.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, token)
}

// Authorized reports whether token names a live session. Store failures
// deny access.
func (m *SessionManager) Authorized(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	_, ok, err := m.store.Get(ctx, token)
	if err != nil {
		log.Error().Err(err).Msg("Session lookup failed")
		return false
	}
	return ok
}

// HashPassword is a helper for provisioning AUTH_USERS entries.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)
