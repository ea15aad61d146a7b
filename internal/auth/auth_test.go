package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newManager(t *testing.T, store SessionStore) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(map[string]string{"officer": testHash(t, "s3cret")}, store, time.Hour)
	require.NoError(t, err)
	return m
}

func TestSessionManager_LoginLogout(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, NewMemorySessionStore())

	assert.False(t, m.Authorized(ctx, ""))
	assert.False(t, m.Authorized(ctx, "made-up-token"))

	token, err := m.Login(ctx, "officer", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, m.Authorized(ctx, token))

	other, err := m.Login(ctx, "officer", "s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	require.NoError(t, m.Logout(ctx, token))
	assert.False(t, m.Authorized(ctx, token))
	assert.True(t, m.Authorized(ctx, other))
	assert.NoError(t, m.Logout(ctx, ""))
}

func TestSessionManager_RejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, NewMemorySessionStore())

	testCases := []struct {
		name, user, password string
	}{
		{"wrong password", "officer", "guess"},
		{"unknown user", "intruder", "s3cret"},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Login(ctx, tc.user, tc.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestNewSessionManager_Validation(t *testing.T) {
	_, err := NewSessionManager(nil, NewMemorySessionStore(), time.Hour)
	assert.Error(t, err)

	_, err = NewSessionManager(map[string]string{"a": "plaintext"}, NewMemorySessionStore(), time.Hour)
	assert.Error(t, err)

	_, err = NewSessionManager(map[string]string{"a": testHash(t, "x")}, NewMemorySessionStore(), 0)
	assert.Error(t, err)
}

func TestParseUsers(t *testing.T) {
	users, err := ParseUsers(" alice:$2a$04$abc , bob:$2a$04$def,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "$2a$04$abc", "bob": "$2a$04$def"}, users)

	for _, bad := range []string{"alice", "alice:", ":hash", "a:x,a:y"} {
		_, err := ParseUsers(bad)
		assert.Error(t, err, bad)
	}
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "tok", "officer", time.Minute))
	user, ok, err := s.Get(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "officer", user)

	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySessionStore_PutSweepsAbandonedSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore()
	s.now = func() time.Time { return now }

	for _, tok := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, tok, "officer", time.Minute))
	}
	require.NoError(t, s.Put(ctx, "long", "officer", time.Hour))
	assert.Equal(t, 4, s.Len())

	// Within the sweep interval nothing is scanned.
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Put(ctx, "d", "officer", time.Second))
	assert.Equal(t, 5, s.Len())

	now = now.Add(sweepInterval)
	require.NoError(t, s.Put(ctx, "e", "officer", time.Minute))
	assert.Equal(t, 2, s.Len(), "expired tokens never presented again must be dropped")

	user, ok, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "officer", user)
}

func TestRedisSessionStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ctx := context.Background()
	s, err := NewRedisSessionStore(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	m := newManager(t, s)
	token, err := m.Login(ctx, "officer", "s3cret")
	require.NoError(t, err)
	assert.True(t, m.Authorized(ctx, token))
	assert.True(t, mr.Exists(sessionKeyPrefix+token))

	mr.FastForward(2 * time.Hour)
	assert.False(t, m.Authorized(ctx, token))

	token, err = m.Login(ctx, "officer", "s3cret")
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, token))
	assert.False(t, m.Authorized(ctx, token))
}

func TestRedisSessionStore_OutageDeniesAccess(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	ctx := context.Background()
	s, err := NewRedisSessionStore(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	m := newManager(t, s)
	token, err := m.Login(ctx, "officer", "s3cret")
	require.NoError(t, err)

	mr.Close()
	assert.False(t, m.Authorized(ctx, token))
}

func TestNewRedisSessionStore_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisSessionStore(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestAllowAll(t *testing.T) {
	var g Gate = AllowAll{}
	assert.True(t, g.Authorized(context.Background(), ""))
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}
