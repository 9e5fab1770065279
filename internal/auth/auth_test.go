package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	credentials map[string]UserCredentials
	tokens      map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		credentials: make(map[string]UserCredentials),
		tokens:      make(map[string]string),
	}
}

func (s *memStore) UpsertCredentials(c UserCredentials) error {
	s.credentials[c.UserName] = c
	return nil
}

func (s *memStore) ListCredentials() ([]UserCredentials, error) {
	out := make([]UserCredentials, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) UpsertToken(tokenHash, userID string) error {
	s.tokens[tokenHash] = userID
	return nil
}

func (s *memStore) DeleteToken(tokenHash string) error {
	delete(s.tokens, tokenHash)
	return nil
}

func (s *memStore) ListTokens() (map[string]string, error) {
	out := make(map[string]string, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("test-secret")),
		TokenExpiry: time.Hour,
	}
}

func newTestService(t *testing.T, store Store) *AuthService {
	t.Helper()
	as, err := NewAuthService(context.Background(), testConfig(), store)
	require.NoError(t, err)
	return as
}

func TestAddUserAndLogin(t *testing.T) {
	store := newMemStore()
	as := newTestService(t, store)

	credentials, err := as.AddUser("alice", "Alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, credentials.ID)
	require.NotEqual(t, "s3cret", credentials.PasswordHash)

	resp := as.Login(LoginRequest{Username: "alice", Password: "s3cret"})
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, credentials.ID, resp.UserID)

	userID, err := as.Identity(resp.Token)
	require.NoError(t, err)
	require.Equal(t, credentials.ID, userID)
}

func TestLogin_WrongPassword(t *testing.T) {
	as := newTestService(t, newMemStore())
	_, err := as.AddUser("alice", "Alice", "s3cret")
	require.NoError(t, err)

	resp := as.Login(LoginRequest{Username: "alice", Password: "wrong"})
	require.False(t, resp.Success)
	require.Empty(t, resp.Token)
}

func TestLogin_UnknownUser(t *testing.T) {
	as := newTestService(t, newMemStore())

	resp := as.Login(LoginRequest{Username: "nobody", Password: "x"})
	require.False(t, resp.Success)
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	as := newTestService(t, newMemStore())
	_, err := as.AddUser("alice", "Alice", "s3cret")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		as.Login(LoginRequest{Username: "alice", Password: "wrong"})
	}

	// Even the correct password is rejected while throttled.
	resp := as.Login(LoginRequest{Username: "alice", Password: "s3cret"})
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "Too many failed login attempts")
}

func TestAddUser_Duplicate(t *testing.T) {
	as := newTestService(t, newMemStore())
	_, err := as.AddUser("alice", "Alice", "one")
	require.NoError(t, err)

	_, err = as.AddUser("alice", "Alice Again", "two")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestIdentity_UnknownToken(t *testing.T) {
	as := newTestService(t, newMemStore())

	_, err := as.Identity("no-such-token")
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestTokenSurvivesRestart(t *testing.T) {
	store := newMemStore()
	as := newTestService(t, store)
	credentials, err := as.AddUser("alice", "Alice", "s3cret")
	require.NoError(t, err)

	resp := as.Login(LoginRequest{Username: "alice", Password: "s3cret"})
	require.True(t, resp.Success)

	// New service over the same store simulates a restart: only the
	// persisted token hash is available.
	restarted := newTestService(t, store)
	userID, err := restarted.Identity(resp.Token)
	require.NoError(t, err)
	require.Equal(t, credentials.ID, userID)
}

func TestLogoff(t *testing.T) {
	store := newMemStore()
	as := newTestService(t, store)
	_, err := as.AddUser("alice", "Alice", "s3cret")
	require.NoError(t, err)

	resp := as.Login(LoginRequest{Username: "alice", Password: "s3cret"})
	require.True(t, resp.Success)

	require.NoError(t, as.Logoff(resp.Token))

	_, err = as.Identity(resp.Token)
	require.ErrorIs(t, err, models.ErrForbidden)
	require.Empty(t, store.tokens)
}
