package client_test

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/client"
	"palaver/internal/filestore"
	httpapi "palaver/internal/http"
	"palaver/internal/models"
	"palaver/internal/presence"
	"palaver/internal/router"
	"palaver/internal/session"
	"palaver/internal/storage"
	"palaver/internal/ws"

	"github.com/stretchr/testify/require"
)

type testUser struct {
	id     string
	client *client.Client
}

type testServer struct {
	login    func(username string) testUser
	registry *presence.Registry
}

// startServer brings up the full server stack on an httptest listener
// and returns a factory for logged-in clients.
func startServer(t *testing.T) *testServer {
	t.Helper()

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewAuthService(context.Background(), auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("client-test-secret")),
		TokenExpiry: time.Hour,
	}, store)
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	images := filestore.NewResolver(files, "http://localhost:8080/")

	registry := presence.NewRegistry()
	rt := router.New(store, registry, images.Resolve)

	server := httptest.NewServer(httpapi.NewMux(
		api.New(authService, rt, files),
		ws.NewServer(authService, registry),
	))
	t.Cleanup(server.Close)

	login := func(username string) testUser {
		credentials, err := authService.AddUser(username, username, "pw")
		require.NoError(t, err)
		resp := authService.Login(auth.LoginRequest{Username: username, Password: "pw"})
		require.True(t, resp.Success)
		return testUser{id: credentials.ID, client: client.New(server.URL, resp.Token)}
	}

	return &testServer{login: login, registry: registry}
}

// waitOnline blocks until userID has a registered push connection.
func (s *testServer) waitOnline(t *testing.T, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup(userID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFetchHistoryAndSend(t *testing.T) {
	srv := startServer(t)
	alice := srv.login("alice")
	bob := srv.login("bob")
	ctx := context.Background()

	conv := models.DirectConversation(bob.id)

	sent, err := alice.client.Send(ctx, conv, models.MessagePayload{Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, alice.id, sent.SenderID)
	require.Equal(t, bob.id, sent.ReceiverID)

	history, err := bob.client.FetchHistory(ctx, models.DirectConversation(alice.id))
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, sent.ID, history[0].ID)
}

func TestErrorMapping(t *testing.T) {
	srv := startServer(t)
	alice := srv.login("alice")
	ctx := context.Background()

	_, err := alice.client.Send(ctx, models.DirectConversation("no-such-user"), models.MessagePayload{Text: "hi"})
	require.ErrorIs(t, err, models.ErrNotFound)

	bob := srv.login("bob")
	_, err = alice.client.Send(ctx, models.DirectConversation(bob.id), models.MessagePayload{})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestSessionOverClient(t *testing.T) {
	srv := startServer(t)
	alice := srv.login("alice")
	bob := srv.login("bob")
	ctx := context.Background()

	// Alice drives a session against the live server; bob talks to the
	// REST surface directly.
	sess := session.New(alice.id, alice.client, alice.client, alice.client)

	_, err := bob.client.Send(ctx, models.DirectConversation(alice.id), models.MessagePayload{Text: "before select"})
	require.NoError(t, err)

	require.NoError(t, sess.Select(ctx, models.DirectConversation(bob.id)))
	require.Equal(t, session.Subscribed, sess.State())
	require.Len(t, sess.History(), 1)
	srv.waitOnline(t, alice.id)

	// A message sent while subscribed arrives through the push channel.
	pushed, err := bob.client.Send(ctx, models.DirectConversation(alice.id), models.MessagePayload{Text: "live"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history := sess.History()
		return len(history) == 2 && history[1].ID == pushed.ID
	}, 2*time.Second, 20*time.Millisecond)

	// Alice's own send lands once, via the canonical response.
	own, err := sess.Send(ctx, models.MessagePayload{Text: "reply"})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond) // window for an (unwanted) echo
	history := sess.History()
	require.Len(t, history, 3)
	require.Equal(t, own.ID, history[2].ID)

	sess.Deselect()
	require.Equal(t, session.Unselected, sess.State())
}
