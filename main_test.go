package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// seedUser creates credentials directly in the database while the
// server is not running, the same way the add-user command does.
func seedUser(t *testing.T, dbFile, username, password string) {
	t.Helper()

	bbStorage, err := storage.NewBboltStorage(dbFile)
	require.NoError(t, err)
	defer func() { _ = bbStorage.Close() }()

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("integration-secret")),
		TokenExpiry: time.Hour,
	}
	authService, err := auth.NewAuthService(context.Background(), authConfig, bbStorage)
	require.NoError(t, err)

	_, err = authService.AddUser(username, username, password)
	require.NoError(t, err)
}

func TestServerEndToEnd(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "palaver.db")
	addr := freeAddr(t)

	t.Setenv("PALAVER_DB", dbFile)
	t.Setenv("API_ADDR", addr)
	t.Setenv("BASE_URL", "http://"+addr)
	t.Setenv("UPLOADS_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("AUTH_SECRET", "integration-secret")
	t.Setenv("TOKEN_EXPIRY", "1h")

	seedUser(t, dbFile, "alice", "s3cret")
	seedUser(t, dbFile, "bob", "hunter2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, "")
	}()

	baseURL := "http://" + addr
	httpClient := &http.Client{Timeout: 2 * time.Second}

	login := func(username, password string) auth.LoginResponse {
		body, err := json.Marshal(auth.LoginRequest{Username: username, Password: password})
		require.NoError(t, err)

		var resp auth.LoginResponse
		require.Eventually(t, func() bool {
			r, err := httpClient.Post(baseURL+"/login", "application/json", bytes.NewReader(body))
			if err != nil {
				return false
			}
			defer func() { _ = r.Body.Close() }()
			if r.StatusCode != http.StatusOK {
				return false
			}
			return json.NewDecoder(r.Body).Decode(&resp) == nil
		}, 5*time.Second, 50*time.Millisecond)
		require.True(t, resp.Success)
		return resp
	}

	alice := login("alice", "s3cret")
	bob := login("bob", "hunter2")

	// Alice sends bob a direct message over the live server.
	sendBody, err := json.Marshal(map[string]any{"text": "integration hello", "isGroup": false})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/conversations/%s/messages", baseURL, bob.UserID), bytes.NewReader(sendBody))
	require.NoError(t, err)
	req.Header.Set("token", alice.Token)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	_ = resp.Body.Close()
	require.Equal(t, "integration hello", sent.Text)

	// Bob reads it back.
	req, err = http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/conversations/%s/messages?isGroup=false", baseURL, alice.UserID), nil)
	require.NoError(t, err)
	req.Header.Set("token", bob.Token)

	resp, err = httpClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	_ = resp.Body.Close()
	require.Len(t, history, 1)
	require.Equal(t, sent.ID, history[0].ID)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
