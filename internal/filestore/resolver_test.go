package filestore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

// Minimal valid PNG header followed by padding; enough for magic
// number sniffing.
var pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 16)...)

func newTestResolver(t *testing.T) (*Resolver, *LocalFileStore) {
	t.Helper()
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	return NewResolver(store, "http://localhost:8080/"), store
}

func TestResolve_EmptyInput(t *testing.T) {
	r, _ := newTestResolver(t)

	url, err := r.Resolve("")
	require.NoError(t, err)
	require.Empty(t, url)
}

func TestResolve_Base64Image(t *testing.T) {
	r, store := newTestResolver(t)

	url, err := r.Resolve(base64.StdEncoding.EncodeToString(pngBytes))
	require.NoError(t, err)

	sum := sha256.Sum256(pngBytes)
	hash := hex.EncodeToString(sum[:])
	require.Equal(t, "http://localhost:8080/files/"+hash, url)

	f, err := store.Get(hash)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	stored, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, pngBytes, stored)
}

func TestResolve_DataURL(t *testing.T) {
	r, _ := newTestResolver(t)

	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	url, err := r.Resolve(raw)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/files/"))
}

func TestResolve_Idempotent(t *testing.T) {
	r, _ := newTestResolver(t)
	raw := base64.StdEncoding.EncodeToString(pngBytes)

	url1, err := r.Resolve(raw)
	require.NoError(t, err)
	url2, err := r.Resolve(raw)
	require.NoError(t, err)
	require.Equal(t, url1, url2)
}

func TestResolve_RejectsNonImage(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(base64.StdEncoding.EncodeToString([]byte("just text")))
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestResolve_RejectsInvalidBase64(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve("%%% not base64 %%%")
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = r.Resolve("data:image/png;base32,whatever")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestContentType(t *testing.T) {
	require.Equal(t, "image/png", ContentType(pngBytes))
	require.Equal(t, "application/octet-stream", ContentType([]byte("plain text")))
}
