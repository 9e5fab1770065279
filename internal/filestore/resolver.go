package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"palaver/internal/models"

	"github.com/h2non/filetype"
)

// Resolver turns raw inbound image content (base64 or a data URL)
// into a stored file and a servable URL string. Messages persist the
// URL, never the raw bytes.
type Resolver struct {
	store   FileStore
	baseURL string
}

func NewResolver(store FileStore, baseURL string) *Resolver {
	return &Resolver{
		store:   store,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Resolve stores the image and returns its URL. An empty input
// resolves to an empty URL (message without image).
func (r *Resolver) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	encoded := raw
	if strings.HasPrefix(raw, "data:") {
		_, after, found := strings.Cut(raw, ";base64,")
		if !found {
			return "", fmt.Errorf("%w: unsupported data URL encoding", models.ErrValidation)
		}
		encoded = after
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: image is not valid base64", models.ErrValidation)
	}

	if !filetype.IsImage(data) {
		return "", fmt.Errorf("%w: content is not an image", models.ErrValidation)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if err := r.store.Save(bytes.NewReader(data), hash); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	return r.baseURL + "/files/" + hash, nil
}

// ContentType sniffs the mime type of stored file content for
// serving. Unknown content falls back to octet-stream.
func ContentType(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
