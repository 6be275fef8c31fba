// Package docstore is the read-only boundary with the document store.
// Fetch failures are transient job-level errors; the worker retries them
// through normal redelivery.
package docstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store fetches document content by reference
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FileStore serves documents from a base directory. References are
// slash-separated paths relative to the root.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed document store
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("document reference %q escapes the store root", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %q: %w", ref, err)
	}
	return data, nil
}

// HTTPStore fetches documents from an object-store HTTP gateway
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates an HTTP-backed document store
func NewHTTPStore(baseURL string, timeout time.Duration) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u := s.baseURL + "/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %q: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document store returned status %d for %q", resp.StatusCode, ref)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %q: %w", ref, err)
	}
	return data, nil
}
