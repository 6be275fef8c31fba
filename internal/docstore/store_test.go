package docstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Fetch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0600))

	store, err := NewFileStore(root)
	require.NoError(t, err)

	data, err := store.Fetch(context.Background(), "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestFileStore_MissingDocument(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), "docs/missing.txt")
	assert.Error(t, err)
}

func TestFileStore_RejectsEscapingRefs(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), "../etc/passwd")
	assert.Error(t, err)

	_, err = store.Fetch(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestHTTPStore_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("content"))
	}))
	defer server.Close()

	store, err := NewHTTPStore(server.URL, time.Second)
	require.NoError(t, err)

	data, err := store.Fetch(context.Background(), "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}

func TestHTTPStore_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store, err := NewHTTPStore(server.URL, time.Second)
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), "docs/missing.txt")
	assert.Error(t, err)
}
