package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCapability_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verdict":"clean","confidence_score":0.97}`))
	}))
	defer server.Close()

	cap, err := NewHTTPCapability(server.URL, time.Second)
	require.NoError(t, err)

	verdict, err := cap.Analyze(context.Background(), Request{DocumentRef: "docs/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "clean", verdict.Verdict)
	assert.InDelta(t, 0.97, verdict.ConfidenceScore, 0.0001)
}

func TestHTTPCapability_RejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"kind":"rejected","message":"unsupported format"}`))
	}))
	defer server.Close()

	cap, err := NewHTTPCapability(server.URL, time.Second)
	require.NoError(t, err)

	_, err = cap.Analyze(context.Background(), Request{DocumentRef: "docs/a.bin"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestHTTPCapability_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cap, err := NewHTTPCapability(server.URL, time.Second)
	require.NoError(t, err)

	_, err = cap.Analyze(context.Background(), Request{DocumentRef: "docs/a.pdf"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsTerminal(err))
}

func TestHTTPCapability_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cap, err := NewHTTPCapability(server.URL, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = cap.Analyze(ctx, Request{DocumentRef: "docs/slow.pdf"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestNewHTTPCapability_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPCapability("", time.Second)
	assert.Error(t, err)
}
