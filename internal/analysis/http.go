package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCapability invokes the analysis capability over HTTP. The endpoint
// accepts a Request as JSON and answers with a Verdict, or with an error
// body `{"kind": "...", "message": "..."}` on non-2xx status.
type HTTPCapability struct {
	endpoint string
	client   *http.Client
}

// NewHTTPCapability creates a capability client for the given endpoint
func NewHTTPCapability(endpoint string, timeout time.Duration) (*HTTPCapability, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPCapability{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Analyze posts the document to the capability endpoint and classifies
// the response
func (c *HTTPCapability) Analyze(ctx context.Context, req Request) (*Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewRejectedError("failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewTransientError("failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewTimeoutError("analysis did not complete within the job timeout", err)
		}
		return nil, NewTransientError("capability unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewTransientError("failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var verdict Verdict
		if err := json.Unmarshal(data, &verdict); err != nil {
			return nil, NewTransientError("malformed verdict response", err)
		}
		return &verdict, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, NewTimeoutError(errMessage(data, "capability timed out"), nil)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return nil, NewRejectedError(errMessage(data, "capability rejected the document"), nil)
	case resp.StatusCode >= 500:
		return nil, NewTransientError(errMessage(data, fmt.Sprintf("capability server error (status %d)", resp.StatusCode)), nil)
	default:
		return nil, NewTransientError(fmt.Sprintf("unexpected capability status %d", resp.StatusCode), nil)
	}
}

func errMessage(data []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fallback
}
