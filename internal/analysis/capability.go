// Package analysis defines the boundary with the external content
// analysis capability. The capability is opaque: it accepts a document
// reference plus options and returns a verdict or a classified error.
package analysis

import (
	"context"
)

// Request is the input contract of the analysis capability
type Request struct {
	DocumentRef string `json:"document_ref"`
	Content     []byte `json:"content,omitempty"`
	Options     string `json:"options,omitempty"` // JSON-encoded batch options
}

// Verdict is the output contract of the analysis capability
type Verdict struct {
	Verdict         string  `json:"verdict"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Capability executes content analysis for one document. Implementations
// must complete within the caller's context deadline; overruns are
// classified as retryable timeouts.
type Capability interface {
	Analyze(ctx context.Context, req Request) (*Verdict, error)
}
