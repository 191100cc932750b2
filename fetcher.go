package tokensync

import (
	"context"
	"errors"
	"fmt"
)

// Endpoint is the resolved content-store runtime environment for one node.
type Endpoint struct {
	// Dir is the content-store repository directory
	// (the value of IPFS_PATH for the node).
	Dir string

	// Binary is the content-store executable to use for this node.
	// Empty means the fetcher's default.
	Binary string
}

// Fetcher retrieves the enrichment payload for a content identifier,
// scoped to one node's endpoint.
//
// Implementations must honor ctx's deadline.
// Failures should be reported as a *FetchError so callers can classify them;
// any other error is treated as FetchUnknown.
type Fetcher interface {
	Fetch(ctx context.Context, ep Endpoint, id string) (string, error)
}

// FetchKind classifies an enrichment failure.
type FetchKind string

// Fetch failure kinds.
const (
	FetchTimeout   FetchKind = "timeout"
	FetchNotFound  FetchKind = "not found"
	FetchTransport FetchKind = "transport"
	FetchUnknown   FetchKind = "unknown"
)

// FetchError is a classified enrichment failure.
type FetchError struct {
	Kind   FetchKind
	Detail string
}

func (e *FetchError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ClassifyFetchError maps any error from a Fetcher to a *FetchError.
func ClassifyFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout}
	}
	return &FetchError{Kind: FetchUnknown, Detail: err.Error()}
}
