package tokensync

import "errors"

var (
	// ErrSourceUnreadable means a source database could not be opened or read at all.
	// Only that source is skipped.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrEndpointNotFound means no content-store endpoint exists for a node.
	// Enrichment is skipped for the node; its metadata is still captured.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrRunAborted means an infrastructure fault made continuing the run meaningless.
	ErrRunAborted = errors.New("run aborted")
)
