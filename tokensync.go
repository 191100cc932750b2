package tokensync

import (
	"encoding/json"
	"time"
)

// TokenRecord is one token row extracted from a source database,
// together with the result of its enrichment fetch.
//
// A record is created by the extractor,
// mutated in place by exactly one enrichment worker,
// and handed to the central store, which does not retain it.
type TokenRecord struct {
	SourceIdentity string
	NodeName       string

	// IdentityKey is TokenID when present,
	// otherwise "rowid:<n>" for the source row it came from.
	IdentityKey string

	DID           *string
	TokenID       *string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	Status        *string
	ParentTokenID *string
	TokenValue    *string

	EnrichmentPayload *string
	EnrichmentFetched bool
	EnrichmentError   *string

	SourcePath         string
	EndpointPath       *string
	SourceLastModified time.Time
	SyncedAt           time.Time

	ValidationErrors []string
}

// Limits applied by Validate.
const (
	MaxTokenIDLen = 500
	MaxDIDLen     = 1000
	MaxPayloadLen = 50000
)

// Validate recomputes r.ValidationErrors and reports whether the record is clean.
// Validation problems are recorded on the row; they never keep it out of the central store.
func (r *TokenRecord) Validate() bool {
	r.ValidationErrors = nil
	switch {
	case r.TokenID == nil:
		r.ValidationErrors = append(r.ValidationErrors, "missing or empty token_id")
	case len(*r.TokenID) > MaxTokenIDLen:
		r.ValidationErrors = append(r.ValidationErrors, "token_id exceeds maximum length (500)")
	}
	if r.DID != nil && len(*r.DID) > MaxDIDLen {
		r.ValidationErrors = append(r.ValidationErrors, "did exceeds maximum length (1000)")
	}
	if r.EnrichmentFetched && r.EnrichmentPayload != nil && len(*r.EnrichmentPayload) > MaxPayloadLen {
		r.ValidationErrors = append(r.ValidationErrors, "enrichment payload exceeds size limit (50000)")
	}
	return len(r.ValidationErrors) == 0
}

// ValidationText serializes ValidationErrors for storage.
// It returns nil when there are none.
func (r *TokenRecord) ValidationText() *string {
	if len(r.ValidationErrors) == 0 {
		return nil
	}
	b, err := json.Marshal(r.ValidationErrors)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// SetEnrichment marks r as successfully enriched with payload.
func (r *TokenRecord) SetEnrichment(payload string) {
	r.EnrichmentFetched = true
	r.EnrichmentError = nil
	if payload == "" {
		r.EnrichmentPayload = nil
	} else {
		r.EnrichmentPayload = &payload
	}
}

// SetEnrichmentError marks r as not enriched, recording msg.
func (r *TokenRecord) SetEnrichmentError(msg string) {
	r.EnrichmentFetched = false
	r.EnrichmentPayload = nil
	r.EnrichmentError = &msg
}

// ProcessedSource is the incremental-sync bookkeeping row for one source database.
type ProcessedSource struct {
	SourcePath             string
	LastModified           time.Time
	LastProcessed          time.Time
	RecordCount            int
	EnrichmentSuccessCount int
	EnrichmentFailCount    int
	ValidationErrorCount   int
	ProcessingDuration     time.Duration
}

// SessionStatus is the state of a SyncSession.
type SessionStatus string

// Session states.
const (
	StatusRunning     SessionStatus = "RUNNING"
	StatusCompleted   SessionStatus = "COMPLETED"
	StatusFailed      SessionStatus = "FAILED"
	StatusInterrupted SessionStatus = "INTERRUPTED"
)

// Counters are the aggregate outcome counters of a sync run.
type Counters struct {
	SourcesFound      int
	SourcesProcessed  int
	RecordsProcessed  int
	EnrichmentSuccess int
	EnrichmentFail    int
	StoreInserts      int
	StoreErrors       int
	ValidationErrors  int
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.SourcesFound += other.SourcesFound
	c.SourcesProcessed += other.SourcesProcessed
	c.RecordsProcessed += other.RecordsProcessed
	c.EnrichmentSuccess += other.EnrichmentSuccess
	c.EnrichmentFail += other.EnrichmentFail
	c.StoreInserts += other.StoreInserts
	c.StoreErrors += other.StoreErrors
	c.ValidationErrors += other.ValidationErrors
}

// SyncSession is one orchestrator run.
// Only the orchestrator writes it.
type SyncSession struct {
	SessionID      string
	StartTime      time.Time
	EndTime        *time.Time
	SourceIdentity string
	Counters
	Status       SessionStatus
	ErrorSummary []string
}

// ErrorSummaryText serializes the error summary for storage as a JSON array.
// It returns nil when there are no errors.
func (s *SyncSession) ErrorSummaryText() *string {
	if len(s.ErrorSummary) == 0 {
		return nil
	}
	b, err := json.Marshal(s.ErrorSummary)
	if err != nil {
		return nil
	}
	text := string(b)
	return &text
}

// Str returns the value of p, or "" if p is nil.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
