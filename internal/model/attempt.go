package model

import "time"

// ErrorKind classifies a failed enrichment attempt.
type ErrorKind string

const (
	// ErrorKindNone marks attempts that returned a value (accepted or rejected).
	ErrorKindNone ErrorKind = ""
	// ErrorKindNotFound means the provider had no value for the field.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindTransient covers timeouts, network failures and provider
	// errors. Transient failures always fall through to the next candidate.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindLowConfidence means the provider answered but the confidence
	// did not clear the effective threshold.
	ErrorKindLowConfidence ErrorKind = "low_confidence"
	// ErrorKindUnavailable marks the single attempt written when no
	// candidate in a waterfall was callable (all excluded, disabled,
	// unknown, or unsupported). It carries no provider name.
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// EnrichmentAttempt is one append-only provenance row: a single provider
// consultation for one (run, record, field). Every waterfall step writes
// exactly one attempt, winner or not, which is what makes replay and
// regression diagnosis possible.
type EnrichmentAttempt struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	RawRecordID string    `json:"raw_record_id"`
	Field       FieldName `json:"field"`
	Provider    string    `json:"provider"`
	Priority    int       `json:"priority"`
	InputValue  any       `json:"input_value,omitempty"`
	OutputValue any       `json:"output_value,omitempty"`
	Confidence  float64   `json:"confidence"`
	Accepted    bool      `json:"accepted"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResolvedField is an accepted value inside an EnrichedRecord.
type ResolvedField struct {
	Value      any     `json:"value"`
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
}

// EnrichedRecord is the engine's per-run output for one raw record.
// Later runs supersede earlier ones; prior outputs stay queryable for
// lineage. An unresolved field is listed explicitly so "attempted but
// failed" is never ambiguous with "not attempted".
type EnrichedRecord struct {
	RawRecordID      string                      `json:"raw_record_id"`
	RunID            string                      `json:"run_id"`
	Fields           map[FieldName]ResolvedField `json:"fields"`
	UnresolvedFields []FieldName                 `json:"unresolved_fields,omitempty"`
	QualityScore     float64                     `json:"quality_score"`
	Promotable       bool                        `json:"promotable"`
	CreatedAt        time.Time                   `json:"created_at"`
}
