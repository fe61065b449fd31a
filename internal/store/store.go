// Package store persists the five logical tables of the enrichment system:
// raw records, waterfall rule versions, provenance attempts, enriched
// records, and pipeline runs, plus the replay queue. Two implementations
// exist: SQLite for single-host deployments and Postgres for shared ones.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/waxworks/trackline/internal/model"
)

// ErrNotFound is returned for lookups of unknown ids.
var ErrNotFound = eris.New("store: not found")

// RawRecordFilter selects raw records for a run. Listing is stable-ordered
// (collected_at, id) so checkpoint offsets survive process restarts.
type RawRecordFilter struct {
	Source         string           `json:"source,omitempty"`
	Kind           model.RecordKind `json:"kind,omitempty"`
	CollectedAfter *time.Time       `json:"collected_after,omitempty"`
	IDs            []string         `json:"ids,omitempty"`
	Limit          int              `json:"limit,omitempty"`
	Offset         int              `json:"offset,omitempty"`
}

// AttemptFilter selects provenance rows.
type AttemptFilter struct {
	RunID       string          `json:"run_id,omitempty"`
	RawRecordID string          `json:"raw_record_id,omitempty"`
	Field       model.FieldName `json:"field,omitempty"`
}

// RunFilter selects pipeline runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Type   model.RunType   `json:"type,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store is the persistence interface for the enrichment pipeline.
type Store interface {
	// Raw records (owned by ingestion; never mutated here)
	InsertRawRecord(ctx context.Context, rec model.RawRecord) (bool, error)
	InsertRawRecords(ctx context.Context, recs []model.RawRecord) (int64, error)
	GetRawRecord(ctx context.Context, id string) (*model.RawRecord, error)
	ListRawRecords(ctx context.Context, filter RawRecordFilter) ([]model.RawRecord, error)
	CountRawRecords(ctx context.Context, filter RawRecordFilter) (int64, error)

	// Waterfall rule versions (immutable once written)
	SaveRuleSet(ctx context.Context, set model.RuleSet) error
	GetRuleSet(ctx context.Context, version int64) (*model.RuleSet, error)
	LatestRuleSet(ctx context.Context) (*model.RuleSet, error)

	// Provenance (append-only, never deleted)
	AppendAttempt(ctx context.Context, attempt model.EnrichmentAttempt) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.EnrichmentAttempt, error)

	// Enriched records (superseded by later runs, never overwritten)
	SaveEnrichedRecord(ctx context.Context, rec model.EnrichedRecord) error
	HasEnrichedRecord(ctx context.Context, runID, rawRecordID string) (bool, error)
	LatestEnrichedRecord(ctx context.Context, rawRecordID string) (*model.EnrichedRecord, error)
	ListPromotable(ctx context.Context, limit int) ([]model.EnrichedRecord, error)

	// Pipeline runs
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	UpdateRun(ctx context.Context, run *model.PipelineRun) error
	GetRun(ctx context.Context, id string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Replay queue
	EnqueueReplay(ctx context.Context, req model.ReplayRequest) error
	ClaimNextReplay(ctx context.Context) (*model.ReplayRequest, error)
	FinishReplay(ctx context.Context, id string, status model.ReplayStatus, runID, errMsg string) error
	GetReplay(ctx context.Context, id string) (*model.ReplayRequest, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
