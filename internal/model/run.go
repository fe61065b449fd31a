package model

import "time"

// RunType distinguishes how a pipeline run was initiated.
type RunType string

const (
	RunTypeFull        RunType = "full"
	RunTypeIncremental RunType = "incremental"
	RunTypeReplay      RunType = "replay"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusPartial marks a run interrupted mid-iteration (cancellation
	// or process restart). Partial runs are resumable from their checkpoint.
	RunStatusPartial RunStatus = "partial"
)

// Sealed reports whether the run has reached a terminal state. Sealed runs
// are immutable.
func (s RunStatus) Sealed() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunStats aggregates per-run counters.
type RunStats struct {
	Processed     int64 `json:"processed"`
	Accepted      int64 `json:"accepted"`
	Unresolved    int64 `json:"unresolved"`
	ProviderCalls int64 `json:"provider_calls"`
	RecordErrors  int64 `json:"record_errors"`
}

// PipelineRun is one batch execution of the enrichment engine. It binds to
// a single configuration snapshot version for its entire lifetime.
type PipelineRun struct {
	ID                    string      `json:"id"`
	Type                  RunType     `json:"type"`
	ConfigSnapshotVersion int64       `json:"config_snapshot_version"`
	Fields                []FieldName `json:"fields,omitempty"`
	Selector              RunSelector `json:"selector"`
	StartedAt             time.Time   `json:"started_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
	Status                RunStatus   `json:"status"`
	Stats                 RunStats    `json:"stats"`
	// Checkpoint is the count of records committed so far; a resumed run
	// skips this many records of the (stable-ordered) selection.
	Checkpoint int64  `json:"checkpoint"`
	Error      string `json:"error,omitempty"`
}

// RunSelector narrows which raw records a run processes.
type RunSelector struct {
	Source         string     `json:"source,omitempty"`
	Kind           RecordKind `json:"kind,omitempty"`
	CollectedAfter *time.Time `json:"collected_after,omitempty"`
	RecordIDs      []string   `json:"record_ids,omitempty"`
}
