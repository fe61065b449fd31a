package model

import "time"

// ReplayStatus is the lifecycle state of a replay request. Each request is
// consumed exactly once by a replay worker.
type ReplayStatus string

const (
	ReplayStatusQueued     ReplayStatus = "queued"
	ReplayStatusProcessing ReplayStatus = "processing"
	ReplayStatusCompleted  ReplayStatus = "completed"
	ReplayStatusFailed     ReplayStatus = "failed"
)

// ReplayRequest asks the coordinator to re-run the engine for a record set,
// optionally pinned to a historical configuration snapshot. Replays write
// new provenance under their own run id and never edit prior attempts.
type ReplayRequest struct {
	ID              string       `json:"id"`
	TargetRecordIDs []string     `json:"target_record_ids"`
	Fields          []FieldName  `json:"fields,omitempty"`
	ConfigVersion   int64        `json:"config_version,omitempty"` // 0 = current
	Reason          string       `json:"reason"`
	Priority        int          `json:"priority"`
	Status          ReplayStatus `json:"status"`
	RunID           string       `json:"run_id,omitempty"`
	Error           string       `json:"error,omitempty"`
	SubmittedAt     time.Time    `json:"submitted_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}
