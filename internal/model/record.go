package model

import "time"

// FieldName identifies a single enrichable metadata field (e.g. "bpm", "genre").
type FieldName = string

// RawRecord is an immutable record as captured by the ingestion scrapers.
// It is never mutated by the enrichment engine; enrichment output lives in
// EnrichedRecord rows keyed back to the raw record id.
type RawRecord struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	SourceURL      string         `json:"source_url"`
	SourceRecordID string         `json:"source_record_id"`
	Kind           RecordKind     `json:"kind"`
	CollectedAt    time.Time      `json:"collected_at"`
	Payload        map[string]any `json:"payload"`
}

// RecordKind distinguishes the scraped entity types.
type RecordKind string

const (
	RecordKindTrack    RecordKind = "track"
	RecordKindPlaylist RecordKind = "playlist"
	RecordKindArtist   RecordKind = "artist"
)

// Key returns the natural identity of a raw record. Two scrapes of the same
// source row share a key and are deduplicated on import.
func (r RawRecord) Key() string {
	return r.Source + "|" + r.SourceURL + "|" + r.SourceRecordID
}
