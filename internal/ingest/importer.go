// Package ingest loads scraped records from CSV, JSON, and XLSX exports
// into the raw record store. Import is idempotent: records are keyed by
// (source, source_url, source_record_id) and re-imports are no-ops.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/store"
)

// Result summarizes one import.
type Result struct {
	Read     int64
	Inserted int64
	Skipped  int64 // malformed rows
}

// Importer batches parsed rows into the store.
type Importer struct {
	store     store.Store
	batchSize int
}

// NewImporter creates an Importer. batchSize bounds the records buffered
// before a bulk insert.
func NewImporter(st store.Store, batchSize int) *Importer {
	if batchSize < 1 {
		batchSize = 500
	}
	return &Importer{store: st, batchSize: batchSize}
}

// ImportFile imports one export file, dispatching on its extension
// (.csv, .json, .xlsx). source names the scraper the file came from and
// kind is the default entity type for rows that do not set their own.
func (im *Importer) ImportFile(ctx context.Context, path, source string, kind model.RecordKind) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open csv")
		}
		defer f.Close()
		rows, errCh := streamCSV(ctx, f)
		return im.consumeStringRows(ctx, rows, errCh, path, source, kind)

	case ".xlsx":
		rows, errCh := streamXLSX(ctx, path)
		return im.consumeStringRows(ctx, rows, errCh, path, source, kind)

	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open json")
		}
		defer f.Close()
		rows, errCh := streamJSON(ctx, f)
		return im.consumeAnyRows(ctx, rows, errCh, path, source, kind)

	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
}

func (im *Importer) consumeStringRows(ctx context.Context, rows <-chan map[string]string, errCh <-chan error, path, source string, kind model.RecordKind) (*Result, error) {
	res := &Result{}
	batch := make([]model.RawRecord, 0, im.batchSize)

	for row := range rows {
		res.Read++
		anyRow := make(map[string]any, len(row))
		for k, v := range row {
			anyRow[k] = v
		}
		rec, err := buildRecord(anyRow, source, kind)
		if err != nil {
			res.Skipped++
			zap.L().Warn("ingest: skipping row", zap.String("file", path), zap.Error(err))
			continue
		}
		batch = append(batch, *rec)
		if len(batch) >= im.batchSize {
			if err := im.flush(ctx, res, &batch); err != nil {
				return res, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return res, err
	}
	if err := im.flush(ctx, res, &batch); err != nil {
		return res, err
	}
	im.logResult(path, source, res)
	return res, nil
}

func (im *Importer) consumeAnyRows(ctx context.Context, rows <-chan map[string]any, errCh <-chan error, path, source string, kind model.RecordKind) (*Result, error) {
	res := &Result{}
	batch := make([]model.RawRecord, 0, im.batchSize)

	for row := range rows {
		res.Read++
		rec, err := buildRecord(row, source, kind)
		if err != nil {
			res.Skipped++
			zap.L().Warn("ingest: skipping row", zap.String("file", path), zap.Error(err))
			continue
		}
		batch = append(batch, *rec)
		if len(batch) >= im.batchSize {
			if err := im.flush(ctx, res, &batch); err != nil {
				return res, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return res, err
	}
	if err := im.flush(ctx, res, &batch); err != nil {
		return res, err
	}
	im.logResult(path, source, res)
	return res, nil
}

func (im *Importer) flush(ctx context.Context, res *Result, batch *[]model.RawRecord) error {
	if len(*batch) == 0 {
		return nil
	}
	inserted, err := im.store.InsertRawRecords(ctx, *batch)
	if err != nil {
		return eris.Wrap(err, "ingest: insert batch")
	}
	res.Inserted += inserted
	*batch = (*batch)[:0]
	return nil
}

func (im *Importer) logResult(path, source string, res *Result) {
	zap.L().Info("ingest: import complete",
		zap.String("file", path),
		zap.String("source", source),
		zap.Int64("read", res.Read),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("skipped", res.Skipped),
	)
}

// reserved column names lifted out of the payload.
const (
	colSourceRecordID = "source_record_id"
	colSourceURL      = "source_url"
	colKind           = "kind"
	colCollectedAt    = "collected_at"
)

// buildRecord maps one parsed row onto a RawRecord. source_record_id and
// source_url are required; collected_at defaults to import time. Everything
// else lands in the payload, plus normalized dedup keys when the row carries
// artist/title.
func buildRecord(row map[string]any, source string, kind model.RecordKind) (*model.RawRecord, error) {
	sourceRecordID := stringField(row, colSourceRecordID)
	if sourceRecordID == "" {
		sourceRecordID = stringField(row, "id")
	}
	if sourceRecordID == "" {
		return nil, eris.New("ingest: row missing source_record_id")
	}

	sourceURL := stringField(row, colSourceURL)
	if sourceURL == "" {
		sourceURL = stringField(row, "url")
	}
	if sourceURL == "" {
		return nil, eris.New("ingest: row missing source_url")
	}

	rec := &model.RawRecord{
		ID:             uuid.New().String(),
		Source:         source,
		SourceURL:      sourceURL,
		SourceRecordID: sourceRecordID,
		Kind:           kind,
		CollectedAt:    time.Now().UTC(),
		Payload:        make(map[string]any, len(row)),
	}

	if k := stringField(row, colKind); k != "" {
		switch model.RecordKind(k) {
		case model.RecordKindTrack, model.RecordKindPlaylist, model.RecordKindArtist:
			rec.Kind = model.RecordKind(k)
		default:
			return nil, eris.Errorf("ingest: unknown record kind %q", k)
		}
	}
	if ts := stringField(row, colCollectedAt); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: parse collected_at %q", ts)
		}
		rec.CollectedAt = parsed.UTC()
	}

	for k, v := range row {
		switch k {
		case colSourceRecordID, colSourceURL, colKind, colCollectedAt, "id", "url":
			continue
		}
		rec.Payload[k] = v
	}

	artist := stringField(row, "artist")
	title := stringField(row, "title")
	if artist != "" {
		rec.Payload["artist_key"] = Normalize(artist)
	}
	if artist != "" && title != "" {
		rec.Payload["track_key"] = TrackKey(artist, title)
	}

	return rec, nil
}

func stringField(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
