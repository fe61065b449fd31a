package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/waxworks/trackline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The provenance table sees one writer per pipeline worker, so the
// busy timeout matters.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	id               TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	source_record_id TEXT NOT NULL,
	kind             TEXT NOT NULL,
	collected_at     DATETIME NOT NULL,
	payload          TEXT NOT NULL,
	UNIQUE (source, source_url, source_record_id)
);

CREATE TABLE IF NOT EXISTS rule_versions (
	version    INTEGER PRIMARY KEY,
	rules      TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	config_version INTEGER NOT NULL REFERENCES rule_versions(version),
	fields         TEXT,
	selector       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	stats          TEXT NOT NULL,
	checkpoint     INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	raw_record_id TEXT NOT NULL REFERENCES raw_records(id),
	field         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	priority      INTEGER NOT NULL,
	input_value   TEXT,
	output_value  TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	accepted      INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_detail  TEXT,
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	timestamp     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enriched_records (
	raw_record_id TEXT NOT NULL REFERENCES raw_records(id),
	run_id        TEXT NOT NULL REFERENCES runs(id),
	fields        TEXT NOT NULL,
	unresolved    TEXT,
	quality_score REAL NOT NULL DEFAULT 0,
	promotable    INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	PRIMARY KEY (raw_record_id, run_id)
);

CREATE TABLE IF NOT EXISTS replay_queue (
	id                TEXT PRIMARY KEY,
	target_record_ids TEXT NOT NULL,
	fields            TEXT,
	config_version    INTEGER NOT NULL DEFAULT 0,
	reason            TEXT,
	priority          INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'queued',
	run_id            TEXT,
	error             TEXT,
	submitted_at      DATETIME NOT NULL,
	completed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_raw_records_selector ON raw_records(source, kind, collected_at);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_attempts_record_field ON attempts(raw_record_id, field);
CREATE INDEX IF NOT EXISTS idx_enriched_latest ON enriched_records(raw_record_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_replay_claim ON replay_queue(status, priority, submitted_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Raw records ---

func (s *SQLiteStore) InsertRawRecord(ctx context.Context, rec model.RawRecord) (bool, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal payload")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_records (id, source, source_url, source_record_id, kind, collected_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, source_url, source_record_id) DO NOTHING`,
		rec.ID, rec.Source, rec.SourceURL, rec.SourceRecordID, string(rec.Kind), rec.CollectedAt.UTC(), string(payload),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert raw record %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// InsertRawRecords inserts a batch idempotently in one transaction and
// returns the number of records that were new.
func (s *SQLiteStore) InsertRawRecords(ctx context.Context, recs []model.RawRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_records (id, source, source_url, source_record_id, kind, collected_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, source_url, source_record_id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	var inserted int64
	for _, rec := range recs {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal payload")
		}
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.Source, rec.SourceURL, rec.SourceRecordID, string(rec.Kind), rec.CollectedAt.UTC(), string(payload))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert raw record %s", rec.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert tx")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetRawRecord(ctx context.Context, id string) (*model.RawRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, source_url, source_record_id, kind, collected_at, payload
		 FROM raw_records WHERE id = ?`, id)
	return scanRawRecord(row, id)
}

func (s *SQLiteStore) ListRawRecords(ctx context.Context, filter RawRecordFilter) ([]model.RawRecord, error) {
	query, args := rawRecordQuery(filter, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw records")
	}
	defer rows.Close()

	var recs []model.RawRecord
	for rows.Next() {
		r, err := scanRawRecord(rows, "")
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list raw records iterate")
}

func (s *SQLiteStore) CountRawRecords(ctx context.Context, filter RawRecordFilter) (int64, error) {
	query, args := rawRecordQuery(filter, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count raw records")
	}
	return n, nil
}

// rawRecordQuery builds the shared WHERE clause for record selection.
// Ordering is (collected_at, id): stable across restarts, which the
// checkpoint offset depends on.
func rawRecordQuery(filter RawRecordFilter, count bool) (string, []any) {
	var query string
	if count {
		query = `SELECT COUNT(*) FROM raw_records WHERE 1=1`
	} else {
		query = `SELECT id, source, source_url, source_record_id, kind, collected_at, payload FROM raw_records WHERE 1=1`
	}

	var args []any
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.CollectedAfter != nil {
		query += ` AND collected_at > ?`
		args = append(args, filter.CollectedAfter.UTC())
	}
	if len(filter.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(filter.IDs)-1) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if count {
		return query, args
	}

	query += ` ORDER BY collected_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return query, args
}

// --- Rule versions ---

func (s *SQLiteStore) SaveRuleSet(ctx context.Context, set model.RuleSet) error {
	rulesJSON, err := json.Marshal(set.Rules)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rules")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rule_versions (version, rules, created_at) VALUES (?, ?, ?)`,
		set.Version, string(rulesJSON), set.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert rule version %d", set.Version)
}

func (s *SQLiteStore) GetRuleSet(ctx context.Context, version int64) (*model.RuleSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, rules, created_at FROM rule_versions WHERE version = ?`, version)
	return scanRuleSet(row)
}

func (s *SQLiteStore) LatestRuleSet(ctx context.Context) (*model.RuleSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, rules, created_at FROM rule_versions ORDER BY version DESC LIMIT 1`)
	return scanRuleSet(row)
}

// --- Provenance ---

func (s *SQLiteStore) AppendAttempt(ctx context.Context, a model.EnrichmentAttempt) error {
	input, err := marshalNullable(a.InputValue)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal input value")
	}
	output, err := marshalNullable(a.OutputValue)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal output value")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, run_id, raw_record_id, field, provider, priority, input_value, output_value,
		                       confidence, accepted, error_kind, error_detail, elapsed_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.RawRecordID, a.Field, a.Provider, a.Priority, input, output,
		a.Confidence, a.Accepted, string(a.ErrorKind), nullString(a.ErrorDetail), a.ElapsedMs, a.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append attempt %s/%s", a.RawRecordID, a.Field)
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.EnrichmentAttempt, error) {
	query := `SELECT id, run_id, raw_record_id, field, provider, priority, input_value, output_value,
	                 confidence, accepted, error_kind, error_detail, elapsed_ms, timestamp
	          FROM attempts WHERE 1=1`
	var args []any
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.RawRecordID != "" {
		query += ` AND raw_record_id = ?`
		args = append(args, filter.RawRecordID)
	}
	if filter.Field != "" {
		query += ` AND field = ?`
		args = append(args, filter.Field)
	}
	query += ` ORDER BY raw_record_id, field, priority`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close()

	var attempts []model.EnrichmentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

// --- Enriched records ---

func (s *SQLiteStore) SaveEnrichedRecord(ctx context.Context, rec model.EnrichedRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enriched fields")
	}
	unresolvedJSON, err := json.Marshal(rec.UnresolvedFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal unresolved fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enriched_records (raw_record_id, run_id, fields, unresolved, quality_score, promotable, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RawRecordID, rec.RunID, string(fieldsJSON), string(unresolvedJSON),
		rec.QualityScore, rec.Promotable, rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save enriched record %s", rec.RawRecordID)
}

func (s *SQLiteStore) HasEnrichedRecord(ctx context.Context, runID, rawRecordID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enriched_records WHERE run_id = ? AND raw_record_id = ?)`,
		runID, rawRecordID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: check enriched record %s", rawRecordID)
}

func (s *SQLiteStore) LatestEnrichedRecord(ctx context.Context, rawRecordID string) (*model.EnrichedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT raw_record_id, run_id, fields, unresolved, quality_score, promotable, created_at
		 FROM enriched_records WHERE raw_record_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		rawRecordID,
	)
	rec, err := scanEnriched(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "enriched record %s", rawRecordID)
	}
	return rec, err
}

func (s *SQLiteStore) ListPromotable(ctx context.Context, limit int) ([]model.EnrichedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	// Latest run per record, promotable only.
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.raw_record_id, e.run_id, e.fields, e.unresolved, e.quality_score, e.promotable, e.created_at
		 FROM enriched_records e
		 JOIN (SELECT raw_record_id, MAX(created_at) AS latest FROM enriched_records GROUP BY raw_record_id) l
		   ON e.raw_record_id = l.raw_record_id AND e.created_at = l.latest
		 WHERE e.promotable = 1
		 ORDER BY e.created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list promotable")
	}
	defer rows.Close()

	var recs []model.EnrichedRecord
	for rows.Next() {
		rec, err := scanEnriched(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list promotable iterate")
}

// --- Pipeline runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	selectorJSON, statsJSON, fieldsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Type), run.ConfigSnapshotVersion, fieldsJSON, selectorJSON,
		string(run.Status), statsJSON, run.Checkpoint, nullString(run.Error), run.StartedAt.UTC(), nullTime(run.CompletedAt),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	selectorJSON, statsJSON, fieldsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET type = ?, config_version = ?, fields = ?, selector = ?, status = ?, stats = ?,
		        checkpoint = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.Type), run.ConfigSnapshotVersion, fieldsJSON, selectorJSON, string(run.Status),
		statsJSON, run.Checkpoint, nullString(run.Error), nullTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at
	          FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Replay queue ---

func (s *SQLiteStore) EnqueueReplay(ctx context.Context, req model.ReplayRequest) error {
	targetsJSON, err := json.Marshal(req.TargetRecordIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal replay targets")
	}
	fieldsJSON, err := json.Marshal(req.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal replay fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO replay_queue (id, target_record_ids, fields, config_version, reason, priority, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, string(targetsJSON), string(fieldsJSON), req.ConfigVersion, req.Reason,
		req.Priority, string(model.ReplayStatusQueued), req.SubmittedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue replay %s", req.ID)
}

// ClaimNextReplay pulls the highest-priority queued request (FIFO within a
// priority) and marks it processing. Each request is consumed exactly once.
func (s *SQLiteStore) ClaimNextReplay(ctx context.Context) (*model.ReplayRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim tx")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT id, target_record_ids, fields, config_version, reason, priority, status, run_id, error, submitted_at, completed_at
		 FROM replay_queue WHERE status = ?
		 ORDER BY priority DESC, submitted_at ASC LIMIT 1`,
		string(model.ReplayStatusQueued),
	)
	req, err := scanReplay(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil // empty queue
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE replay_queue SET status = ? WHERE id = ? AND status = ?`,
		string(model.ReplayStatusProcessing), req.ID, string(model.ReplayStatusQueued),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim replay %s", req.ID)
	}
	if err := checkRowsAffected(res, "replay request", req.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim tx")
	}

	req.Status = model.ReplayStatusProcessing
	return req, nil
}

func (s *SQLiteStore) FinishReplay(ctx context.Context, id string, status model.ReplayStatus, runID, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE replay_queue SET status = ?, run_id = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), nullString(runID), nullString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish replay %s", id)
	}
	return checkRowsAffected(res, "replay request", id)
}

func (s *SQLiteStore) GetReplay(ctx context.Context, id string) (*model.ReplayRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, target_record_ids, fields, config_version, reason, priority, status, run_id, error, submitted_at, completed_at
		 FROM replay_queue WHERE id = ?`, id)
	req, err := scanReplay(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "replay request %s", id)
	}
	return req, err
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(ns sql.NullString) (any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func marshalRunBlobs(run *model.PipelineRun) (selector, stats string, fields sql.NullString, err error) {
	selectorJSON, err := json.Marshal(run.Selector)
	if err != nil {
		return "", "", sql.NullString{}, eris.Wrap(err, "marshal run selector")
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return "", "", sql.NullString{}, eris.Wrap(err, "marshal run stats")
	}
	var fieldsNS sql.NullString
	if len(run.Fields) > 0 {
		fieldsJSON, err := json.Marshal(run.Fields)
		if err != nil {
			return "", "", sql.NullString{}, eris.Wrap(err, "marshal run fields")
		}
		fieldsNS = sql.NullString{String: string(fieldsJSON), Valid: true}
	}
	return string(selectorJSON), string(statsJSON), fieldsNS, nil
}

func scanRawRecord(row scannable, id string) (*model.RawRecord, error) {
	var rec model.RawRecord
	var kind, payloadJSON string
	err := row.Scan(&rec.ID, &rec.Source, &rec.SourceURL, &rec.SourceRecordID, &kind, &rec.CollectedAt, &payloadJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "raw record %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan raw record")
	}
	rec.Kind = model.RecordKind(kind)
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "unmarshal payload")
	}
	return &rec, nil
}

func scanRuleSet(row scannable) (*model.RuleSet, error) {
	var set model.RuleSet
	var rulesJSON string
	err := row.Scan(&set.Version, &rulesJSON, &set.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan rule set")
	}
	if err := json.Unmarshal([]byte(rulesJSON), &set.Rules); err != nil {
		return nil, eris.Wrap(err, "unmarshal rules")
	}
	return &set, nil
}

func scanAttempt(row scannable) (*model.EnrichmentAttempt, error) {
	var a model.EnrichmentAttempt
	var kind string
	var input, output, detail sql.NullString
	err := row.Scan(&a.ID, &a.RunID, &a.RawRecordID, &a.Field, &a.Provider, &a.Priority, &input, &output,
		&a.Confidence, &a.Accepted, &kind, &detail, &a.ElapsedMs, &a.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan attempt")
	}
	a.ErrorKind = model.ErrorKind(kind)
	a.ErrorDetail = detail.String
	if a.InputValue, err = unmarshalNullable(input); err != nil {
		return nil, eris.Wrap(err, "unmarshal input value")
	}
	if a.OutputValue, err = unmarshalNullable(output); err != nil {
		return nil, eris.Wrap(err, "unmarshal output value")
	}
	return &a, nil
}

func scanEnriched(row scannable) (*model.EnrichedRecord, error) {
	var rec model.EnrichedRecord
	var fieldsJSON string
	var unresolvedJSON sql.NullString
	err := row.Scan(&rec.RawRecordID, &rec.RunID, &fieldsJSON, &unresolvedJSON,
		&rec.QualityScore, &rec.Promotable, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan enriched record")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal enriched fields")
	}
	if unresolvedJSON.Valid && unresolvedJSON.String != "null" {
		if err := json.Unmarshal([]byte(unresolvedJSON.String), &rec.UnresolvedFields); err != nil {
			return nil, eris.Wrap(err, "unmarshal unresolved fields")
		}
	}
	return &rec, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var runType, status, selectorJSON, statsJSON string
	var fieldsJSON, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &runType, &run.ConfigSnapshotVersion, &fieldsJSON, &selectorJSON,
		&status, &statsJSON, &run.Checkpoint, &errMsg, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	run.Type = model.RunType(runType)
	run.Status = model.RunStatus(status)
	run.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(selectorJSON), &run.Selector); err != nil {
		return nil, eris.Wrap(err, "unmarshal run selector")
	}
	if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
		return nil, eris.Wrap(err, "unmarshal run stats")
	}
	if fieldsJSON.Valid {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &run.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal run fields")
		}
	}
	return &run, nil
}

func scanReplay(row scannable) (*model.ReplayRequest, error) {
	var req model.ReplayRequest
	var status, targetsJSON string
	var fieldsJSON, runID, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&req.ID, &targetsJSON, &fieldsJSON, &req.ConfigVersion, &req.Reason,
		&req.Priority, &status, &runID, &errMsg, &req.SubmittedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan replay request")
	}
	req.Status = model.ReplayStatus(status)
	req.RunID = runID.String
	req.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(targetsJSON), &req.TargetRecordIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal replay targets")
	}
	if fieldsJSON.Valid && fieldsJSON.String != "null" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &req.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal replay fields")
		}
	}
	return &req, nil
}
