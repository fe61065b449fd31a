package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/waxworks/trackline/internal/db"
	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/resilience"
)

// PostgresStore implements Store using pgxpool. It relies on pgx's
// automatic statement cache for the hot provenance insert path.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	id               TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	source_record_id TEXT NOT NULL,
	kind             TEXT NOT NULL,
	collected_at     TIMESTAMPTZ NOT NULL,
	payload          JSONB NOT NULL,
	UNIQUE (source, source_url, source_record_id)
);

CREATE TABLE IF NOT EXISTS rule_versions (
	version    BIGINT PRIMARY KEY,
	rules      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	config_version BIGINT NOT NULL REFERENCES rule_versions(version),
	fields         JSONB,
	selector       JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	stats          JSONB NOT NULL,
	checkpoint     BIGINT NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	raw_record_id TEXT NOT NULL REFERENCES raw_records(id),
	field         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	priority      INT NOT NULL,
	input_value   JSONB,
	output_value  JSONB,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	accepted      BOOLEAN NOT NULL DEFAULT FALSE,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_detail  TEXT,
	elapsed_ms    BIGINT NOT NULL DEFAULT 0,
	timestamp     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enriched_records (
	raw_record_id TEXT NOT NULL REFERENCES raw_records(id),
	run_id        TEXT NOT NULL REFERENCES runs(id),
	fields        JSONB NOT NULL,
	unresolved    JSONB,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	promotable    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (raw_record_id, run_id)
);

CREATE TABLE IF NOT EXISTS replay_queue (
	id                TEXT PRIMARY KEY,
	target_record_ids JSONB NOT NULL,
	fields            JSONB,
	config_version    BIGINT NOT NULL DEFAULT 0,
	reason            TEXT,
	priority          INT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'queued',
	run_id            TEXT,
	error             TEXT,
	submitted_at      TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_raw_records_selector ON raw_records(source, kind, collected_at);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_attempts_record_field ON attempts(raw_record_id, field);
CREATE INDEX IF NOT EXISTS idx_enriched_latest ON enriched_records(raw_record_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_replay_claim ON replay_queue(status, priority DESC, submitted_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Raw records ---

func (s *PostgresStore) InsertRawRecord(ctx context.Context, rec model.RawRecord) (bool, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal payload")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO raw_records (id, source, source_url, source_record_id, kind, collected_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source, source_url, source_record_id) DO NOTHING`,
		rec.ID, rec.Source, rec.SourceURL, rec.SourceRecordID, string(rec.Kind), rec.CollectedAt.UTC(), payload,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert raw record %s", rec.ID)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertRawRecords bulk-imports a batch via COPY into a temp table, then
// an idempotent INSERT ... ON CONFLICT DO NOTHING.
func (s *PostgresStore) InsertRawRecords(ctx context.Context, recs []model.RawRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal payload")
		}
		rows = append(rows, []any{
			rec.ID, rec.Source, rec.SourceURL, rec.SourceRecordID, string(rec.Kind), rec.CollectedAt.UTC(), payload,
		})
	}

	return db.BulkInsert(ctx, s.pool, db.BulkInsertConfig{
		Table:        "raw_records",
		Columns:      []string{"id", "source", "source_url", "source_record_id", "kind", "collected_at", "payload"},
		ConflictKeys: []string{"source", "source_url", "source_record_id"},
	}, rows)
}

func (s *PostgresStore) GetRawRecord(ctx context.Context, id string) (*model.RawRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, source_url, source_record_id, kind, collected_at, payload
		 FROM raw_records WHERE id = $1`, id)
	rec, err := scanPGRawRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "raw record %s", id)
	}
	return rec, err
}

func (s *PostgresStore) ListRawRecords(ctx context.Context, filter RawRecordFilter) ([]model.RawRecord, error) {
	query, args := pgRawRecordQuery(filter, false)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw records")
	}
	defer rows.Close()

	var recs []model.RawRecord
	for rows.Next() {
		rec, err := scanPGRawRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list raw records iterate")
}

func (s *PostgresStore) CountRawRecords(ctx context.Context, filter RawRecordFilter) (int64, error) {
	query, args := pgRawRecordQuery(filter, true)
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count raw records")
	}
	return n, nil
}

func pgRawRecordQuery(filter RawRecordFilter, count bool) (string, []any) {
	var query string
	if count {
		query = `SELECT COUNT(*) FROM raw_records WHERE 1=1`
	} else {
		query = `SELECT id, source, source_url, source_record_id, kind, collected_at, payload FROM raw_records WHERE 1=1`
	}

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Source != "" {
		query += ` AND source = ` + arg(filter.Source)
	}
	if filter.Kind != "" {
		query += ` AND kind = ` + arg(string(filter.Kind))
	}
	if filter.CollectedAfter != nil {
		query += ` AND collected_at > ` + arg(filter.CollectedAfter.UTC())
	}
	if len(filter.IDs) > 0 {
		query += ` AND id = ANY(` + arg(filter.IDs) + `)`
	}
	if count {
		return query, args
	}

	query += ` ORDER BY collected_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}
	return query, args
}

// --- Rule versions ---

func (s *PostgresStore) SaveRuleSet(ctx context.Context, set model.RuleSet) error {
	rulesJSON, err := json.Marshal(set.Rules)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rules")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO rule_versions (version, rules, created_at) VALUES ($1, $2, $3)`,
		set.Version, rulesJSON, set.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert rule version %d", set.Version)
}

func (s *PostgresStore) GetRuleSet(ctx context.Context, version int64) (*model.RuleSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT version, rules, created_at FROM rule_versions WHERE version = $1`, version)
	return scanPGRuleSet(row)
}

func (s *PostgresStore) LatestRuleSet(ctx context.Context) (*model.RuleSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT version, rules, created_at FROM rule_versions ORDER BY version DESC LIMIT 1`)
	return scanPGRuleSet(row)
}

// --- Provenance ---

// AppendAttempt writes one provenance row. Transient connection errors are
// retried: losing an attempt row would leave a hole in the waterfall trail.
func (s *PostgresStore) AppendAttempt(ctx context.Context, a model.EnrichmentAttempt) error {
	input, err := marshalJSONB(a.InputValue)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal input value")
	}
	output, err := marshalJSONB(a.OutputValue)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal output value")
	}

	return resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO attempts (id, run_id, raw_record_id, field, provider, priority, input_value, output_value,
			                       confidence, accepted, error_kind, error_detail, elapsed_ms, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			a.ID, a.RunID, a.RawRecordID, a.Field, a.Provider, a.Priority, input, output,
			a.Confidence, a.Accepted, string(a.ErrorKind), nullString(a.ErrorDetail), a.ElapsedMs, a.Timestamp.UTC(),
		)
		return eris.Wrapf(err, "postgres: append attempt %s/%s", a.RawRecordID, a.Field)
	})
}

func (s *PostgresStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.EnrichmentAttempt, error) {
	query := `SELECT id, run_id, raw_record_id, field, provider, priority, input_value, output_value,
	                 confidence, accepted, error_kind, error_detail, elapsed_ms, timestamp
	          FROM attempts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.RawRecordID != "" {
		query += ` AND raw_record_id = ` + arg(filter.RawRecordID)
	}
	if filter.Field != "" {
		query += ` AND field = ` + arg(filter.Field)
	}
	query += ` ORDER BY raw_record_id, field, priority`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var attempts []model.EnrichmentAttempt
	for rows.Next() {
		a, err := scanPGAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

// --- Enriched records ---

func (s *PostgresStore) SaveEnrichedRecord(ctx context.Context, rec model.EnrichedRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enriched fields")
	}
	unresolvedJSON, err := json.Marshal(rec.UnresolvedFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal unresolved fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enriched_records (raw_record_id, run_id, fields, unresolved, quality_score, promotable, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RawRecordID, rec.RunID, fieldsJSON, unresolvedJSON, rec.QualityScore, rec.Promotable, rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save enriched record %s", rec.RawRecordID)
}

func (s *PostgresStore) HasEnrichedRecord(ctx context.Context, runID, rawRecordID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enriched_records WHERE run_id = $1 AND raw_record_id = $2)`,
		runID, rawRecordID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: check enriched record %s", rawRecordID)
}

func (s *PostgresStore) LatestEnrichedRecord(ctx context.Context, rawRecordID string) (*model.EnrichedRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT raw_record_id, run_id, fields, unresolved, quality_score, promotable, created_at
		 FROM enriched_records WHERE raw_record_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		rawRecordID,
	)
	rec, err := scanPGEnriched(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "enriched record %s", rawRecordID)
	}
	return rec, err
}

func (s *PostgresStore) ListPromotable(ctx context.Context, limit int) ([]model.EnrichedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (raw_record_id) raw_record_id, run_id, fields, unresolved, quality_score, promotable, created_at
		 FROM enriched_records
		 ORDER BY raw_record_id, created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list promotable")
	}
	defer rows.Close()

	var recs []model.EnrichedRecord
	for rows.Next() {
		rec, err := scanPGEnriched(rows)
		if err != nil {
			return nil, err
		}
		// DISTINCT ON gives the latest run per record; only promotable ones
		// are exposed downstream.
		if rec.Promotable {
			recs = append(recs, *rec)
			if len(recs) >= limit {
				break
			}
		}
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list promotable iterate")
}

// --- Pipeline runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	selectorJSON, statsJSON, fieldsJSON, err := marshalPGRunBlobs(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, string(run.Type), run.ConfigSnapshotVersion, fieldsJSON, selectorJSON,
		string(run.Status), statsJSON, run.Checkpoint, nullString(run.Error), run.StartedAt.UTC(), nullTime(run.CompletedAt),
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	selectorJSON, statsJSON, fieldsJSON, err := marshalPGRunBlobs(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET type = $1, config_version = $2, fields = $3, selector = $4, status = $5, stats = $6,
		        checkpoint = $7, error = $8, completed_at = $9
		 WHERE id = $10`,
		string(run.Type), run.ConfigSnapshotVersion, fieldsJSON, selectorJSON, string(run.Status),
		statsJSON, run.Checkpoint, nullString(run.Error), nullTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at
		 FROM runs WHERE id = $1`, id)
	run, err := scanPGRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return run, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, type, config_version, fields, selector, status, stats, checkpoint, error, started_at, completed_at
	          FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ` + arg(string(filter.Type))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY started_at DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Replay queue ---

func (s *PostgresStore) EnqueueReplay(ctx context.Context, req model.ReplayRequest) error {
	targetsJSON, err := json.Marshal(req.TargetRecordIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal replay targets")
	}
	fieldsJSON, err := json.Marshal(req.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal replay fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO replay_queue (id, target_record_ids, fields, config_version, reason, priority, status, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, targetsJSON, fieldsJSON, req.ConfigVersion, req.Reason,
		req.Priority, string(model.ReplayStatusQueued), req.SubmittedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: enqueue replay %s", req.ID)
}

// ClaimNextReplay uses SKIP LOCKED so multiple replay workers never consume
// the same request.
func (s *PostgresStore) ClaimNextReplay(ctx context.Context) (*model.ReplayRequest, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE replay_queue SET status = $1
		 WHERE id = (
		   SELECT id FROM replay_queue WHERE status = $2
		   ORDER BY priority DESC, submitted_at ASC
		   FOR UPDATE SKIP LOCKED LIMIT 1
		 )
		 RETURNING id, target_record_ids, fields, config_version, reason, priority, status, run_id, error, submitted_at, completed_at`,
		string(model.ReplayStatusProcessing), string(model.ReplayStatusQueued),
	)
	req, err := scanPGReplay(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // empty queue
	}
	return req, err
}

func (s *PostgresStore) FinishReplay(ctx context.Context, id string, status model.ReplayStatus, runID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE replay_queue SET status = $1, run_id = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), nullString(runID), nullString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish replay %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "replay request %s", id)
	}
	return nil
}

func (s *PostgresStore) GetReplay(ctx context.Context, id string) (*model.ReplayRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, target_record_ids, fields, config_version, reason, priority, status, run_id, error, submitted_at, completed_at
		 FROM replay_queue WHERE id = $1`, id)
	req, err := scanPGReplay(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "replay request %s", id)
	}
	return req, err
}

// --- scan helpers ---

func marshalJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func marshalPGRunBlobs(run *model.PipelineRun) (selector, stats []byte, fields any, err error) {
	selector, err = json.Marshal(run.Selector)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal run selector")
	}
	stats, err = json.Marshal(run.Stats)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal run stats")
	}
	if len(run.Fields) > 0 {
		b, err := json.Marshal(run.Fields)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "marshal run fields")
		}
		fields = b
	}
	return selector, stats, fields, nil
}

func scanPGRawRecord(row scannable) (*model.RawRecord, error) {
	var rec model.RawRecord
	var kind string
	var payload []byte
	err := row.Scan(&rec.ID, &rec.Source, &rec.SourceURL, &rec.SourceRecordID, &kind, &rec.CollectedAt, &payload)
	if err != nil {
		return nil, err
	}
	rec.Kind = model.RecordKind(kind)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	return &rec, nil
}

func scanPGRuleSet(row scannable) (*model.RuleSet, error) {
	var set model.RuleSet
	var rules []byte
	err := row.Scan(&set.Version, &rules, &set.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan rule set")
	}
	if err := json.Unmarshal(rules, &set.Rules); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal rules")
	}
	return &set, nil
}

func scanPGAttempt(row scannable) (*model.EnrichmentAttempt, error) {
	var a model.EnrichmentAttempt
	var kind string
	var input, output []byte
	var detail sql.NullString
	err := row.Scan(&a.ID, &a.RunID, &a.RawRecordID, &a.Field, &a.Provider, &a.Priority, &input, &output,
		&a.Confidence, &a.Accepted, &kind, &detail, &a.ElapsedMs, &a.Timestamp)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan attempt")
	}
	a.ErrorKind = model.ErrorKind(kind)
	a.ErrorDetail = detail.String
	if len(input) > 0 {
		if err := json.Unmarshal(input, &a.InputValue); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal input value")
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &a.OutputValue); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal output value")
		}
	}
	return &a, nil
}

func scanPGEnriched(row scannable) (*model.EnrichedRecord, error) {
	var rec model.EnrichedRecord
	var fields, unresolved []byte
	err := row.Scan(&rec.RawRecordID, &rec.RunID, &fields, &unresolved,
		&rec.QualityScore, &rec.Promotable, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal enriched fields")
	}
	if len(unresolved) > 0 && string(unresolved) != "null" {
		if err := json.Unmarshal(unresolved, &rec.UnresolvedFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal unresolved fields")
		}
	}
	return &rec, nil
}

func scanPGRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var runType, status string
	var selector, stats, fields []byte
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &runType, &run.ConfigSnapshotVersion, &fields, &selector,
		&status, &stats, &run.Checkpoint, &errMsg, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Type = model.RunType(runType)
	run.Status = model.RunStatus(status)
	run.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal(selector, &run.Selector); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run selector")
	}
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run stats")
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &run.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run fields")
		}
	}
	return &run, nil
}

func scanPGReplay(row scannable) (*model.ReplayRequest, error) {
	var req model.ReplayRequest
	var status string
	var targets, fields []byte
	var runID, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&req.ID, &targets, &fields, &req.ConfigVersion, &req.Reason,
		&req.Priority, &status, &runID, &errMsg, &req.SubmittedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	req.Status = model.ReplayStatus(status)
	req.RunID = runID.String
	req.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	if err := json.Unmarshal(targets, &req.TargetRecordIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal replay targets")
	}
	if len(fields) > 0 && string(fields) != "null" {
		if err := json.Unmarshal(fields, &req.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal replay fields")
		}
	}
	return &req, nil
}
