package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRecordBulkConfig() BulkInsertConfig {
	return BulkInsertConfig{
		Table:        "raw_records",
		Columns:      []string{"id", "source", "source_url"},
		ConflictKeys: []string{"source", "source_url"},
	}
}

func TestBulkInsert_EmptyRows(t *testing.T) {
	n, err := BulkInsert(context.TODO(), nil, rawRecordBulkConfig(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsert_MissingColumns(t *testing.T) {
	_, err := BulkInsert(context.TODO(), nil, BulkInsertConfig{Table: "raw_records", ConflictKeys: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestBulkInsert_MissingConflictKeys(t *testing.T) {
	_, err := BulkInsert(context.TODO(), nil, BulkInsertConfig{Table: "raw_records", Columns: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkInsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_insert_raw_records" \(LIKE "raw_records" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_raw_records"}, []string{"id", "source", "source_url"}).
		WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "raw_records" .+ SELECT .+ FROM "_tmp_insert_raw_records" ON CONFLICT \("source", "source_url"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"a", "beatport", "https://x/1"},
		{"b", "beatport", "https://x/2"},
		{"c", "beatport", "https://x/1"}, // duplicate key, dropped by ON CONFLICT
	}
	n, err := BulkInsert(context.Background(), mock, rawRecordBulkConfig(), rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_raw_records"}, []string{"id", "source", "source_url"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkInsert(context.Background(), mock, rawRecordBulkConfig(), [][]any{{"a", "s", "u"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO _tmp_insert_raw_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_InsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_raw_records"}, []string{"id", "source", "source_url"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "raw_records"`).WillReturnError(fmt.Errorf("constraint violation"))
	mock.ExpectRollback()

	_, err = BulkInsert(context.Background(), mock, rawRecordBulkConfig(), [][]any{{"a", "s", "u"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for raw_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}
