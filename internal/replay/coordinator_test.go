package replay

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/trackline/internal/engine"
	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
	"github.com/waxworks/trackline/internal/provider"
	"github.com/waxworks/trackline/internal/rules"
	"github.com/waxworks/trackline/internal/store"
)

type fixedProvider struct{ name string }

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) SupportedFields() []model.FieldName {
	return []model.FieldName{"bpm"}
}

func (p *fixedProvider) Fetch(context.Context, model.FieldName, model.RawRecord) (*provider.FetchResult, error) {
	return &provider.FetchResult{Value: float64(124), Confidence: 0.9}, nil
}

type testEnv struct {
	store store.Store
	coord *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	ruleStore, err := rules.NewStore(context.Background(), st)
	require.NoError(t, err)
	_, err = ruleStore.Seed(context.Background(), map[model.FieldName]model.WaterfallRule{
		"bpm": {
			Steps:                   []model.RuleStep{{Provider: "discogs", MinConfidence: 0.7}},
			MinAcceptableConfidence: 0.5,
			RetryOnLowConfidence:    true,
			FetchTimeout:            model.Duration(time.Second),
		},
	})
	require.NoError(t, err)

	reg := provider.NewRegistry()
	t.Cleanup(reg.Close)
	reg.Register(&fixedProvider{name: "discogs"}, 0)

	runner := pipeline.NewRunner(st, ruleStore, engine.New(reg, st, time.Second), 1, 10)
	return &testEnv{store: st, coord: NewCoordinator(st, runner)}
}

func (e *testEnv) seedRecords(t *testing.T, n int) []string {
	t.Helper()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%02d", i)
		_, err := e.store.InsertRawRecord(context.Background(), model.RawRecord{
			ID:             id,
			Source:         "beatport",
			SourceURL:      "https://beatport.example/t/" + id,
			SourceRecordID: id,
			Kind:           model.RecordKindTrack,
			CollectedAt:    base.Add(time.Duration(i) * time.Minute),
			Payload:        map[string]any{"title": id},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestSubmitQueuesRequest(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 2)

	replayID, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids,
		Reason:          "provider fixed its bpm endpoint",
		Priority:        3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, replayID)

	req, err := env.store.GetReplay(context.Background(), replayID)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, model.ReplayStatusQueued, req.Status)
	assert.Equal(t, 3, req.Priority)
	assert.Equal(t, ids, req.TargetRecordIDs)
	assert.False(t, req.SubmittedAt.IsZero())
}

func TestSubmitRejectsEmptyTargets(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.coord.Submit(context.Background(), model.ReplayRequest{})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSubmitRejectsUnknownTarget(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 1)

	_, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: append(ids, "ghost"),
		Reason:          "resolve gap",
	})
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestSubmitRejectsUnknownConfigVersion(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 1)

	_, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids,
		ConfigVersion:   99,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config version")
}

func TestProcessNextExecutesReplayRun(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 2)

	replayID, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids,
		Reason:          "confidence model recalibrated",
	})
	require.NoError(t, err)

	run, err := env.coord.ProcessNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunTypeReplay, run.Type)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(2), run.Stats.Processed)

	req, err := env.store.GetReplay(context.Background(), replayID)
	require.NoError(t, err)
	assert.Equal(t, model.ReplayStatusCompleted, req.Status)
	assert.Equal(t, run.ID, req.RunID)
	require.NotNil(t, req.CompletedAt)

	// The replay wrote fresh provenance under its own run id.
	attempts, err := env.store.ListAttempts(context.Background(), store.AttemptFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	run, err := env.coord.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestProcessNextHonorsPriority(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 2)

	lowID, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids[:1],
		Priority:        1,
	})
	require.NoError(t, err)
	highID, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids[1:],
		Priority:        9,
	})
	require.NoError(t, err)

	run, err := env.coord.ProcessNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	high, err := env.store.GetReplay(context.Background(), highID)
	require.NoError(t, err)
	assert.Equal(t, model.ReplayStatusCompleted, high.Status)

	low, err := env.store.GetReplay(context.Background(), lowID)
	require.NoError(t, err)
	assert.Equal(t, model.ReplayStatusQueued, low.Status)
}

func TestProcessNextRecordsRunFailure(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 1)

	// A field with no rule in the bound snapshot fails the run; the queue
	// entry must capture that outcome instead of staying claimed forever.
	replayID, err := env.coord.Submit(context.Background(), model.ReplayRequest{
		TargetRecordIDs: ids,
		Fields:          []model.FieldName{"release_year"},
	})
	require.NoError(t, err)

	_, err = env.coord.ProcessNext(context.Background())
	require.Error(t, err)

	req, err := env.store.GetReplay(context.Background(), replayID)
	require.NoError(t, err)
	assert.Equal(t, model.ReplayStatusFailed, req.Status)
	assert.NotEmpty(t, req.Error)
}

func TestWorkDrainsQueueAndStops(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedRecords(t, 2)

	for _, id := range ids {
		_, err := env.coord.Submit(context.Background(), model.ReplayRequest{
			TargetRecordIDs: []string{id},
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, env.coord.Work(ctx, 10*time.Millisecond))

	for _, id := range ids {
		enriched, err := env.store.LatestEnrichedRecord(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, enriched)
	}
}
