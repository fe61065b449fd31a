package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/trackline/internal/engine"
	"github.com/waxworks/trackline/internal/ingest"
	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
	"github.com/waxworks/trackline/internal/provider"
	"github.com/waxworks/trackline/internal/replay"
	"github.com/waxworks/trackline/internal/rules"
	"github.com/waxworks/trackline/internal/store"
)

func newServerEnv(t *testing.T) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	ruleStore, err := rules.NewStore(context.Background(), st)
	require.NoError(t, err)
	_, err = ruleStore.Seed(context.Background(), map[model.FieldName]model.WaterfallRule{
		"bpm": {
			Steps:                   []model.RuleStep{{Provider: "payload", MinConfidence: 0.5}},
			MinAcceptableConfidence: 0.5,
			RetryOnLowConfidence:    true,
			FetchTimeout:            model.Duration(time.Second),
		},
	})
	require.NoError(t, err)

	registry := provider.NewRegistry()
	t.Cleanup(registry.Close)
	registry.Register(provider.NewPayloadProvider(), 0)

	runner := pipeline.NewRunner(st, ruleStore, engine.New(registry, st, time.Second), 1, 10)
	return &appEnv{
		Store:    st,
		Rules:    ruleStore,
		Registry: registry,
		Runner:   runner,
		Replay:   replay.NewCoordinator(st, runner),
		Importer: ingest.NewImporter(st, 100),
	}
}

func seedServerRecord(t *testing.T, env *appEnv, id string) {
	t.Helper()
	_, err := env.Store.InsertRawRecord(context.Background(), model.RawRecord{
		ID:             id,
		Source:         "beatport",
		SourceURL:      "https://beatport.example/t/" + id,
		SourceRecordID: id,
		Kind:           model.RecordKindTrack,
		CollectedAt:    time.Now().UTC(),
		Payload:        map[string]any{"title": id, "bpm": float64(128)},
	})
	require.NoError(t, err)
}

func TestServeHealth(t *testing.T) {
	router := newRouter(newServerEnv(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServeStartRunAndFetch(t *testing.T) {
	env := newServerEnv(t)
	seedServerRecord(t, env, "rec-1")
	router := newRouter(env)

	body := `{"type":"full","selector":{"record_ids":["rec-1"]}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(1), run.Stats.Processed)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+run.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeStartRunBadBody(t *testing.T) {
	router := newRouter(newServerEnv(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeSubmitReplay(t *testing.T) {
	env := newServerEnv(t)
	seedServerRecord(t, env, "rec-1")
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replays",
		strings.NewReader(`{"target_record_ids":["rec-1"],"reason":"backfill"}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replays",
		strings.NewReader(`{"target_record_ids":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replays",
		strings.NewReader(`{"target_record_ids":["ghost"]}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeUpdateRule(t *testing.T) {
	env := newServerEnv(t)
	router := newRouter(env)

	body := `{"steps":[{"provider":"payload","min_confidence":0.8}],"min_acceptable_confidence":0.6,"fetch_timeout":"5s"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rules/genre", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"config_version":2`)

	// A confidence outside [0,1] is a validation error, not a server error.
	bad := `{"steps":[{"provider":"payload","min_confidence":2.5}],"min_acceptable_confidence":0.6}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rules/genre", strings.NewReader(bad)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeListProviders(t *testing.T) {
	router := newRouter(newServerEnv(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var descs []model.ProviderDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descs))
	require.Len(t, descs, 1)
	assert.Equal(t, "payload", descs[0].Name)
	assert.Equal(t, model.HealthHealthy, descs[0].Health)
}
