package rules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/store"
)

func newTestRuleStore(t *testing.T) *Store {
	t.Helper()
	backing, err := store.NewSQLite(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	require.NoError(t, backing.Migrate(context.Background()))
	t.Cleanup(func() { _ = backing.Close() })

	s, err := NewStore(context.Background(), backing)
	require.NoError(t, err)
	return s
}

func genreRule(providers ...string) model.WaterfallRule {
	steps := make([]model.RuleStep, len(providers))
	for i, p := range providers {
		steps[i] = model.RuleStep{Provider: p, MinConfidence: 0.7}
	}
	return model.WaterfallRule{
		Steps:                   steps,
		MinAcceptableConfidence: 0.5,
		FetchTimeout:            model.Duration(5 * time.Second),
	}
}

func TestStoreStartsEmpty(t *testing.T) {
	s := newTestRuleStore(t)
	assert.Empty(t, s.Fields())

	_, err := s.Snapshot(context.Background())
	assert.Error(t, err)

	_, err = s.GetRule(context.Background(), "genre", 0)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestUpdateRuleBumpsVersion(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	v1, err := s.UpdateRule(ctx, "genre", genreRule("discogs", "musicbrainz"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.UpdateRule(ctx, "bpm", genreRule("acousticbrainz"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// The field name comes from the update key, not the rule literal.
	rule, err := s.GetRule(ctx, "genre", 0)
	require.NoError(t, err)
	assert.Equal(t, "genre", rule.Field)
	assert.Len(t, rule.Steps, 2)

	// Version 1 still serves its original single-field set.
	old, err := s.GetSet(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, old.Rules, 1)
	assert.NotContains(t, old.Rules, model.FieldName("bpm"))
}

func TestUpdateRuleRejectsInvalid(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	bad := genreRule("discogs")
	bad.Steps[0].MinConfidence = 1.5
	_, err := s.UpdateRule(ctx, "genre", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	// Nothing was installed.
	assert.Empty(t, s.Fields())
}

func TestGetSetUnknownVersion(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()
	_, err := s.UpdateRule(ctx, "genre", genreRule("discogs"))
	require.NoError(t, err)

	_, err = s.GetSet(ctx, 42)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestSeedReplacesWholeSet(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	_, err := s.UpdateRule(ctx, "legacy_field", genreRule("discogs"))
	require.NoError(t, err)

	v, err := s.Seed(ctx, map[model.FieldName]model.WaterfallRule{
		"genre": genreRule("discogs", "musicbrainz"),
		"bpm":   genreRule("acousticbrainz"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	set, err := s.GetSet(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, set.Rules, 2)
	assert.NotContains(t, set.Rules, model.FieldName("legacy_field"))
}

func TestSnapshotReturnsCurrentVersion(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	_, err := s.UpdateRule(ctx, "genre", genreRule("discogs"))
	require.NoError(t, err)
	_, err = s.UpdateRule(ctx, "genre", genreRule("musicbrainz"))
	require.NoError(t, err)

	v, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestStoreReloadsLatestFromPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.db")
	ctx := context.Background()

	backing, err := store.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, backing.Migrate(ctx))

	s, err := NewStore(ctx, backing)
	require.NoError(t, err)
	_, err = s.UpdateRule(ctx, "genre", genreRule("discogs"))
	require.NoError(t, err)
	require.NoError(t, backing.Close())

	reopened, err := store.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	s2, err := NewStore(ctx, reopened)
	require.NoError(t, err)
	v, err := s2.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []model.FieldName{"genre"}, s2.Fields())
}

func TestRunIsolationFromConcurrentEdits(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	_, err := s.UpdateRule(ctx, "genre", genreRule("discogs"))
	require.NoError(t, err)
	bound, err := s.Snapshot(ctx)
	require.NoError(t, err)

	// A configuration edit after the run bound its snapshot.
	_, err = s.UpdateRule(ctx, "genre", genreRule("musicbrainz"))
	require.NoError(t, err)

	rule, err := s.GetRule(ctx, "genre", bound)
	require.NoError(t, err)
	assert.Equal(t, "discogs", rule.Steps[0].Provider)
}
