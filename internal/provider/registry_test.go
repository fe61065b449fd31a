package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/trackline/internal/model"
)

// stubProvider is a canned-response provider for registry tests.
type stubProvider struct {
	name   string
	fields []model.FieldName
	result *FetchResult
	err    error
}

func (s *stubProvider) Name() string                       { return s.name }
func (s *stubProvider) SupportedFields() []model.FieldName { return s.fields }
func (s *stubProvider) Fetch(_ context.Context, _ model.FieldName, _ model.RawRecord) (*FetchResult, error) {
	return s.result, s.err
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	t.Cleanup(r.Close)
	return r
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubProvider{name: "musicbrainz", fields: []model.FieldName{"genre", "release_year"}}, 1)

	p, desc, err := r.Get("musicbrainz")
	require.NoError(t, err)
	assert.Equal(t, "musicbrainz", p.Name())
	assert.Equal(t, model.HealthHealthy, desc.Health)
	assert.True(t, desc.Enabled)
	assert.True(t, desc.Supports("genre"))
	assert.False(t, desc.Supports("bpm"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	err = r.SetEnabled("nope", false)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	err = r.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistryListSorted(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubProvider{name: "discogs"}, 0)
	r.Register(&stubProvider{name: "acousticbrainz"}, 0)
	r.Register(&stubProvider{name: "musicbrainz"}, 0)

	descs := r.List()
	require.Len(t, descs, 3)
	assert.Equal(t, "acousticbrainz", descs[0].Name)
	assert.Equal(t, "discogs", descs[1].Name)
	assert.Equal(t, "musicbrainz", descs[2].Name)
}

func TestRegistrySetEnabled(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubProvider{name: "discogs"}, 0)

	require.NoError(t, r.SetEnabled("discogs", false))
	desc, err := r.Descriptor("discogs")
	require.NoError(t, err)
	assert.False(t, desc.Enabled)
	assert.False(t, desc.Callable())

	require.NoError(t, r.SetEnabled("discogs", true))
	desc, err = r.Descriptor("discogs")
	require.NoError(t, err)
	assert.True(t, desc.Callable())
}

func TestRegistryHealthFromMetrics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "lastfm"}, 0)

	// Enough consecutive failures to open the breaker.
	for i := 0; i < 5; i++ {
		r.Report(CallMetric{Provider: "lastfm", Elapsed: time.Millisecond, Err: errors.New("boom")})
	}
	r.Close() // drains the metric buffer

	desc, err := r.Descriptor("lastfm")
	require.NoError(t, err)
	assert.Equal(t, model.HealthDown, desc.Health)
	assert.False(t, desc.Callable())
}

func TestRegistryNotFoundIsNotAFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "lastfm"}, 0)

	for i := 0; i < 10; i++ {
		r.Report(CallMetric{Provider: "lastfm", Err: ErrNotFound})
	}
	r.Close()

	desc, err := r.Descriptor("lastfm")
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, desc.Health)
}

func TestRegistryReportNeverBlocks(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "x"}, 0)
	r.Close()

	// Consumer stopped: reports beyond the buffer are dropped silently.
	for i := 0; i < 1000; i++ {
		r.Report(CallMetric{Provider: "x"})
	}
}

func TestRegistryReportUnknownProviderIgnored(t *testing.T) {
	r := NewRegistry()
	r.Report(CallMetric{Provider: "ghost", Err: errors.New("boom")})
	r.Close()
}

func TestRegistryUnlimitedNeverWaits(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubProvider{name: "unlimited"}, 0)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Wait(ctx, "unlimited"))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistryWaitCancelled(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&stubProvider{name: "throttled"}, 0.001) // effectively frozen after burst

	ctx := context.Background()
	require.NoError(t, r.Wait(ctx, "throttled")) // consumes the single burst token

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := r.Wait(cctx, "throttled")
	assert.Error(t, err)
}
