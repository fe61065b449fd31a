// Package provider defines the uniform fetch contract for enrichment
// providers and the registry that tracks their descriptors, rate limits,
// and health.
package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/waxworks/trackline/internal/model"
)

// ErrNotFound is returned by a provider that has no value for the requested
// field. NotFound always falls through to the next waterfall candidate.
var ErrNotFound = eris.New("provider: value not found")

// ErrRegistryUnavailable is returned when the registry cannot serve any
// provider at all. A run aborts on this rather than treating every provider
// as down.
var ErrRegistryUnavailable = eris.New("provider registry unavailable")

// ErrUnknownProvider is returned for lookups of unregistered names.
var ErrUnknownProvider = eris.New("provider: unknown provider")

// FetchResult is a provider's answer for one field of one record.
type FetchResult struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Provider is the uniform contract every enrichment source implements.
// Fetch must be idempotent and side-effect-free from the engine's
// perspective; caching is the provider's own concern.
type Provider interface {
	// Name returns the provider identifier used in waterfall rules.
	Name() string
	// SupportedFields returns the fields this provider can supply.
	SupportedFields() []model.FieldName
	// Fetch looks up one field for one raw record. It returns ErrNotFound
	// when the provider has no answer; any other error is treated as
	// transient by the engine.
	Fetch(ctx context.Context, field model.FieldName, record model.RawRecord) (*FetchResult, error)
}
