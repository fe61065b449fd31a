package model

// HealthStatus is the registry's view of a provider's availability.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// ProviderDescriptor is the registry's metadata for one enrichment provider.
// Health and enablement are mutated by health-check collaborators; the
// engine treats a descriptor as read-only for the duration of a run.
type ProviderDescriptor struct {
	Name               string       `json:"name"`
	SupportedFields    []FieldName  `json:"supported_fields"`
	RateLimitPerSecond float64      `json:"rate_limit_per_second"`
	Enabled            bool         `json:"enabled"`
	Health             HealthStatus `json:"health"`
}

// Supports reports whether the provider can supply the given field. A
// declared field of "*" matches everything.
func (d ProviderDescriptor) Supports(field FieldName) bool {
	for _, f := range d.SupportedFields {
		if f == field || f == "*" {
			return true
		}
	}
	return false
}

// Callable reports whether the engine may include this provider in a
// waterfall: it must be enabled and not marked down. Degraded providers
// remain callable.
func (d ProviderDescriptor) Callable() bool {
	return d.Enabled && d.Health != HealthDown
}
