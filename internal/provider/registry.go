package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/resilience"
)

// CallMetric is a fire-and-forget report of one provider call. The engine
// emits these for health tracking; they must never block acceptance logic.
type CallMetric struct {
	Provider string
	Elapsed  time.Duration
	Err      error
}

// Registry is the catalog of registered providers. It owns one shared rate
// limiter and one circuit breaker per provider; the limiter is global
// across all workers because external providers enforce their own quotas.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	metrics chan CallMetric
	done    chan struct{}
	wg      sync.WaitGroup
}

type entry struct {
	provider Provider
	desc     model.ProviderDescriptor
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
}

// NewRegistry creates an empty registry and starts its metric consumer.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		metrics: make(chan CallMetric, 256),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.consumeMetrics()
	return r
}

// Close stops the metric consumer. Pending metrics are drained first.
func (r *Registry) Close() {
	close(r.done)
	r.wg.Wait()
}

// Register adds a provider with the given sustained rate limit. A limit of
// zero or below disables throttling for that provider.
func (r *Registry) Register(p Provider, rateLimitPerSecond float64) {
	limit := rate.Inf
	if rateLimitPerSecond > 0 {
		limit = rate.Limit(rateLimitPerSecond)
	}
	burst := int(rateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}

	name := p.Name()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("provider: circuit state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{
		provider: p,
		desc: model.ProviderDescriptor{
			Name:               name,
			SupportedFields:    p.SupportedFields(),
			RateLimitPerSecond: rateLimitPerSecond,
			Enabled:            true,
			Health:             model.HealthHealthy,
		},
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
	}
}

// Get returns the provider and its current descriptor.
func (r *Registry) Get(name string) (Provider, model.ProviderDescriptor, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ProviderDescriptor{}, eris.Wrapf(ErrUnknownProvider, "%s", name)
	}
	return e.provider, r.describe(e), nil
}

// Descriptor returns the current descriptor for a provider.
func (r *Registry) Descriptor(name string) (model.ProviderDescriptor, error) {
	_, desc, err := r.Get(name)
	return desc, err
}

// List returns descriptors for all registered providers, sorted by name.
func (r *Registry) List() []model.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]model.ProviderDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descs = append(descs, r.describe(e))
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetEnabled flips a provider's enablement. Disabling removes it from all
// subsequent waterfalls without touching prior provenance.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return eris.Wrapf(ErrUnknownProvider, "%s", name)
	}
	e.desc.Enabled = enabled
	return nil
}

// Wait blocks until the provider's shared rate limiter admits one call or
// the context is cancelled.
func (r *Registry) Wait(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return eris.Wrapf(ErrUnknownProvider, "%s", name)
	}
	return e.limiter.Wait(ctx)
}

// Report submits a call metric without blocking; metrics are dropped when
// the buffer is full rather than stalling a waterfall.
func (r *Registry) Report(m CallMetric) {
	select {
	case r.metrics <- m:
	default:
	}
}

func (r *Registry) consumeMetrics() {
	defer r.wg.Done()
	for {
		select {
		case m := <-r.metrics:
			r.observe(m)
		case <-r.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case m := <-r.metrics:
					r.observe(m)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) observe(m CallMetric) {
	r.mu.RLock()
	e, ok := r.entries[m.Provider]
	r.mu.RUnlock()
	if !ok {
		return
	}
	// NotFound is a valid answer, not a failure.
	if eris.Is(m.Err, ErrNotFound) {
		e.breaker.Observe(nil)
		return
	}
	e.breaker.Observe(m.Err)
}

// describe derives the live health status from the breaker state.
// Callers hold at least a read lock.
func (r *Registry) describe(e *entry) model.ProviderDescriptor {
	desc := e.desc
	switch e.breaker.State() {
	case resilience.CircuitOpen:
		desc.Health = model.HealthDown
	case resilience.CircuitHalfOpen:
		desc.Health = model.HealthDegraded
	default:
		desc.Health = model.HealthHealthy
	}
	return desc
}
