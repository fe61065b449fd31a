// Package engine implements the waterfall enrichment core: for one field of
// one raw record, consult a ranked, confidence-thresholded list of providers
// and accept the first value that clears its threshold, recording every
// attempt for audit and replay.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/provider"
)

// AttemptSink receives one provenance row per waterfall step. Appends are
// independent rows keyed by (run, record, field, provider), so concurrent
// workers need no cross-record coordination.
type AttemptSink interface {
	AppendAttempt(ctx context.Context, attempt model.EnrichmentAttempt) error
}

// FieldResult is the outcome of one field waterfall.
type FieldResult struct {
	Field    model.FieldName
	Resolved bool
	Value    *model.ResolvedField
	Attempts []model.EnrichmentAttempt
}

// Enricher executes field waterfalls against the provider registry.
type Enricher struct {
	registry *provider.Registry
	sink     AttemptSink

	// defaultTimeout bounds a single provider call when the rule does not
	// set its own. A provider that never responds must not stall a worker.
	defaultTimeout time.Duration
}

// New creates an Enricher.
func New(registry *provider.Registry, sink AttemptSink, defaultTimeout time.Duration) *Enricher {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Enricher{
		registry:       registry,
		sink:           sink,
		defaultTimeout: defaultTimeout,
	}
}

// Ready reports whether the enricher can serve waterfalls at all. A registry
// with zero providers aborts a run up front instead of failing every record.
func (e *Enricher) Ready() error {
	if e.registry.Len() == 0 {
		return provider.ErrRegistryUnavailable
	}
	return nil
}

// EnrichField runs the waterfall for one (record, field). Candidates are
// tried in strict rule order and the loop short-circuits on the first
// acceptable answer; this ordering is the waterfall semantic and is never
// parallelized. Every candidate tried appends exactly one attempt,
// accepted or not. Provider failures never propagate: they become
// transient attempts and fall through to the next candidate.
func (e *Enricher) EnrichField(ctx context.Context, runID string, rec model.RawRecord, rule model.WaterfallRule, excluded map[string]bool) (*FieldResult, error) {
	result := &FieldResult{Field: rule.Field}
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("record_id", rec.ID),
		zap.String("field", rule.Field),
	)

	timeout := rule.FetchTimeout.Std()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	for priority, step := range rule.Steps {
		if ctx.Err() != nil {
			return result, eris.Wrap(ctx.Err(), "engine: waterfall interrupted")
		}
		if excluded[step.Provider] {
			continue
		}

		prov, desc, err := e.registry.Get(step.Provider)
		if err != nil {
			// A rule may reference a provider that was never registered;
			// skip it the same way as a disabled one.
			log.Warn("engine: rule references unknown provider", zap.String("provider", step.Provider))
			continue
		}
		if !desc.Callable() || !desc.Supports(rule.Field) {
			continue
		}

		attempt := model.EnrichmentAttempt{
			ID:          uuid.New().String(),
			RunID:       runID,
			RawRecordID: rec.ID,
			Field:       rule.Field,
			Provider:    step.Provider,
			Priority:    priority,
			InputValue:  rec.Payload[rule.Field],
			Timestamp:   time.Now().UTC(),
		}

		res, elapsed, fetchErr := e.fetch(ctx, prov, rule.Field, rec, timeout)
		attempt.ElapsedMs = elapsed.Milliseconds()
		e.registry.Report(provider.CallMetric{Provider: step.Provider, Elapsed: elapsed, Err: fetchErr})

		stop := false
		switch {
		case fetchErr == nil:
			attempt.OutputValue = res.Value
			attempt.Confidence = res.Confidence
			threshold := rule.AcceptanceThreshold(step)
			if res.Confidence >= threshold {
				attempt.Accepted = true
				result.Resolved = true
				result.Value = &model.ResolvedField{
					Value:      res.Value,
					Provider:   step.Provider,
					Confidence: res.Confidence,
				}
				stop = true
			} else {
				attempt.ErrorKind = model.ErrorKindLowConfidence
				attempt.ErrorDetail = fmt.Sprintf("confidence %.3f below threshold %.3f", res.Confidence, threshold)
				// NotFound and transient failures always fall through; only
				// confidence rejections honor the retry flag.
				stop = !rule.RetryOnLowConfidence
			}
		case eris.Is(fetchErr, provider.ErrNotFound):
			attempt.ErrorKind = model.ErrorKindNotFound
		default:
			attempt.ErrorKind = model.ErrorKindTransient
			attempt.ErrorDetail = fetchErr.Error()
		}

		if err := e.sink.AppendAttempt(ctx, attempt); err != nil {
			return result, eris.Wrap(err, "engine: append attempt")
		}
		result.Attempts = append(result.Attempts, attempt)

		if stop {
			break
		}
	}

	// When every candidate was skipped the waterfall ran without consulting
	// anyone. One unavailable attempt keeps the trail distinguishable from
	// a field that was never processed.
	if !result.Resolved && len(result.Attempts) == 0 {
		attempt := model.EnrichmentAttempt{
			ID:          uuid.New().String(),
			RunID:       runID,
			RawRecordID: rec.ID,
			Field:       rule.Field,
			ErrorKind:   model.ErrorKindUnavailable,
			ErrorDetail: "no callable provider",
			Timestamp:   time.Now().UTC(),
		}
		if err := e.sink.AppendAttempt(ctx, attempt); err != nil {
			return result, eris.Wrap(err, "engine: append attempt")
		}
		result.Attempts = append(result.Attempts, attempt)
	}

	if !result.Resolved {
		log.Debug("engine: field unresolved", zap.Int("attempts", len(result.Attempts)))
	}
	return result, nil
}

// EnrichRecord runs waterfalls for every requested field of one record and
// assembles the pre-promotion EnrichedRecord. Fields are evaluated
// sequentially; parallelism lives at the record level.
func (e *Enricher) EnrichRecord(ctx context.Context, runID string, rec model.RawRecord, set model.RuleSet, fields []model.FieldName, excluded map[string]bool) (*model.EnrichedRecord, []model.EnrichmentAttempt, error) {
	if len(fields) == 0 {
		fields = set.Fields()
		sort.Strings(fields)
	}

	enriched := &model.EnrichedRecord{
		RawRecordID: rec.ID,
		RunID:       runID,
		Fields:      make(map[model.FieldName]model.ResolvedField, len(fields)),
		CreatedAt:   time.Now().UTC(),
	}

	var trail []model.EnrichmentAttempt
	for _, field := range fields {
		rule, ok := set.Rules[field]
		if !ok {
			return nil, trail, eris.Wrapf(ErrNoRule, "%s", field)
		}

		fr, err := e.EnrichField(ctx, runID, rec, rule, excluded)
		if fr != nil {
			trail = append(trail, fr.Attempts...)
		}
		if err != nil {
			return nil, trail, err
		}

		if fr.Resolved {
			enriched.Fields[field] = *fr.Value
		} else {
			enriched.UnresolvedFields = append(enriched.UnresolvedFields, field)
		}
	}

	return enriched, trail, nil
}

// ErrNoRule is returned when a requested field has no rule in the bound
// snapshot.
var ErrNoRule = eris.New("engine: no rule for field")

func (e *Enricher) fetch(ctx context.Context, prov provider.Provider, field model.FieldName, rec model.RawRecord, timeout time.Duration) (res *provider.FetchResult, elapsed time.Duration, err error) {
	// The shared limiter is waited on outside the per-call timeout so a
	// saturated quota does not masquerade as a provider timeout.
	if waitErr := e.registry.Wait(ctx, prov.Name()); waitErr != nil {
		return nil, 0, eris.Wrap(waitErr, "engine: rate limit wait")
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if r := recover(); r != nil {
			// A panicking provider must never abort the batch.
			res = nil
			err = eris.Errorf("engine: provider %s panic: %v", prov.Name(), r)
		}
	}()

	res, err = prov.Fetch(cctx, field, rec)
	return res, time.Since(start), err
}
