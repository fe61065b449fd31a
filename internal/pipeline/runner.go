// Package pipeline orchestrates batch enrichment runs: record selection,
// the bounded worker pool, checkpointing, and run lifecycle.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waxworks/trackline/internal/engine"
	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/promote"
	"github.com/waxworks/trackline/internal/provider"
	"github.com/waxworks/trackline/internal/rules"
	"github.com/waxworks/trackline/internal/store"
)

// Options configures one enrichment run.
type Options struct {
	Type     model.RunType
	Selector model.RunSelector
	// Fields limits enrichment to a subset; empty means every field with a
	// rule in the bound snapshot.
	Fields []model.FieldName
	// ConfigVersion pins the run to a historical rule snapshot. Zero means
	// snapshot whatever is current at start.
	ConfigVersion int64
	// ExcludedProviders are skipped in every waterfall for this run.
	ExcludedProviders map[string]bool
}

// Runner executes enrichment runs against the store.
type Runner struct {
	store    store.Store
	rules    *rules.Store
	enricher *engine.Enricher

	workers            int
	checkpointInterval int
}

// NewRunner creates a Runner. workers bounds record-level parallelism;
// checkpointInterval is the number of records committed between checkpoint
// writes.
func NewRunner(st store.Store, ruleStore *rules.Store, enricher *engine.Enricher, workers, checkpointInterval int) *Runner {
	if workers < 1 {
		workers = 1
	}
	if checkpointInterval < 1 {
		checkpointInterval = 25
	}
	return &Runner{
		store:              st,
		rules:              ruleStore,
		enricher:           enricher,
		workers:            workers,
		checkpointInterval: checkpointInterval,
	}
}

// Start creates a run bound to a single configuration snapshot and processes
// every selected record. A cancelled context yields a partial run that can
// be resumed from its checkpoint.
func (r *Runner) Start(ctx context.Context, opts Options) (*model.PipelineRun, error) {
	if err := r.enricher.Ready(); err != nil {
		return nil, err
	}
	version := opts.ConfigVersion
	if version == 0 {
		var err error
		version, err = r.rules.Snapshot(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: snapshot rules")
		}
	}
	set, err := r.rules.GetSet(ctx, version)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load rule snapshot %d", version)
	}

	runType := opts.Type
	if runType == "" {
		runType = model.RunTypeFull
	}

	run := &model.PipelineRun{
		ID:                    uuid.New().String(),
		Type:                  runType,
		ConfigSnapshotVersion: version,
		Fields:                opts.Fields,
		Selector:              opts.Selector,
		StartedAt:             time.Now().UTC(),
		Status:                model.RunStatusRunning,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	return r.execute(ctx, run, set, opts.ExcludedProviders, false)
}

// Resume continues a partial run from its checkpoint, bound to the same
// configuration snapshot as the original.
func (r *Runner) Resume(ctx context.Context, runID string) (*model.PipelineRun, error) {
	if err := r.enricher.Ready(); err != nil {
		return nil, err
	}
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	if run.Status.Sealed() {
		return nil, eris.Errorf("pipeline: run %s is %s and cannot be resumed", runID, run.Status)
	}

	set, err := r.rules.GetSet(ctx, run.ConfigSnapshotVersion)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load rule snapshot %d", run.ConfigSnapshotVersion)
	}

	run.Status = model.RunStatusRunning
	run.Error = ""
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: reopen run")
	}

	return r.execute(ctx, run, set, nil, true)
}

func (r *Runner) execute(ctx context.Context, run *model.PipelineRun, set model.RuleSet, excluded map[string]bool, resumed bool) (*model.PipelineRun, error) {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("type", string(run.Type)),
		zap.Int64("config_version", run.ConfigSnapshotVersion),
	)
	log.Info("pipeline: run started", zap.Int64("checkpoint", run.Checkpoint))

	stats := &runCounters{}
	stats.load(run.Stats)

	seal := func(status model.RunStatus, runErr error) (*model.PipelineRun, error) {
		run.Stats = stats.snapshot()
		run.Status = status
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if status.Sealed() {
			now := time.Now().UTC()
			run.CompletedAt = &now
		}
		// Sealing uses a background context so a cancelled run still
		// records its final state.
		if err := r.store.UpdateRun(context.Background(), run); err != nil {
			log.Error("pipeline: persist run state", zap.Error(err))
		}
		log.Info("pipeline: run finished",
			zap.String("status", string(status)),
			zap.Int64("processed", run.Stats.Processed),
			zap.Int64("accepted", run.Stats.Accepted),
			zap.Int64("unresolved", run.Stats.Unresolved),
			zap.Int64("record_errors", run.Stats.RecordErrors),
		)
		return run, runErr
	}

	// A run interrupted mid-batch has already committed attempts and
	// enriched records past the checkpoint. The first resumed batch skips
	// those records so each (record, field) keeps at most one accepted
	// attempt under this run id.
	skipCommitted := resumed

	filter := selectorFilter(run.Selector)
	for {
		if ctx.Err() != nil {
			return seal(model.RunStatusPartial, nil)
		}

		// Selection order is stable, so checkpoint doubles as offset.
		filter.Offset = int(run.Checkpoint)
		filter.Limit = r.checkpointInterval
		batch, err := r.store.ListRawRecords(ctx, filter)
		if err != nil {
			return seal(model.RunStatusFailed, eris.Wrap(err, "pipeline: select records"))
		}
		if len(batch) == 0 {
			break
		}

		if err := r.processBatch(ctx, run, set, batch, excluded, stats, skipCommitted); err != nil {
			if eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded) {
				return seal(model.RunStatusPartial, nil)
			}
			return seal(model.RunStatusFailed, err)
		}

		run.Checkpoint += int64(len(batch))
		run.Stats = stats.snapshot()
		if err := r.store.UpdateRun(ctx, run); err != nil {
			return seal(model.RunStatusFailed, eris.Wrap(err, "pipeline: checkpoint"))
		}
		skipCommitted = false
	}

	return seal(model.RunStatusCompleted, nil)
}

// processBatch enriches one checkpoint-sized batch with bounded parallelism.
// Waterfall evaluation stays sequential inside each record; parallelism is
// across records only.
func (r *Runner) processBatch(ctx context.Context, run *model.PipelineRun, set model.RuleSet, batch []model.RawRecord, excluded map[string]bool, stats *runCounters, skipCommitted bool) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, rec := range batch {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}

			if skipCommitted {
				done, err := r.store.HasEnrichedRecord(gCtx, run.ID, rec.ID)
				if err != nil {
					if gCtx.Err() != nil {
						return gCtx.Err()
					}
					return eris.Wrapf(err, "pipeline: check committed record %s", rec.ID)
				}
				if done {
					return nil
				}
			}

			enriched, trail, err := r.enricher.EnrichRecord(gCtx, run.ID, rec, set, run.Fields, excluded)
			stats.providerCalls.Add(int64(len(trail)))
			if err != nil {
				// Missing rules and a dead registry poison every record the
				// same way; fail fast instead of burning the whole selection.
				if eris.Is(err, engine.ErrNoRule) || eris.Is(err, provider.ErrRegistryUnavailable) {
					return eris.Wrapf(err, "pipeline: record %s", rec.ID)
				}
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				stats.recordErrors.Add(1)
				zap.L().Warn("pipeline: record failed",
					zap.String("run_id", run.ID),
					zap.String("record_id", rec.ID),
					zap.Error(err),
				)
				return nil
			}

			eval := promote.Evaluate(*enriched, set)
			enriched.QualityScore = eval.QualityScore
			enriched.Promotable = eval.Promotable

			if err := r.store.SaveEnrichedRecord(gCtx, *enriched); err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				stats.recordErrors.Add(1)
				zap.L().Warn("pipeline: save enriched record",
					zap.String("run_id", run.ID),
					zap.String("record_id", rec.ID),
					zap.Error(err),
				)
				return nil
			}

			stats.processed.Add(1)
			stats.accepted.Add(int64(len(enriched.Fields)))
			stats.unresolved.Add(int64(len(enriched.UnresolvedFields)))
			return nil
		})
	}

	return g.Wait()
}

func selectorFilter(sel model.RunSelector) store.RawRecordFilter {
	return store.RawRecordFilter{
		Source:         sel.Source,
		Kind:           sel.Kind,
		CollectedAfter: sel.CollectedAfter,
		IDs:            sel.RecordIDs,
	}
}

// runCounters holds the per-run stats as atomics so workers update them
// without a lock.
type runCounters struct {
	processed     atomic.Int64
	accepted      atomic.Int64
	unresolved    atomic.Int64
	providerCalls atomic.Int64
	recordErrors  atomic.Int64
}

func (c *runCounters) load(s model.RunStats) {
	c.processed.Store(s.Processed)
	c.accepted.Store(s.Accepted)
	c.unresolved.Store(s.Unresolved)
	c.providerCalls.Store(s.ProviderCalls)
	c.recordErrors.Store(s.RecordErrors)
}

func (c *runCounters) snapshot() model.RunStats {
	return model.RunStats{
		Processed:     c.processed.Load(),
		Accepted:      c.accepted.Load(),
		Unresolved:    c.unresolved.Load(),
		ProviderCalls: c.providerCalls.Load(),
		RecordErrors:  c.recordErrors.Load(),
	}
}
