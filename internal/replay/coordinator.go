// Package replay implements re-enrichment of historical records: queued
// requests are claimed in priority order and executed as ordinary runs that
// append new provenance without touching prior attempts.
package replay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
	"github.com/waxworks/trackline/internal/store"
)

// ErrTargetNotFound is returned when a replay request names a raw record
// that does not exist.
var ErrTargetNotFound = eris.New("replay: target record not found")

// ErrNoTargets is returned when a replay request names no records.
var ErrNoTargets = eris.New("replay: request has no target records")

// Coordinator validates, queues, and executes replay requests.
type Coordinator struct {
	store  store.Store
	runner *pipeline.Runner
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(st store.Store, runner *pipeline.Runner) *Coordinator {
	return &Coordinator{store: st, runner: runner}
}

// Submit validates and enqueues a replay request, returning its id. Every
// target record must exist; a replay against vanished records is rejected
// up front rather than failing mid-run.
func (c *Coordinator) Submit(ctx context.Context, req model.ReplayRequest) (string, error) {
	if len(req.TargetRecordIDs) == 0 {
		return "", ErrNoTargets
	}
	for _, id := range req.TargetRecordIDs {
		if _, err := c.store.GetRawRecord(ctx, id); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return "", eris.Wrapf(ErrTargetNotFound, "%s", id)
			}
			return "", eris.Wrap(err, "replay: verify target")
		}
	}
	if req.ConfigVersion > 0 {
		if set, err := c.store.GetRuleSet(ctx, req.ConfigVersion); err != nil {
			return "", eris.Wrap(err, "replay: verify config version")
		} else if set == nil {
			return "", eris.Errorf("replay: unknown config version %d", req.ConfigVersion)
		}
	}

	req.ID = uuid.New().String()
	req.Status = model.ReplayStatusQueued
	req.SubmittedAt = time.Now().UTC()

	if err := c.store.EnqueueReplay(ctx, req); err != nil {
		return "", eris.Wrap(err, "replay: enqueue")
	}

	zap.L().Info("replay: request queued",
		zap.String("replay_id", req.ID),
		zap.Int("targets", len(req.TargetRecordIDs)),
		zap.Int("priority", req.Priority),
		zap.Int64("config_version", req.ConfigVersion),
	)
	return req.ID, nil
}

// ProcessNext claims the highest-priority queued request and executes it as
// a replay run. It returns (nil, nil) when the queue is empty. Prior
// provenance is never edited: the run appends fresh attempts tagged with its
// own run id, which is what keeps historical runs reconstructible.
func (c *Coordinator) ProcessNext(ctx context.Context) (*model.PipelineRun, error) {
	req, err := c.store.ClaimNextReplay(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "replay: claim next")
	}
	if req == nil {
		return nil, nil
	}

	log := zap.L().With(zap.String("replay_id", req.ID))
	log.Info("replay: processing", zap.Strings("targets", req.TargetRecordIDs))

	run, err := c.runner.Start(ctx, pipeline.Options{
		Type:          model.RunTypeReplay,
		Selector:      model.RunSelector{RecordIDs: req.TargetRecordIDs},
		Fields:        req.Fields,
		ConfigVersion: req.ConfigVersion,
	})
	if err != nil {
		if finishErr := c.store.FinishReplay(ctx, req.ID, model.ReplayStatusFailed, "", err.Error()); finishErr != nil {
			log.Error("replay: record failure", zap.Error(finishErr))
		}
		return nil, eris.Wrapf(err, "replay: run for request %s", req.ID)
	}

	status := model.ReplayStatusCompleted
	if run.Status != model.RunStatusCompleted {
		status = model.ReplayStatusFailed
	}
	if err := c.store.FinishReplay(ctx, req.ID, status, run.ID, run.Error); err != nil {
		return run, eris.Wrapf(err, "replay: finish request %s", req.ID)
	}

	log.Info("replay: finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
	)
	return run, nil
}

// Work polls the queue until the context is cancelled. An empty queue sleeps
// for pollInterval before the next claim.
func (c *Coordinator) Work(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		run, err := c.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Error("replay: process next", zap.Error(err))
		}
		if run != nil {
			continue // drain the queue before sleeping
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
