// Package pipeline drives media files through their stages:
// transcription first, then per-language translation, then per-language
// evaluation. All stage state lives in the store; the orchestrator only
// ever holds claimed work in memory, so a crash loses nothing that
// reclaim cannot recover.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"subsync/internal/provider"
	"subsync/internal/segsync"
	"subsync/internal/store"
	"subsync/pkg/log"
)

type Config struct {
	// TargetLangs are the languages every media file is translated into
	// and evaluated for.
	TargetLangs []string
	// Workers bounds concurrent items per stage kind.
	Workers map[store.StageKind]int
	// ClaimLimit is the number of items claimed per sweep per stage.
	ClaimLimit int
	// PollInterval is the idle wait between sweeps of an empty stage.
	PollInterval time.Duration
	// StageTimeout bounds one handler invocation.
	StageTimeout time.Duration
	// StaleTimeout is the in_progress age after which startup reclaim
	// returns an item to pending.
	StaleTimeout time.Duration
}

const (
	defaultWorkers      = 2
	defaultClaimLimit   = 8
	defaultPollInterval = 10 * time.Second
	defaultStageTimeout = 10 * time.Minute
	defaultStaleTimeout = 30 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = defaultClaimLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = defaultStageTimeout
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = defaultStaleTimeout
	}
	return c
}

func (c Config) workers(kind store.StageKind) int {
	if n, ok := c.Workers[kind]; ok && n > 0 {
		return n
	}
	return defaultWorkers
}

// Orchestrator owns the claim/process/complete loop for every stage.
type Orchestrator struct {
	store    *store.Store
	cfg      Config
	backoff  Backoff
	handlers map[store.StageKind]Handler
}

func NewOrchestrator(st *store.Store, cfg Config, backoff Backoff, handlers ...Handler) (*Orchestrator, error) {
	if len(cfg.TargetLangs) == 0 {
		return nil, fmt.Errorf("at least one target language is required")
	}
	byKind := make(map[store.StageKind]Handler, len(handlers))
	for _, h := range handlers {
		byKind[h.Kind()] = h
	}
	for _, kind := range []store.StageKind{store.KindTranscription, store.KindTranslation, store.KindEvaluation} {
		if _, ok := byKind[kind]; !ok {
			return nil, fmt.Errorf("no handler for %s stage", kind)
		}
	}
	return &Orchestrator{
		store:    st,
		cfg:      cfg.withDefaults(),
		backoff:  backoff,
		handlers: byKind,
	}, nil
}

// Stages lists every stage the orchestrator serves, upstream first.
func (o *Orchestrator) Stages() []store.Stage {
	stages := []store.Stage{store.StageTranscription}
	for _, lang := range o.cfg.TargetLangs {
		stages = append(stages, store.TranslationStage(lang))
	}
	for _, lang := range o.cfg.TargetLangs {
		stages = append(stages, store.EvaluationStage(lang))
	}
	return stages
}

// Run reclaims stale claims from a previous process, then polls every
// stage until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	reclaimed, err := o.store.ReclaimStale(ctx, "", o.cfg.StaleTimeout)
	if err != nil {
		return fmt.Errorf("reclaim stale work: %w", err)
	}
	if reclaimed > 0 {
		log.Warn("Reclaimed %d stale in-progress items from a previous run", reclaimed)
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, stage := range o.Stages() {
		group.Go(func() error {
			o.stageLoop(ctx, stage)
			return nil
		})
	}
	return group.Wait()
}

// RunOnce sweeps every stage in upstream order until no further work can
// be claimed, processing items sequentially. Completing transcription in
// the same call unblocks translation claims, and so on down the chain.
func (o *Orchestrator) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	for _, stage := range o.Stages() {
		for {
			items, err := o.store.ClaimPending(ctx, stage, o.cfg.ClaimLimit)
			if err != nil {
				return processed, fmt.Errorf("claim %s: %w", stage, err)
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				o.process(item)
				processed++
			}
		}
	}
	return processed, nil
}

func (o *Orchestrator) stageLoop(ctx context.Context, stage store.Stage) {
	pool := errgroup.Group{}
	pool.SetLimit(o.cfg.workers(stage.Kind()))

	for {
		items, err := o.store.ClaimPending(ctx, stage, o.cfg.ClaimLimit)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("Claim %s: %v", stage, err)
		}
		for _, item := range items {
			pool.Go(func() error {
				o.process(item)
				return nil
			})
		}
		if len(items) < o.cfg.ClaimLimit {
			select {
			case <-ctx.Done():
				pool.Wait()
				return
			case <-time.After(o.cfg.PollInterval):
			}
		}
	}
	pool.Wait()
}

// bookkeepTimeout bounds the Complete/Fail write after a handler returns.
const bookkeepTimeout = 30 * time.Second

// process runs one handler invocation and records its outcome. Shutdown
// only stops claiming: an item already claimed runs to completion under
// the stage timeout, and its bookkeeping lands on a fresh context so the
// row never strands in_progress because the run context was cancelled.
func (o *Orchestrator) process(item store.WorkItem) {
	handler := o.handlers[item.Stage.Kind()]

	hctx, cancel := context.WithTimeout(context.Background(), o.cfg.StageTimeout)
	err := handler.Process(hctx, item)
	cancel()

	bctx, cancel := context.WithTimeout(context.Background(), bookkeepTimeout)
	defer cancel()

	if err == nil {
		if cerr := o.store.Complete(bctx, item.MediaID, item.Stage); cerr != nil {
			log.Error("Complete %s/%s: %v", item.MediaID, item.Stage, cerr)
			return
		}
		log.Info("Completed %s for %s", item.Stage, item.MediaID)
		return
	}

	permanent := isPermanent(err)
	retryAfter := time.Now().Add(o.backoff.Delay(item.Attempts))
	status, ferr := o.store.Fail(bctx, item.MediaID, item.Stage, err.Error(), permanent, retryAfter)
	if ferr != nil {
		log.Error("Record failure %s/%s: %v (original error: %v)", item.MediaID, item.Stage, ferr, err)
		return
	}
	if status == store.StatusFailedPermanent {
		log.Error("Gave up on %s for %s after %d attempts: %v", item.Stage, item.MediaID, item.Attempts+1, err)
	} else {
		log.Warn("Attempt %d of %s for %s failed, retrying after %s: %v",
			item.Attempts+1, item.Stage, item.MediaID, retryAfter.Format(time.TimeOnly), err)
	}
}

// isPermanent decides whether a stage error is worth retrying. Integrity
// violations and permanently classified provider errors are not; anything
// else is assumed transient and bounded by the attempt limit.
func isPermanent(err error) bool {
	if errors.Is(err, segsync.ErrIntegrity) || errors.Is(err, store.ErrIntegrity) {
		return true
	}
	return provider.Classify(err) == provider.KindPermanent
}
