package engine

import (
	"context"
	"time"

	"perpengine/internal/core"
)

// TickInterval is the cooperative scheduler's pass cadence.
const TickInterval = 60 * time.Second

// Scheduler is the single driver loop: one pass every TickInterval,
// iterating active strategies one at a time, sequentially. No two
// strategies' locks are ever held at once, so no cross-strategy deadlock is
// possible; every exchange call, persistence read/write, and the pass sleep
// itself is a suspension point where a cancelled ctx is observed.
type Scheduler struct {
	engine *Engine
	store  core.IStateStore
	logger core.ILogger
}

func NewScheduler(engine *Engine, store core.IStateStore, logger core.ILogger) *Scheduler {
	return &Scheduler{engine: engine, store: store, logger: logger.WithField("component", "scheduler")}
}

// Run blocks until ctx is cancelled, running one pass over all active
// strategies every TickInterval. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.pass(ctx); err != nil {
		s.logger.Error("scheduler pass failed", "error", err)
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := s.pass(ctx); err != nil {
				s.logger.Error("scheduler pass failed", "error", err)
			}
		}
	}
}

// pass loads the current strategy list and ticks every active one in turn,
// checking ctx between each so a shutdown signal is honored at the next
// suspension point rather than waiting out the whole pass.
func (s *Scheduler) pass(ctx context.Context) error {
	strategies, err := s.store.LoadStrategies(ctx)
	if err != nil {
		return err
	}

	for _, strategy := range strategies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !strategy.Active {
			continue
		}
		if err := s.engine.Tick(ctx, strategy); err != nil {
			s.logger.Error("tick error", "strategy_id", strategy.ID, "error", err)
		}
	}
	return nil
}
