// Package bootstrap provides the top-level process lifecycle: signal-driven
// shutdown fanned in across every long-running component via errgroup.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"perpengine/internal/core"
)

// Runner is any component with a blocking Run(ctx) that returns when ctx is
// cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App fans out every Runner under one signal-driven shutdown context.
type App struct {
	Logger core.ILogger
}

func New(logger core.ILogger) *App {
	return &App{Logger: logger}
}

// Run starts every runner concurrently and blocks until all return. A
// SIGINT/SIGTERM cancels the shared context; runners are expected to return
// promptly once ctx is done. The first non-shutdown-caused error from any
// runner is returned.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	a.Logger.Info("starting application")

	for _, r := range runners {
		runner := r
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
