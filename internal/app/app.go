// Package app runs the options node. It wires the stores, caches, custody
// vault, archive bucket and notifiers, then hands control to one of the
// operating modes: node, feeder or replay.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/sbtcoptions/internal/config"
)

// App owns the configuration and the cleanup hooks registered while wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modeFunc runs one operating mode until ctx ends. deps is nil for modes
// that skip wiring.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]struct {
	wire bool
	run  modeFunc
}{
	"node":   {wire: true, run: (*App).NodeMode},
	"replay": {wire: true, run: (*App).ReplayMode},
	// The feeder only talks HTTP to a node and never touches the backends.
	"feeder": {run: func(a *App, ctx context.Context, _ *Dependencies) error { return a.FeederMode(ctx) }},
}

// Run blocks until the configured mode returns. Resources acquired while
// wiring stay open until Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	m, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	var deps *Dependencies
	if m.wire {
		d, cleanup, err := Wire(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("app: wire dependencies: %w", err)
		}
		a.closers = append(a.closers, cleanup)
		deps = d
	}
	return m.run(a, ctx, deps)
}

// Close runs cleanup hooks in reverse order. Repeated calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
