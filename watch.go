package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run fetch whenever layout definitions change",
		Long: `Run a fetch for missing and invalid slots, then watch the definitions and
run again after every change (debounced by watch_debounce). Adding a
definition file therefore measures the new layout without a manual fetch.

Runs until interrupted. Orphaned layouts are logged and the watch goes on,
so fixing the definitions triggers the next run.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	session, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer closeSession(session)

	release, err := lockStore(cc.Cfg.StorePath)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := shutdownContext(cmd.Context(), logger, cc.Cfg.StorePath)
	defer stop()

	dir := cc.Cfg.LayoutsDir
	if dir == "" {
		dir = filepath.Dir(cc.Cfg.LayoutsFile)
	}

	watchPass(ctx, session, logger, false)

	w := layout.NewWatcher(dir, cc.Cfg.WatchDebounce, logger)

	return w.Run(ctx, func(ctx context.Context) {
		watchPass(ctx, session, logger, true)
	})
}

// watchPass runs one only-invalid fetch. Failures are logged; the watch
// keeps going. reload re-reads the definitions first.
func watchPass(ctx context.Context, s *Session, logger *slog.Logger, reload bool) {
	if reload {
		if err := s.Reload(); err != nil {
			logger.Error("definitions unusable, keeping previous set", slog.String("error", err.Error()))
			return
		}
	}

	report, err := s.Engine.Run(ctx, s.Options(reconcile.Scope{}))

	switch {
	case errors.Is(err, reconcile.ErrOrphans):
		logger.Error("run aborted, store has layouts without definitions", slog.String("error", err.Error()))
	case err != nil:
		logger.Error("run failed", slog.String("error", err.Error()))
	default:
		logger.Info("watch pass complete",
			slog.Int("planned", report.Planned),
			slog.Int("executed", report.Executed),
			slog.Int("invalid", report.Invalid),
		)
	}
}
