package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"fx-deviation-monitor/internal/scheduler"
	"fx-deviation-monitor/internal/server"
)

// ServeOptions configure the serve command.
type ServeOptions struct {
	Filter FilterOptions
	Mode   string
}

// Serve runs the HTTP API until interrupted. When session.refresh_interval is
// set the session is reloaded on that cadence.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeSvc, err := a.openService(ctx, opts.Filter, opts.Mode)
	if err != nil {
		return err
	}
	defer closeSvc()

	srv := server.New(a.Config.Server, svc, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if interval := a.Config.Session.RefreshInterval; interval > 0 {
		sched, err := scheduler.New(scheduler.Options{Name: "session-refresh", Interval: interval}, a.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx, svc.Refresh) })
	} else {
		a.Logger.Info().Msg("session.refresh_interval not set; session refresh disabled")
	}

	a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("starting dashboard service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("dashboard service stopped")
	return nil
}
