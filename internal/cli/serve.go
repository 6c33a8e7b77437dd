package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/minibilling/internal/config"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run the scheduled sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			ln, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
			}
			return a.serve(cmd.Context(), ln)
		},
	}
}

// router mounts the REST API next to the Prometheus scrape endpoint.
func (a *app) router() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/", a.handler.Router())
	return mux
}

// serve runs the HTTP server and the scheduler until ctx ends or either fails, then shuts
// both down within the configured timeout and drains pending notifications.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	log := a.tel.Logger()

	a.startBackground(ctx)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.stopBackground(drainCtx)
	}()

	// with the scheduler off every sweep stays available for manual runs
	if err := a.registerJobs(!a.cfg.Scheduler.Enabled); err != nil {
		return err
	}

	server := &http.Server{
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http_server_start", observability.F("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(gctx); err != nil {
			_ = server.Close()
			_ = g.Wait()
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http_server_shutdown_error", observability.F("error", err))
			errs = append(errs, err)
		} else {
			log.Info("http_server_stopped")
		}
		if a.cfg.Scheduler.Enabled {
			if err := a.scheduler.Stop(shutdownCtx); err != nil {
				log.Error("scheduler_stop_error", observability.F("error", err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
