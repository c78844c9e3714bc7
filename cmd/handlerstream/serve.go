package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/handlerstream/pkg/config"
	"github.com/go-go-golems/handlerstream/pkg/relay"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay handler event streams to many clients over one upstream connection each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", "", "Listen address")
	cmd.Flags().Duration("idle-timeout", 0, "Keep a stream open this long after its last client left")
	bindFlag("listen_addr", cmd, "listen")
	bindFlag("relay.idle_timeout", cmd, "idle-timeout")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	up, err := openUpstream(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = up.Close() }()

	m := streammanager.NewManager(streammanager.WithBaseContext(ctx))
	defer m.Close()

	opts := relay.DefaultOptions()
	opts.IdleTimeout = cfg.Relay.IdleTimeout
	if cfg.Relay.ClientBuffer > 0 {
		opts.ClientBuffer = cfg.Relay.ClientBuffer
	}
	srv := relay.NewServer(m, up.client, opts)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down relay")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("relay shutdown error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("framing", cfg.Upstream.Framing).
			Msg("starting relay")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	return eg.Wait()
}
