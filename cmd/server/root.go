package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tuosm9390/minionsbid/internal/auction"
	"github.com/tuosm9390/minionsbid/internal/audit"
	"github.com/tuosm9390/minionsbid/internal/config"
	"github.com/tuosm9390/minionsbid/internal/httpapi"
	"github.com/tuosm9390/minionsbid/internal/hub"
	"github.com/tuosm9390/minionsbid/internal/room"
	"github.com/tuosm9390/minionsbid/internal/store"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "minionsbid",
		Short:         "Live player auction server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			sc := cfg.Store()
			sc.AutoMigrate = false
			st, err := store.Open(sc, log)
			if err != nil {
				return err
			}
			defer st.Close()

			g, ok := st.(*store.Gorm)
			if !ok {
				log.Info("nothing to migrate", zap.String("driver", sc.Driver))
				return nil
			}
			if err := g.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("schema migrated", zap.String("driver", sc.Driver))
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	st, err := store.Open(cfg.Store(), log.Named("store"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	sinks := audit.Multi{audit.NewZapSink(log), audit.NewStoreSink(st)}
	if cfg.NATS.Enabled {
		nc, nerr := audit.ConnectNATS(cfg.NATSConfig(), log.Named("nats"))
		if nerr != nil {
			return nerr
		}
		defer func() { err = multierr.Append(err, nc.Close()) }()
		sinks = append(sinks, nc)
	}
	auditor := audit.NewAsync(sinks, cfg.Auction.AuditQueueSize, log.Named("audit"))
	defer auditor.Close()

	h := hub.NewHub(ctx, room.Options{
		Store:         st,
		Audit:         auditor,
		Log:           log.Named("room"),
		CommitTimeout: cfg.Auction.CommitTimeout,

		PauseOnDisconnect: cfg.Auction.PauseOnDisconnect,
	}, cfg.Rules())
	defer h.Shutdown()

	if _, err := h.Recover(ctx); err != nil {
		return err
	}

	svc := auction.NewService(h, auction.Options{
		RequireAllConnected: cfg.Auction.RequireAllConnected,
		Log:                 log,
	})

	// Build the router *with* the service injected
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(svc, httpapi.Options{CORSOrigins: cfg.CORSOrigins, Log: log}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
