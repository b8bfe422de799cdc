package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/config"
	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/export"
	"github.com/alfredjeanlab/tablequeue/internal/presence"
	"github.com/alfredjeanlab/tablequeue/internal/server"
	"github.com/alfredjeanlab/tablequeue/internal/store"
	"github.com/alfredjeanlab/tablequeue/internal/store/memory"
	"github.com/alfredjeanlab/tablequeue/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the shared row store server",
	GroupID: "system",
	// The server is configured from the environment, not the device profile.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var st store.Store
		if strings.HasPrefix(cfg.DatabaseURL, "memory:") {
			st = memory.New()
			logger.Warn("using in-memory store; rows are lost on exit")
		} else {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("change feed on NATS", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("change feed on SSE only (TQ_NATS_URL not set)")
		}

		srv := server.New(st, publisher)
		srv.Presence.StartReaper(&presence.ReaperConfig{
			IdleThreshold: cfg.PresenceIdle,
			OnIdle:        srv.OnWatcherIdle,
		})

		// gRPC carries health and reflection only.
		grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			srv.Presence.Stop()
			publisher.Close()
			st.Close()
			return err
		}
		healthCtx, stopHealth := context.WithCancel(context.Background())
		go srv.WatchHealth(healthCtx, healthServer, 10*time.Second)
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startExport(cfg, st, logger)

		logger.Info("tablequeue server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("export scheduler stopped")
		}

		stopHealth()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// SSE streams never finish on their own; Shutdown waits out the timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", "err", err)
		}
		logger.Info("HTTP server stopped")

		srv.Presence.Stop()
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startExport starts the audit export when an interval and at least one
// destination are configured.
func startExport(cfg *config.Config, st store.Store, logger *slog.Logger) *export.Scheduler {
	if cfg.ExportInterval <= 0 {
		return nil
	}
	var dests []export.Destination
	if cfg.ExportS3Bucket != "" {
		d, err := export.NewS3Destination(context.Background(),
			cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("export to S3 enabled", "bucket", cfg.ExportS3Bucket, "key", cfg.ExportS3Key)
		}
	}
	if cfg.ExportGitRepo != "" {
		dests = append(dests, export.NewGitDestination(cfg.ExportGitRepo, cfg.ExportGitFile, cfg.ExportGitBranch))
		logger.Info("export to git enabled", "repo", cfg.ExportGitRepo, "file", cfg.ExportGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	s := export.NewScheduler(st, dests, cfg.ExportInterval, logger)
	s.Start()
	logger.Info("export scheduler started", "interval", cfg.ExportInterval)
	return s
}
