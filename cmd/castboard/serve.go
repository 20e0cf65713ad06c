package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alfredjeanlab/castboard/internal/auth"
	"github.com/alfredjeanlab/castboard/internal/backup"
	"github.com/alfredjeanlab/castboard/internal/chaturbate"
	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/poller"
	"github.com/alfredjeanlab/castboard/internal/presence"
	"github.com/alfredjeanlab/castboard/internal/server"
	"github.com/alfredjeanlab/castboard/internal/statbate"
	"github.com/alfredjeanlab/castboard/internal/store"
	"github.com/alfredjeanlab/castboard/internal/summary"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const (
	healthInterval   = 10 * time.Second
	authPruneEvery   = time.Hour
	summaryTimeout   = 2 * time.Minute
	shutdownDeadline = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the API server, events poller and backup scheduler",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL,
				nats.Name("castboard-serve"),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					if err != nil {
						logger.Warn("NATS disconnected", "err", err)
					}
				}),
				nats.ReconnectHandler(func(_ *nats.Conn) {
					logger.Info("NATS reconnected")
				}),
			)
			if err != nil {
				db.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (CASTBOARD_NATS_URL not set)")
		}

		srvCfg := server.Config{
			Store:          db,
			Publisher:      publisher,
			Auth:           auth.NewManager(db, cfg.SessionTTL),
			Presence:       presence.New(),
			Affiliate:      chaturbate.NewAffiliateClient(cfg.AffiliateURL, cfg.AffiliateWM, cfg.HTTPTimeout),
			Broadcaster:    cfg.Broadcaster,
			ImagePrefix:    cfg.S3Prefix,
			CookieSecure:   cfg.CookieSecure,
			LoginRateLimit: cfg.LoginRateLimit,
			CORSOrigins:    cfg.CORSOrigins,
		}

		var objects mediastore.ObjectStore
		if cfg.S3Enabled() {
			s3store, err := openObjects(ctx, cfg)
			if err != nil {
				publisher.Close()
				db.Close()
				return err
			}
			objects = s3store
			srvCfg.Objects = s3store
			logger.Info("object storage enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		} else {
			logger.Info("object storage disabled (CASTBOARD_S3_BUCKET not set)")
		}
		if cfg.StatbateToken != "" {
			srvCfg.Statbate = statbate.New(cfg.StatbateURL, cfg.StatbateToken, cfg.HTTPTimeout)
		}
		if cfg.SummariesEnabled() {
			srvCfg.Summarizer = summary.New(cfg.LLMURL, cfg.LLMModel, summaryTimeout)
			logger.Info("summaries enabled", "model", cfg.LLMModel)
		}

		srv := server.New(srvCfg)

		var wg sync.WaitGroup
		goBackground := func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		}

		// Idle viewers leave the room after the idle threshold.
		srv.Presence.StartReaper(&presence.ReaperConfig{
			IdleThreshold: idleThreshold(ctx, db),
			OnGone: func(username string) {
				srv.Notify(context.Background(), events.TopicPresenceLeave, username, "reaper",
					events.PresenceChanged{Username: username, Viewers: srv.Presence.Count()})
			},
		})

		if cfg.EventsURL != "" {
			p := poller.New(poller.Config{
				Store:       db,
				Source:      chaturbate.NewEventsClient(cfg.EventsRate, cfg.HTTPTimeout),
				Tracker:     srv.Presence,
				Notifier:    srv,
				Broadcaster: cfg.Broadcaster,
				Logger:      logger,
			})
			goBackground(func() {
				if err := p.Run(ctx, cfg.EventsURL); err != nil {
					logger.Error("poller error", "err", err)
				}
			})
		} else {
			logger.Info("poller disabled (CASTBOARD_EVENTS_URL not set)")
		}

		var scheduler *backup.Scheduler
		if cfg.BackupInterval > 0 && objects != nil {
			dest := backup.NewObjectDestination(objects, cfg.BackupKey)
			scheduler = backup.NewScheduler(db, []backup.Destination{dest}, cfg.BackupInterval, logger)
			scheduler.Start()
			logger.Info("backup scheduler started", "interval", cfg.BackupInterval, "key", cfg.BackupKey)
		}

		goBackground(func() { pruneAuthSessions(ctx, srvCfg.Auth) })

		// gRPC health.
		grpcServer, healthServer := server.NewGRPCServer()
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			srv.Presence.Stop()
			publisher.Close()
			db.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()
		goBackground(func() { srv.WatchHealth(ctx, healthServer, healthInterval) })

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
				stop()
			}
		}()

		logger.Info("castboard server started",
			"broadcaster", cfg.Broadcaster,
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		<-ctx.Done()
		stop()
		exitOnSecondSignal()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		wg.Wait()
		srv.Presence.Stop()
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("backup scheduler stopped")
		}

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := db.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// idleThreshold reads presence.idle_minutes, returning zero (the tracker
// default) when it is unset or invalid.
func idleThreshold(ctx context.Context, s store.SettingStore) time.Duration {
	setting, err := s.GetSetting(ctx, "presence.idle_minutes")
	if err != nil {
		return 0
	}
	var minutes int
	if err := json.Unmarshal(setting.Value, &minutes); err != nil || minutes <= 0 {
		logger.Warn("ignoring invalid presence.idle_minutes", "value", string(setting.Value))
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

func pruneAuthSessions(ctx context.Context, m *auth.Manager) {
	ticker := time.NewTicker(authPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.PruneExpired(ctx)
			if err != nil {
				logger.Warn("pruning auth sessions failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned expired auth sessions", "count", n)
			}
		}
	}
}

// exitOnSecondSignal makes a second interrupt during shutdown fatal.
func exitOnSecondSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		os.Exit(1)
	}()
}
