// Canopy Server
//
// Features:
//   - In-memory file-tree index with watcher-driven coherence
//   - Prometheus metrics & structured logging (zap)
//   - JWT-authenticated mutation and query HTTP surface
//   - Real-time SSE notifications
//   - Optional Postgres-backed share links
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/canopyfs/canopy/internal/auth"
	"github.com/canopyfs/canopy/internal/config"
	"github.com/canopyfs/canopy/internal/fsops"
	s3backend "github.com/canopyfs/canopy/internal/fsops/s3"
	"github.com/canopyfs/canopy/internal/logging"
	"github.com/canopyfs/canopy/internal/metrics"
	"github.com/canopyfs/canopy/internal/mutate"
	"github.com/canopyfs/canopy/internal/sharelink"
	"github.com/canopyfs/canopy/internal/transport"
	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/updatebus"
	"github.com/canopyfs/canopy/internal/vpath"
	"github.com/canopyfs/canopy/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("canopy server starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("root", cfg.RootDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mapper := vpath.NewMapper(cfg.RootDir)
	store := treeindex.New()

	bus := updatebus.New(cfg.DebounceWindow, func() {
		store.Mutate(func(tx *treeindex.Txn) { tx.RecomputeSizes() })
	})

	broadcaster := transport.NewBroadcaster()
	bus.Subscribe(broadcaster)

	var backend fsops.Backend
	switch cfg.StorageBackend {
	case "s3":
		s3Backend, err := s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			logging.Fatal("s3 backend init failed", zap.Error(err))
		}
		backend = s3Backend
	default:
		backend = fsops.NewLocal()
	}

	ignorePatterns, err := config.LoadIgnorePatterns(cfg.IgnoreFile)
	if err != nil {
		logging.Error("failed to load ignore patterns", zap.Error(err))
	}

	watcher := watch.New(mapper, store, bus, watch.Options{
		PollInterval:   cfg.WatchPollInterval,
		IgnorePatterns: ignorePatterns,
	})
	if err := watcher.Start(ctx); err != nil {
		logging.Fatal("watcher start failed", zap.Error(err))
	}
	defer watcher.Stop()

	engine := mutate.New(backend, mapper, store, bus, watcher)

	var shareLinks transport.ShareLinkNotifier
	if cfg.DatabaseURL != "" {
		linkStore, err := sharelink.Open(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("share link store init failed", zap.Error(err))
		}
		defer linkStore.Close()
		shareLinks = linkStore
		logging.Info("share link store connected")
	}

	authenticator := auth.New(cfg.JWTSecret)

	srv := transport.New(engine, store, broadcaster, shareLinks, cfg.ReadOnly)

	handler := authenticator.Middleware(metrics.Middleware(srv.Handler()))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	go reportIndexSize(ctx, store)

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func reportIndexSize(ctx context.Context, store *treeindex.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetIndexTreeSize(len(store.Paths()))
		}
	}
}
