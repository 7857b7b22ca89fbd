package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/internal/api"
	"github.com/mnemo-sh/mnemo/internal/causal"
	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/dedup"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/gateway"
	"github.com/mnemo-sh/mnemo/internal/memory"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/snapshot"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/tagindex"
	"github.com/mnemo-sh/mnemo/internal/types"
	"github.com/mnemo-sh/mnemo/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Mnemo - persistent memory service for coding agents",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(clientCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	tags, err := tagindex.Open(cfg.Database.TagIndexPath)
	if err != nil {
		return err
	}
	slog.Info("tag index opened", "path", cfg.Database.TagIndexPath)

	queue, err := compact.NewQueue(cfg.Database.QueuePath)
	if err != nil {
		return err
	}

	var embedder embedding.Embedder
	if config.DevMode() {
		embedder = embedding.NewLocal(cfg.Embedding.Dimensions)
		slog.Warn("dev mode, using local hash embedder")
	} else {
		embedder = embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		slog.Info("embedder initialized", "model", cfg.Embedding.Model)
	}

	cache, err := search.NewCache(time.Duration(cfg.Search.CacheTTL))
	if err != nil {
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.Backup.Storage)
	if err != nil {
		return err
	}

	flushCh := make(chan compact.FlushRequest)

	svc := memory.NewService(memory.Deps{
		Store:     db,
		Tags:      tags,
		Search:    search.NewEngine(db, tags, embedder, cache, cfg.Search),
		Dedup:     dedup.New(db, cfg.Dedup),
		Tracker:   causal.New(db, embedder, cfg.Causal),
		Queue:     queue,
		Cache:     cache,
		Embedder:  embedder,
		Snapshots: snapshot.NewWriter(db, cfg.Backup.Dir),
		Uploader:  uploader,
		Flush:     flushCh,
	}, cfg, Version)

	handler := api.NewHandler(svc, cfg.Server.APIKey)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	compactor := compact.New(db, queue, embedder, cfg.Compaction)
	compaction := worker.NewCompactionCoordinator(
		compactor,
		time.Duration(cfg.Compaction.Interval),
		flushCh,
		func(at time.Time, _ *types.CompactionStats) { svc.NoteCompaction(at) },
	)
	backups := worker.NewBackupCoordinator(svc, time.Duration(cfg.Backup.Interval))
	gw := gateway.New(svc, cfg.Gateway)

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "compaction", compaction.Run)
	startWorker(ctx, &wg, "backup", backups.Run)
	startWorker(ctx, &wg, "gateway", func(ctx context.Context) {
		if err := gw.Run(ctx); err != nil {
			slog.Error("gateway failed", "error", err)
			cancel()
		}
	})

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error on graceful Shutdown().
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := tags.Close(); err != nil {
		slog.Error("tag index close error", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
