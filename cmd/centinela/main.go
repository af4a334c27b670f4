// Command centinela is the log-observation daemon binary. It loads a YAML
// configuration file, attempts to restore a counts snapshot, starts the
// notifier, data store, read-only inspection API, and periodic tasks, then
// launches one tail source and match pipeline per configured file-set. It
// shuts down gracefully on SIGINT or SIGTERM.
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

	"github.com/patternseek/centinela/internal/api"
	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/heartbeat"
	"github.com/patternseek/centinela/internal/matchpipeline"
	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/notifier"
	"github.com/patternseek/centinela/internal/persist"
	"github.com/patternseek/centinela/internal/store"
	"github.com/patternseek/centinela/internal/tail"
)

func main() {
	logger := newLogger("info")

	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: centinela <config.yaml> <data.json>\n")
		os.Exit(1)
	}
	configPath, dataPath := os.Args[1], os.Args[2]

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "centinela: %v\n", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("config_path", configPath),
		slog.Int("file_sets", len(cfg.FileSets)),
		slog.Int("monitors", len(cfg.Monitors)),
		slog.Int("notifiers", len(cfg.Notifiers)),
	)

	snap, err := persist.Load(dataPath)
	if err != nil {
		logger.Warn("failed to load counts snapshot, starting empty", slog.String("path", dataPath), slog.Any("error", err))
		snap = store.Snapshot{}
	}

	backEnd := notifier.NewWebhookBackEnd()
	nf := notifier.New(cfg, backEnd, logger)

	st := store.New(cfg, nf, logger)
	st.LoadSnapshot(snap)

	notifierIDs := make([]model.NotifierId, 0, len(cfg.Global.NotifiersForFilesLastSeen))
	for _, id := range cfg.Global.NotifiersForFilesLastSeen {
		notifierIDs = append(notifierIDs, model.NotifierId(id))
	}
	tasks := heartbeat.New(st, dataPath, time.Duration(cfg.Global.PeriodForFilesLastSeen)*time.Second, notifierIDs, logger)

	apiServer := api.NewServer(st)
	httpServer := &http.Server{
		Addr:    api.DefaultAddr,
		Handler: api.NewRouter(apiServer),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tasksCtx, tasksCancel := context.WithCancel(context.Background())
	defer tasksCancel()

	nf.Start(ctx)
	st.Start(ctx)
	tasks.Start(tasksCtx)

	go func() {
		logger.Info("inspection api listening", slog.String("addr", api.DefaultAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("inspection api error", slog.Any("error", err))
		}
	}()

	sources, err := startTailSources(ctx, cfg, st, logger)
	if err != nil {
		logger.Error("failed to start tail sources", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("centinela started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	shutdown(ctx, cancel, tasksCancel, httpServer, tasks, st, nf, sources, logger)
	logger.Info("centinela exited cleanly")
}

// fileSetSource pairs a tail source with the WaitGroup of the goroutine
// that pumps its lines into the file-set's match pipeline.
type fileSetSource struct {
	src *tail.Source
	wg  sync.WaitGroup
}

// startTailSources resolves every file-set's globs, builds its tail source
// and match pipeline, and launches a goroutine pumping lines from the
// former into the latter.
func startTailSources(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) ([]*fileSetSource, error) {
	var sources []*fileSetSource

	for fsName := range cfg.FileSets {
		fsID := model.FileSetId(fsName)
		fs := cfg.FileSets[fsName]

		paths, err := tail.ResolveGlobs(fs.FileGlobs)
		if err != nil {
			return nil, fmt.Errorf("file_sets.%s: %w", fsName, err)
		}

		src, err := tail.NewSource(fsName, paths, logger)
		if err != nil {
			return nil, fmt.Errorf("file_sets.%s: %w", fsName, err)
		}

		pipeline := matchpipeline.New(fsID, cfg, st, logger)
		src.Start(ctx)

		fss := &fileSetSource{src: src}
		fss.wg.Add(1)
		go func() {
			defer fss.wg.Done()
			for ln := range src.Events() {
				pipeline.HandleLine(ln)
			}
		}()

		sources = append(sources, fss)
	}

	return sources, nil
}

// shutdown implements a fixed ordering: abort the periodic tickers, send a
// final Persist, shut down the store, shut down the notifier, abort the
// HTTP surface, then stop every tail source. The store and notifier are
// drained via their own Shutdown() commands on ctx while it is still live —
// cancelling ctx first would race their run loops' <-ctx.Done() branch
// against the shutdown command and could leave Shutdown() blocked forever
// waiting on a done channel nobody closes. ctx is only cancelled afterward,
// for the tail sources and anything else still selecting on it.
func shutdown(ctx context.Context, cancel context.CancelFunc, tasksCancel context.CancelFunc, httpServer *http.Server, tasks *heartbeat.Tasks, st *store.Store, nf *notifier.Notifier, sources []*fileSetSource, logger *slog.Logger) {
	tasksCancel()
	tasks.Stop()

	tasks.PersistNow()

	st.Shutdown()
	nf.Shutdown()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("inspection api shutdown error", slog.Any("error", err))
	}

	for _, s := range sources {
		s.src.Stop()
		s.wg.Wait()
	}
}

// newLogger constructs a *slog.Logger writing JSON-structured records to
// stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
