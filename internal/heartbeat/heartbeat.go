// Package heartbeat runs Centinela's two periodic tasks: a
// persistence ticker that snapshots counts to disk, and a "files last
// seen" ticker that sends an operator-facing heartbeat message.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/persist"
	"github.com/patternseek/centinela/internal/store"
)

const (
	// persistWarmup is the delay before the first persistence tick.
	persistWarmup = 10 * time.Second
	// persistPeriod is the interval between subsequent persistence ticks.
	persistPeriod = 30 * time.Second
	// heartbeatWarmup is the delay before the first files-last-seen tick.
	heartbeatWarmup = 60 * time.Second
)

// Tasks owns the two periodic tickers and their lifecycle.
type Tasks struct {
	store       *store.Store
	dataPath    string
	period      time.Duration
	notifierIDs []model.NotifierId
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New builds the periodic tasks. period is global.period_for_files_last_seen
// and notifierIDs is global.notifiers_for_files_last_seen.
func New(st *store.Store, dataPath string, period time.Duration, notifierIDs []model.NotifierId, logger *slog.Logger) *Tasks {
	return &Tasks{
		store:       st,
		dataPath:    dataPath,
		period:      period,
		notifierIDs: notifierIDs,
		logger:      logger,
	}
}

// Start launches both tickers as background goroutines. They exit when
// ctx is cancelled.
func (t *Tasks) Start(ctx context.Context) {
	t.wg.Add(2)
	go t.runPersist(ctx)
	go t.runHeartbeat(ctx)
}

// Stop waits for both tickers to exit. It does not cancel them: the ctx
// passed to Start must be cancelled first, or Stop blocks. It sends no
// final Persist; callers do that themselves afterwards with PersistNow.
func (t *Tasks) Stop() {
	t.wg.Wait()
}

func (t *Tasks) runPersist(ctx context.Context) {
	defer t.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(persistWarmup):
	}

	ticker := time.NewTicker(persistPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.persistOnce()
		}
	}
}

// PersistNow snapshots and writes counts immediately, independent of the
// ticker. Used by the top-level shutdown sequence to perform the final
// Persist before the store is told to shut down.
func (t *Tasks) PersistNow() {
	t.persistOnce()
}

func (t *Tasks) persistOnce() {
	t.store.Persist(func(snap store.Snapshot) {
		if err := persist.Save(t.dataPath, snap); err != nil {
			t.logger.Warn("heartbeat: persist failed", slog.Any("error", err))
		}
	})
}

func (t *Tasks) runHeartbeat(ctx context.Context) {
	defer t.wg.Done()

	if len(t.notifierIDs) == 0 || t.period <= 0 {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(heartbeatWarmup):
	}

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.store.NotifyFilesSeen(t.notifierIDs)
		}
	}
}
