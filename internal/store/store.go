// Package store implements Centinela's single data-store actor: the sole
// owner of per-(file-set, monitor) counts, the recent-events ring, and
// per-file last-seen timestamps. It is the sole mutator of its state, and
// exposes a read-only snapshot accessor guarded by a multi-reader/
// single-writer lock for the HTTP inspection surface.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patternseek/centinela/internal/bus"
	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/model"
)

// NotifierSink is the narrow interface the store uses to forward
// notification commands once an event is ready to dispatch, or a
// heartbeat message has been rendered. Implemented by *notifier.Notifier.
type NotifierSink interface {
	NotifyEvent(ids []model.NotifierId, event model.MatchEvent)
	NotifyMessage(ids []model.NotifierId, text string)
}

// eventKey identifies an in-flight event for the ephemeral holder.
type eventKey struct {
	fsID model.FileSetId
	mon  model.MonitorId
	seq  uint64
}

// Store is the data-store actor.
type Store struct {
	logger   *slog.Logger
	notifier NotifierSink

	cmd  chan any
	wg   sync.WaitGroup // command loop
	wwg  sync.WaitGroup // outstanding event waiters
	done chan struct{}

	mu       sync.RWMutex
	data     map[model.FileSetId]model.FileSetData
	lastSeen model.LastSeen

	// ephemeral holds events that were dispatched to a waiter but never
	// pushed to recent_events (log_recent_events absent/zero), so the
	// waiter still observes a stable, shared MatchEvent until dispatch.
	ephemeral map[eventKey]*model.MatchEvent
	seq       uint64
}

// New builds a Store pre-populated with one MonitorData entry per monitor
// every configured file-set references; entries are never created lazily.
func New(cfg *config.Config, notifier NotifierSink, logger *slog.Logger) *Store {
	s := &Store{
		logger:    logger,
		notifier:  notifier,
		cmd:       make(chan any, bus.QueueCapacity),
		done:      make(chan struct{}),
		data:      make(map[model.FileSetId]model.FileSetData),
		lastSeen:  make(model.LastSeen),
		ephemeral: make(map[eventKey]*model.MatchEvent),
	}
	for fsName, fs := range cfg.FileSets {
		fsID := model.FileSetId(fsName)
		fsData := make(model.FileSetData)
		for monID := range fs.MonitorNotifierSets {
			counts := model.NewEventCounts()
			fsData[model.MonitorId(monID)] = &model.MonitorData{Counts: counts}
		}
		s.data[fsID] = fsData
		s.lastSeen[fsID] = make(map[string]time.Time)
	}
	return s
}

// LoadSnapshot replaces every monitor's counts with those found in snap,
// leaving recent_events and last-seen untouched. Monitors or file-sets
// present in snap but not in the live configuration are ignored rather
// than treated as an error.
func (s *Store) LoadSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fsID, monCounts := range snap {
		fsData, ok := s.data[fsID]
		if !ok {
			continue
		}
		for monID, counts := range monCounts {
			if md, ok := fsData[monID]; ok {
				md.Counts = counts
			}
		}
	}
}

// Start launches the store's single command-consuming goroutine.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Store) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.cmd:
			switch cmd := c.(type) {
			case cmdReceiveLine:
				s.handleReceiveLine(cmd)
			case cmdReceiveEvent:
				s.handleReceiveEvent(cmd)
			case cmdFileSeen:
				s.handleFileSeen(cmd)
			case cmdNotifyFilesSeen:
				s.handleNotifyFilesSeen(cmd)
			case cmdPersist:
				cmd.fn(s.Snapshot())
				close(cmd.done)
			case cmdShutdown:
				s.wwg.Wait()
				close(cmd.done)
				return
			}
		}
	}
}

// FileSeen records that path last produced a line at the current time.
func (s *Store) FileSeen(fsID model.FileSetId, path string) {
	s.cmd <- cmdFileSeen{fsID: fsID, path: path}
}

func (s *Store) handleFileSeen(c cmdFileSeen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen[c.fsID] == nil {
		s.lastSeen[c.fsID] = make(map[string]time.Time)
	}
	s.lastSeen[c.fsID][c.path] = time.Now().UTC()
}

// ReceiveLine feeds line to every recent event for (fsID, monID) that is
// still awaiting post-lines from path.
func (s *Store) ReceiveLine(fsID model.FileSetId, monID model.MonitorId, path string, line model.LogLine) {
	s.cmd <- cmdReceiveLine{fsID: fsID, monID: monID, path: path, line: line}
}

func (s *Store) handleReceiveLine(c cmdReceiveLine) {
	s.mu.RLock()
	md := s.monitorDataLocked(c.fsID, c.monID)
	s.mu.RUnlock()
	if md == nil {
		return
	}
	for _, ev := range md.RecentEvents {
		ev.ReceiveLine(c.path, c.line)
	}
	s.mu.RLock()
	for key, ev := range s.ephemeral {
		if key.fsID != c.fsID || key.mon != c.monID {
			continue
		}
		ev.ReceiveLine(c.path, c.line)
	}
	s.mu.RUnlock()
}

// ReceiveEvent records a newly matched event: pushes it to recent_events
// if keepRecent > 0 (trimming the ring to size), increments counts, and
// spawns a waiter if notifierIDs is non-empty.
func (s *Store) ReceiveEvent(fsID model.FileSetId, monID model.MonitorId, event *model.MatchEvent, keepRecent int, notifierIDs []model.NotifierId) {
	s.cmd <- cmdReceiveEvent{fsID: fsID, monID: monID, event: event, keepRecent: keepRecent, notifierIDs: notifierIDs}
}

func (s *Store) handleReceiveEvent(c cmdReceiveEvent) {
	s.mu.Lock()
	md := s.monitorDataLocked(c.fsID, c.monID)
	if md == nil {
		s.mu.Unlock()
		s.logger.Error("store: ReceiveEvent for unknown fileset/monitor",
			slog.String("file_set", string(c.fsID)), slog.String("monitor", string(c.monID)))
		return
	}

	if c.keepRecent > 0 {
		md.RecentEvents = append(md.RecentEvents, c.event)
		if over := len(md.RecentEvents) - c.keepRecent; over > 0 {
			md.RecentEvents = md.RecentEvents[over:]
		}
	}
	md.Counts.Increment(time.Now().UTC())

	var key eventKey
	if len(c.notifierIDs) > 0 {
		s.seq++
		key = eventKey{fsID: c.fsID, mon: c.monID, seq: s.seq}
		if c.keepRecent <= 0 {
			s.ephemeral[key] = c.event
		}
	}
	s.mu.Unlock()

	if len(c.notifierIDs) > 0 {
		s.spawnWaiter(key, c.event, c.notifierIDs, c.keepRecent <= 0)
	}
}

// monitorDataLocked must be called with s.mu held (read or write).
func (s *Store) monitorDataLocked(fsID model.FileSetId, monID model.MonitorId) *model.MonitorData {
	fsData, ok := s.data[fsID]
	if !ok {
		return nil
	}
	return fsData[monID]
}

// spawnWaiter implements the event waiter state machine:
// Collecting -> Ready -> Dispatched, polling at ~1s until awaiting_lines
// reaches 0 or the deadline passes.
func (s *Store) spawnWaiter(key eventKey, event *model.MatchEvent, notifierIDs []model.NotifierId, ephemeral bool) {
	s.wwg.Add(1)
	go func() {
		defer s.wwg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			if event.Ready(time.Now().UTC()) {
				s.notifier.NotifyEvent(notifierIDs, event.Snapshot())
				if ephemeral {
					s.mu.Lock()
					delete(s.ephemeral, key)
					s.mu.Unlock()
				}
				return
			}
			<-ticker.C
		}
	}()
}

// NotifyFilesSeen renders the "files last seen" heartbeat and forwards it
// to the notifier as a NotifyMessage.
func (s *Store) NotifyFilesSeen(notifierIDs []model.NotifierId) {
	s.cmd <- cmdNotifyFilesSeen{notifierIDs: notifierIDs}
}

func (s *Store) handleNotifyFilesSeen(c cmdNotifyFilesSeen) {
	s.mu.RLock()
	text := renderFilesLastSeen(s.lastSeen)
	s.mu.RUnlock()
	s.notifier.NotifyMessage(c.notifierIDs, text)
}

// Persist synchronously snapshots the current counts and passes them to
// fn (typically internal/persist.Save), blocking the caller until the
// store has processed the command. It does not block other store
// commands from queueing behind it, matching the bounded-queue
// back-pressure model.
func (s *Store) Persist(fn func(Snapshot)) {
	done := make(chan struct{})
	s.cmd <- cmdPersist{fn: fn, done: done}
	<-done
}

// Shutdown drains outstanding event waiters, then stops the command loop.
// It blocks until both have completed.
func (s *Store) Shutdown() {
	done := make(chan struct{})
	s.cmd <- cmdShutdown{done: done}
	<-done
	s.wg.Wait()
}

type (
	cmdReceiveLine struct {
		fsID  model.FileSetId
		monID model.MonitorId
		path  string
		line  model.LogLine
	}
	cmdReceiveEvent struct {
		fsID        model.FileSetId
		monID       model.MonitorId
		event       *model.MatchEvent
		keepRecent  int
		notifierIDs []model.NotifierId
	}
	cmdFileSeen struct {
		fsID model.FileSetId
		path string
	}
	cmdNotifyFilesSeen struct {
		notifierIDs []model.NotifierId
	}
	cmdPersist struct {
		fn   func(Snapshot)
		done chan struct{}
	}
	cmdShutdown struct {
		done chan struct{}
	}
)
