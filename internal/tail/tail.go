// Package tail resolves a file-set's glob patterns to concrete paths and
// follows each one, emitting newline-terminated lines in per-file append
// order as they are written. New files appearing after start-up are not
// discovered; following them is out of scope.
package tail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/patternseek/centinela/internal/bus"
)

// Line is a single line read from a followed file, tagged with the path it
// came from and the wall-clock time it was observed.
type Line struct {
	Path string
	Text string
	Seen time.Time
}

// Source follows every file matched by a file-set's globs and emits Lines
// on its Events channel. Per-file read errors are logged and skipped; a
// source that never manages to add a single file is a fatal configuration
// error, raised by NewSource, not discovered later.
type Source struct {
	fsID   string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	offsets map[string]int64
	mu      sync.Mutex

	events chan Line
	done   chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// ResolveGlobs expands every glob pattern, in order, and returns the
// concrete, matched paths. A glob that fails to parse, or matches zero
// files, is a fatal configuration error: the caller should
// treat a non-nil error as reason to abort startup entirely.
func ResolveGlobs(globs []string) ([]string, error) {
	var all []string
	for _, g := range globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, fmt.Errorf("tail: glob %q: %w", g, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("tail: glob %q matched no files", g)
		}
		all = append(all, matches...)
	}
	return all, nil
}

// NewSource builds a Source for fsID, registering every path in paths with
// an fsnotify watch and seeking each one to its current end-of-file (log
// tailing never back-scans pre-existing content).
// A per-file open or stat error is fatal, matching the original's
// "permission problems should surface loudly" behavior.
func NewSource(fsID string, paths []string, logger *slog.Logger) (*Source, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("tail: file-set %q: no files to follow", fsID)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tail: file-set %q: cannot create watcher: %w", fsID, err)
	}

	s := &Source{
		fsID:    fsID,
		logger:  logger,
		watcher: w,
		offsets: make(map[string]int64),
		events:  make(chan Line, bus.QueueCapacity),
		done:    make(chan struct{}),
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("tail: file-set %q: cannot stat %q: %w", fsID, p, err)
		}
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, fmt.Errorf("tail: file-set %q: cannot watch %q: %w", fsID, p, err)
		}
		s.offsets[p] = info.Size()
		logger.Info("tail: monitoring file", slog.String("file_set", fsID), slog.String("path", p))
	}

	return s, nil
}

// Start launches the background goroutine that reads fsnotify write events
// and turns newly-appended bytes into Lines.
func (s *Source) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Events returns the channel Lines are delivered on. It is closed once Stop
// has fully drained the background goroutine.
func (s *Source) Events() <-chan Line {
	return s.events
}

// Stop signals the background goroutine to exit and waits for it, between
// line reads, per the concurrency model's cancellation contract. Safe to
// call more than once.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.watcher.Close()
		close(s.events)
	})
}

func (s *Source) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.drain(ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("tail: watcher error", slog.String("file_set", s.fsID), slog.Any("error", err))
		}
	}
}

// drain reads every complete line appended to path since the last recorded
// offset and forwards each to Events. A read error is logged and skipped —
// it does not terminate the source.
func (s *Source) drain(path string) {
	s.mu.Lock()
	offset := s.offsets[path]
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("tail: cannot open file", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		s.logger.Warn("tail: cannot seek file", slog.String("path", path), slog.Any("error", err))
		return
	}

	reader := bufio.NewReader(f)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			consumed += int64(len(line))
			text := line[:len(line)-1]
			if len(text) > 0 && text[len(text)-1] == '\r' {
				text = text[:len(text)-1]
			}
			now := time.Now().UTC()
			select {
			case s.events <- Line{Path: path, Text: text, Seen: now}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			break // incomplete trailing line: leave it for the next write event
		}
	}

	s.mu.Lock()
	s.offsets[path] += consumed
	s.mu.Unlock()
}

// SortedPaths returns the keys of paths sorted lexically.
func SortedPaths(paths map[string]time.Time) []string {
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
