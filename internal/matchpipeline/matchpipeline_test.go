package matchpipeline_test

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/matchpipeline"
	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/store"
	"github.com/patternseek/centinela/internal/tail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopNotifier struct{}

func (noopNotifier) NotifyEvent(ids []model.NotifierId, event model.MatchEvent) {}
func (noopNotifier) NotifyMessage(ids []model.NotifierId, text string)          {}

func intp(i int) *int { return &i }

func buildConfig() *config.Config {
	return &config.Config{
		FileSets: map[string]config.FileSetConfig{
			"app": {
				FileGlobs: []string{"/var/log/app/*.log"},
				MonitorNotifierSets: map[string][]string{
					"errors": {"ops"},
				},
			},
		},
		Monitors: map[string]config.MonitorConfig{
			"errors": func() config.MonitorConfig {
				m := config.MonitorConfig{
					Regex:               "MATCH",
					LogRecentEvents:     intp(10),
					KeepLinesBefore:     intp(2),
					KeepLinesAfter:      intp(0),
					MaxWaitBeforeNotify: 0,
				}
				return m
			}(),
		},
	}
}

func newTestStore(t *testing.T, cfg *config.Config) (*store.Store, context.CancelFunc) {
	t.Helper()
	// Populate the compiled regex the way config.LoadConfig would.
	for id, mon := range cfg.Monitors {
		mon.Compiled = regexp.MustCompile(mon.Regex)
		cfg.Monitors[id] = mon
	}
	st := store.New(cfg, noopNotifier{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	st.Start(ctx)
	return st, cancel
}

func TestPipeline_BeforeContext(t *testing.T) {
	cfg := buildConfig()
	st, cancel := newTestStore(t, cfg)
	defer cancel()

	p := matchpipeline.New("app", cfg, st, testLogger())

	now := time.Now().UTC()
	for _, text := range []string{"a", "b", "c", "MATCH c"} {
		p.HandleLine(tail.Line{Path: "/var/log/app/x.log", Text: text, Seen: now})
	}

	waitFor(t, func() bool {
		md, ok := st.MonitorData("app", "errors")
		return ok && len(md.RecentEvents) == 1
	})

	md, _ := st.MonitorData("app", "errors")
	ev := md.RecentEvents[0].Snapshot()
	if len(ev.Lines) != 3 {
		t.Fatalf("event.Lines length = %d, want 3: %+v", len(ev.Lines), ev.Lines)
	}
	if ev.Lines[0].Text != "b" || ev.Lines[1].Text != "c" || ev.Lines[2].Text != "MATCH c" {
		t.Errorf("event.Lines = %+v", ev.Lines)
	}
	if !ev.Lines[2].IsEventLine {
		t.Errorf("expected the matched line to be marked as the event line")
	}
	for _, l := range ev.Lines[:2] {
		if l.IsEventLine {
			t.Errorf("context line incorrectly marked as event line: %+v", l)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
