package notifier_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/notifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBackEnd struct {
	mu          sync.Mutex
	eventBodies []string
	msgBodies   []string
}

func (r *recordingBackEnd) NotifyEvent(ctx context.Context, url, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventBodies = append(r.eventBodies, body)
	return nil
}

func (r *recordingBackEnd) NotifyMessage(ctx context.Context, url, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgBodies = append(r.msgBodies, text)
	return nil
}

func (r *recordingBackEnd) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.eventBodies)
}

func intp(i int) *int { return &i }

func newStarted(t *testing.T, cfg *config.Config, be notifier.BackEnd) (*notifier.Notifier, context.CancelFunc) {
	t.Helper()
	nf := notifier.New(cfg, be, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	nf.Start(ctx)
	t.Cleanup(func() {
		nf.Shutdown()
		cancel()
	})
	return nf, cancel
}

func TestNotifier_CoalescesWithinMinimumInterval(t *testing.T) {
	cfg := &config.Config{
		Notifiers: map[string]config.NotifierConfig{
			"ops": {Webhook: &config.WebhookConfig{URL: "http://example.test/hook", MinimumInterval: intp(1)}},
		},
	}
	be := &recordingBackEnd{}
	nf, _ := newStarted(t, cfg, be)

	for i := 0; i < 5; i++ {
		ev := model.NewMatchEvent([]model.LogLine{{Text: fmt.Sprintf("m%d", i), IsEventLine: true}}, 0, "", time.Now()).Snapshot()
		nf.NotifyEvent([]model.NotifierId{"ops"}, ev)
	}

	waitFor(t, func() bool { return be.eventCount() == 1 })

	time.Sleep(50 * time.Millisecond)
	if n := be.eventCount(); n != 1 {
		t.Fatalf("expected exactly one dispatch while throttled, got %d", n)
	}

	time.Sleep(1100 * time.Millisecond)
	ev := model.NewMatchEvent([]model.LogLine{{Text: "m5", IsEventLine: true}}, 0, "", time.Now()).Snapshot()
	nf.NotifyEvent([]model.NotifierId{"ops"}, ev)

	waitFor(t, func() bool { return be.eventCount() == 2 })

	be.mu.Lock()
	defer be.mu.Unlock()
	if strings.Contains(be.eventBodies[0], "skipped") {
		t.Errorf("first dispatch should not mention skipped notifications: %q", be.eventBodies[0])
	}
	if !strings.Contains(be.eventBodies[1], "(4 notifications skipped due to high frequency)") {
		t.Errorf("expected second dispatch body to report the 4 skipped notifications: %q", be.eventBodies[1])
	}
}

func TestNotifier_NoCoalescingWithoutMinimumInterval(t *testing.T) {
	cfg := &config.Config{
		Notifiers: map[string]config.NotifierConfig{
			"ops": {Webhook: &config.WebhookConfig{URL: "http://example.test/hook"}},
		},
	}
	be := &recordingBackEnd{}
	nf, _ := newStarted(t, cfg, be)

	for i := 0; i < 3; i++ {
		ev := model.NewMatchEvent([]model.LogLine{{Text: "m", IsEventLine: true}}, 0, "", time.Now()).Snapshot()
		nf.NotifyEvent([]model.NotifierId{"ops"}, ev)
	}

	waitFor(t, func() bool { return be.eventCount() == 3 })
}

func TestNotifier_EventBodyRendersFencedMarkdown(t *testing.T) {
	cfg := &config.Config{
		Notifiers: map[string]config.NotifierConfig{
			"ops": {Webhook: &config.WebhookConfig{URL: "http://example.test/hook", Template: "Alert fired:"}},
		},
	}
	be := &recordingBackEnd{}
	nf, _ := newStarted(t, cfg, be)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := model.NewMatchEvent([]model.LogLine{
		{Timestamp: ts, Text: "context"},
		{Timestamp: ts, Text: "MATCH line", IsEventLine: true},
	}, 0, "", time.Now()).Snapshot()
	nf.NotifyEvent([]model.NotifierId{"ops"}, ev)

	waitFor(t, func() bool { return be.eventCount() == 1 })

	be.mu.Lock()
	defer be.mu.Unlock()
	body := be.eventBodies[0]
	if !strings.HasPrefix(body, "Alert fired:") {
		t.Errorf("body missing template prefix: %q", body)
	}
	if !strings.Contains(body, "```") {
		t.Errorf("body missing fenced code block: %q", body)
	}
	if !strings.Contains(body, "MATCH line") {
		t.Errorf("body missing event line text: %q", body)
	}
	if !strings.Contains(body, strings.Repeat("-", len("2024-01-01T00:00:00Z MATCH line"))) {
		t.Errorf("body missing dash rule sized to the event line: %q", body)
	}
}

func TestNotifier_NotifyMessageBypassesCoalescing(t *testing.T) {
	cfg := &config.Config{
		Notifiers: map[string]config.NotifierConfig{
			"ops": {Webhook: &config.WebhookConfig{URL: "http://example.test/hook", MinimumInterval: intp(60)}},
		},
	}
	be := &recordingBackEnd{}
	nf, _ := newStarted(t, cfg, be)

	nf.NotifyMessage([]model.NotifierId{"ops"}, "Files last seen: \n\napp:\n\t/a : 1s ago\n")
	nf.NotifyMessage([]model.NotifierId{"ops"}, "Files last seen: \n\napp:\n\t/a : 2s ago\n")

	waitFor(t, func() bool {
		be.mu.Lock()
		defer be.mu.Unlock()
		return len(be.msgBodies) == 2
	})
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
