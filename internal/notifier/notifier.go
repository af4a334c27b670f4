// Package notifier implements Centinela's single notifier actor:
// per-notifier minimum-interval coalescing and dispatch to a webhook
// back-end.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/patternseek/centinela/internal/bus"
	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/model"
)

// BackEnd is the small capability set a notification sink must implement,
// matching the original's BackEnd trait (notify_event/notify_message).
type BackEnd interface {
	NotifyEvent(ctx context.Context, url, body string) error
	NotifyMessage(ctx context.Context, url, text string) error
}

// notifierState is the per-notifier runtime state: a rate limiter
// implementing minimum-interval coalescing, and a count of notifications
// dropped since the last dispatch attempt (whether or not its POST
// succeeded). Throttling is per-notifier,
// not per-monitor.
type notifierState struct {
	id      model.NotifierId
	cfg     config.WebhookConfig
	limiter *rate.Limiter // nil when minimum_interval is unset (no coalescing)
	mu      sync.Mutex
	skipped int
}

// Notifier is the single-consumer notifier actor.
type Notifier struct {
	logger  *slog.Logger
	backEnd BackEnd

	cmd  chan any
	wg   sync.WaitGroup
	done chan struct{}

	states map[model.NotifierId]*notifierState
}

// New builds a Notifier from every configured notifier entry.
func New(cfg *config.Config, backEnd BackEnd, logger *slog.Logger) *Notifier {
	n := &Notifier{
		logger:  logger,
		backEnd: backEnd,
		cmd:     make(chan any, bus.QueueCapacity),
		done:    make(chan struct{}),
		states:  make(map[model.NotifierId]*notifierState),
	}
	for id, nc := range cfg.Notifiers {
		if nc.Webhook == nil {
			continue
		}
		st := &notifierState{id: model.NotifierId(id), cfg: *nc.Webhook}
		if interval := nc.Webhook.MinimumIntervalOrZero(); interval > 0 {
			st.limiter = rate.NewLimiter(rate.Every(time.Duration(interval)*time.Second), 1)
		}
		n.states[model.NotifierId(id)] = st
	}
	return n
}

// Start launches the notifier's single command-consuming goroutine.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.run(ctx)
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-n.cmd:
			switch cmd := c.(type) {
			case cmdNotifyEvent:
				n.handleNotifyEvent(ctx, cmd)
			case cmdNotifyMessage:
				n.handleNotifyMessage(ctx, cmd)
			case cmdShutdown:
				close(cmd.done)
				return
			}
		}
	}
}

// NotifyEvent queues a match event for dispatch to every named notifier,
// subject to each notifier's independent minimum-interval coalescing.
func (n *Notifier) NotifyEvent(ids []model.NotifierId, event model.MatchEvent) {
	n.cmd <- cmdNotifyEvent{ids: ids, event: event}
}

// NotifyMessage queues an operator heartbeat message; it bypasses
// coalescing entirely.
func (n *Notifier) NotifyMessage(ids []model.NotifierId, text string) {
	n.cmd <- cmdNotifyMessage{ids: ids, text: text}
}

// Shutdown stops the notifier's command loop once the queue drains.
func (n *Notifier) Shutdown() {
	done := make(chan struct{})
	n.cmd <- cmdShutdown{done: done}
	<-done
	n.wg.Wait()
}

func (n *Notifier) handleNotifyEvent(ctx context.Context, c cmdNotifyEvent) {
	for _, id := range c.ids {
		st, ok := n.states[id]
		if !ok {
			n.logger.Error("notifier: unknown notifier id", slog.String("notifier", string(id)))
			continue
		}
		n.dispatchEvent(ctx, st, c.event)
	}
}

// dispatchEvent applies per-notifier minimum-interval coalescing: if the
// notifier is still inside its minimum interval, the event is dropped and
// the skipped counter bumped; otherwise the skipped count is captured,
// reset, and the event is rendered and POSTed.
func (n *Notifier) dispatchEvent(ctx context.Context, st *notifierState, event model.MatchEvent) {
	st.mu.Lock()
	if st.limiter != nil && !st.limiter.Allow() {
		st.skipped++
		st.mu.Unlock()
		return
	}
	numSkipped := st.skipped
	st.skipped = 0
	st.mu.Unlock()

	body := st.cfg.Template + renderEventMarkdown(event) + skipNote(numSkipped)
	if err := n.backEnd.NotifyEvent(ctx, st.cfg.URL, body); err != nil {
		n.logger.Warn("notifier: webhook POST failed",
			slog.String("notifier", string(st.id)), slog.Any("error", err))
	}
}

func (n *Notifier) handleNotifyMessage(ctx context.Context, c cmdNotifyMessage) {
	for _, id := range c.ids {
		st, ok := n.states[id]
		if !ok {
			n.logger.Error("notifier: unknown notifier id", slog.String("notifier", string(id)))
			continue
		}
		if err := n.backEnd.NotifyMessage(ctx, st.cfg.URL, c.text); err != nil {
			n.logger.Warn("notifier: webhook POST failed",
				slog.String("notifier", string(id)), slog.Any("error", err))
		}
	}
}

// skipNote renders the "(N notifications skipped due to high frequency)"
// suffix, or the empty string when nothing was skipped.
func skipNote(numSkipped int) string {
	if numSkipped == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n(%d notifications skipped due to high frequency)", numSkipped)
}

// renderEventMarkdown renders every LogLine of event as a fenced code
// block, with the event line wrapped above and below by a dash rule
// matching its rendered length (capped at 100 characters).
func renderEventMarkdown(event model.MatchEvent) string {
	var b strings.Builder
	b.WriteString("\n```")
	for _, line := range event.Lines {
		rendered := line.String()
		if line.IsEventLine {
			wrapLen := len(rendered)
			if wrapLen > 100 {
				wrapLen = 100
			}
			rule := strings.Repeat("-", wrapLen)
			b.WriteString("\n")
			b.WriteString(rule)
			b.WriteString("\n")
			b.WriteString(rendered)
			b.WriteString("\n")
			b.WriteString(rule)
			b.WriteString("\n")
		} else {
			b.WriteString("\n")
			b.WriteString(rendered)
		}
	}
	b.WriteString("\n```\n")
	return b.String()
}

type (
	cmdNotifyEvent struct {
		ids   []model.NotifierId
		event model.MatchEvent
	}
	cmdNotifyMessage struct {
		ids  []model.NotifierId
		text string
	}
	cmdShutdown struct {
		done chan struct{}
	}
)
