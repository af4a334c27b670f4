// Package matchpipeline dispatches each line produced by a file-set's tail
// source to every monitor the file-set references, maintaining a per-path
// "before" context ring and constructing MatchEvents on regex matches.
package matchpipeline

import (
	"log/slog"
	"time"

	"github.com/patternseek/centinela/internal/config"
	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/store"
	"github.com/patternseek/centinela/internal/tail"
)

// monitorRoute pairs a compiled monitor with the notifier ids that should
// fire when it matches within this file-set.
type monitorRoute struct {
	id          model.MonitorId
	monitor     config.MonitorConfig
	notifierIDs []model.NotifierId
}

// Pipeline is the per-file-set line dispatcher. It
// owns the context ring buffers for its file-set; they are never shared
// with any other component.
type Pipeline struct {
	fsID   model.FileSetId
	logger *slog.Logger
	store  *store.Store

	routes        []monitorRoute
	maxLinesBefore int

	ring map[string][]model.LogLine
}

// New builds a Pipeline for the named file-set from its resolved monitor
// routes and the shared data store.
func New(fsID model.FileSetId, cfg *config.Config, st *store.Store, logger *slog.Logger) *Pipeline {
	fs := cfg.FileSets[string(fsID)]

	p := &Pipeline{
		fsID:           fsID,
		logger:         logger,
		store:          st,
		maxLinesBefore: cfg.MaxLinesBefore(string(fsID)),
		ring:           make(map[string][]model.LogLine),
	}

	for monID, notifierIDs := range fs.MonitorNotifierSets {
		mon := cfg.Monitors[monID]
		ids := make([]model.NotifierId, 0, len(notifierIDs))
		for _, n := range notifierIDs {
			ids = append(ids, model.NotifierId(n))
		}
		p.routes = append(p.routes, monitorRoute{
			id:          model.MonitorId(monID),
			monitor:     mon,
			notifierIDs: ids,
		})
	}

	return p
}

// HandleLine implements the three-step dispatch for a single
// (path, line) record: mark the file seen, feed every monitor's
// ReceiveLine/regex test, then buffer the line for future "before"
// context.
func (p *Pipeline) HandleLine(ln tail.Line) {
	p.store.FileSeen(p.fsID, ln.Path)

	logLine := model.LogLine{Timestamp: ln.Seen, Text: ln.Text, IsEventLine: false}

	for _, route := range p.routes {
		p.store.ReceiveLine(p.fsID, route.id, ln.Path, logLine)

		if route.monitor.Compiled == nil || !route.monitor.Compiled.MatchString(ln.Text) {
			continue
		}

		event := p.buildEvent(route, ln)
		p.store.ReceiveEvent(p.fsID, route.id, event, route.monitor.LogRecentEventsOrZero(), route.notifierIDs)
	}

	p.bufferLine(ln.Path, logLine)
}

// buildEvent constructs the MatchEvent for a matching line: up to
// keep_lines_before entries from the path's context ring, followed by the
// matched line itself marked as the event line.
func (p *Pipeline) buildEvent(route monitorRoute, ln tail.Line) *model.MatchEvent {
	keepBefore := route.monitor.KeepLinesBeforeOrZero()
	before := p.ring[ln.Path]
	if keepBefore < len(before) {
		before = before[len(before)-keepBefore:]
	}

	lines := make([]model.LogLine, 0, len(before)+1)
	lines = append(lines, before...)
	lines = append(lines, model.LogLine{
		Timestamp:   ln.Seen,
		Text:        ln.Text,
		IsEventLine: true,
	})

	awaiting := route.monitor.KeepLinesAfterOrZero()
	notifyBy := ln.Seen.Add(time.Duration(route.monitor.MaxWaitBeforeNotify) * time.Second)

	return model.NewMatchEvent(lines, awaiting, ln.Path, notifyBy)
}

// bufferLine appends line to path's context ring, trimming from the front
// until its length is at most the file-set's computed max_lines_before.
func (p *Pipeline) bufferLine(path string, line model.LogLine) {
	buf := append(p.ring[path], line)
	if over := len(buf) - p.maxLinesBefore; over > 0 {
		buf = buf[over:]
	}
	p.ring[path] = buf
}
