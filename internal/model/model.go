// Package model holds the shared, side-effect-free data types that flow
// through Centinela's ingestion, storage, and notification components.
// Nothing here owns a goroutine or a lock-protected map of its own; the
// store package is the sole mutator of collections of these types.
package model

import (
	"encoding/json"
	"sync"
	"time"
)

// FileSetId, MonitorId, and NotifierId are opaque, configuration-defined
// identifiers, unique within their own kind.
type (
	FileSetId  string
	MonitorId  string
	NotifierId string
)

// LogLine is a single line observed from a monitored file, or a line
// synthesized as the trigger for a match event.
type LogLine struct {
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
	IsEventLine bool      `json:"is_event_line"`
}

// String renders the line the way the webhook body does: "<timestamp> <text>".
func (l LogLine) String() string {
	return l.Timestamp.UTC().Format(time.RFC3339) + " " + l.Text
}

// MatchEvent is a concrete occurrence of a monitor's regex firing on a
// line, together with whatever context lines have been collected so far.
//
// A MatchEvent is shared between the store's recent-events ring and an
// active waiter goroutine (see internal/store). Rather than copy the event
// on every line received, both sides hold a pointer and synchronize through
// mu, so the waiter observes AwaitingLines decrementing in real time.
type MatchEvent struct {
	mu                sync.RWMutex
	Lines             []LogLine `json:"lines"`
	AwaitingLines     int       `json:"awaiting_lines"`
	AwaitingLinesFrom string    `json:"awaiting_lines_from"`
	NotifyBy          time.Time `json:"notify_by"`
}

// NewMatchEvent constructs a MatchEvent ready for the store to own.
func NewMatchEvent(lines []LogLine, awaitingLines int, awaitingLinesFrom string, notifyBy time.Time) *MatchEvent {
	return &MatchEvent{
		Lines:             lines,
		AwaitingLines:     awaitingLines,
		AwaitingLinesFrom: awaitingLinesFrom,
		NotifyBy:          notifyBy,
	}
}

// Snapshot returns a deep, lock-free copy of the event's current lines and
// wait state, suitable for handing to the notifier or encoding to JSON
// without holding the event's lock for the duration of an HTTP POST.
func (e *MatchEvent) Snapshot() MatchEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lines := make([]LogLine, len(e.Lines))
	copy(lines, e.Lines)
	return MatchEvent{
		Lines:             lines,
		AwaitingLines:     e.AwaitingLines,
		AwaitingLinesFrom: e.AwaitingLinesFrom,
		NotifyBy:          e.NotifyBy,
	}
}

// MarshalJSON encodes a lock-safe snapshot of the event.
func (e *MatchEvent) MarshalJSON() ([]byte, error) {
	snap := e.Snapshot()
	type alias MatchEvent
	return json.Marshal((*alias)(&snap))
}

// ReceiveLine appends a non-event line to the event if it is still
// awaiting lines from source, decrementing AwaitingLines. It is a no-op if
// the event is not awaiting lines from this source.
func (e *MatchEvent) ReceiveLine(source string, line LogLine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.AwaitingLines > 0 && e.AwaitingLinesFrom == source {
		e.Lines = append(e.Lines, line)
		e.AwaitingLines--
	}
}

// Ready reports whether the event has collected all its post-lines, or has
// reached its notify-by deadline, and so is ready for dispatch.
func (e *MatchEvent) Ready(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.AwaitingLines == 0 || !now.Before(e.NotifyBy)
}

// MonitorData is the per-(file-set, monitor) state: counts plus a bounded
// ring of recent match events.
type MonitorData struct {
	Counts       EventCounts   `json:"counts"`
	RecentEvents []*MatchEvent `json:"recent_events"`
}

// FileSetData maps every monitor referenced by a file-set to its data.
// Entries are pre-populated at startup; they are never created lazily.
type FileSetData map[MonitorId]*MonitorData

// LastSeen maps a file-set to a map of path to the timestamp it was last
// observed to produce a line.
type LastSeen map[FileSetId]map[string]time.Time
