package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patternseek/centinela/internal/model"
)

// Snapshot is the persisted/restorable shape of the store's counts: every
// file-set's every monitor's EventCounts, matching the counts-data file
// schema.
type Snapshot map[model.FileSetId]map[model.MonitorId]model.EventCounts

// Snapshot returns the current counts for every file-set/monitor. Only the
// outer maps are new: each EventCounts shares its seven maps with the live
// store, so they keep changing as further events are recorded. The store's
// own Persist command calls it from the command loop, where no other
// mutation runs while the snapshot is used.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.data))
	for fsID, fsData := range s.data {
		monCounts := make(map[model.MonitorId]model.EventCounts, len(fsData))
		for monID, md := range fsData {
			monCounts[monID] = md.Counts
		}
		out[fsID] = monCounts
	}
	return out
}

// FileSetIDs returns every configured file-set id.
func (s *Store) FileSetIDs() []model.FileSetId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]model.FileSetId, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids
}

// MonitorIDs returns every monitor id configured for fsID, or (nil, false)
// if the file-set is unknown.
func (s *Store) MonitorIDs(fsID model.FileSetId) ([]model.MonitorId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fsData, ok := s.data[fsID]
	if !ok {
		return nil, false
	}
	ids := make([]model.MonitorId, 0, len(fsData))
	for id := range fsData {
		ids = append(ids, id)
	}
	return ids, true
}

// MonitorData returns a read-only view of (fsID, monID)'s data, or
// (nil, false) if either is unknown.
func (s *Store) MonitorData(fsID model.FileSetId, monID model.MonitorId) (*model.MonitorData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fsData, ok := s.data[fsID]
	if !ok {
		return nil, false
	}
	md, ok := fsData[monID]
	return md, ok
}

// Dump returns the full in-memory file-set table, for the /dump HTTP
// route.
func (s *Store) Dump() map[model.FileSetId]model.FileSetData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.FileSetId]model.FileSetData, len(s.data))
	for id, fsData := range s.data {
		out[id] = fsData
	}
	return out
}

// renderFilesLastSeen builds the human-readable heartbeat report:
// "Files last seen: " followed by one section per file-set, each file
// sorted and annotated with how many seconds ago it last produced a
// line.
func renderFilesLastSeen(lastSeen model.LastSeen) string {
	now := time.Now().UTC()

	fsIDs := make([]string, 0, len(lastSeen))
	for fsID := range lastSeen {
		fsIDs = append(fsIDs, string(fsID))
	}
	sort.Strings(fsIDs)

	var b strings.Builder
	b.WriteString("Files last seen: \n\n")
	for _, fsID := range fsIDs {
		files := lastSeen[model.FileSetId(fsID)]
		lines := make([]string, 0, len(files))
		for path, seenAt := range files {
			ago := int64(now.Sub(seenAt).Seconds())
			lines = append(lines, fmt.Sprintf("\t%s : %ds ago", path, ago))
		}
		sort.Strings(lines)
		b.WriteString(fsID)
		b.WriteString(":\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
