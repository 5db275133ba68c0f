// Package eventbus fans the context manager's unified event stream out to
// WebSocket subscribers and keeps a short rolling transcript history for
// REST retrieval, adapted from internal/orchestrator/transcript/store.go's
// MemoryStore (a single ring-buffer store generalized from "string text"
// entries to full contextmgr.EnhancedResult payloads).
package eventbus

import (
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/contextmgr"
)

// HistoryEntry is one retained transcription result.
type HistoryEntry struct {
	Timestamp time.Time
	Text      string
	Source    string
}

// History is a bounded in-memory ring of recent transcriptions, matching
// MemoryStore's add/trim/format-by-window behavior.
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	maxSize int
}

// NewHistory constructs a History retaining at most maxEntries.
func NewHistory(maxEntries int) *History {
	return &History{entries: make([]HistoryEntry, 0, maxEntries), maxSize: maxEntries}
}

// Add records a transcription result.
func (h *History) Add(text, source string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{Timestamp: time.Now(), Text: text, Source: source})
	if over := len(h.entries) - h.maxSize; over > 0 {
		h.entries = h.entries[over:]
	}
}

// Recent renders entries from the last N seconds as "SOURCE: text" lines.
func (h *History) Recent(seconds int) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-time.Duration(seconds) * time.Second)
	var parts []string
	for _, e := range h.entries {
		if e.Timestamp.After(cutoff) {
			parts = append(parts, strings.ToUpper(e.Source)+": "+e.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Entries returns a copy of all retained entries.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// fromEvent extracts a HistoryEntry from an EventTranscriptionReady event,
// returning ok=false for any other event kind.
func fromEvent(evt contextmgr.Event) (HistoryEntry, bool) {
	if evt.Kind != contextmgr.EventTranscriptionReady || evt.Transcription == nil {
		return HistoryEntry{}, false
	}
	return HistoryEntry{
		Timestamp: evt.Transcription.Metadata.TranscriptionDoneAt,
		Text:      evt.Transcription.Transcription.Text,
		Source:    evt.Transcription.Source,
	}, true
}
