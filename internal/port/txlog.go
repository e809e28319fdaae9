package port

import (
	"sync"
	"time"
)

// EntryStatus is the outcome of writing one frame
type EntryStatus string

const (
	StatusSuccess EntryStatus = "success"
	StatusFailure EntryStatus = "failure"
)

// LogEntry records one frame write
type LogEntry struct {
	FrameNumber  int         `json:"frame_number"`
	FrameType    string      `json:"frame_type"`
	FrameHex     string      `json:"frame_hex"`
	BytesWritten int         `json:"bytes_written"`
	Status       EntryStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// LogPage is an ordered suffix of the transmission log starting at Since,
// together with the log length at the time it was read
type LogPage struct {
	Since   int        `json:"since"`
	Entries []LogEntry `json:"log"`
	Total   int        `json:"total_entries"`
}

// TransmissionLog is append-only between resets. Readers get copies.
type TransmissionLog struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// Append adds an entry
func (l *TransmissionLog) Append(e LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Reset clears the log for a new transmission
func (l *TransmissionLog) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Len returns the number of entries
func (l *TransmissionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Since returns a copy of every entry at or after index since
func (l *TransmissionLog) Since(since int) LogPage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	page := LogPage{Since: since, Total: len(l.entries)}
	if since < len(l.entries) {
		page.Entries = make([]LogEntry, len(l.entries)-since)
		copy(page.Entries, l.entries[since:])
	}
	return page
}
