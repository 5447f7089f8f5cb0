// Package transcript merges incremental transcription events into an ordered
// chat log.
package transcript

import (
	"iter"
	"sync"
	"time"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Event is one transcript update. Events sharing an ID refer to the same entry.
type Event struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is the reconciled transcript. Entries are ordered by the first time
// their ID was seen; later events for the same ID replace the text and role.
type Log struct {
	mu      sync.RWMutex
	entries []Event
	index   map[string]int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		entries: make([]Event, 0, 16),
		index:   make(map[string]int),
	}
}

// Apply merges ev into the log and reports whether it created a new entry.
func (l *Log) Apply(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index == nil {
		l.index = make(map[string]int)
	}
	if i, ok := l.index[ev.ID]; ok {
		cur := &l.entries[i]
		cur.Text = ev.Text
		cur.Role = ev.Role
		return false
	}
	l.index[ev.ID] = len(l.entries)
	l.entries = append(l.entries, ev)
	return true
}

// All yields entries in display order. The sequence reads the log lazily, one
// entry at a time, and may be ranged over any number of times.
func (l *Log) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for i := 0; ; i++ {
			l.mu.RLock()
			if i >= len(l.entries) {
				l.mu.RUnlock()
				return
			}
			ev := l.entries[i]
			l.mu.RUnlock()
			if !yield(ev) {
				return
			}
		}
	}
}

// Entries returns a snapshot of the log.
func (l *Log) Entries() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get returns the entry with the given ID.
func (l *Log) Get(id string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Event{}, false
	}
	return l.entries[i], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
