package interview

import (
	"strings"
	"sync"
)

// Entry is one finalized transcript record
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an append-only log of finalized entries. Once sealed it
// rejects further appends.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	sealed  bool
}

// Append adds an entry unless the transcript has been sealed
func (t *Transcript) Append(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSessionEnded
	}
	t.entries = append(t.entries, e)
	return nil
}

// Seal freezes the transcript
func (t *Transcript) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Entries returns a copy of all entries in order
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Format renders "role: content" lines
func (t *Transcript) Format() string {
	return formatEntries(t.Entries())
}

func formatEntries(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = string(e.Role) + ": " + e.Content
	}
	return strings.Join(lines, "\n")
}
