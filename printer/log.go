package printer

import (
	"sync"
	"time"
)

// ResponseLog is a bounded ring of tagged responses with monotonically
// increasing, per-printer-unique IDs. It has its own mutex, always taken
// innermost relative to FlowController's send lock (see FlowController).
type ResponseLog struct {
	mu      sync.Mutex
	entries []Response
	nextID  uint32
	backlog int
}

// NewResponseLog returns a ResponseLog bounded to backlog entries (the
// original's default is 1000).
func NewResponseLog(backlog int) *ResponseLog {
	if backlog <= 0 {
		backlog = 1000
	}
	return &ResponseLog{backlog: backlog}
}

// Push appends a new tagged response, dropping the oldest entry if the log
// is at capacity, and returns the assigned ID.
func (l *ResponseLog) Push(message string, logType uint8) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, Response{
		ID:        l.nextID,
		Message:   message,
		LogType:   logType,
		Timestamp: time.Now(),
	})
	if len(l.entries) > l.backlog {
		l.entries = l.entries[1:]
	}
	return l.nextID
}

// Since returns every entry with ID > cursor whose LogType intersects mask,
// plus the new cursor: the highest returned ID, or cursor unchanged when
// nothing matched, so a poll that matches nothing does not move past
// entries a caller may later ask for with a different mask.
func (l *ResponseLog) Since(cursor uint32, mask uint8) ([]Response, uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newCursor := cursor
	var out []Response
	for _, e := range l.entries {
		if e.ID <= cursor {
			continue
		}
		if e.LogType&mask == 0 {
			continue
		}
		out = append(out, e)
		if e.ID > newCursor {
			newCursor = e.ID
		}
	}
	return out, newCursor
}
