package alerts

import (
	"sync"

	"ops-gateway/internal/models"
)

// Log keeps the most recent alerts in memory for the API to serve.
// Older entries are evicted once the capacity is reached; durable
// history lives in the database archive.
type Log struct {
	mu     sync.Mutex
	buf    []models.Alert
	next   int
	filled bool
}

func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{buf: make([]models.Alert, capacity)}
}

func (l *Log) Add(alert models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = alert
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.filled = true
	}
}

// Recent returns stored alerts newest first.
func (l *Log) Recent(limit int) []models.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]models.Alert, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}
