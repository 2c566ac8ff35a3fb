package terminal

import "sync"

// lineBuffer stores the line being edited. The reader edits it while the writer
// redraws it after printing a message.
type lineBuffer struct {
	mu    sync.RWMutex
	data  []rune
	limit int
}

func newLineBuffer(limit int) *lineBuffer {
	if limit <= 0 {
		limit = defaultMaxLineLength
	}
	return &lineBuffer{
		data:  make([]rune, 0, min(limit, 128)),
		limit: limit,
	}
}

// Append adds r unless the line is already at its limit.
func (b *lineBuffer) Append(r rune) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) >= b.limit {
		return false
	}
	b.data = append(b.data, r)
	return true
}

func (b *lineBuffer) TrimLast() {
	b.mu.Lock()
	if n := len(b.data); n > 0 {
		b.data = b.data[:n-1]
	}
	b.mu.Unlock()
}

func (b *lineBuffer) Reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

func (b *lineBuffer) Drain() string {
	b.mu.Lock()
	text := string(b.data)
	b.data = b.data[:0]
	b.mu.Unlock()
	return text
}

func (b *lineBuffer) Snapshot() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}
