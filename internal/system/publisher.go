package system

import (
	"sync"
	"sync/atomic"
)

// Publisher hands messages to the presentation layer. Sends never block:
// when the consumer lags the message is dropped and counted.
type Publisher struct {
	ch      chan Message
	logs    *LogBuffer
	dropped atomic.Uint64
}

func NewPublisher(size int, logs *LogBuffer) *Publisher {
	return &Publisher{ch: make(chan Message, size), logs: logs}
}

// C is the consumer side.
func (p *Publisher) C() <-chan Message { return p.ch }

// Publish queues m and reports whether it was accepted. Log lines are
// recorded in the log buffer regardless.
func (p *Publisher) Publish(m Message) bool {
	if p.logs != nil && (m.Kind == KindLog || m.Kind == KindPluginLog) {
		p.logs.Append(m.String())
	}
	select {
	case p.ch <- m:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) Log(text string) { p.Publish(Log(text)) }

func (p *Publisher) Logf(format string, args ...interface{}) { p.Publish(Logf(format, args...)) }

// Dropped returns how many messages were discarded so far.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Logs exposes the log ring, may be nil.
func (p *Publisher) Logs() *LogBuffer { return p.logs }

// LogBuffer keeps the most recent log lines.
type LogBuffer struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LogBuffer{lines: make([]string, capacity)}
}

func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next++
	if b.next == len(b.lines) {
		b.next = 0
		b.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}
