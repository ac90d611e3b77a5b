package devserver

import (
	"sync"

	"github.com/magicjsdev/ark/internal/compiler"
)

type eventKind int

const (
	evCompiling eventKind = iota
	evResult
	evFatal
	evLive
	evEnvChanged
	evRestart
)

type event struct {
	kind   eventKind
	target compiler.Target
	result *compiler.Result
	err    error
	live   bool
}

// mailbox is an unbounded FIFO feeding the event loop. push never blocks, so
// callbacks fired from compiler and supervisor goroutines cannot stall them.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}
