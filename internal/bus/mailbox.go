package bus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// mailbox is an unbounded per-observer queue drained by its own goroutine.
// A slow observer only grows its own queue.
type mailbox struct {
	name string
	obs  core.Observer
	log  zerolog.Logger

	mu     sync.Mutex
	queue  []core.Event
	closed bool

	signal chan struct{}
	done   chan struct{}
	exited chan struct{}
}

func newMailbox(name string, obs core.Observer, logger *zerolog.Logger) *mailbox {
	m := &mailbox{
		name:   name,
		obs:    obs,
		log:    logger.With().Str("observer", name).Logger(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(ev core.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) run() {
	defer close(m.exited)
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			ev := m.queue[0]
			m.queue[0] = core.Event{}
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.deliver(&ev)
		}
	}
}

func (m *mailbox) deliver(ev *core.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Err(fmt.Errorf("observer panic: %v", r)).Msg("observer failed")
		}
	}()
	core.Dispatch(m.obs, ev)
}
