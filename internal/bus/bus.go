package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// DefaultHistoryCap is how many messages a room retains.
const DefaultHistoryCap = 200

// Bus normalizes inbound events, deduplicates them, keeps per-room state and
// fans events out to observers. Room state is locked per room; the rooms map
// lock is only held for lookup.
type Bus struct {
	log        *zerolog.Logger
	historyCap int
	now        func() time.Time

	roomsMu sync.Mutex
	rooms   map[string]*roomState

	obsMu     sync.RWMutex
	observers map[uint64]*mailbox
	nextObs   uint64

	managedMu sync.RWMutex
	managed   map[string]int

	closed atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryCap overrides the per-room message cap.
func WithHistoryCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithClock overrides the time source used for receipt timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs an empty bus.
func New(logger *zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:        logger,
		historyCap: DefaultHistoryCap,
		now:        time.Now,
		rooms:      make(map[string]*roomState),
		observers:  make(map[uint64]*mailbox),
		managed:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers an observer. The returned func unregisters it and is safe to call twice.
func (b *Bus) Subscribe(name string, obs core.Observer) func() {
	m := newMailbox(name, obs, b.log)

	b.obsMu.Lock()
	b.nextObs++
	id := b.nextObs
	b.observers[id] = m
	b.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.obsMu.Lock()
			delete(b.observers, id)
			b.obsMu.Unlock()
			m.stop()
		})
	}
}

// ObserverCount returns the number of registered observers.
func (b *Bus) ObserverCount() int {
	b.obsMu.RLock()
	defer b.obsMu.RUnlock()
	return len(b.observers)
}

// RegisterAccount marks an account id as belonging to a managed bot.
func (b *Bus) RegisterAccount(accountID string) {
	if accountID == "" {
		return
	}
	b.managedMu.Lock()
	b.managed[accountID]++
	b.managedMu.Unlock()
}

// UnregisterAccount reverses RegisterAccount.
func (b *Bus) UnregisterAccount(accountID string) {
	b.managedMu.Lock()
	defer b.managedMu.Unlock()
	if n := b.managed[accountID]; n > 1 {
		b.managed[accountID] = n - 1
	} else {
		delete(b.managed, accountID)
	}
}

// IsManaged reports whether accountID belongs to a managed bot.
func (b *Bus) IsManaged(accountID string) bool {
	b.managedMu.RLock()
	defer b.managedMu.RUnlock()
	return b.managed[accountID] > 0
}

// Log fans an operator log line out to observers. It does not touch room state.
func (b *Bus) Log(entry core.LogEntry) {
	if b.closed.Load() {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = b.now()
	}
	b.fanOut(core.Event{Kind: core.EventLog, Log: entry})
}

// History returns up to n most recent messages of a room, oldest first.
// n <= 0 returns everything retained.
func (b *Bus) History(roomID string, n int) []core.Message {
	room := b.lookup(roomID, false)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.history(n)
}

// Users returns the users currently present in a room, in arrival order.
func (b *Bus) Users(roomID string) []core.User {
	room := b.lookup(roomID, false)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.userList()
}

// Close stops every observer. Events published afterwards are discarded.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.obsMu.Lock()
	observers := b.observers
	b.observers = make(map[uint64]*mailbox)
	b.obsMu.Unlock()
	for _, m := range observers {
		m.stop()
	}
}

func (b *Bus) lookup(roomID string, create bool) *roomState {
	b.roomsMu.Lock()
	defer b.roomsMu.Unlock()
	room, ok := b.rooms[roomID]
	if !ok && create {
		room = newRoomState(roomID, b.historyCap)
		b.rooms[roomID] = room
	}
	return room
}

// fanOut enqueues ev on every mailbox. Callers holding a room lock get
// per-room ordering because enqueue happens before the lock is released.
func (b *Bus) fanOut(ev core.Event) {
	b.obsMu.RLock()
	defer b.obsMu.RUnlock()
	for _, m := range b.observers {
		m.push(ev)
	}
}
