package changefeed

import (
	"log/slog"
	"sync"
)

// Hub fans events out to in-process subscribers of a table.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	table string
	fn    func(Event)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for events on table. The returned func is idempotent.
func (h *Hub) Subscribe(table string, fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = subscription{table: table, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Dispatch calls every subscriber of ev.Table. Subscribers run on the calling
// goroutine, outside the hub lock.
func (h *Hub) Dispatch(ev Event) {
	h.mu.RLock()
	targets := make([]func(Event), 0, len(h.subs))
	for _, s := range h.subs {
		if s.table == ev.Table {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		h.deliver(fn, ev)
	}
}

func (h *Hub) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("change subscriber panicked", "table", ev.Table, "panic", r)
		}
	}()
	fn(ev)
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
