// Package busy guards forms against concurrent resubmission: at most one
// submission per key is in flight at a time.
package busy

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("a submission is already in progress")

// Guard hands out exclusive, releasable claims on keys.
type Guard interface {
	// Acquire claims key or fails with ErrBusy. release is safe to call twice.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds the claim key of form for the given actor.
func Key(form, actor string) string {
	return form + ":" + actor
}

// Memory is a process-local Guard.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Guard = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrBusy
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently claimed.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
