package broker

import (
	"context"
	"sync"
)

// Tracker fans pushed order updates out to waiters. Terminal states are
// remembered so a waiter that registers after the update still sees it.
type Tracker struct {
	mu      sync.Mutex
	keep    int
	done    map[string]Order
	ring    []string
	waiters map[string][]chan Order
}

// NewTracker remembers up to keep terminal orders.
func NewTracker(keep int) *Tracker {
	if keep <= 0 {
		keep = 256
	}
	return &Tracker{
		keep:    keep,
		done:    make(map[string]Order),
		waiters: make(map[string][]chan Order),
	}
}

// Publish records an order update. Non-terminal updates are ignored.
func (t *Tracker) Publish(o Order) {
	if !o.Status.Terminal() || o.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.done[o.ID]; !seen {
		t.ring = append(t.ring, o.ID)
		if len(t.ring) > t.keep {
			delete(t.done, t.ring[0])
			t.ring = t.ring[1:]
		}
	}
	t.done[o.ID] = o
	for _, ch := range t.waiters[o.ID] {
		ch <- o
	}
	delete(t.waiters, o.ID)
}

// Wait blocks until id reaches a terminal state or ctx ends.
func (t *Tracker) Wait(ctx context.Context, id string) (Order, error) {
	t.mu.Lock()
	if o, ok := t.done[id]; ok {
		t.mu.Unlock()
		return o, nil
	}
	ch := make(chan Order, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		t.drop(id, ch)
		return Order{}, ctx.Err()
	}
}

func (t *Tracker) drop(id string, ch chan Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.waiters[id]
	for i, w := range ws {
		if w == ch {
			t.waiters[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(t.waiters[id]) == 0 {
		delete(t.waiters, id)
	}
}
