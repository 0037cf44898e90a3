package memory

import (
	"context"
	"sync"
)

// LawLocks is a keyed mutex. Waiting for a lock honours context cancellation.
type LawLocks struct {
	mu    sync.Mutex
	slots map[string]*lawSlot
}

type lawSlot struct {
	ch      chan struct{}
	waiters int
}

func NewLawLocks() *LawLocks {
	return &LawLocks{slots: make(map[string]*lawSlot)}
}

func (l *LawLocks) LockLaw(ctx context.Context, lawID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[lawID]
	if !ok {
		slot = &lawSlot{ch: make(chan struct{}, 1)}
		l.slots[lawID] = slot
	}
	slot.waiters++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(lawID, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(lawID, slot, true) })
	}, nil
}

func (l *LawLocks) release(lawID string, slot *lawSlot, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held {
		<-slot.ch
	}
	slot.waiters--
	if slot.waiters == 0 {
		delete(l.slots, lawID)
	}
}
