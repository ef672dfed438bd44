package assignment

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

type keyLock struct {
	sem  chan struct{}
	refs int // guarded by the map's per-key compute lock
}

// KeyedMutex hands out one exclusive lock per request id. Callers on the same
// id are serialized; callers on different ids never wait on each other.
// Entries are reference counted and dropped once nobody holds or waits on them.
type KeyedMutex struct {
	locks *xsync.Map[uint, *keyLock]
}

// NewKeyedMutex creates an empty registry.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: xsync.NewMap[uint, *keyLock]()}
}

// Lock blocks until the lock for id is held or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, id uint) (func(), error) {
	l, _ := m.locks.Compute(id, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
		if !loaded {
			old = &keyLock{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, xsync.UpdateOp
	})

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			m.release(id)
		}, nil
	case <-ctx.Done():
		m.release(id)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(id uint) {
	m.locks.Compute(id, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		old.refs--
		if old.refs <= 0 {
			return old, xsync.DeleteOp
		}
		return old, xsync.UpdateOp
	})
}

// Len reports how many ids currently have a holder or waiter.
func (m *KeyedMutex) Len() int {
	return m.locks.Size()
}
