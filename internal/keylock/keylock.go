// Package keylock provides context-aware mutual exclusion keyed by value.
package keylock

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out one exclusive lock per key. Entries are dropped once nobody
// holds or waits for them, so the map only grows with live contention.
type Locker[K cmp.Ordered] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

func New[K cmp.Ordered]() *Locker[K] {
	return &Locker[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the key is held or ctx is done.
func (l *Locker[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := l.acquireRef(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.releaseRef(key)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		l.releaseRef(key)
	}, nil
}

// LockAll takes every key in ascending order, so two callers locking overlapping
// sets can never deadlock. Duplicate keys are taken once.
func (l *Locker[K]) LockAll(ctx context.Context, keys []K) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range sorted {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (l *Locker[K]) acquireRef(key K) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker[K]) releaseRef(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Locker[K]) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
