// Package lock provides per-key advisory locks used to serialize
// read-check-write sequences that span more than one record.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned unlock function is
// safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TicketKey is the lock key guarding a ticket's state transitions.
func TicketKey(ticketID uint) string {
	return fmt.Sprintf("ticket:%d", ticketID)
}

// FormKey is the lock key guarding the posting and editing of a ticket form.
func FormKey(ticketID uint) string {
	return fmt.Sprintf("form:%d", ticketID)
}

// LocalLocker is an in-process Locker. Entries are dropped once no goroutine
// holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports the number of live entries.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
