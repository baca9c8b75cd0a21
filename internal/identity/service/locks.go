package service

import "sync"

// accountLocks serializes version-marker writes per account inside this process.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*accountLock)}
}

// lock blocks until userID's lock is held and returns the unlock func.
func (l *accountLocks) lock(userID int64) func() {
	l.mu.Lock()
	al, ok := l.locks[userID]
	if !ok {
		al = &accountLock{}
		l.locks[userID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
