package usecase

import (
	"context"
	"sync"

	"chatppt/internal/domain"
)

// sessionLocks serialises actions per session. Waiters queue on a one-slot
// channel, which the runtime hands over in arrival order.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	slot     chan struct{}
	refs     int
	inFlight domain.State
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the caller owns sessionID or ctx is done.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (*heldSession, error) {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{slot: make(chan struct{}, 1)}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.slot <- struct{}{}:
		return &heldSession{locks: l, id: sessionID, lock: sl}, nil
	case <-ctx.Done():
		l.unref(sessionID, sl)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) unref(sessionID string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// inFlight returns the transient state of a running action on sessionID.
func (l *sessionLocks) inFlight(sessionID string) (domain.State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.locks[sessionID]
	if !ok || sl.inFlight == "" {
		return "", false
	}
	return sl.inFlight, true
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

type heldSession struct {
	locks *sessionLocks
	id    string
	lock  *sessionLock
}

func (h *heldSession) enter(state domain.State) {
	h.locks.mu.Lock()
	h.lock.inFlight = state
	h.locks.mu.Unlock()
}

func (h *heldSession) release() {
	h.enter("")
	<-h.lock.slot
	h.locks.unref(h.id, h.lock)
}
