package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"staybook/internal/domain"
)

// MemoryPropertyLocker serializes bookings within a single process.
// A property's slot lives only while a holder or waiter references it.
type MemoryPropertyLocker struct {
	mu    sync.Mutex
	locks map[int64]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryPropertyLocker(wait time.Duration) *MemoryPropertyLocker {
	return &MemoryPropertyLocker{
		locks: make(map[int64]*lockSlot),
		wait:  wait,
	}
}

func (m *MemoryPropertyLocker) acquire(propertyID int64) *lockSlot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.locks[propertyID]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		m.locks[propertyID] = s
	}
	s.refs++
	return s
}

func (m *MemoryPropertyLocker) drop(propertyID int64, s *lockSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(m.locks, propertyID)
	}
}

func (m *MemoryPropertyLocker) Lock(ctx context.Context, propertyID int64) (domain.Lease, error) {
	s := m.acquire(propertyID)

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &memoryLease{release: func() {
			<-s.ch
			m.drop(propertyID, s)
		}}, nil
	case <-ctx.Done():
		m.drop(propertyID, s)
		return nil, ctx.Err()
	case <-timer.C:
		m.drop(propertyID, s)
		return nil, fmt.Errorf("property %d is locked: %w", propertyID, domain.ErrConcurrentConflict)
	}
}

// held reports how many property slots are live.
func (m *MemoryPropertyLocker) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

type memoryLease struct {
	once    sync.Once
	release func()
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(l.release)
	return nil
}
