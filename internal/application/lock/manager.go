// Package lock serialises mutating operations.
//
// A single process-wide lock guards every write. Operations that also touch
// the expense table additionally hold a per-request lock so that their
// read-then-write sequences stay consistent. Acquisition is bounded by a
// timeout; expiry surfaces as apperr.ErrBusy and never as a partial write.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"golang.org/x/sync/semaphore"
)

// Scope labels used in logs and metrics
const (
	ScopeGlobal = "global"
	ScopeRecord = "record"
)

// Release gives back a previously acquired lock. Calls after the first are no-ops.
type Release func()

// Observer receives lock timing information
type Observer interface {
	ObserveLockWait(scope string, wait time.Duration)
	IncLockTimeout(scope string)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type recordLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager hands out the global lock and per-record locks
type Manager struct {
	global *semaphore.Weighted

	mu      sync.Mutex
	records map[string]*recordLock

	observer Observer
	logger   Logger
}

// Option configures the manager
type Option func(*Manager)

// WithObserver reports wait times and timeouts to o
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithLogger sets a logger for lock timeouts
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a lock manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		global:  semaphore.NewWeighted(1),
		records: make(map[string]*recordLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AcquireGlobal waits up to timeout for the process-wide write lock
func (m *Manager) AcquireGlobal(ctx context.Context, timeout time.Duration) (Release, error) {
	if err := m.acquire(ctx, m.global, ScopeGlobal, "", timeout); err != nil {
		return nil, err
	}
	return onceRelease(func() { m.global.Release(1) }), nil
}

// AcquireRecord waits up to timeout for the lock on a single record
func (m *Manager) AcquireRecord(ctx context.Context, key string, timeout time.Duration) (Release, error) {
	rl := m.ref(key)
	if err := m.acquire(ctx, rl.sem, ScopeRecord, key, timeout); err != nil {
		m.unref(key)
		return nil, err
	}
	return onceRelease(func() {
		rl.sem.Release(1)
		m.unref(key)
	}), nil
}

// HeldRecords reports how many record locks are currently referenced
func (m *Manager) HeldRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Manager) acquire(ctx context.Context, sem *semaphore.Weighted, scope, key string, timeout time.Duration) error {
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if m.observer != nil {
			m.observer.IncLockTimeout(scope)
		}
		if m.logger != nil {
			m.logger.Error("Lock acquisition timed out",
				"scope", scope,
				"key", key,
				"timeout", timeout.String(),
			)
		}
		return apperr.Busy("server busy, try again (%s lock not acquired within %s)", scope, timeout)
	}

	if m.observer != nil {
		m.observer.ObserveLockWait(scope, time.Since(start))
	}
	return nil
}

func (m *Manager) ref(key string) *recordLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl, ok := m.records[key]
	if !ok {
		rl = &recordLock{sem: semaphore.NewWeighted(1)}
		m.records[key] = rl
	}
	rl.refs++
	return rl
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl, ok := m.records[key]
	if !ok {
		return
	}
	rl.refs--
	if rl.refs <= 0 {
		delete(m.records, key)
	}
}

func onceRelease(fn func()) Release {
	var once sync.Once
	return func() { once.Do(fn) }
}
