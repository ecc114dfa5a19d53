// Package session tracks connected-session liveness: a last-activity
// timestamp, a periodic idle check, and a one-shot timeout callback used
// to invalidate the session.
package session

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTimeout is how long a session may sit idle.
	DefaultTimeout = 30 * time.Minute
	// DefaultCheckInterval is how often idleness is evaluated.
	DefaultCheckInterval = time.Minute
)

// Monitor watches for inactivity. The timeout callback fires exactly once
// per idle period; it re-arms only after Touch resets the clock.
type Monitor struct {
	timeout   time.Duration
	interval  time.Duration
	now       func() time.Time
	onTimeout func()

	mu           sync.Mutex
	lastActivity time.Time
	fired        bool
	stop         chan struct{}
	stopOnce     sync.Once
}

// New seeds last activity to the current time. A nil clock uses wall
// time; non-positive durations fall back to the defaults.
func New(timeout, interval time.Duration, now func() time.Time, onTimeout func()) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	if now == nil {
		now = time.Now
	}

	return &Monitor{
		timeout:      timeout,
		interval:     interval,
		now:          now,
		onTimeout:    onTimeout,
		lastActivity: now(),
		stop:         make(chan struct{}),
	}
}

// Start runs the periodic check until Stop. Call it once, in its own
// goroutine or via `go m.Start()`.
func (m *Monitor) Start() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Touch records activity, resetting the idle clock and re-arming the
// timeout.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActivity = m.now()
	m.fired = false
}

// LastActivity returns the most recent activity timestamp.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastActivity
}

// Stop halts the periodic check. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// check fires the callback when idle time crosses the threshold. Repeat
// checks while still idle stay silent until activity re-arms the monitor.
func (m *Monitor) check() {
	m.mu.Lock()

	idle := m.now().Sub(m.lastActivity)
	shouldFire := idle > m.timeout && !m.fired

	if shouldFire {
		m.fired = true
	}

	m.mu.Unlock()

	if !shouldFire {
		return
	}

	slog.Info("session idle timeout", "idle", idle, "timeout", m.timeout)

	if m.onTimeout != nil {
		m.onTimeout()
	}
}
