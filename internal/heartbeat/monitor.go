// Package heartbeat detects silent connection loss.
//
// A transport can report itself open while the network path underneath is dead (a
// sleeping laptop, a proxy that dropped the socket). The server emits a heartbeat event
// every Interval; when none has been seen for longer than Timeout the Monitor asks for a
// forced reconnect.
package heartbeat

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	// Interval is how often the server sends heartbeats and how often the monitor checks.
	Interval = 10 * time.Second
	// Timeout is the silence after which a connection is considered dead.
	Timeout = 3 * Interval
)

// Monitor tracks the last liveness signal of the current connection.
type Monitor struct {
	clock     clock.WithTicker
	interval  time.Duration
	timeout   time.Duration
	onTimeout func()

	mu       sync.Mutex
	lastSeen time.Time
	stop     chan struct{}
	done     chan struct{}
}

// New creates a stopped monitor. onTimeout is called from CheckNow whenever the silence
// exceeds timeout; it must not block.
func New(clk clock.WithTicker, interval, timeout time.Duration, onTimeout func()) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = Interval
	}
	if timeout <= 0 {
		timeout = Timeout
	}
	return &Monitor{
		clock:     clk,
		interval:  interval,
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Start resets lastSeen to now and begins periodic checks. Starting a running
// monitor restarts it.
func (m *Monitor) Start() {
	m.Stop()

	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	ticker := m.clock.NewTicker(m.interval)
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop, m.done = stop, done
	m.mu.Unlock()

	go m.run(ticker, stop, done)
}

func (m *Monitor) run(ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			m.CheckNow()
		}
	}
}

// Stop ends periodic checks and waits for the check loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// RecordHeartbeat marks the connection alive as of now.
func (m *Monitor) RecordHeartbeat() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

// LastSeen returns the time of the last heartbeat or start.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Expired reports whether the silence exceeds the timeout on a running monitor.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil && m.clock.Since(m.lastSeen) > m.timeout
}

// CheckNow reports whether a forced reconnect is needed, invoking the timeout callback
// if so. A stopped monitor never reports a timeout.
func (m *Monitor) CheckNow() bool {
	if !m.Expired() {
		return false
	}
	if m.onTimeout != nil {
		m.onTimeout()
	}
	return true
}
