package chat

import (
	"sync"
	"time"
)

// ConnectionThrottle limits how many connections an IP may open per window.
type ConnectionThrottle struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	entries   map[string][]time.Time
	lastSweep time.Time
}

// NewConnectionThrottle allows limit attempts per IP per window. A limit of 0 allows everything.
func NewConnectionThrottle(limit int, window time.Duration) *ConnectionThrottle {
	return &ConnectionThrottle{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Allow records an attempt from ip at now and reports whether it may proceed.
func (t *ConnectionThrottle) Allow(ip string, now time.Time) bool {
	if t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	if now.Sub(t.lastSweep) >= t.window {
		t.sweepLocked(cutoff)
		t.lastSweep = now
	}

	recent := t.entries[ip][:0]
	for _, ts := range t.entries[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= t.limit {
		t.entries[ip] = recent
		return false
	}
	t.entries[ip] = append(recent, now)
	return true
}

// sweepLocked drops IPs with no attempt after cutoff.
func (t *ConnectionThrottle) sweepLocked(cutoff time.Time) {
	for ip, attempts := range t.entries {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
			delete(t.entries, ip)
		}
	}
}

// Tracked returns how many IPs currently have attempts on record.
func (t *ConnectionThrottle) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
