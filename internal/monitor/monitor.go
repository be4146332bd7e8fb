// Package monitor tracks the health of upstream data sources.
// Every collector fetch records an entry; the status API exposes the
// latest state per source plus a bounded history.
package monitor

import (
	"sync"
	"time"
)

// Status values for an entry.
const (
	StatusOnline = "online"
	StatusError  = "error"
)

// maxHistory bounds the in-memory ring buffer.
const maxHistory = 200

// Entry is a single health observation for an upstream service.
type Entry struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	LatencyMS int       `json:"latency_ms"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor keeps a bounded history of health entries and the latest entry
// per service. Safe for concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	history []Entry
	latest  map[string]Entry
}

// New creates an empty monitor.
func New() *Monitor {
	return &Monitor{
		latest: make(map[string]Entry),
	}
}

// Record stores a health observation.
func (m *Monitor) Record(name, typ string, ok bool, latencyMS int, message string) {
	status := StatusOnline
	if !ok {
		status = StatusError
	}

	entry := Entry{
		Name:      name,
		Type:      typ,
		Status:    status,
		LatencyMS: latencyMS,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, entry)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.latest[name] = entry
}

// Latest returns the most recent entry per service.
func (m *Monitor) Latest() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.latest))
	for _, e := range m.latest {
		entries = append(entries, e)
	}
	return entries
}

// History returns up to limit recent entries, newest last.
// limit <= 0 returns the full retained history.
func (m *Monitor) History(limit int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]Entry, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}
