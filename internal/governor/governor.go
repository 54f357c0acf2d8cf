// Package governor implements the shared, limit-enforcing counters that meter
// scarce per-task resources across concurrently running workers.
//
// Every mutation is a single check-and-increment under the governor's own
// mutex. No operation blocks beyond that lock and no code path holds two
// governor locks at once.
package governor

import (
	"strconv"
	"sync"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
)

// Unlimited marks a governor without an upper bound.
const Unlimited = -1

// Event is one granted acquisition.
type Event struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Governor is a named counter with a limit.
type Governor struct {
	name  string
	limit int

	mu      sync.Mutex
	count   int
	history []Event

	metrics *metrics.Collector
}

// New creates a governor. A limit <= 0 yields an unlimited governor.
func New(name string, limit int) *Governor {
	if limit <= 0 {
		limit = Unlimited
	}
	return &Governor{name: name, limit: limit, metrics: metrics.Default()}
}

// NewWithCollector creates a governor reporting to c.
func NewWithCollector(name string, limit int, c *metrics.Collector) *Governor {
	g := New(name, limit)
	g.metrics = c
	return g
}

// Name returns the governor name.
func (g *Governor) Name() string { return g.name }

// Limit returns the limit, or Unlimited.
func (g *Governor) Limit() int { return g.limit }

// TryIncrement atomically grants one unit if count < limit.
func (g *Governor) TryIncrement() bool {
	g.mu.Lock()
	granted := g.limit == Unlimited || g.count < g.limit
	if granted {
		g.count++
		g.history = append(g.history, Event{Seq: g.count, Timestamp: time.Now()})
	}
	count := g.count
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordGovernor(g.name, granted)
	}
	if granted {
		logging.GovernorDebug("%s: granted %d/%s", g.name, count, limitString(g.limit))
	} else {
		logging.Governor("%s: denied at %d/%d", g.name, count, g.limit)
	}
	return granted
}

// Count returns the number of granted units.
func (g *Governor) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Remaining returns limit - count, or Unlimited.
func (g *Governor) Remaining() int {
	if g.limit == Unlimited {
		return Unlimited
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit - g.count
}

// Snapshot returns count and remaining under one lock acquisition.
func (g *Governor) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Status{Count: g.count, Limit: g.limit, Remaining: Unlimited}
	if g.limit != Unlimited {
		s.Remaining = g.limit - g.count
	}
	return s
}

// History returns a copy of the grant history in order.
func (g *Governor) History() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Event, len(g.history))
	copy(out, g.history)
	return out
}

// Reset clears the count and history.
func (g *Governor) Reset() {
	g.mu.Lock()
	g.count = 0
	g.history = nil
	g.mu.Unlock()
	logging.GovernorDebug("%s: reset", g.name)
}

// Status is a point-in-time view of a governor.
type Status struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func limitString(limit int) string {
	if limit == Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(limit)
}
