package governor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
)

// CallGovernor enforces per-worker-name delegation budgets for a coordinator.
// Names without a limit are unbounded but still counted.
type CallGovernor struct {
	mu      sync.Mutex
	limits  map[string]int
	counts  map[string]int
	history map[string][]time.Time

	metrics *metrics.Collector
}

// NewCallGovernor creates a call governor. Non-positive limits are dropped.
func NewCallGovernor(limits map[string]int) *CallGovernor {
	cg := &CallGovernor{
		limits:  make(map[string]int, len(limits)),
		counts:  make(map[string]int),
		history: make(map[string][]time.Time),
		metrics: metrics.Default(),
	}
	for name, limit := range limits {
		if limit > 0 {
			cg.limits[name] = limit
		}
	}
	return cg
}

// TryIncrement atomically grants one call to name if its budget allows.
func (cg *CallGovernor) TryIncrement(name string) bool {
	cg.mu.Lock()
	limit, bounded := cg.limits[name]
	granted := !bounded || cg.counts[name] < limit
	if granted {
		cg.counts[name]++
		cg.history[name] = append(cg.history[name], time.Now())
	}
	count := cg.counts[name]
	cg.mu.Unlock()

	if cg.metrics != nil {
		cg.metrics.RecordGovernor("calls:"+name, granted)
	}
	if granted {
		logging.GovernorDebug("calls: %s granted (%d)", name, count)
	} else {
		logging.Governor("calls: %s denied at %d/%d", name, count, limit)
	}
	return granted
}

// Count returns the calls granted to name.
func (cg *CallGovernor) Count(name string) int {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.counts[name]
}

// History returns the grant timestamps for name.
func (cg *CallGovernor) History(name string) []time.Time {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	out := make([]time.Time, len(cg.history[name]))
	copy(out, cg.history[name])
	return out
}

// AllStatus reports every known worker name (limited or called).
// Unbounded names report Limit and Remaining as Unlimited.
func (cg *CallGovernor) AllStatus() map[string]Status {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	out := make(map[string]Status, len(cg.limits)+len(cg.counts))
	for name, limit := range cg.limits {
		out[name] = Status{Count: cg.counts[name], Limit: limit, Remaining: limit - cg.counts[name]}
	}
	for name, count := range cg.counts {
		if _, ok := cg.limits[name]; !ok {
			out[name] = Status{Count: count, Limit: Unlimited, Remaining: Unlimited}
		}
	}
	return out
}

// Reset clears all counts and history; limits are kept.
func (cg *CallGovernor) Reset() {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	cg.counts = make(map[string]int)
	cg.history = make(map[string][]time.Time)
}

// DenialMessage builds the instructive message returned to the coordinator
// when a delegation to name is refused. known lists worker names that should
// appear even if they were never called.
func (cg *CallGovernor) DenialMessage(name string, known ...string) string {
	status := cg.AllStatus()
	for _, k := range known {
		if _, ok := status[k]; !ok {
			status[k] = Status{Limit: Unlimited, Remaining: Unlimited}
		}
	}

	denied := status[name]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Call to %s refused: call limit reached (%d/%d).\n", name, denied.Count, denied.Limit)

	names := make([]string, 0, len(status))
	for n := range status {
		if n != name {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	if len(names) > 0 {
		sb.WriteString("Remaining delegation budgets:\n")
		for _, n := range names {
			s := status[n]
			if s.Limit == Unlimited {
				fmt.Fprintf(&sb, "- %s: unlimited (%d used)\n", n, s.Count)
			} else {
				fmt.Fprintf(&sb, "- %s: %d remaining (%d/%d used)\n", n, s.Remaining, s.Count, s.Limit)
			}
		}
	}
	sb.WriteString("Do not call " + name + " again. Complete the task using the information already collected " +
		"and any tools that are still available, then provide your final answer.")
	return sb.String()
}
