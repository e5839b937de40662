// Package pending counts in-flight persistence calls and aggregates the save
// status shown to the user and consulted by the shutdown sequence.
package pending

import (
	"context"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SaveStatus summarizes persistence progress.
type SaveStatus int

const (
	// StatusIdle means nothing is being saved and no failure is flagged.
	StatusIdle SaveStatus = iota
	// StatusSaving means at least one persistence call is in flight.
	StatusSaving
	// StatusError means a failure is flagged; it wins over Saving.
	StatusError
)

// String returns a human-readable representation of the status.
func (s SaveStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Tracker counts pending operations. Unlike the store it is locked, because
// the shutdown sequence reads it from outside the mutation loop.
type Tracker struct {
	mu     sync.Mutex
	count  int
	byDesc map[string]int
	err    error
	idle   chan struct{} // closed while count == 0

	gauge    prometheus.Gauge
	started  prometheus.Counter
	failures prometheus.Counter
}

// New creates an idle tracker. Metrics are registered on reg when it is non-nil.
func New(reg prometheus.Registerer) *Tracker {
	idle := make(chan struct{})
	close(idle)

	t := &Tracker{
		byDesc: make(map[string]int),
		idle:   idle,
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tasksync",
			Name:      "pending_operations",
			Help:      "Persistence calls started but not yet finished.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "pending_operations_started_total",
			Help:      "Persistence calls started.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "save_errors_total",
			Help:      "Failures flagged on the save status.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.gauge, t.started, t.failures)
	}
	return t
}

// StartTask registers one in-flight operation described by desc.
func (t *Tracker) StartTask(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		t.idle = make(chan struct{})
	}
	t.count++
	t.byDesc[desc]++
	t.gauge.Set(float64(t.count))
	t.started.Inc()
}

// EndTask finishes one operation started with the same desc. It returns false
// for an unmatched call, which leaves the count unchanged.
func (t *Tracker) EndTask(desc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byDesc[desc]
	if !ok || t.count == 0 {
		return false
	}
	if n == 1 {
		delete(t.byDesc, desc)
	} else {
		t.byDesc[desc] = n - 1
	}
	t.count--
	t.gauge.Set(float64(t.count))
	if t.count == 0 {
		close(t.idle)
	}
	return true
}

// PendingCount returns the number of in-flight operations.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// HasPending reports whether anything is in flight.
func (t *Tracker) HasPending() bool {
	return t.PendingCount() > 0
}

// SaveStatus returns Error if a failure is flagged, else Saving while
// operations are in flight, else Idle.
func (t *Tracker) SaveStatus() SaveStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.err != nil:
		return StatusError
	case t.count > 0:
		return StatusSaving
	default:
		return StatusIdle
	}
}

// SetError flags a failure until ClearError.
func (t *Tracker) SetError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.failures.Inc()
}

// ClearError removes the failure flag.
func (t *Tracker) ClearError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = nil
}

// Err returns the flagged failure, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Descriptions returns the descriptions of in-flight operations, sorted, one
// entry per pending operation.
func (t *Tracker) Descriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, t.count)
	for desc, n := range t.byDesc {
		for range n {
			out = append(out, desc)
		}
	}
	slices.Sort(out)
	return out
}

// Idle returns a channel that is closed once no operation is pending.
// The channel reflects the moment of the call; fetch a new one after new work starts.
func (t *Tracker) Idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

// WaitIdle blocks until the pending count reaches zero or ctx is done.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	for {
		idle := t.Idle()
		select {
		case <-idle:
			// New work may have started between close and wake-up.
			if !t.HasPending() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
