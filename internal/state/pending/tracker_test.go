package pending

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusTransitions(t *testing.T) {
	tr := New(nil)
	if got := tr.SaveStatus(); got != StatusIdle {
		t.Fatalf("initial status = %s, want idle", got)
	}

	tr.StartTask("Adding task")
	if got := tr.SaveStatus(); got != StatusSaving {
		t.Errorf("status while pending = %s, want saving", got)
	}

	tr.SetError(errors.New("disk full"))
	if got := tr.SaveStatus(); got != StatusError {
		t.Errorf("status with error = %s, want error", got)
	}

	tr.EndTask("Adding task")
	if got := tr.SaveStatus(); got != StatusError {
		t.Errorf("error must outlive pending work, got %s", got)
	}

	tr.ClearError()
	if got := tr.SaveStatus(); got != StatusIdle {
		t.Errorf("status after ClearError = %s, want idle", got)
	}
}

func TestUnmatchedEndIsIgnored(t *testing.T) {
	tr := New(nil)
	if tr.EndTask("never started") {
		t.Error("EndTask on empty tracker returned true")
	}

	tr.StartTask("a")
	if tr.EndTask("b") {
		t.Error("EndTask with other description returned true")
	}
	if n := tr.PendingCount(); n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}
}

func TestBalancedInterleavingReturnsToZero(t *testing.T) {
	tr := New(nil)
	descs := []string{"Adding task", "Updating task", "Deleting project", "Completing 3 tasks"}
	rng := rand.New(rand.NewSource(1))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		desc := descs[rng.Intn(len(descs))]
		delay := time.Duration(rng.Intn(200)) * time.Microsecond
		tr.StartTask(desc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(delay)
			tr.EndTask(desc)
		}()
	}
	wg.Wait()

	if n := tr.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d, want 0", n)
	}
	if tr.HasPending() {
		t.Error("HasPending = true after balanced interleaving")
	}
	if len(tr.Descriptions()) != 0 {
		t.Errorf("Descriptions = %v, want none", tr.Descriptions())
	}
}

func TestDescriptions(t *testing.T) {
	tr := New(nil)
	tr.StartTask("b")
	tr.StartTask("a")
	tr.StartTask("b")

	want := []string{"a", "b", "b"}
	if diff := cmp.Diff(want, tr.Descriptions()); diff != "" {
		t.Errorf("Descriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitIdle(t *testing.T) {
	tr := New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle on idle tracker: %v", err)
	}

	tr.StartTask("slow")
	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.EndTask("slow")
	}()
	if err := tr.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	tr.StartTask("stuck")
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if err := tr.WaitIdle(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIdle with stuck task = %v, want deadline exceeded", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(reg)

	tr.StartTask("x")
	tr.StartTask("y")
	tr.EndTask("x")
	tr.SetError(errors.New("boom"))

	if got := testutil.ToFloat64(tr.gauge); got != 1 {
		t.Errorf("pending gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tr.started); got != 2 {
		t.Errorf("started counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tr.failures); got != 1 {
		t.Errorf("failures counter = %v, want 1", got)
	}
}
