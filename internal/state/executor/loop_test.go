package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoopRunsClosuresInOrder(t *testing.T) {
	l := NewLoop(4)
	l.Start(context.Background())
	defer l.Stop()

	var got []int
	for i := 0; i < 50; i++ {
		if !l.Submit(func() { got = append(got, i) }) {
			t.Fatalf("Submit(%d) = false on a running loop", i)
		}
	}

	var snapshot []int
	if err := l.Do(context.Background(), func() { snapshot = append(snapshot, got...) }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, snapshot); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoopStopDrainsQueue(t *testing.T) {
	l := NewLoop(16)
	block := make(chan struct{})
	l.Start(context.Background())

	ran := 0
	l.Submit(func() { <-block })
	for i := 0; i < 5; i++ {
		l.Submit(func() { ran++ })
	}
	close(block)
	l.Stop()

	if ran != 5 {
		t.Errorf("ran = %d after Stop, want 5", ran)
	}
	if l.Submit(func() {}) {
		t.Error("Submit() = true after Stop")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Do() after Stop error = %v, want ErrLoopStopped", err)
	}
}

func TestLoopStopsWithContext(t *testing.T) {
	l := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
}

func TestLoopStopWithoutStart(t *testing.T) {
	l := NewLoop(1)
	l.Stop()
	l.Stop()

	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Do() error = %v, want ErrLoopStopped", err)
	}
}
