package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunnerStartStopIdempotent(t *testing.T) {
	r := NewLoopRunner()
	var started, exited atomic.Int32

	loop := func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
		exited.Add(1)
	}
	if !r.Start(context.Background(), loop) {
		t.Fatalf("first start should succeed")
	}
	if r.Start(context.Background(), loop) {
		t.Fatalf("second start should be rejected while running")
	}
	if !r.Running() {
		t.Fatalf("runner should report running")
	}

	if !r.Stop() {
		t.Fatalf("first stop should succeed")
	}
	if r.Stop() {
		t.Fatalf("second stop should be a no-op")
	}
	if started.Load() != 1 || exited.Load() != 1 {
		t.Fatalf("loop started %d times, exited %d times", started.Load(), exited.Load())
	}
}

func TestLoopRunnerFollowsParentContext(t *testing.T) {
	r := NewLoopRunner()
	parent, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.Start(parent, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not observe parent cancellation")
	}
	r.Stop()
}

func TestCancelGuard(t *testing.T) {
	var g CancelGuard
	g.CancelAndClear()

	ctx, cancel := context.WithCancel(context.Background())
	g.Set(cancel)
	g.CancelAndClear()
	if ctx.Err() == nil {
		t.Fatalf("guarded context should be canceled")
	}
	g.CancelAndClear()
}
