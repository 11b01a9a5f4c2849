package lifecycle

import (
	"context"
	"sync"
)

// LoopRunner owns one background loop. Start and Stop are idempotent and Stop
// waits for the loop to return.
type LoopRunner struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc
}

func NewLoopRunner() *LoopRunner {
	return &LoopRunner{}
}

// Start runs loop in a goroutine with a context derived from parent. The
// context is canceled by Stop or when parent ends. It reports false if a loop
// is already running.
func (r *LoopRunner) Start(parent context.Context, loop func(ctx context.Context)) bool {
	if loop == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop(ctx)
	}()
	return true
}

// Stop cancels the loop and waits for it. It reports false if nothing was running.
func (r *LoopRunner) Stop() bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	cancel()
	r.mu.Unlock()

	r.wg.Wait()
	return true
}

func (r *LoopRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CancelGuard holds a cancel func that can be replaced and fired from any goroutine.
type CancelGuard struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (g *CancelGuard) Set(cancel context.CancelFunc) {
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
}

func (g *CancelGuard) CancelAndClear() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
