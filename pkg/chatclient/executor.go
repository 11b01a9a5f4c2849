package chatclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wepush/pkg/filter"
	"wepush/pkg/logger"
)

const executorCloseWait = 5 * time.Second

// Executor serializes every call to a ChatClient onto one worker goroutine.
// UI automation is not safe to drive from several goroutines at once, so the
// poll loop and the reply worker both go through here.
type Executor struct {
	client  ChatClient
	timeout time.Duration

	calls     chan func()
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewExecutor starts the worker. A timeout of zero leaves calls unbounded
// apart from the caller's context.
func NewExecutor(client ChatClient, timeout time.Duration) *Executor {
	e := &Executor{
		client:  client,
		timeout: timeout,
		calls:   make(chan func()),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		select {
		case <-e.closed:
			return
		case call := <-e.calls:
			call()
		}
	}
}

type callResult[T any] struct {
	value T
	err   error
}

func submit[T any](e *Executor, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	resCh := make(chan callResult[T], 1)
	call := func() {
		if err := callCtx.Err(); err != nil {
			resCh <- callResult[T]{zero, err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCF("chatclient", "Recovered panic in chat client call", map[string]interface{}{
					"op":    op,
					"panic": fmt.Sprintf("%v", r),
				})
				resCh <- callResult[T]{zero, fmt.Errorf("chat client %s panicked: %v", op, r)}
			}
		}()
		v, err := fn(callCtx)
		resCh <- callResult[T]{v, err}
	}

	select {
	case e.calls <- call:
	case <-e.closed:
		return zero, ErrExecutorClosed
	case <-callCtx.Done():
		return zero, e.contextErr(ctx, op)
	}

	select {
	case r := <-resCh:
		return r.value, r.err
	case <-callCtx.Done():
		return zero, e.contextErr(ctx, op)
	case <-e.closed:
		return zero, ErrExecutorClosed
	}
}

func (e *Executor) contextErr(parent context.Context, op string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s after %s", ErrCallTimeout, op, e.timeout)
}

func (e *Executor) ListChats(ctx context.Context) ([]string, error) {
	return submit(e, ctx, "list_chats", e.client.ListChats)
}

func (e *Executor) Attach(ctx context.Context, chat string) (bool, error) {
	return submit(e, ctx, "attach", func(ctx context.Context) (bool, error) {
		return e.client.Attach(ctx, chat)
	})
}

func (e *Executor) PollNewMessages(ctx context.Context) (map[string][]filter.RawMessage, error) {
	return submit(e, ctx, "poll", e.client.PollNewMessages)
}

func (e *Executor) SendText(ctx context.Context, chat, text string) (bool, error) {
	return submit(e, ctx, "send_text", func(ctx context.Context) (bool, error) {
		return e.client.SendText(ctx, chat, text)
	})
}

func (e *Executor) SendImage(ctx context.Context, chat string, image []byte) (bool, error) {
	return submit(e, ctx, "send_image", func(ctx context.Context) (bool, error) {
		return e.client.SendImage(ctx, chat, image)
	})
}

// Close stops accepting calls and closes the wrapped client once the call in
// flight, if any, returns or executorCloseWait elapses.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		select {
		case <-e.done:
		case <-time.After(executorCloseWait):
			logger.WarnC("chatclient", "Timeout waiting for in-flight chat client call before close")
		}
		e.closeErr = e.client.Close()
	})
	return e.closeErr
}

var _ ChatClient = (*Executor)(nil)
