// Package bus queues backend frames between the websocket read loop and the
// goroutine that delivers them to the chat client.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wepush/pkg/logger"
)

const (
	defaultQueueSize  = 100
	queueWriteTimeout = 2 * time.Second
)

// InboundFrame is one raw frame received from the backend.
type InboundFrame struct {
	Payload    []byte
	ReceivedAt time.Time
}

type ReplyBus struct {
	frames    chan InboundFrame
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewReplyBus(size int) *ReplyBus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &ReplyBus{frames: make(chan InboundFrame, size)}
}

// Publish enqueues a frame. When the queue stays full for queueWriteTimeout
// the frame is dropped so the caller never stalls indefinitely. It reports
// whether the frame was queued.
func (b *ReplyBus) Publish(frame InboundFrame) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = time.Now()
	}

	select {
	case b.frames <- frame:
		return true
	default:
	}

	timer := time.NewTimer(queueWriteTimeout)
	defer timer.Stop()
	select {
	case b.frames <- frame:
		return true
	case <-timer.C:
		b.dropped.Add(1)
		logger.ErrorCF("bus", "Publish timeout (queue full), frame dropped", map[string]interface{}{
			logger.FieldContentLength: len(frame.Payload),
		})
		return false
	}
}

// Consume blocks until a frame is available, ctx ends or the bus is closed and drained.
func (b *ReplyBus) Consume(ctx context.Context) (InboundFrame, bool) {
	select {
	case frame, ok := <-b.frames:
		return frame, ok
	case <-ctx.Done():
		return InboundFrame{}, false
	}
}

func (b *ReplyBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *ReplyBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.frames)
		b.mu.Unlock()
	})
}
