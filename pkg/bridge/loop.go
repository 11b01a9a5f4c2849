package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"wepush/pkg/bus"
	"wepush/pkg/filter"
	"wepush/pkg/logger"
	"wepush/pkg/protocol"
	"wepush/pkg/reply"
)

func (b *Bridge) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *Bridge) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bridge", "Recovered panic in poll tick", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	batches, err := b.chat.PollNewMessages(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnCF("bridge", "Failed to fetch new messages", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
		return
	}

	chats := make([]string, 0, len(batches))
	for chat := range batches {
		chats = append(chats, chat)
	}
	sort.Strings(chats)

	// Sends already underway finish on their own retry schedule.
	sendCtx := context.WithoutCancel(ctx)
	for _, chat := range chats {
		for _, msg := range batches[chat] {
			if msg.ChatName == "" {
				msg.ChatName = chat
			}
			b.forward(sendCtx, chat, msg)
		}
	}
}

// forward runs one chat message through filter, dedup, envelope building and
// the backend send. Failures are logged and never abort the tick.
func (b *Bridge) forward(ctx context.Context, chat string, msg filter.RawMessage) {
	if !b.filter.ShouldForward(msg) {
		b.filtered.Add(1)
		logger.DebugCF("bridge", "Message filtered", map[string]interface{}{
			logger.FieldChat:    chat,
			logger.FieldSender:  msg.Sender,
			logger.FieldPreview: logger.Preview(msg.Content),
		})
		return
	}
	if msg.ID != "" && b.recent.Seen(chat+"\x00"+msg.ID) {
		logger.DebugCF("bridge", "Duplicate message skipped", map[string]interface{}{
			logger.FieldChat:      chat,
			logger.FieldMessageID: msg.ID,
		})
		return
	}

	env, err := b.builder.Build(chat, msg)
	if err != nil {
		b.dropped.Add(1)
		logger.WarnCF("bridge", "Malformed message dropped", map[string]interface{}{
			logger.FieldChat:    chat,
			logger.FieldPreview: logger.Preview(msg.Content),
			logger.FieldError:   err.Error(),
		})
		return
	}

	logger.InfoCF("bridge", "Forwarding message", map[string]interface{}{
		logger.FieldChat:    chat,
		logger.FieldSender:  msg.Sender,
		logger.FieldPreview: logger.Preview(msg.Content),
	})
	if err := b.sendWithRetry(ctx, env, chat, msg.Content); err != nil {
		b.dropped.Add(1)
		return
	}
	b.forwarded.Add(1)
}

// sendWithRetry sends env to the backend, retrying up to SendMaxAttempts with
// a fixed SendBackoff between attempts. It logs exactly one error when it
// gives up.
func (b *Bridge) sendWithRetry(ctx context.Context, env protocol.MessageBase, chat, content string) error {
	attempts := b.opts.SendMaxAttempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if !b.backend.Connected() {
			lastErr = errors.New("backend not connected")
			break
		}
		err := b.backend.Send(ctx, env)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logger.WarnCF("bridge", "Send to backend failed, retrying", map[string]interface{}{
			logger.FieldChat:      chat,
			logger.FieldMessageID: env.MessageInfo.MessageID,
			logger.FieldAttempt:   attempt,
			logger.FieldError:     err.Error(),
		})
		if !sleepWithContext(ctx, b.opts.SendBackoff) {
			break
		}
	}

	logger.ErrorCF("bridge", "Send to backend failed, message dropped", map[string]interface{}{
		logger.FieldChat:      chat,
		logger.FieldMessageID: env.MessageInfo.MessageID,
		logger.FieldPreview:   logger.Preview(content),
		logger.FieldError:     lastErr.Error(),
	})
	return fmt.Errorf("%w: %v", ErrSendFailure, lastErr)
}

// onFrame runs on the transport's read goroutine and only queues the frame.
func (b *Bridge) onFrame(raw []byte) {
	if !b.replies.Publish(bus.InboundFrame{Payload: raw, ReceivedAt: time.Now()}) {
		logger.WarnCF("bridge", "Reply frame not queued", map[string]interface{}{
			logger.FieldContentLength: len(raw),
		})
	}
}

func (b *Bridge) replyWorker(ctx context.Context) error {
	for {
		frame, ok := b.replies.Consume(ctx)
		if !ok {
			return nil
		}
		b.handleReply(ctx, frame)
	}
}

func (b *Bridge) handleReply(ctx context.Context, frame bus.InboundFrame) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bridge", "Recovered panic in reply handler", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	r, err := reply.Resolve(frame.Payload)
	if err != nil {
		b.dropped.Add(1)
		fields := map[string]interface{}{
			logger.FieldMessageID: r.MessageID,
			logger.FieldError:     err.Error(),
		}
		if r.Target != "" {
			fields[logger.FieldTarget] = r.Target
		}
		logger.WarnCF("bridge", "Reply dropped", fields)
		return
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			b.dropped.Add(1)
			logger.WarnCF("bridge", "Reply dropped during shutdown", map[string]interface{}{
				logger.FieldTarget: r.Target,
			})
			return
		}
	}

	if b.state.CompareAndSwap(int32(StateListening), int32(StateSending)) {
		defer b.state.CompareAndSwap(int32(StateSending), int32(StateListening))
	}

	if err := b.deliver(context.WithoutCancel(ctx), r); err != nil {
		b.dropped.Add(1)
		return
	}
	b.replied.Add(1)
}

// deliver pushes a reply into the chat client. An image wins over text.
func (b *Bridge) deliver(ctx context.Context, r reply.Reply) error {
	kind, preview := "text", logger.Preview(r.Content.Text)
	send := func() (bool, error) { return b.chat.SendText(ctx, r.Target, r.Content.Text) }
	if r.Content.HasImage() {
		kind, preview = "image", fmt.Sprintf("[image %d bytes]", len(r.Content.Image))
		send = func() (bool, error) { return b.chat.SendImage(ctx, r.Target, r.Content.Image) }
	}

	attempts := b.opts.SendMaxAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := send()
		if err == nil && ok {
			logger.InfoCF("bridge", "Reply delivered", map[string]interface{}{
				logger.FieldTarget:  r.Target,
				"kind":              kind,
				logger.FieldPreview: preview,
			})
			return nil
		}
		if err == nil {
			err = errors.New("chat client reported failure")
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logger.WarnCF("bridge", "Reply delivery failed, retrying", map[string]interface{}{
			logger.FieldTarget:  r.Target,
			logger.FieldAttempt: attempt,
			logger.FieldError:   err.Error(),
		})
		if !sleepWithContext(ctx, b.opts.SendBackoff) {
			break
		}
	}

	logger.ErrorCF("bridge", "Reply delivery failed, reply dropped", map[string]interface{}{
		logger.FieldTarget:  r.Target,
		"kind":              kind,
		logger.FieldPreview: preview,
		logger.FieldError:   lastErr.Error(),
	})
	return fmt.Errorf("%w: %v", ErrSendFailure, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
