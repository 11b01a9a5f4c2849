// WePush - WeChat desktop to MaiBot bridge
// License: MIT
//
// Copyright (c) 2026 WePush contributors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"wepush/pkg/bus"
	"wepush/pkg/chatclient"
	"wepush/pkg/envelope"
	"wepush/pkg/filter"
	"wepush/pkg/lifecycle"
	"wepush/pkg/logger"
	"wepush/pkg/protocol"
)

var (
	ErrConnection     = errors.New("backend connection failed")
	ErrSendFailure    = errors.New("send failed")
	ErrAlreadyStarted = errors.New("bridge already started")

	ErrStoppedDuringStart = errors.New("bridge stopped during startup")
)

// Backend is the transport to the bot backend.
type Backend interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg protocol.MessageBase) error
	OnReceive(handler func(raw []byte))
	Disconnect() error
	Connected() bool
}

type Status struct {
	State         string    `json:"state"`
	Connected     bool      `json:"connected"`
	AttachedChats []string  `json:"attached_chats"`
	Forwarded     uint64    `json:"forwarded"`
	Filtered      uint64    `json:"filtered"`
	Replied       uint64    `json:"replied"`
	Dropped       uint64    `json:"dropped"`
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at,omitempty"`
}

// Bridge polls the chat client, forwards new messages to the backend and
// delivers backend replies back into the chat client.
type Bridge struct {
	opts    Options
	chat    *chatclient.Executor
	backend Backend
	filter  *filter.Filter
	builder *envelope.Builder
	replies *bus.ReplyBus
	limiter *rate.Limiter
	recent  *recentIDs
	runID   string

	state atomic.Int32

	// lifeMu serializes Start and Stop. It is never held by the loops.
	lifeMu    sync.Mutex
	runCancel lifecycle.CancelGuard
	poller    *lifecycle.LoopRunner
	workers   *errgroup.Group
	refresher *cron.Cron
	startedAt atomic.Int64

	attachedMu sync.RWMutex
	attached   map[string]bool

	forwarded atomic.Uint64
	filtered  atomic.Uint64
	replied   atomic.Uint64
	dropped   atomic.Uint64
}

func New(opts Options, chat chatclient.ChatClient, backend Backend) *Bridge {
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.ChatSendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ChatSendRate), 1)
	}

	return &Bridge{
		opts:     opts,
		chat:     chatclient.NewExecutor(chat, opts.ChatCallTimeout),
		backend:  backend,
		filter:   filter.New(opts.NoiseMarkers),
		builder:  envelope.NewBuilder(opts.PlatformID),
		replies:  bus.NewReplyBus(opts.QueueSize),
		limiter:  limiter,
		recent:   newRecentIDs(opts.DedupSize),
		runID:    uuid.NewString(),
		poller:   lifecycle.NewLoopRunner(),
		attached: make(map[string]bool),
	}
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		logger.DebugCF("bridge", "State changed", map[string]interface{}{
			"from":            prev.String(),
			logger.FieldState: s.String(),
		})
	}
}

// Start connects to the backend, attaches to the chats to watch and starts the
// poll loop and the reply worker. The loops run until Stop or until ctx ends.
// A backend that cannot be reached is fatal and leaves the bridge Stopped.
//
// lifeMu is released while connecting and attaching, so a Stop issued during
// a slow chat-client call cancels the startup instead of waiting behind it.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifeMu.Lock()
	if !b.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		b.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	logger.InfoCF("bridge", "Starting bridge", map[string]interface{}{
		"run_id":     b.runID,
		"platform":   b.opts.PlatformID,
		"listen_all": b.opts.ListenAll,
	})

	runCtx, cancel := context.WithCancel(ctx)
	b.runCancel.Set(cancel)
	b.startedAt.Store(time.Now().UnixNano())
	b.backend.OnReceive(b.onFrame)
	b.lifeMu.Unlock()

	connectErr := b.backend.Connect(runCtx)
	if connectErr == nil {
		b.attachChats(runCtx)
	}

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.State() != StateInitializing {
		// Stop ran while the lock was released. Its teardown may have raced a
		// successful Connect, so drop the connection again.
		_ = b.backend.Disconnect()
		if connectErr != nil {
			return fmt.Errorf("%w: %v", ErrConnection, connectErr)
		}
		return ErrStoppedDuringStart
	}
	if connectErr != nil {
		logger.ErrorCF("bridge", "Backend connection failed", map[string]interface{}{
			logger.FieldError: connectErr.Error(),
		})
		b.teardownLocked(context.Background())
		return fmt.Errorf("%w: %v", ErrConnection, connectErr)
	}
	if err := runCtx.Err(); err != nil {
		b.teardownLocked(context.Background())
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return b.replyWorker(groupCtx) })
	b.workers = group
	b.poller.Start(groupCtx, b.pollLoop)
	b.startRefresher(groupCtx)

	b.setState(StateListening)
	logger.InfoCF("bridge", "Bridge listening", map[string]interface{}{
		"chats": len(b.AttachedChats()),
	})
	return nil
}

// Stop halts polling, waits for in-flight work (bounded by ctx), disconnects
// the backend and releases the chat client. It is idempotent and safe to call
// from a signal handler goroutine, including while Start is still running.
func (b *Bridge) Stop(ctx context.Context) error {
	b.runCancel.CancelAndClear()

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.State() == StateStopped {
		return nil
	}
	b.teardownLocked(ctx)
	return nil
}

func (b *Bridge) teardownLocked(ctx context.Context) {
	b.setState(StateStopping)
	b.runCancel.CancelAndClear()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.poller.Stop()
		if b.refresher != nil {
			<-b.refresher.Stop().Done()
		}
		if b.workers != nil {
			_ = b.workers.Wait()
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.WarnC("bridge", "Timeout waiting for bridge loops to stop")
	}

	b.replies.Close()
	if err := b.backend.Disconnect(); err != nil {
		logger.WarnCF("bridge", "Error closing backend connection", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	if err := b.chat.Close(); err != nil {
		logger.WarnCF("bridge", "Error closing chat client", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}

	b.setState(StateStopped)
	logger.InfoCF("bridge", "Bridge stopped", map[string]interface{}{
		"forwarded": b.forwarded.Load(),
		"replied":   b.replied.Load(),
		"dropped":   b.dropped.Load(),
	})
}

func (b *Bridge) Status() Status {
	var started time.Time
	if ns := b.startedAt.Load(); ns != 0 {
		started = time.Unix(0, ns)
	}
	return Status{
		State:         b.State().String(),
		Connected:     b.backend.Connected(),
		AttachedChats: b.AttachedChats(),
		Forwarded:     b.forwarded.Load(),
		Filtered:      b.filtered.Load(),
		Replied:       b.replied.Load(),
		Dropped:       b.dropped.Load() + b.replies.Dropped(),
		RunID:         b.runID,
		StartedAt:     started,
	}
}

func (b *Bridge) AttachedChats() []string {
	b.attachedMu.RLock()
	defer b.attachedMu.RUnlock()
	chats := make([]string, 0, len(b.attached))
	for chat := range b.attached {
		chats = append(chats, chat)
	}
	sort.Strings(chats)
	return chats
}

func (b *Bridge) isAttached(chat string) bool {
	b.attachedMu.RLock()
	defer b.attachedMu.RUnlock()
	return b.attached[chat]
}

func (b *Bridge) markAttached(chat string) {
	b.attachedMu.Lock()
	b.attached[chat] = true
	b.attachedMu.Unlock()
}

func (b *Bridge) attachChats(ctx context.Context) {
	targets := b.opts.TargetChats
	if len(targets) == 0 {
		if !b.opts.ListenAll {
			logger.WarnC("bridge", "No target chats configured and listen-all disabled")
			return
		}
		chats, err := b.chat.ListChats(ctx)
		if err != nil {
			logger.ErrorCF("bridge", "Failed to list chats", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
			return
		}
		targets = b.withoutExcluded(chats)
	}

	for _, chat := range targets {
		if ctx.Err() != nil {
			return
		}
		b.attach(ctx, chat)
	}
}

func (b *Bridge) attach(ctx context.Context, chat string) {
	ok, err := b.chat.Attach(ctx, chat)
	if err != nil || !ok {
		fields := map[string]interface{}{logger.FieldChat: chat}
		if err != nil {
			fields[logger.FieldError] = err.Error()
		}
		logger.WarnCF("bridge", "Failed to attach chat, skipping", fields)
		return
	}
	b.markAttached(chat)
	logger.InfoCF("bridge", "Listening to chat", map[string]interface{}{
		logger.FieldChat: chat,
	})
}

func (b *Bridge) withoutExcluded(chats []string) []string {
	excluded := make(map[string]bool, len(b.opts.ExcludedChats))
	for _, chat := range b.opts.ExcludedChats {
		excluded[chat] = true
	}
	out := make([]string, 0, len(chats))
	for _, chat := range chats {
		if chat = strings.TrimSpace(chat); chat != "" && !excluded[chat] {
			out = append(out, chat)
		}
	}
	return out
}

// startRefresher periodically attaches chats that appeared since startup.
// Only meaningful when listening to all chats.
func (b *Bridge) startRefresher(ctx context.Context) {
	if !b.opts.ListenAll || len(b.opts.TargetChats) > 0 || strings.TrimSpace(b.opts.RefreshSchedule) == "" {
		return
	}
	c := cron.New()
	if _, err := c.AddFunc(b.opts.RefreshSchedule, func() { b.refreshChats(ctx) }); err != nil {
		logger.WarnCF("bridge", "Invalid chat refresh schedule, rediscovery disabled", map[string]interface{}{
			"schedule":        b.opts.RefreshSchedule,
			logger.FieldError: err.Error(),
		})
		return
	}
	c.Start()
	b.refresher = c
}

func (b *Bridge) refreshChats(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	chats, err := b.chat.ListChats(ctx)
	if err != nil {
		logger.WarnCF("bridge", "Chat rediscovery failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return
	}
	for _, chat := range b.withoutExcluded(chats) {
		if ctx.Err() != nil {
			return
		}
		if !b.isAttached(chat) {
			b.attach(ctx, chat)
		}
	}
}
