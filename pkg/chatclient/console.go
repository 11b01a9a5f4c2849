package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"wepush/pkg/config"
	"wepush/pkg/filter"
	"wepush/pkg/logger"
)

const consoleSender = "console"

// Console is a terminal stand-in for the desktop client. Each input line is a
// message: "chat|sender: text", "sender: text" (default chat) or bare text.
// Replies are printed back to the terminal.
//
// readline keeps the terminal in raw mode, so Ctrl+C and Ctrl+D arrive as
// input rather than as a signal. Either one closes Interrupted so the caller
// can shut the bridge down.
type Console struct {
	rl          *readline.Instance
	out         io.Writer
	defaultChat string
	now         func() time.Time

	interrupted chan struct{}
	interOnce   sync.Once

	mu       sync.Mutex
	known    []string
	attached map[string]bool
	pending  []filter.RawMessage
}

func NewConsole(cfg config.ConsoleConfig) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console: %w", err)
	}
	c := newConsole(rl.Stdout(), cfg.DefaultChat)
	c.rl = rl
	go c.readLoop()
	return c, nil
}

func newConsole(out io.Writer, defaultChat string) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:         out,
		defaultChat: defaultChat,
		now:         time.Now,
		known:       []string{defaultChat},
		attached:    make(map[string]bool),
		interrupted: make(chan struct{}),
	}
}

// Interrupted is closed once the user ends console input.
func (c *Console) Interrupted() <-chan struct{} {
	return c.interrupted
}

func (c *Console) readLoop() {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.push(line)
	}
}

// handleReadError ends console input. Interrupt and EOF are a shutdown request.
func (c *Console) handleReadError(err error) {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		logger.InfoC("chatclient", "Console input closed, requesting shutdown")
	} else {
		logger.WarnCF("chatclient", "Console read failed, requesting shutdown", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	c.interOnce.Do(func() { close(c.interrupted) })
}

func (c *Console) push(line string) {
	msg, ok := parseConsoleLine(line, c.defaultChat)
	if !ok {
		return
	}
	msg.ObservedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(msg.ChatName)
	c.pending = append(c.pending, msg)
}

func (c *Console) remember(chat string) {
	for _, k := range c.known {
		if k == chat {
			return
		}
	}
	c.known = append(c.known, chat)
}

func parseConsoleLine(line, defaultChat string) (filter.RawMessage, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return filter.RawMessage{}, false
	}

	msg := filter.RawMessage{ChatName: defaultChat, Sender: consoleSender, Kind: filter.KindText, Content: line}
	head, text, found := strings.Cut(line, ":")
	if !found || strings.TrimSpace(text) == "" {
		return msg, true
	}
	head = strings.TrimSpace(head)
	if chat, sender, ok := strings.Cut(head, "|"); ok {
		chat, sender = strings.TrimSpace(chat), strings.TrimSpace(sender)
		if chat == "" || sender == "" {
			return msg, true
		}
		msg.ChatName, msg.Sender = chat, sender
	} else {
		if head == "" || strings.ContainsAny(head, " \t") {
			return msg, true
		}
		msg.Sender = head
	}
	msg.Content = strings.TrimSpace(text)
	return msg, true
}

func (c *Console) ListChats(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.known...), nil
}

func (c *Console) Attach(ctx context.Context, chat string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(chat)
	c.attached[chat] = true
	return true, nil
}

func (c *Console) PollNewMessages(ctx context.Context) (map[string][]filter.RawMessage, error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	out := make(map[string][]filter.RawMessage)
	for _, msg := range pending {
		if !c.isAttached(msg.ChatName) {
			logger.DebugCF("chatclient", "Console message for unattached chat dropped", map[string]interface{}{
				logger.FieldChat: msg.ChatName,
			})
			continue
		}
		out[msg.ChatName] = append(out[msg.ChatName], msg)
	}
	return out, nil
}

func (c *Console) isAttached(chat string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached[chat]
}

func (c *Console) SendText(ctx context.Context, chat, text string) (bool, error) {
	if _, err := fmt.Fprintf(c.out, "[%s] <- %s\n", chat, text); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Console) SendImage(ctx context.Context, chat string, image []byte) (bool, error) {
	if _, err := fmt.Fprintf(c.out, "[%s] <- [image %d bytes]\n", chat, len(image)); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Console) Close() error {
	if c.rl == nil {
		return nil
	}
	return c.rl.Close()
}

var _ ChatClient = (*Console)(nil)
