package chatclient

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoutil"

	"wepush/pkg/config"
	"wepush/pkg/filter"
	"wepush/pkg/lifecycle"
	"wepush/pkg/logger"
)

const (
	telegramRestartDelay   = 5 * time.Second
	telegramAPICallTimeout = 15 * time.Second
	telegramMaxPending     = 1000
)

// Telegram stands a Telegram bot in for the desktop client. Chats are named by
// their title, or by the peer's display name for private chats, so a private
// chat name equals its sender name just like a one-to-one desktop chat.
type Telegram struct {
	bot       *telego.Bot
	allowFrom map[string]bool
	runCancel lifecycle.CancelGuard

	mu       sync.Mutex
	chatIDs  map[string]int64
	attached map[string]bool
	pending  []filter.RawMessage
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDefaultLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	allow := make(map[string]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allow[strings.TrimPrefix(id, "@")] = true
	}

	return &Telegram{
		bot:       bot,
		allowFrom: allow,
		chatIDs:   make(map[string]int64),
		attached:  make(map[string]bool),
	}, nil
}

// Start begins long polling. Updates are buffered until PollNewMessages drains them.
func (c *Telegram) Start(ctx context.Context) error {
	logger.InfoC("chatclient", "Starting Telegram bot (polling mode)")

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel.Set(cancel)

	updates, err := c.bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		c.runCancel.CancelAndClear()
		return fmt.Errorf("failed to start updates polling: %w", err)
	}

	apiCtx, cancelAPI := context.WithTimeout(runCtx, telegramAPICallTimeout)
	botInfo, err := c.bot.GetMe(apiCtx)
	cancelAPI()
	if err != nil {
		c.runCancel.CancelAndClear()
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	logger.InfoCF("chatclient", "Telegram bot connected", map[string]interface{}{
		"username": botInfo.Username,
	})

	go c.receiveLoop(runCtx, updates)
	return nil
}

func (c *Telegram) receiveLoop(runCtx context.Context, updates <-chan telego.Update) {
	for {
		select {
		case <-runCtx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				logger.WarnC("chatclient", "Telegram updates channel closed unexpectedly, restarting polling")
				select {
				case <-runCtx.Done():
					return
				case <-time.After(telegramRestartDelay):
				}
				newUpdates, err := c.bot.UpdatesViaLongPolling(runCtx, nil)
				if err != nil {
					logger.ErrorCF("chatclient", "Failed to restart updates polling", map[string]interface{}{
						logger.FieldError: err.Error(),
					})
					continue
				}
				updates = newUpdates
				logger.InfoC("chatclient", "Telegram updates polling restarted")
				continue
			}
			if update.Message != nil {
				c.handleMessage(update.Message)
			}
		}
	}
}

func (c *Telegram) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}
	if !c.isAllowed(user) {
		logger.WarnCF("chatclient", "Telegram message rejected by allowlist", map[string]interface{}{
			logger.FieldSender: displayName(user),
			"user_id":          user.ID,
		})
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}
	if content == "" {
		return
	}

	c.enqueue(chatName(message), message.Chat.ID, filter.RawMessage{
		ID:         strconv.Itoa(message.MessageID),
		Sender:     displayName(user),
		Kind:       filter.KindText,
		Content:    content,
		ObservedAt: time.Unix(message.Date, 0),
	})
}

func (c *Telegram) enqueue(chat string, chatID int64, msg filter.RawMessage) {
	msg.ChatName = chat

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatIDs[chat] = chatID
	if len(c.pending) >= telegramMaxPending {
		logger.WarnCF("chatclient", "Telegram pending buffer full, dropping oldest message", map[string]interface{}{
			logger.FieldChat: c.pending[0].ChatName,
		})
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, msg)
}

func (c *Telegram) isAllowed(user *telego.User) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[strconv.FormatInt(user.ID, 10)] || (user.Username != "" && c.allowFrom[user.Username])
}

func displayName(user *telego.User) string {
	if user.Username != "" {
		return user.Username
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return strconv.FormatInt(user.ID, 10)
	}
	return name
}

func chatName(message *telego.Message) string {
	if message.Chat.Type == telego.ChatTypePrivate && message.From != nil {
		return displayName(message.From)
	}
	if message.Chat.Title != "" {
		return message.Chat.Title
	}
	return strconv.FormatInt(message.Chat.ID, 10)
}

func (c *Telegram) ListChats(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chats := make([]string, 0, len(c.chatIDs))
	for name := range c.chatIDs {
		chats = append(chats, name)
	}
	return chats, nil
}

// Attach marks chat as watched. The bot only learns about chats from incoming
// updates, so attaching a chat it has never seen still succeeds.
func (c *Telegram) Attach(ctx context.Context, chat string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[chat] = true
	return true, nil
}

func (c *Telegram) PollNewMessages(ctx context.Context) (map[string][]filter.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]filter.RawMessage)
	kept := c.pending[:0]
	for _, msg := range c.pending {
		if c.attached[msg.ChatName] {
			out[msg.ChatName] = append(out[msg.ChatName], msg)
			continue
		}
		kept = append(kept, msg)
	}
	c.pending = kept
	return out, nil
}

func (c *Telegram) chatID(chat string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.chatIDs[chat]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownChat, chat)
	}
	return id, nil
}

func (c *Telegram) SendText(ctx context.Context, chat, text string) (bool, error) {
	id, err := c.chatID(chat)
	if err != nil {
		return false, err
	}
	if _, err := c.bot.SendMessage(ctx, telegoutil.Message(telegoutil.ID(id), text)); err != nil {
		return false, fmt.Errorf("telegram send message: %w", err)
	}
	return true, nil
}

func (c *Telegram) SendImage(ctx context.Context, chat string, image []byte) (bool, error) {
	id, err := c.chatID(chat)
	if err != nil {
		return false, err
	}
	photo := telegoutil.File(telegoutil.NameReader(bytes.NewReader(image), "image.png"))
	if _, err := c.bot.SendPhoto(ctx, telegoutil.Photo(telegoutil.ID(id), photo)); err != nil {
		return false, fmt.Errorf("telegram send photo: %w", err)
	}
	return true, nil
}

// Close stops long polling. In telego v1 that is done by canceling the
// context passed to UpdatesViaLongPolling.
func (c *Telegram) Close() error {
	c.runCancel.CancelAndClear()
	return nil
}

var _ ChatClient = (*Telegram)(nil)
