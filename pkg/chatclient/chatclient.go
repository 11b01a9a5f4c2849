// Package chatclient defines the desktop chat client the bridge drives and the
// drivers that implement it.
package chatclient

import (
	"context"
	"errors"

	"wepush/pkg/filter"
)

var (
	ErrCallTimeout    = errors.New("chat client call timed out")
	ErrExecutorClosed = errors.New("chat client executor closed")
	ErrUnknownChat    = errors.New("unknown chat")
)

// ChatClient is the UI-automation surface of the desktop chat application.
// Implementations may block; the bridge wraps them in an Executor.
type ChatClient interface {
	// ListChats returns the names of the chats in the session list.
	ListChats(ctx context.Context) ([]string, error)
	// Attach starts watching chat for new messages.
	Attach(ctx context.Context, chat string) (bool, error)
	// PollNewMessages returns messages observed since the previous poll,
	// keyed by chat name.
	PollNewMessages(ctx context.Context) (map[string][]filter.RawMessage, error)
	SendText(ctx context.Context, chat, text string) (bool, error)
	SendImage(ctx context.Context, chat string, image []byte) (bool, error)
	Close() error
}

// Interrupter is implemented by drivers that own the terminal and can ask the
// process to shut down.
type Interrupter interface {
	Interrupted() <-chan struct{}
}
