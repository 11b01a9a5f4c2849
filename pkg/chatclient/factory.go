package chatclient

import (
	"context"
	"fmt"

	"wepush/pkg/config"
)

// NewFromConfig builds the driver named by cfg.Chat.Driver. Drivers with a
// background receiver are started with ctx.
func NewFromConfig(ctx context.Context, cfg *config.Config) (ChatClient, error) {
	switch cfg.Chat.Driver {
	case config.DriverSidecar, "":
		return NewSidecar(cfg.Chat.Sidecar), nil
	case config.DriverConsole:
		return NewConsole(cfg.Chat.Console)
	case config.DriverTelegram:
		tg, err := NewTelegram(cfg.Chat.Telegram)
		if err != nil {
			return nil, err
		}
		if err := tg.Start(ctx); err != nil {
			return nil, err
		}
		return tg, nil
	default:
		return nil, fmt.Errorf("unknown chat driver %q", cfg.Chat.Driver)
	}
}
