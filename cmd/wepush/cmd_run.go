package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wepush/pkg/bridge"
	"wepush/pkg/chatclient"
	"wepush/pkg/config"
	"wepush/pkg/configops"
	"wepush/pkg/logger"
	"wepush/pkg/server"
	"wepush/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

func runCmd() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		fmt.Println("✗ Config validation failed:")
		for _, ve := range errs {
			fmt.Printf("  - %v\n", ve)
		}
		return 1
	}
	for _, w := range config.Warnings(cfg) {
		logger.WarnC("main", w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat, err := chatclient.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.ErrorCF("main", "Failed to create chat client", map[string]interface{}{
			"driver":          cfg.Chat.Driver,
			logger.FieldError: err.Error(),
		})
		return 1
	}

	backend := transport.New(transport.Options{
		URL:        cfg.Backend.URL,
		PlatformID: cfg.Backend.PlatformID,
		Token:      cfg.Backend.Token,
	})
	b := bridge.New(bridge.OptionsFromConfig(cfg), chat, backend)

	logger.InfoCF("main", "Starting wepush", map[string]interface{}{
		"version": version,
		"backend": cfg.Backend.URL,
		"driver":  cfg.Chat.Driver,
		"token":   cfg.MaskedToken(),
	})

	// Signals are routed to Stop from here on, including while Start is still
	// attaching chats.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	interrupted := consoleInterrupt(chat)

	startErr := make(chan error, 1)
	go func() { startErr <- b.Start(ctx) }()
	for starting := true; starting; {
		select {
		case err := <-startErr:
			if err != nil {
				logger.ErrorCF("main", "Bridge failed to start", map[string]interface{}{
					logger.FieldError: err.Error(),
				})
				return 1
			}
			starting = false
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadLogging()
				continue
			}
			abortStart(cancel, b, startErr)
			return 1
		case <-interrupted:
			abortStart(cancel, b, startErr)
			return 1
		}
	}

	var health *server.Server
	if addr := cfg.Bridge.HealthAddr; addr != "" {
		health = server.NewServer(addr, b)
		if err := health.Start(); err != nil {
			logger.WarnCF("main", "Health server disabled", map[string]interface{}{
				"addr":            addr,
				logger.FieldError: err.Error(),
			})
			health = nil
		}
	}

	configPath := getConfigPath()
	if err := configops.WritePIDFile(configPath); err != nil {
		logger.WarnCF("main", "Failed to write pid file", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	defer configops.RemovePIDFile(configPath)

	fmt.Println("✓ Bridge running. Press Ctrl+C to stop")

	for running := true; running; {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadLogging()
				continue
			}
			running = false
		case <-interrupted:
			running = false
		}
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if health != nil {
		if err := health.Stop(shutdownCtx); err != nil {
			logger.WarnCF("main", "Health server shutdown error", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}
	if err := b.Stop(shutdownCtx); err != nil {
		logger.ErrorCF("main", "Bridge shutdown error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return 1
	}
	fmt.Println("✓ Bridge stopped")
	return 0
}

// consoleInterrupt returns the driver's shutdown request channel. Drivers that
// do not own the terminal get a nil channel, which never fires.
func consoleInterrupt(chat chatclient.ChatClient) <-chan struct{} {
	if in, ok := chat.(chatclient.Interrupter); ok {
		return in.Interrupted()
	}
	return nil
}

// abortStart stops a bridge whose Start is still running and waits for Start
// to give up.
func abortStart(cancel context.CancelFunc, b *bridge.Bridge, startErr <-chan error) {
	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := b.Stop(shutdownCtx); err != nil {
		logger.ErrorCF("main", "Bridge shutdown error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	select {
	case <-startErr:
	case <-shutdownCtx.Done():
		logger.WarnC("main", "Timeout waiting for bridge startup to abort")
	}
}

// reloadLogging re-reads the config on SIGHUP. Only logging settings are
// applied at runtime; everything else needs a restart.
func reloadLogging() {
	fmt.Println("\n↻ Reloading logging config...")
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("✗ Reload failed (load config): %v\n", err)
		return
	}
	logger.InfoCF("main", "Logging config reloaded", map[string]interface{}{
		"level": logger.GetLevel().String(),
		"file":  cfg.Logging.File,
	})
}
