package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Warnings returns settings that are legal but probably not intended.
func Warnings(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	var warns []string
	if len(cfg.WeChat.TargetChats) == 0 && !cfg.WeChat.ListenAllIfEmpty {
		warns = append(warns, "wechat.target_chats is empty and wechat.listen_all_if_empty is false; the bridge will listen to no chats")
	}
	return warns
}

// Validate returns configuration problems found in cfg.
// It does not mutate cfg.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{fmt.Errorf("config is nil")}
	}

	var errs []error

	errs = append(errs, validateNonEmptyStringList("wechat.target_chats", cfg.WeChat.TargetChats)...)

	if err := validateURL("backend.url", cfg.Backend.URL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Backend.PlatformID) == "" {
		errs = append(errs, fmt.Errorf("backend.platform_id is required"))
	}

	b := cfg.Bridge
	if b.PollInterval < minPollInterval {
		errs = append(errs, fmt.Errorf("bridge.poll_interval must be >= %s", minPollInterval))
	}
	if b.SendMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("bridge.send_max_attempts must be >= 1"))
	}
	if b.SendBackoff < 0 {
		errs = append(errs, fmt.Errorf("bridge.send_backoff must be >= 0"))
	}
	if b.ChatCallTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.chat_call_timeout must be >= 0"))
	}
	if b.ChatSendRate < 0 {
		errs = append(errs, fmt.Errorf("bridge.chat_send_rate must be >= 0"))
	}
	if schedule := strings.TrimSpace(b.RefreshSchedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			errs = append(errs, fmt.Errorf("bridge.refresh_schedule is invalid: %w", err))
		}
	}
	if b.HealthAddr != "" {
		if _, _, err := net.SplitHostPort(b.HealthAddr); err != nil {
			errs = append(errs, fmt.Errorf("bridge.health_addr must be host:port: %w", err))
		}
	}

	switch cfg.Chat.Driver {
	case DriverSidecar:
		if err := validateURL("chat.sidecar.url", cfg.Chat.Sidecar.URL, "http", "https"); err != nil {
			errs = append(errs, err)
		}
		if cfg.Chat.Sidecar.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("chat.sidecar.timeout must be > 0"))
		}
	case DriverConsole:
		if strings.TrimSpace(cfg.Chat.Console.DefaultChat) == "" {
			errs = append(errs, fmt.Errorf("chat.console.default_chat is required"))
		}
	case DriverTelegram:
		if strings.TrimSpace(cfg.Chat.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("chat.telegram.token is required when chat.driver is telegram"))
		}
	default:
		errs = append(errs, fmt.Errorf("chat.driver must be one of: %s, %s, %s", DriverSidecar, DriverConsole, DriverTelegram))
	}

	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "CRITICAL":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of: DEBUG, INFO, WARNING, ERROR, CRITICAL"))
	}
	if cfg.Logging.File {
		if strings.TrimSpace(cfg.Logging.Dir) == "" {
			errs = append(errs, fmt.Errorf("logging.dir is required when logging.file is enabled"))
		}
		if cfg.Logging.MaxSizeMB <= 0 {
			errs = append(errs, fmt.Errorf("logging.max_size_mb must be > 0"))
		}
		if cfg.Logging.RetentionDays <= 0 {
			errs = append(errs, fmt.Errorf("logging.retention_days must be > 0"))
		}
	}

	return errs
}

const minPollInterval = 100 * time.Millisecond

func validateURL(path, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", path)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL with a host", path, strings.Join(schemes, "/"))
}

func validateNonEmptyStringList(path string, values []string) []error {
	var errs []error
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s[%d] must not be empty", path, i))
		}
	}
	return errs
}
