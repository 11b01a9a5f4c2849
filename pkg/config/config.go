package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	WeChat  WeChatConfig  `json:"wechat"`
	Backend BackendConfig `json:"backend"`
	Bridge  BridgeConfig  `json:"bridge"`
	Chat    ChatConfig    `json:"chat"`
	Logging LoggingConfig `json:"logging"`
}

type WeChatConfig struct {
	TargetChats      []string `json:"target_chats" env:"WX_TARGET_CHATS"`
	ListenAllIfEmpty bool     `json:"listen_all_if_empty" env:"WX_LISTEN_ALL_IF_EMPTY"`
	ExcludedChats    []string `json:"excluded_chats" env:"WX_EXCLUDED_CHATS"`
}

type BackendConfig struct {
	URL        string `json:"url" env:"MAIBOT_WS_URL"`
	Token      string `json:"token" env:"MAIBOT_TOKEN"`
	PlatformID string `json:"platform_id" env:"PLATFORM_ID"`
}

type BridgeConfig struct {
	PollInterval    time.Duration `json:"poll_interval" env:"BRIDGE_POLL_INTERVAL"`
	SendMaxAttempts int           `json:"send_max_attempts" env:"BRIDGE_SEND_MAX_ATTEMPTS"`
	SendBackoff     time.Duration `json:"send_backoff" env:"BRIDGE_SEND_BACKOFF"`
	ChatCallTimeout time.Duration `json:"chat_call_timeout" env:"BRIDGE_CHAT_CALL_TIMEOUT"`
	// ChatSendRate is sends per second into the chat client; 0 disables pacing.
	ChatSendRate    float64  `json:"chat_send_rate" env:"BRIDGE_CHAT_SEND_RATE"`
	RefreshSchedule string   `json:"refresh_schedule" env:"BRIDGE_REFRESH_SCHEDULE"`
	NoiseMarkers    []string `json:"noise_markers" env:"BRIDGE_NOISE_MARKERS"`
	HealthAddr      string   `json:"health_addr" env:"BRIDGE_HEALTH_ADDR"`
}

type ChatConfig struct {
	Driver   string         `json:"driver" env:"CHAT_DRIVER"`
	Sidecar  SidecarConfig  `json:"sidecar"`
	Console  ConsoleConfig  `json:"console"`
	Telegram TelegramConfig `json:"telegram"`
}

type SidecarConfig struct {
	URL     string        `json:"url" env:"CHAT_SIDECAR_URL"`
	Token   string        `json:"token" env:"CHAT_SIDECAR_TOKEN"`
	Timeout time.Duration `json:"timeout" env:"CHAT_SIDECAR_TIMEOUT"`
}

type ConsoleConfig struct {
	Prompt      string `json:"prompt" env:"CHAT_CONSOLE_PROMPT"`
	DefaultChat string `json:"default_chat" env:"CHAT_CONSOLE_DEFAULT_CHAT"`
}

type TelegramConfig struct {
	Token     string   `json:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"TELEGRAM_ALLOW_FROM"`
}

type LoggingConfig struct {
	Level         string `json:"level" env:"LOG_LEVEL"`
	File          bool   `json:"file" env:"LOG_FILE_ENABLED"`
	Dir           string `json:"dir" env:"LOG_DIR"`
	Filename      string `json:"filename" env:"LOG_FILENAME"`
	MaxSizeMB     int    `json:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	RetentionDays int    `json:"retention_days" env:"LOG_RETENTION_DAYS"`
}

const (
	DriverSidecar  = "sidecar"
	DriverConsole  = "console"
	DriverTelegram = "telegram"
)

var (
	isDebug bool
	muDebug sync.RWMutex
)

func SetDebugMode(debug bool) {
	muDebug.Lock()
	defer muDebug.Unlock()
	isDebug = debug
}

func IsDebugMode() bool {
	muDebug.RLock()
	defer muDebug.RUnlock()
	return isDebug
}

func GetConfigDir() string {
	if IsDebugMode() {
		return ".wepush"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wepush")
}

func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

func DefaultConfig() *Config {
	configDir := GetConfigDir()
	return &Config{
		WeChat: WeChatConfig{
			TargetChats:      []string{},
			ListenAllIfEmpty: false,
			ExcludedChats:    []string{"文件传输助手", "微信团队", "微信支付"},
		},
		Backend: BackendConfig{
			URL:        "ws://127.0.0.1:8000/ws",
			Token:      "",
			PlatformID: "wxauto",
		},
		Bridge: BridgeConfig{
			PollInterval:    time.Second,
			SendMaxAttempts: 2,
			SendBackoff:     2 * time.Second,
			ChatCallTimeout: 0,
			ChatSendRate:    1,
			RefreshSchedule: "@every 5m",
			NoiseMarkers:    []string{"以下为新消息", "新消息"},
			HealthAddr:      "",
		},
		Chat: ChatConfig{
			Driver: DriverSidecar,
			Sidecar: SidecarConfig{
				URL:     "http://127.0.0.1:5700",
				Timeout: 30 * time.Second,
			},
			Console: ConsoleConfig{
				Prompt:      "> ",
				DefaultChat: "console",
			},
			Telegram: TelegramConfig{
				AllowFrom: []string{},
			},
		},
		Logging: LoggingConfig{
			Level:         "INFO",
			File:          false,
			Dir:           filepath.Join(configDir, "logs"),
			Filename:      "wepush.log",
			MaxSizeMB:     20,
			RetentionDays: 3,
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig resolves the configuration from defaults, the optional JSON file
// at path and finally the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshalConfigStrict(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{FuncMap: envParsers}); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

var envParsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(false): func(v string) (interface{}, error) {
		return ParseBool(v), nil
	},
}

// ParseBool reads the boolean spellings the adapter's .env files use:
// true, yes, 1, t and y (any case) are true, everything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "t", "y":
		return true
	default:
		return false
	}
}

func unmarshalConfigStrict(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing JSON content")
		}
		return err
	}
	return nil
}

func (c *Config) normalize() {
	c.WeChat.TargetChats = trimList(c.WeChat.TargetChats)
	c.WeChat.ExcludedChats = trimList(c.WeChat.ExcludedChats)
	c.Bridge.NoiseMarkers = trimList(c.Bridge.NoiseMarkers)
	c.Chat.Telegram.AllowFrom = trimList(c.Chat.Telegram.AllowFrom)
	c.Chat.Driver = strings.ToLower(strings.TrimSpace(c.Chat.Driver))
	c.Logging.Level = strings.ToUpper(strings.TrimSpace(c.Logging.Level))
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ListenAll reports whether the bridge should attach to every chat.
// With no targets and listen-all off the bridge runs with zero chats.
func (c *Config) ListenAll() bool {
	return len(c.WeChat.TargetChats) == 0 && c.WeChat.ListenAllIfEmpty
}

func (c *Config) LogFilePath() string {
	dir := expandHome(c.Logging.Dir)
	filename := c.Logging.Filename
	if filename == "" {
		filename = "wepush.log"
	}
	return filepath.Join(dir, filename)
}

// MaskedToken returns the backend token with all but its edges hidden.
func (c *Config) MaskedToken() string {
	return maskSecret(c.Backend.Token)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
