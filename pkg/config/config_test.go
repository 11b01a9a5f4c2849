package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	content := `{
  "bridge": {
    "poll_interval": 1000000000,
    "unknown_field": 1
  }
}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(cfgPath)
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unknown field") {
		t.Fatalf("expected unknown field error, got: %v", err)
	}
}

func TestLoadConfigRejectsTrailingJSONContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	content := `{"backend":{"platform_id":"wx"}}{"extra":true}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(cfgPath)
	if err == nil {
		t.Fatalf("expected trailing json content error")
	}
	if !strings.Contains(err.Error(), "trailing JSON content") {
		t.Fatalf("expected trailing JSON content error, got: %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend.URL != "ws://127.0.0.1:8000/ws" || cfg.Backend.PlatformID != "wxauto" {
		t.Fatalf("unexpected backend defaults: %#v", cfg.Backend)
	}
	if cfg.WeChat.ListenAllIfEmpty || cfg.ListenAll() {
		t.Fatalf("listen-all must default to off, got %#v", cfg.WeChat)
	}
	if got := strings.Join(cfg.WeChat.ExcludedChats, ","); got != "文件传输助手,微信团队,微信支付" {
		t.Fatalf("excluded chats default mismatch: %q", got)
	}
	if cfg.Bridge.SendMaxAttempts != 2 || cfg.Bridge.SendBackoff != 2*time.Second {
		t.Fatalf("retry defaults mismatch: %#v", cfg.Bridge)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("default config should validate, got %v", errs)
	}
}

func TestLoadConfigEnvironmentOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	content := `{"backend":{"platform_id":"from-file","url":"ws://file:1/ws"}}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WX_TARGET_CHATS", "Friends, Family ,")
	t.Setenv("WX_LISTEN_ALL_IF_EMPTY", "false")
	t.Setenv("MAIBOT_WS_URL", "wss://bot.example.com/ws")
	t.Setenv("MAIBOT_TOKEN", "secret-token-value")
	t.Setenv("BRIDGE_SEND_BACKOFF", "500ms")
	t.Setenv("BRIDGE_CHAT_SEND_RATE", "0.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := strings.Join(cfg.WeChat.TargetChats, "|"); got != "Friends|Family" {
		t.Fatalf("target chats = %q", got)
	}
	if cfg.WeChat.ListenAllIfEmpty || cfg.ListenAll() {
		t.Fatalf("listen-all should be disabled")
	}
	if cfg.Backend.URL != "wss://bot.example.com/ws" {
		t.Fatalf("env should override file url, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.PlatformID != "from-file" {
		t.Fatalf("file value should survive when env is unset, got %q", cfg.Backend.PlatformID)
	}
	if cfg.Bridge.SendBackoff != 500*time.Millisecond || cfg.Bridge.ChatSendRate != 0.5 {
		t.Fatalf("bridge overlay mismatch: %#v", cfg.Bridge)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("log level should be normalized, got %q", cfg.Logging.Level)
	}
	if got := cfg.MaskedToken(); got != "secr**********alue" {
		t.Fatalf("masked token = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PLATFORM_ID=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("PLATFORM_ID", "")
	os.Unsetenv("PLATFORM_ID")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got := os.Getenv("PLATFORM_ID"); got != "from-dotenv" {
		t.Fatalf("PLATFORM_ID = %q", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}

func TestValidateFlagsBadValues(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Backend.URL = "http://not-a-websocket"
	cfg.Bridge.SendMaxAttempts = 0
	cfg.Bridge.RefreshSchedule = "every now and then"
	cfg.Chat.Driver = "carrier-pigeon"
	cfg.Logging.Level = "LOUD"

	errs := Validate(cfg)
	wants := []string{
		"backend.url",
		"bridge.send_max_attempts",
		"bridge.refresh_schedule",
		"chat.driver",
		"logging.level",
	}
	joined := make([]string, 0, len(errs))
	for _, err := range errs {
		joined = append(joined, err.Error())
	}
	all := strings.Join(joined, "\n")
	for _, want := range wants {
		if !strings.Contains(all, want) {
			t.Fatalf("expected error mentioning %q, got:\n%s", want, all)
		}
	}
}

func TestValidateTelegramNeedsToken(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Chat.Driver = DriverTelegram
	errs := Validate(cfg)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "chat.telegram.token") {
		t.Fatalf("expected a single telegram token error, got %v", errs)
	}
}

func TestLoadConfigAcceptsLenientBooleans(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"YES", true},
		{"y", true},
		{"t", true},
		{"1", true},
		{" Yes ", true},
		{"false", false},
		{"no", false},
		{"0", false},
		{"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Setenv("WX_LISTEN_ALL_IF_EMPTY", tt.in)
			t.Setenv("LOG_FILE_ENABLED", tt.in)

			cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
			if err != nil {
				t.Fatalf("load config with %q: %v", tt.in, err)
			}
			if cfg.WeChat.ListenAllIfEmpty != tt.want || cfg.Logging.File != tt.want {
				t.Fatalf("%q parsed as listen_all=%v file=%v, want %v",
					tt.in, cfg.WeChat.ListenAllIfEmpty, cfg.Logging.File, tt.want)
			}
		})
	}
}

func TestZeroChatConfigIsValidWithWarning(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WeChat.TargetChats = nil
	cfg.WeChat.ListenAllIfEmpty = false

	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("listening to zero chats is allowed, got %v", errs)
	}
	warns := Warnings(cfg)
	if len(warns) != 1 || !strings.Contains(warns[0], "no chats") {
		t.Fatalf("expected a single zero-chat warning, got %v", warns)
	}

	cfg.WeChat.TargetChats = []string{"Friends"}
	if warns := Warnings(cfg); len(warns) != 0 {
		t.Fatalf("targets configured, expected no warnings, got %v", warns)
	}
}
