package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"wepush/pkg/config"
	"wepush/pkg/configops"
)

var errBridgeNotRunning = errors.New("bridge not running")

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	keyStyle     = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func configCmd() {
	if len(os.Args) < 3 {
		configShowCmd()
		return
	}

	switch os.Args[2] {
	case "show":
		configShowCmd()
	case "get":
		configGetCmd()
	case "set":
		configSetCmd()
	default:
		fmt.Printf("Unknown config command: %s\n", os.Args[2])
		configHelp()
	}
}

func configHelp() {
	fmt.Println("\nConfig commands:")
	fmt.Println("  show                   Show the effective configuration (default)")
	fmt.Println("  get <path>             Get a value from the config file")
	fmt.Println("  set <path> <value>     Set a value and signal a running bridge")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  wepush config set backend.url ws://127.0.0.1:8000/ws")
	fmt.Println("  wepush config set wechat.target_chats '[\"Friends\"]'")
	fmt.Println("  wepush config set bridge.poll_interval 500ms")
	fmt.Println("  wepush config get backend.platform_id")
}

func configGetCmd() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: wepush config get <path>")
		return
	}

	cfgMap, err := configops.LoadConfigAsMap(getConfigPath())
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	path := configops.NormalizeConfigPath(os.Args[3])
	value, ok := configops.GetMapValueByPath(cfgMap, path)
	if !ok {
		fmt.Printf("Path not found: %s\n", path)
		return
	}
	if strings.HasSuffix(path, "token") {
		if s, isString := value.(string); isString {
			value = maskToken(s)
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		fmt.Printf("%v\n", value)
		return
	}
	fmt.Println(string(data))
}

func configSetCmd() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: wepush config set <path> <value>")
		return
	}

	configPath := getConfigPath()
	path := configops.NormalizeConfigPath(os.Args[3])
	value := configops.ParseConfigValue(strings.Join(os.Args[4:], " "))
	if err := configops.SetValue(configPath, path, value); err != nil {
		fmt.Println(failStyle.Render(fmt.Sprintf("✗ %v", err)))
		os.Exit(1)
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("✓ Updated %s", path)))

	running, err := configops.TriggerReload(configPath, errBridgeNotRunning)
	switch {
	case err == nil:
		fmt.Println("✓ Reload signal sent to running bridge")
	case running:
		fmt.Printf("Reload signal failed: %v\n", err)
	default:
		fmt.Println("Bridge not running, change applies on next start")
	}
}

func configShowCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, okStyle.Render("✓"))
	} else {
		fmt.Println("Config:", configPath, failStyle.Render("✗ (defaults + environment)"))
	}
	fmt.Print(renderConfig(cfg))
}

func checkCmd() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Println(failStyle.Render(fmt.Sprintf("✗ Config load failed: %v", err)))
		return 1
	}
	for _, w := range config.Warnings(cfg) {
		fmt.Println(warnStyle.Render("! " + w))
	}
	validationErrors := config.Validate(cfg)
	if len(validationErrors) == 0 {
		fmt.Println(okStyle.Render("✓ Config validation passed"))
		return 0
	}

	fmt.Println(failStyle.Render("✗ Config validation failed:"))
	for _, ve := range validationErrors {
		fmt.Printf("  - %v\n", ve)
	}
	return 1
}

// renderConfig prints the effective configuration with secrets masked.
func renderConfig(cfg *config.Config) string {
	var sb strings.Builder
	section := func(name string) {
		sb.WriteString("\n" + sectionStyle.Render(name) + "\n")
	}
	row := func(key string, value interface{}) {
		sb.WriteString("  " + keyStyle.Render(key) + fmt.Sprintf("%v", value) + "\n")
	}

	section("WeChat")
	row("target chats", listOrDash(cfg.WeChat.TargetChats))
	row("listen all", cfg.ListenAll())
	row("excluded chats", listOrDash(cfg.WeChat.ExcludedChats))

	section("Backend")
	row("url", cfg.Backend.URL)
	row("platform", cfg.Backend.PlatformID)
	row("token", orDash(cfg.MaskedToken()))

	section("Bridge")
	row("poll interval", cfg.Bridge.PollInterval)
	row("send attempts", cfg.Bridge.SendMaxAttempts)
	row("send backoff", cfg.Bridge.SendBackoff)
	row("chat call timeout", cfg.Bridge.ChatCallTimeout)
	row("chat send rate", cfg.Bridge.ChatSendRate)
	row("refresh schedule", orDash(cfg.Bridge.RefreshSchedule))
	row("health addr", orDash(cfg.Bridge.HealthAddr))

	section("Chat client")
	row("driver", cfg.Chat.Driver)
	switch cfg.Chat.Driver {
	case config.DriverSidecar:
		row("sidecar url", cfg.Chat.Sidecar.URL)
		row("sidecar timeout", cfg.Chat.Sidecar.Timeout)
	case config.DriverConsole:
		row("default chat", cfg.Chat.Console.DefaultChat)
	case config.DriverTelegram:
		row("bot token", orDash(maskToken(cfg.Chat.Telegram.Token)))
		row("allow from", listOrDash(cfg.Chat.Telegram.AllowFrom))
	}

	section("Logging")
	row("level", cfg.Logging.Level)
	row("file", cfg.Logging.File)
	if cfg.Logging.File {
		row("path", cfg.LogFilePath())
		row("max size", fmt.Sprintf("%d MB", cfg.Logging.MaxSizeMB))
		row("retention", fmt.Sprintf("%d days", cfg.Logging.RetentionDays))
	}
	return sb.String()
}

func maskToken(token string) string {
	masked := &config.Config{Backend: config.BackendConfig{Token: token}}
	return masked.MaskedToken()
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
