package main

import (
	"fmt"
	"os"
	"strings"

	"wepush/pkg/config"
	"wepush/pkg/logger"
)

const envConfigPath = "WEPUSH_CONFIG"
const envDotEnvPath = "WEPUSH_DOTENV"

func normalizeCLIArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := []string{args[0]}
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "--debug" || arg == "-d" {
			continue
		}
		if arg == "--config" {
			if i+1 < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			continue
		}
		normalized = append(normalized, arg)
	}
	return normalized
}

func detectConfigPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			return strings.TrimSpace(args[i+1])
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimSpace(strings.TrimPrefix(arg, "--config="))
		}
	}
	return ""
}

func printHelp() {
	fmt.Printf("wepush - WeChat desktop to MaiBot bridge v%s\n\n", version)
	fmt.Println("Usage: wepush [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run         Run the bridge in the foreground (default)")
	fmt.Println("  config      Show, get or set configuration values")
	fmt.Println("  check       Validate the configuration")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Global options:")
	fmt.Println("  --config <path>         Use custom config file")
	fmt.Println("  --debug, -d             Enable debug logging")
	fmt.Println()
	fmt.Println("Environment variables (MAIBOT_WS_URL, WX_TARGET_CHATS, ...) override the")
	fmt.Println("config file. A .env file in the working directory is loaded first.")
}

func getConfigPath() string {
	if strings.TrimSpace(globalConfigPathOverride) != "" {
		return globalConfigPathOverride
	}
	if fromEnv := strings.TrimSpace(os.Getenv(envConfigPath)); fromEnv != "" {
		return fromEnv
	}
	return config.DefaultConfigPath()
}

func getDotEnvPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(envDotEnvPath)); fromEnv != "" {
		return fromEnv
	}
	return ".env"
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(getDotEnvPath()); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg *config.Config) {
	if !config.IsDebugMode() {
		logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}

	if !cfg.Logging.File {
		logger.DisableFileLogging()
		return
	}

	logFile := cfg.LogFilePath()
	if err := logger.EnableFileLoggingWithRotation(logFile, cfg.Logging.MaxSizeMB, cfg.Logging.RetentionDays); err != nil {
		fmt.Printf("Warning: failed to enable file logging: %v\n", err)
	}
}
