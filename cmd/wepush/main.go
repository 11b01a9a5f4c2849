// WePush - WeChat desktop to MaiBot bridge
// License: MIT
//
// Copyright (c) 2026 WePush contributors

package main

import (
	"fmt"
	"os"

	"wepush/pkg/config"
	"wepush/pkg/logger"
)

const version = "0.1.0"

var globalConfigPathOverride string

func main() {
	globalConfigPathOverride = detectConfigPathFromArgs(os.Args)

	for _, arg := range os.Args {
		if arg == "--debug" || arg == "-d" {
			config.SetDebugMode(true)
			logger.SetLevel(logger.DEBUG)
			break
		}
	}

	os.Args = normalizeCLIArgs(os.Args)

	command := "run"
	if len(os.Args) >= 2 {
		command = os.Args[1]
	}

	switch command {
	case "run":
		os.Exit(runCmd())
	case "config":
		configCmd()
	case "check":
		os.Exit(checkCmd())
	case "version", "--version", "-v":
		fmt.Printf("wepush v%s\n", version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}
