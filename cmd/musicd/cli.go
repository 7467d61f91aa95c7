package main

import (
	"encoding/json"
	"fmt"
	"os"

	"musicd/internal/config"
)

// Version is the current musicd version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

// runCLI handles subcommand execution. Returns true if a subcommand was
// handled, grounded on the teacher's cli.go RunCLI dispatch.
func runCLI(args []string, cfg config.Config) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("musicd %s\n", Version)
		return true
	case "status":
		return cliStatus(cfg)
	case "config":
		return cliConfig(cfg)
	default:
		return false
	}
}

func cliStatus(cfg config.Config) bool {
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Broker dir: %s\n", cfg.BrokerDir)
	fmt.Printf("Appdata dir: %s\n", cfg.AppDataDir)
	sampleRate := "auto (device default)"
	if cfg.SampleRate > 0 {
		sampleRate = fmt.Sprintf("%d Hz", cfg.SampleRate)
	}
	channels := "auto (device default)"
	if cfg.Channels > 0 {
		channels = fmt.Sprintf("%d", cfg.Channels)
	}
	fmt.Printf("Sample rate: %s, channels: %s\n", sampleRate, channels)
	return true
}

func cliConfig(cfg config.Config) bool {
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	return true
}
