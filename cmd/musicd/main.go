// Command musicd is the parent process: it hosts the IPC broker, the TTL
// state store, and the opmetrics HTTP endpoint, and supervises the
// musicd-capture child process. Grounded on main.go's bootstrap shape
// (parse flags → open resources → construct long-lived objects → run
// until signal → graceful shutdown with timeout).
package main

import (
	"context"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"musicd/internal/broker"
	"musicd/internal/config"
	"musicd/internal/opmetrics"
	"musicd/internal/statepeer"
	"musicd/internal/statestore"
	"musicd/internal/supervisor"
)

func main() {
	// Check for CLI subcommands before parsing the rest of the flags, using
	// the default config for their purposes (overridable via -config in
	// daemon mode), matching the teacher's cli.go pre-dispatch pattern.
	if len(os.Args) > 1 && runCLI(os.Args[1:], config.Default()) {
		return
	}

	cfg := config.Default()

	fs := pflag.NewFlagSet("musicd", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a musicd YAML config file (optional)")
	metricsAddr := fs.String("metrics-addr", ":9090", "opmetrics HTTP listen address (empty to disable)")
	capturePath := fs.String("capture-bin", "musicd-capture", "path to the musicd-capture binary")
	config.BindFlags(fs, &cfg)
	_ = fs.Parse(os.Args[1:])

	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[musicd] config: %v", err)
		}
		config.ApplyFileDefaults(fs, &cfg, fileCfg)
	}

	if err := os.MkdirAll(cfg.BrokerDir, 0o755); err != nil {
		log.Fatalf("[musicd] broker dir: %v", err)
	}
	if err := os.MkdirAll(cfg.AppDataDir, 0o755); err != nil {
		log.Fatalf("[musicd] appdata dir: %v", err)
	}

	b := broker.New(cfg.BrokerDir)
	if err := b.Start(); err != nil {
		log.Fatalf("[musicd] broker: %v", err)
	}
	defer b.Stop()

	store := statestore.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.Run(ctx)

	sp := statepeer.New(cfg.BrokerDir, store)
	if err := sp.Start(); err != nil {
		log.Fatalf("[musicd] state peer: %v", err)
	}
	defer sp.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[musicd] shutting down...")
		cancel()
	}()

	captureArgs := []string{"--broker-dir", cfg.BrokerDir, "--appdata-dir", cfg.AppDataDir}
	if *configPath != "" {
		captureArgs = append([]string{"--config", *configPath}, captureArgs...)
	}

	capturePathResolved := *capturePath
	if _, err := exec.LookPath(capturePathResolved); err != nil {
		if abs, err2 := filepath.Abs(capturePathResolved); err2 == nil {
			capturePathResolved = abs
		}
	}

	sv := supervisor.New(capturePathResolved, captureArgs, os.Environ())

	var metricsSrv *opmetrics.Server
	if *metricsAddr != "" {
		metricsSrv = opmetrics.New(sv, *metricsAddr)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				log.Printf("[musicd] opmetrics: %v", err)
			}
		}()
	}

	log.Println("[musicd] running")
	if err := sv.Run(ctx); err != nil {
		log.Fatalf("[musicd] supervisor: %v", err)
	}
	log.Println("[musicd] stopped")
}
