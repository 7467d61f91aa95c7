// Command musicd-capture is the child process spawned by the supervisor:
// it owns the portaudio input stream, the ring buffer, and the detection
// scheduler, and exposes the save/dump clip commands over the IPC broker.
// Grounded on main.go's bootstrap shape (parse flags, open resources,
// construct long-lived objects, run until signal).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"musicd/internal/capture"
	"musicd/internal/config"
	"musicd/internal/fingerprint"
	"musicd/internal/history"
	"musicd/internal/peer"
	"musicd/internal/ring"
	"musicd/internal/statepeer"
)

const identity = "recorder"

func main() {
	cfg := config.Default()

	fs := pflag.NewFlagSet("musicd-capture", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a musicd YAML config file (optional)")
	config.BindFlags(fs, &cfg)
	_ = fs.Parse(os.Args[1:])

	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[musicd-capture] config: %v", err)
		}
		config.ApplyFileDefaults(fs, &cfg, fileCfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[musicd-capture] shutting down...")
		cancel()
	}()

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("[musicd-capture] portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	resolved, err := capture.ResolveDefaults(cfg)
	if err != nil {
		log.Fatalf("[musicd-capture] resolve device defaults: %v", err)
	}
	cfg = resolved

	historyPath := filepath.Join(cfg.AppDataDir, "history.db")
	if err := os.MkdirAll(cfg.AppDataDir, 0o755); err != nil {
		log.Fatalf("[musicd-capture] appdata dir: %v", err)
	}
	historyStore, err := history.New(historyPath)
	if err != nil {
		log.Fatalf("[musicd-capture] history store: %v", err)
	}
	defer historyStore.Close()

	buffer := ring.New(cfg.SampleRate*cfg.BufferLengthSecs, cfg.Channels)

	p := peer.New(identity, cfg.BrokerDir)
	clipHandlers := capture.NewClipHandlers(cfg, buffer, historyStore)
	clipHandlers.Register(p)
	if err := p.Start(); err != nil {
		log.Fatalf("[musicd-capture] peer start: %v", err)
	}
	defer p.Stop()

	client := statepeer.NewClient(p)

	device := capture.NewDevice(cfg, buffer)
	if err := device.Start(); err != nil {
		log.Fatalf("[musicd-capture] device start: %v", err)
	}
	defer device.Stop()

	identifier := resolveIdentifier(cfg)
	sched := capture.NewScheduler(cfg, buffer, client, identifier, nil, historyStore)
	go sched.Run(ctx)

	go capture.RunLiveStats(ctx, buffer, cfg.SampleRate, cfg.LiveStatsFreqSecs, client)

	log.Println("[musicd-capture] running")
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
}

// resolveIdentifier returns the fingerprinting provider for the scheduler.
// It always returns the stub: real providers are external collaborators
// (spec.md Non-goals) and none can be selected by configuration; the stub
// keeps the pipeline exercisable end to end.
func resolveIdentifier(cfg config.Config) fingerprint.Identifier {
	return fingerprint.StubProvider{Threshold: cfg.SilenceThreshold}
}
