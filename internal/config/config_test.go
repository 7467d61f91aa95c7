package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "musicd.yaml")
	if err := os.WriteFile(path, []byte("sample_rate: 48000\nduration: 12\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SampleRate != 48000 {
		t.Fatalf("expected sample_rate 48000, got %d", cfg.SampleRate)
	}
	if cfg.DurationSeconds != 12 {
		t.Fatalf("expected duration 12, got %v", cfg.DurationSeconds)
	}
	if cfg.Channels != Default().Channels {
		t.Fatalf("expected untouched field to stay at default")
	}
}

func TestBindFlagsOverridesConfig(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	if err := fs.Parse([]string{"--sample-rate=22050", "--broker-dir=/tmp/custom"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SampleRate != 22050 {
		t.Fatalf("expected sample_rate 22050, got %d", cfg.SampleRate)
	}
	if cfg.BrokerDir != "/tmp/custom" {
		t.Fatalf("expected broker dir override, got %s", cfg.BrokerDir)
	}
}

func TestApplyFileDefaultsYieldsToExplicitFlags(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	if err := fs.Parse([]string{"--sample-rate=22050"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	file := Default()
	file.SampleRate = 96000
	file.Channels = 4
	file.BrokerDir = "/from/file"

	ApplyFileDefaults(fs, &cfg, file)

	if cfg.SampleRate != 22050 {
		t.Fatalf("expected explicit flag to win, got sample_rate %d", cfg.SampleRate)
	}
	if cfg.Channels != 4 {
		t.Fatalf("expected file value for unset flag, got channels %d", cfg.Channels)
	}
	if cfg.BrokerDir != "/from/file" {
		t.Fatalf("expected file value for unset flag, got broker dir %s", cfg.BrokerDir)
	}
}
