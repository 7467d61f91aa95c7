// Package config loads and resolves musicd's runtime configuration: a YAML
// file layered with POSIX-style CLI flag overrides (github.com/spf13/pflag),
// in the teacher's flag-then-resource-then-run bootstrap order (see
// main.go). Every flag, including -config itself, is registered on one
// FlagSet and parsed once; ApplyFileDefaults then layers the loaded file
// under any flag that wasn't explicitly set.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	Device             string  `yaml:"device"`
	DeviceOffset       float64 `yaml:"device_offset"`
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	BlockSize          int     `yaml:"blocksize"`
	LatencyMs          float64 `yaml:"latency"`
	DurationSeconds    float64 `yaml:"duration"`
	SilenceThreshold   float64 `yaml:"silence_threshold"`
	BufferLengthSecs   int     `yaml:"buffer_length_seconds"`
	TempSaveOffsetSecs float64 `yaml:"temp_save_offset"`
	LiveStatsFreqSecs  float64 `yaml:"live_stats_frequency"`
	BrokerDir          string  `yaml:"broker_dir"`
	AppDataDir         string  `yaml:"appdata_dir"`
	MusicLibraryDir    string  `yaml:"music_library_dir"`
}

// Default returns the configuration used when no file and no flags
// override a value. SampleRate and Channels default to 0 ("unspecified");
// capture.ResolveDefaults resolves them from the selected input device's
// reported defaults before anything sizes a buffer off them, falling back
// to 44100 Hz/2 channels only when the device itself doesn't report one.
func Default() Config {
	return Config{
		DeviceOffset:       0,
		SampleRate:         0,
		Channels:           0,
		BlockSize:          1024,
		LatencyMs:          100,
		DurationSeconds:    10,
		SilenceThreshold:   0.01,
		BufferLengthSecs:   60,
		TempSaveOffsetSecs: 3,
		LiveStatsFreqSecs:  5,
		BrokerDir:          "/tmp/musicd/ipc",
		AppDataDir:         "/var/lib/musicd",
		MusicLibraryDir:    "",
	}
}

// Load reads path (if it exists — a missing file is not an error, matching
// the teacher's lenient config-file handling) and merges its values over
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers a pflag.FlagSet whose values, once parsed, write
// directly into cfg's fields. Register every other flag (e.g. -config) on
// the same FlagSet and call fs.Parse(os.Args[1:]) exactly once — splitting
// flag parsing across two FlagSets means neither one recognizes the
// other's flags.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Device, "device", cfg.Device, "input device name (empty = system default)")
	fs.Float64Var(&cfg.DeviceOffset, "device-offset", cfg.DeviceOffset, "seconds added to each block's capture timestamp")
	fs.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "capture sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", cfg.Channels, "capture channel count")
	fs.IntVar(&cfg.BlockSize, "blocksize", cfg.BlockSize, "frames per capture callback")
	fs.Float64Var(&cfg.LatencyMs, "latency", cfg.LatencyMs, "requested stream latency in milliseconds")
	fs.Float64Var(&cfg.DurationSeconds, "duration", cfg.DurationSeconds, "seconds recorded per full scan")
	fs.Float64Var(&cfg.SilenceThreshold, "silence-threshold", cfg.SilenceThreshold, "RMS threshold below which the buffer is considered silent")
	fs.IntVar(&cfg.BufferLengthSecs, "buffer-length-seconds", cfg.BufferLengthSecs, "size of the rolling audio buffer in seconds")
	fs.Float64Var(&cfg.TempSaveOffsetSecs, "temp-save-offset", cfg.TempSaveOffsetSecs, "seconds of padding added on each side of a saved clip")
	fs.Float64Var(&cfg.LiveStatsFreqSecs, "live-stats-frequency", cfg.LiveStatsFreqSecs, "seconds between live RMS stat publishes")
	fs.StringVar(&cfg.BrokerDir, "broker-dir", cfg.BrokerDir, "directory containing the broker's Unix-domain sockets")
	fs.StringVar(&cfg.AppDataDir, "appdata-dir", cfg.AppDataDir, "directory for temp clips and dumps")
	fs.StringVar(&cfg.MusicLibraryDir, "music-library-dir", cfg.MusicLibraryDir, "directory holding the canonical music library (if any)")
}

// ApplyFileDefaults layers file over cfg for every field whose flag was not
// explicitly set on the command line, after fs has already been parsed.
// This lets -config/file values win over Default() while an explicit flag
// still wins over both, without a second FlagSet or a second Parse call.
func ApplyFileDefaults(fs *pflag.FlagSet, cfg *Config, file Config) {
	set := func(name string, apply func()) {
		if !fs.Changed(name) {
			apply()
		}
	}
	set("device", func() { cfg.Device = file.Device })
	set("device-offset", func() { cfg.DeviceOffset = file.DeviceOffset })
	set("sample-rate", func() { cfg.SampleRate = file.SampleRate })
	set("channels", func() { cfg.Channels = file.Channels })
	set("blocksize", func() { cfg.BlockSize = file.BlockSize })
	set("latency", func() { cfg.LatencyMs = file.LatencyMs })
	set("duration", func() { cfg.DurationSeconds = file.DurationSeconds })
	set("silence-threshold", func() { cfg.SilenceThreshold = file.SilenceThreshold })
	set("buffer-length-seconds", func() { cfg.BufferLengthSecs = file.BufferLengthSecs })
	set("temp-save-offset", func() { cfg.TempSaveOffsetSecs = file.TempSaveOffsetSecs })
	set("live-stats-frequency", func() { cfg.LiveStatsFreqSecs = file.LiveStatsFreqSecs })
	set("broker-dir", func() { cfg.BrokerDir = file.BrokerDir })
	set("appdata-dir", func() { cfg.AppDataDir = file.AppDataDir })
	set("music-library-dir", func() { cfg.MusicLibraryDir = file.MusicLibraryDir })
}
