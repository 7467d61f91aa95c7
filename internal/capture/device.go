// Package capture runs the audio capture thread and the detection
// scheduler inside the musicd-capture child process: a portaudio input
// stream feeds a ring.Buffer, a state machine periodically clips and
// identifies windows of it, and a handful of IPC command handlers let the
// supervisor/operator extract clips on demand.
//
// Grounded on client/audio.go's AudioEngine: blocking portaudio stream
// reads driven by a dedicated goroutine, atomics for cross-goroutine
// flags, stopCh/sync.WaitGroup shutdown.
package capture

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"musicd/internal/config"
	"musicd/internal/ring"
)

// Device owns the portaudio input stream and feeds Buffer.
type Device struct {
	cfg    config.Config
	buffer *ring.Buffer

	stream  *portaudio.Stream
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDevice returns a Device that writes into buffer once Start is called.
func NewDevice(cfg config.Config, buffer *ring.Buffer) *Device {
	return &Device{cfg: cfg, buffer: buffer}
}

// Start opens the configured (or default) input device and begins the
// capture loop on its own goroutine. It must be called exactly once; the
// portaudio runtime itself must already be initialized by the caller
// (portaudio.Initialize/Terminate bracket the process lifetime, not a
// single Device).
func (d *Device) Start() error {
	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("capture: list devices: %w", err)
	}

	inputDev, err := resolveInputDevice(devices, d.cfg.Device)
	if err != nil {
		return fmt.Errorf("capture: resolve device: %w", err)
	}

	frames := d.cfg.BlockSize
	captureBuf := make([]float32, frames*d.cfg.Channels)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: d.cfg.Channels,
			Latency:  time.Duration(d.cfg.LatencyMs) * time.Millisecond,
		},
		SampleRate:      float64(d.cfg.SampleRate),
		FramesPerBuffer: frames,
	}

	stream, err := portaudio.OpenStream(params, captureBuf)
	if err != nil {
		return fmt.Errorf("capture: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("capture: start stream: %w", err)
	}

	d.stream = stream
	d.stopCh = make(chan struct{})
	d.running.Store(true)

	d.wg.Add(1)
	go d.captureLoop(captureBuf)

	log.Printf("[capture] started device=%q rate=%d channels=%d blocksize=%d",
		inputDev.Name, d.cfg.SampleRate, d.cfg.Channels, frames)
	return nil
}

// Stop halts the capture loop and closes the stream.
func (d *Device) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
	if d.stream != nil {
		d.stream.Stop()
		d.stream.Close()
	}
}

// captureLoop must not allocate: captureBuf is reused across iterations.
func (d *Device) captureLoop(captureBuf []float32) {
	defer d.wg.Done()

	for d.running.Load() {
		if err := d.stream.Read(); err != nil {
			if d.running.Load() {
				log.Printf("[capture] stream read: %v", err)
			}
			return
		}

		capturedAt := time.Now().Add(time.Duration(d.cfg.DeviceOffset * float64(time.Second)))
		d.buffer.Write(captureBuf, capturedAt)

		select {
		case <-d.stopCh:
			return
		default:
		}
	}
}

// ResolveDefaults fills in an unspecified (zero) SampleRate/Channels from
// the selected input device's own reported defaults, falling back to
// 44100 Hz/2 channels only when the device itself doesn't report one. It
// must run after portaudio.Initialize and before anything sizes buffers
// off cfg.SampleRate/cfg.Channels.
func ResolveDefaults(cfg config.Config) (config.Config, error) {
	if cfg.SampleRate > 0 && cfg.Channels > 0 {
		return cfg, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return cfg, fmt.Errorf("capture: list devices: %w", err)
	}
	dev, err := resolveInputDevice(devices, cfg.Device)
	if err != nil {
		return cfg, fmt.Errorf("capture: resolve device: %w", err)
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = int(dev.DefaultSampleRate)
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = 44100
		}
	}
	if cfg.Channels <= 0 {
		cfg.Channels = dev.MaxInputChannels
		if cfg.Channels <= 0 {
			cfg.Channels = 2
		}
	}
	return cfg, nil
}

func resolveInputDevice(devices []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		for _, dev := range devices {
			if dev.MaxInputChannels > 0 && hasPrefix(dev.Name, name) {
				return dev, nil
			}
		}
		log.Printf("[capture] device %q not found, falling back to default", name)
	}
	return portaudio.DefaultInputDevice()
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
