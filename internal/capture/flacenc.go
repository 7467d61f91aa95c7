package capture

import (
	"fmt"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const flacBitsPerSample = 16
const flacBlockSize = 4096

// writeFLAC encodes an interleaved float32 PCM clip (range [-1, 1]) to path
// as a FLAC file, grounded on the clip-extraction role recording.go's
// ChannelRecorder plays for the teacher's Opus recordings, adapted to the
// mewkiz/flac encoder for this appliance's save/dump commands.
func writeFLAC(path string, pcm []float32, sampleRate, channels int) error {
	if channels <= 0 {
		channels = 1
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("flac: create %s: %w", path, err)
	}
	defer f.Close()

	info := &meta.StreamInfo{
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: flacBitsPerSample,
	}

	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		return fmt.Errorf("flac: new encoder: %w", err)
	}
	defer enc.Close()

	frames := len(pcm) / channels
	chans := flacChannelLayout(channels)

	for start := 0; start < frames; start += flacBlockSize {
		end := start + flacBlockSize
		if end > frames {
			end = frames
		}
		blockFrames := end - start

		subframes := make([]*frame.Subframe, channels)
		for ch := 0; ch < channels; ch++ {
			samples := make([]int32, blockFrames)
			for i := 0; i < blockFrames; i++ {
				samples[i] = floatToPCM16(pcm[(start+i)*channels+ch])
			}
			subframes[ch] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
				NSamples:  blockFrames,
			}
		}

		hdr := frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(blockFrames),
			SampleRate:        uint32(sampleRate),
			Channels:          chans,
			BitsPerSample:     flacBitsPerSample,
		}

		if err := enc.WriteFrame(&frame.Frame{Header: hdr, Subframes: subframes}); err != nil {
			return fmt.Errorf("flac: write frame: %w", err)
		}
	}

	return nil
}

func flacChannelLayout(channels int) frame.Channels {
	switch channels {
	case 1:
		return frame.ChannelsMono
	case 2:
		return frame.ChannelsLR
	default:
		return frame.ChannelsLR
	}
}

func floatToPCM16(v float32) int32 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int32(v * 32767)
}
