package capture

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFLACProducesNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.flac")

	pcm := make([]float32, 2*4410) // 0.1 second of constant-level stereo
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 0.25
		} else {
			pcm[i] = -0.25
		}
	}

	if err := writeFLAC(path, pcm, 44100, 2); err != nil {
		t.Fatalf("writeFLAC: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty flac file")
	}
}

func TestFloatToPCM16Clamps(t *testing.T) {
	cases := map[float32]int32{
		0:    0,
		1:    32767,
		-1:   -32767,
		1.5:  32767,
		-2.0: -32767,
	}
	for in, want := range cases {
		if got := floatToPCM16(in); got != want {
			t.Fatalf("floatToPCM16(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestFlacChannelLayout(t *testing.T) {
	if flacChannelLayout(1) == flacChannelLayout(2) {
		t.Fatalf("expected mono and stereo layouts to differ")
	}
}
