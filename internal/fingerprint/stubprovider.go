package fingerprint

import (
	"context"
	"math"
)

// StubProvider is a deterministic Identifier used by tests: it reports a
// match whenever the clip's RMS clears threshold, otherwise a no-match.
// It never performs network I/O and never touches a real fingerprint
// database.
type StubProvider struct {
	Threshold float64
	Track     Track
}

// Format implements Identifier.
func (s StubProvider) Format() string { return "stub" }

// Identify implements Identifier.
func (s StubProvider) Identify(_ context.Context, pcm []float32, _ int) (Result, error) {
	rms := rootMeanSquare(pcm)
	if rms < s.Threshold {
		return Result{Success: false, Message: "no match"}, nil
	}
	return Result{Success: true, Message: "matched", Track: s.Track}, nil
}

func rootMeanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, v := range samples {
		f := float64(v)
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
