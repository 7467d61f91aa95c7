package capture

import "musicd/internal/ring"

// rms is the silence-gating check shared by the detection loop and the
// live-stats thread: both need the RMS of a recent window, computed the
// same way as internal/ring.RMS (itself grounded on
// client/internal/vad.RMS).
func rms(samples []float32) float64 { return ring.RMS(samples) }
