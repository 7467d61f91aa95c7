package capture

import (
	"context"
	"log"
	"strconv"
	"time"

	"musicd/internal/ring"
	"musicd/internal/statepeer"
)

// RunLiveStats periodically publishes the buffer's recent RMS to the state
// store so observers (e.g. a WebSocket pusher) can show a live level meter,
// grounded on metrics.go's RunMetrics ticker loop and
// original_source/server/background/sound.py's run_live_stats.
func RunLiveStats(ctx context.Context, buffer *ring.Buffer, sampleRate int, frequencySecs float64, client *statepeer.Client) {
	interval := time.Duration(frequencySecs * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ttl := time.Duration((frequencySecs + 1) * float64(time.Second))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames := int(frequencySecs * float64(sampleRate))
			samples := buffer.Read(&frames)
			value := rms(samples)

			s := strconv.FormatFloat(value, 'f', -1, 64)
			if err := client.Set(ctx, "rms", &s, ttl); err != nil {
				log.Printf("[capture] live stats publish: %v", err)
			}
		}
	}
}
