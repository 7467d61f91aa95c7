package capture

import (
	"context"
	"time"

	"musicd/internal/statepeer"
)

const sleepPollInterval = 200 * time.Millisecond

// interruptibleSleep blocks for seconds, but returns early if the
// "sleep.<name>" state-store key is deleted out from under it (e.g. an
// operator's scan-now command). It sets the key with a TTL equal to
// seconds, then polls every sleepPollInterval until the key is gone —
// either because it expired naturally or because something deleted it.
// Grounded on original_source/server/background/sound.py's ipc_sleep.
func interruptibleSleep(ctx context.Context, client *statepeer.Client, name string, seconds float64) {
	if seconds <= 0 {
		return
	}
	if seconds < sleepPollInterval.Seconds() {
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return
	}

	key := "sleep." + name
	ttl := time.Duration(seconds * float64(time.Second))
	_ = client.Set(ctx, key, strPtr(time.Now().Add(ttl).Format(time.RFC3339)), ttl)

	ticker := time.NewTicker(sleepPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := client.Exists(ctx, key)
			if err != nil || !ok {
				return
			}
		}
	}
}

func strPtr(s string) *string { return &s }
