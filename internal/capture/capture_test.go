package capture_test

import (
	"context"
	"testing"
	"time"

	"musicd/internal/broker"
	"musicd/internal/capture"
	"musicd/internal/config"
	"musicd/internal/fingerprint"
	"musicd/internal/history"
	"musicd/internal/peer"
	"musicd/internal/ring"
	"musicd/internal/statepeer"
	"musicd/internal/statestore"
)

func TestSchedulerDetectsAndPublishesState(t *testing.T) {
	dir := t.TempDir()
	b := broker.New(dir)
	if err := b.Start(); err != nil {
		t.Fatalf("broker start: %v", err)
	}
	defer b.Stop()

	store := statestore.New()
	sp := statepeer.New(dir, store)
	if err := sp.Start(); err != nil {
		t.Fatalf("state peer start: %v", err)
	}
	defer sp.Stop()

	caller := peer.New("detect-test", dir)
	if err := caller.Start(); err != nil {
		t.Fatalf("caller start: %v", err)
	}
	defer caller.Stop()

	time.Sleep(50 * time.Millisecond)

	cfg := config.Default()
	cfg.SampleRate = 1000
	cfg.Channels = 1
	cfg.BufferLengthSecs = 5
	cfg.DurationSeconds = 0.05
	cfg.SilenceThreshold = 0.01

	buf := ring.New(cfg.SampleRate*cfg.BufferLengthSecs, cfg.Channels)
	loud := make([]float32, cfg.SampleRate*cfg.BufferLengthSecs*cfg.Channels)
	for i := range loud {
		loud[i] = 1.0
	}
	buf.Write(loud, time.Now())

	historyStore, err := history.New(":memory:")
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	defer historyStore.Close()

	identifier := fingerprint.StubProvider{
		Threshold: cfg.SilenceThreshold,
		Track: fingerprint.Track{
			TrackID:         "t1",
			TrackName:       "Song",
			ArtistName:      "Artist",
			DurationSeconds: 180,
			Offset:          5,
		},
	}

	client := statepeer.NewClient(caller)
	sched := capture.NewScheduler(cfg, buf, client, identifier, nil, historyStore)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatalf("scheduler did not return after context expired")
	}

	got := store.Get("track_id")
	if got == nil || *got == "" {
		t.Fatalf("expected track_id to be published after detection")
	}
	nowPlaying := store.Get("now_playing")
	if nowPlaying == nil {
		t.Fatalf("expected now_playing to be published after detection")
	}
}
