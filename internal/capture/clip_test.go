package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"musicd/internal/config"
	"musicd/internal/history"
	"musicd/internal/ring"
)

func newTestClipHandlers(t *testing.T) (*ClipHandlers, *history.Store, *ring.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.SampleRate = 1000
	cfg.Channels = 1
	cfg.BufferLengthSecs = 5
	cfg.AppDataDir = t.TempDir()

	buf := ring.New(cfg.SampleRate*cfg.BufferLengthSecs, cfg.Channels)
	loud := make([]float32, cfg.SampleRate*cfg.BufferLengthSecs)
	for i := range loud {
		loud[i] = 0.5
	}
	buf.Write(loud, time.Now())

	store, err := history.New(":memory:")
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewClipHandlers(cfg, buf, store), store, buf
}

func TestSaveFallsBackToBufferWindowWhenDurationUnknown(t *testing.T) {
	c, store, _ := newTestClipHandlers(t)

	guid, err := store.UpsertTrack(history.Track{Source: "stub", SourceTrackID: "t1", TrackName: "Song"})
	if err != nil {
		t.Fatalf("upsert track: %v", err)
	}
	now := time.Now()
	if err := store.AppendOrRefineHistory(guid, now, now); err != nil {
		t.Fatalf("append history: %v", err)
	}

	entryID := findEntryID(t, store, guid)

	resp := c.save(entryID)
	if !resp.Success {
		t.Fatalf("expected save to succeed, got %+v", resp)
	}
	if _, err := os.Stat(resp.Data); err != nil {
		t.Fatalf("expected flac file at %s: %v", resp.Data, err)
	}
}

func TestSaveUsesPaddedWindowWhenDurationKnown(t *testing.T) {
	c, store, _ := newTestClipHandlers(t)

	guid, err := store.UpsertTrack(history.Track{
		Source: "stub", SourceTrackID: "t1", TrackName: "Song", DurationSeconds: 2,
	})
	if err != nil {
		t.Fatalf("upsert track: %v", err)
	}
	now := time.Now()
	started := now.Add(-1 * time.Second)
	if err := store.AppendOrRefineHistory(guid, now, started); err != nil {
		t.Fatalf("append history: %v", err)
	}

	entryID := findEntryID(t, store, guid)

	resp := c.save(entryID)
	if !resp.Success {
		t.Fatalf("expected save to succeed, got %+v", resp)
	}
}

func TestSaveUnknownEntryReturnsNotFound(t *testing.T) {
	c, _, _ := newTestClipHandlers(t)
	resp := c.save("missing")
	if resp.Success {
		t.Fatalf("expected failure for unknown entry")
	}
	if resp.Status != "not_found" {
		t.Fatalf("expected not_found status, got %q", resp.Status)
	}
}

func TestDumpWritesWholeBufferByDefault(t *testing.T) {
	c, _, _ := newTestClipHandlers(t)
	resp := c.dump(nil)
	if !resp.Success {
		t.Fatalf("expected dump to succeed, got %+v", resp)
	}
	if _, err := os.Stat(resp.Data); err != nil {
		t.Fatalf("expected flac file at %s: %v", resp.Data, err)
	}
	if filepath.Base(resp.Data) != "dump.flac" {
		t.Fatalf("unexpected dump path: %s", resp.Data)
	}
}

func TestDumpWithSecondsLimitsWindow(t *testing.T) {
	c, _, _ := newTestClipHandlers(t)
	secs := 1.0
	resp := c.dump(&secs)
	if !resp.Success {
		t.Fatalf("expected dump to succeed, got %+v", resp)
	}
}

func findEntryID(t *testing.T, store *history.Store, guid string) string {
	t.Helper()
	entries, err := store.EntriesForTrack(guid)
	if err != nil {
		t.Fatalf("entries for track: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one history entry for track %s", guid)
	}
	return entries[0].EntryID
}
