package capture

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"musicd/internal/config"
	"musicd/internal/fingerprint"
	"musicd/internal/history"
	"musicd/internal/ring"
	"musicd/internal/statepeer"
)

// identifyTimeout and metadataTimeout bound the per-scan fingerprint call
// and metadata fan-in respectively, so a slow/hanging provider can't stall
// the scan loop indefinitely.
const (
	identifyTimeout = 10 * time.Second
	metadataTimeout = 10 * time.Second
)

// NowPlaying is the JSON shape stored under the "now_playing" state key,
// read by observers (e.g. a WebSocket pusher) outside this process.
type NowPlaying struct {
	RecordedAt time.Time         `json:"recorded_at"`
	RMS        float64           `json:"rms"`
	Track      fingerprint.Track `json:"track"`
	Message    string            `json:"message"`
}

// Scheduler runs the WAITING/SCANNING detection state machine described in
// spec.md §4.D, grounded on
// original_source/server/background/sound.py's run_music_id_loop.
type Scheduler struct {
	cfg        config.Config
	buffer     *ring.Buffer
	client     *statepeer.Client
	identifier fingerprint.Identifier
	meta       fingerprint.Fetcher // optional; nil disables metadata fan-in
	store      *history.Store
}

// NewScheduler builds a Scheduler. meta may be nil.
func NewScheduler(cfg config.Config, buffer *ring.Buffer, client *statepeer.Client, identifier fingerprint.Identifier, meta fingerprint.Fetcher, store *history.Store) *Scheduler {
	return &Scheduler{cfg: cfg, buffer: buffer, client: client, identifier: identifier, meta: meta, store: store}
}

// Run blocks, driving the detection loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	backOff := 0.0
	duration := 0.7 * s.cfg.DurationSeconds
	subsequentDetects := 0
	isWaiting := true

	for {
		if ctx.Err() != nil {
			return
		}

		if isWaiting {
			_, _ = s.client.Delete(ctx, "now_scanning")
			waiting := "waiting"
			_ = s.client.Set(ctx, "status", &waiting, 2*time.Second)
			log.Printf("[detect] waiting for sound...")

			if !sleepCtx(ctx, time.Second) {
				return
			}

			checkFrames := int(1.0 * float64(s.cfg.SampleRate))
			audioData := s.buffer.Read(&checkFrames)
			level := rms(audioData)

			if level >= s.cfg.SilenceThreshold {
				log.Printf("[detect] sound detected (rms=%.4f), starting scan", level)
				isWaiting = false
				_, _ = s.client.Delete(ctx, "status")
			} else {
				continue
			}
		}

		scanEndsAt := time.Now().Add(time.Duration(duration * float64(time.Second))).Format(time.RFC3339)
		_ = s.client.Set(ctx, "now_scanning", &scanEndsAt, 0)
		log.Printf("[detect] scanning %.1fs...", duration)

		if !sleepCtx(ctx, time.Duration(duration*float64(time.Second))) {
			return
		}

		clipFrames := int(duration * float64(s.cfg.SampleRate))
		audioData := s.buffer.Read(&clipFrames)
		_, lastFrameTime := s.buffer.Snapshot()

		identifyCtx, identifyCancel := context.WithTimeout(ctx, identifyTimeout)
		result, err := s.identifier.Identify(identifyCtx, audioData, s.cfg.SampleRate)
		identifyCancel()
		if err != nil {
			_, _ = s.client.Delete(ctx, "now_scanning")
			log.Printf("[detect] identify error: %v", err)
			interruptibleSleep(ctx, s.client, "next_scan", backOff*s.cfg.DurationSeconds)
			backOff = minFloat(1.0, backOff+0.25)
			duration = s.cfg.DurationSeconds
			subsequentDetects = 0
			continue
		}

		recordedAt := time.Unix(0, int64((lastFrameTime-duration)*1e9)).UTC()
		level := rms(audioData)

		if result.Success {
			duration, backOff, subsequentDetects = s.handleMatch(ctx, result, recordedAt, level, backOff, &subsequentDetects)
		} else {
			log.Printf("[detect] %s", result.Message)
			if trackID, _ := s.client.Get(ctx, "track_id"); trackID != nil {
				backOff = 0
			}
			if level < s.cfg.SilenceThreshold {
				log.Printf("[detect] no sound detected (rms=%.4f), entering waiting mode", level)
				isWaiting = true
				subsequentDetects = 0
				backOff = 0
				continue
			}
			duration = s.cfg.DurationSeconds
			interruptibleSleep(ctx, s.client, "next_scan", backOff*s.cfg.DurationSeconds)
			backOff = minFloat(1.0, backOff+0.25)
			subsequentDetects = 0
		}

		_ = s.client.Set(ctx, "message", &result.Message, 0)
		recordedAtStr := recordedAt.Format(time.RFC3339)
		_ = s.client.Set(ctx, "recorded_at", &recordedAtStr, 0)
	}
}

// handleMatch implements the "Match" branch of spec.md §4.D's scanning
// table: metadata fan-in, history dedup, TTL'd state publish, and the
// adaptive duration/back-off schedule for the next scan.
func (s *Scheduler) handleMatch(ctx context.Context, result fingerprint.Result, recordedAt time.Time, level, backOff float64, subsequentDetects *int) (nextDuration, nextBackOff float64, detects int) {
	startedAt := recordedAt.Add(-time.Duration(result.Track.Offset * float64(time.Second))).Truncate(time.Second)

	durationSeconds := result.Track.DurationSeconds
	trackNo := result.Track.TrackNo
	if s.meta != nil {
		// sound.py looks up artist/album metadata under the first credited
		// artist on a collaboration ("A & B" -> "A").
		metaCtx, metaCancel := context.WithTimeout(ctx, metadataTimeout)
		trackMeta, _, _, err := fingerprint.FetchAll(metaCtx, s.meta, result.Track.TrackName, firstArtist(result.Track.ArtistName), result.Track.AlbumName)
		metaCancel()
		if err != nil {
			log.Printf("[detect] metadata fan-in: %v", err)
		} else if trackMeta != nil {
			if durationSeconds == 0 {
				durationSeconds = trackMeta.DurationSeconds
			}
			if trackNo == 0 {
				trackNo = trackMeta.TrackNo
			}
		}
	}

	guid, err := s.store.UpsertTrack(history.Track{
		Source:          s.identifier.Format(),
		SourceTrackID:   result.Track.TrackID,
		TrackName:       result.Track.TrackName,
		ArtistName:      result.Track.ArtistName,
		AlbumName:       result.Track.AlbumName,
		TrackNo:         trackNo,
		Label:           result.Track.Label,
		Released:        result.Track.Released,
		TrackImageURL:   result.Track.TrackImageURL,
		ArtistImageURL:  result.Track.ArtistImageURL,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		log.Printf("[detect] upsert track: %v", err)
		return s.cfg.DurationSeconds, backOff, 0
	}

	remainingSeconds := 0
	if durationSeconds > 0 {
		remainingSeconds = int(durationSeconds - time.Since(startedAt).Seconds())
	}

	existing, _ := s.client.Get(ctx, "track_id")
	detects = *subsequentDetects
	if existing != nil && *existing == guid {
		detects++
		if detects >= 1 {
			if err := s.store.AppendOrRefineHistory(guid, time.Now().UTC(), startedAt); err != nil {
				log.Printf("[detect] history append: %v", err)
			}
		}
	} else {
		detects = 0
		backOff = 0
	}

	expireAfter := time.Duration((float64(maxInt(0, remainingSeconds)) + (s.cfg.DurationSeconds+5)*3) * float64(time.Second))

	nowPlaying := NowPlaying{RecordedAt: recordedAt, RMS: level, Track: result.Track, Message: result.Message}
	nowPlayingJSON, _ := json.Marshal(nowPlaying)
	npStr := string(nowPlayingJSON)
	_ = s.client.Set(ctx, "now_playing", &npStr, expireAfter)
	_ = s.client.Set(ctx, "track_id", &guid, expireAfter)

	var offsetPtr *string
	if result.Track.Offset != 0 {
		offsetStr := formatFloat(result.Track.Offset)
		offsetPtr = &offsetStr
	}
	_ = s.client.Set(ctx, "offset", offsetPtr, expireAfter)

	log.Printf("[detect] %s - %s (%ds remaining)", result.Track.ArtistName, result.Track.TrackName, remainingSeconds)

	if remainingSeconds < int(2*s.cfg.DurationSeconds+3) {
		if remainingSeconds == 0 {
			nextDuration = s.cfg.DurationSeconds
		} else {
			nextDuration = 0.7 * s.cfg.DurationSeconds
			interruptibleSleep(ctx, s.client, "next_scan", float64(maxInt(0, remainingSeconds+1)))
		}
		nextBackOff = backOff
	} else {
		nextDuration = s.cfg.DurationSeconds
		interruptibleSleep(ctx, s.client, "next_scan", backOff*s.cfg.DurationSeconds)
		nextBackOff = minFloat(1.0, backOff+0.25)
	}

	return nextDuration, nextBackOff, detects
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// firstArtist returns the portion of a collaboration-joined artist name
// before " & ", matching sound.py's artist_name.split(" & ")[0] used when
// looking up artist/album metadata.
func firstArtist(name string) string {
	for i := 0; i+3 <= len(name); i++ {
		if name[i:i+3] == " & " {
			return name[:i]
		}
	}
	return name
}
