package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"musicd/internal/config"
	"musicd/internal/history"
	"musicd/internal/peer"
	"musicd/internal/ring"
)

// Response mirrors the teacher's JSON response envelopes (see protocol.go's
// ControlMsg payloads) for the save/dump command handlers.
type Response struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    string `json:"data,omitempty"`
}

// ClipHandlers implements the save/dump IPC commands described in
// spec.md §4.D.4, grounded on recording.go's file-under-temp-path,
// mutex-guarded-writer, cleanup-on-error shape (the mutex here is
// ring.Buffer's own — see Slice/Read).
type ClipHandlers struct {
	cfg        config.Config
	buffer     *ring.Buffer
	store      *history.Store
	appDataDir string
}

// NewClipHandlers builds a ClipHandlers bound to buffer and store.
func NewClipHandlers(cfg config.Config, buffer *ring.Buffer, store *history.Store) *ClipHandlers {
	return &ClipHandlers{cfg: cfg, buffer: buffer, store: store, appDataDir: cfg.AppDataDir}
}

// Register wires the save and dump command handlers onto p.
func (c *ClipHandlers) Register(p *peer.Peer) {
	p.OnCommand("save", c.handleSave)
	p.OnCommand("dump", c.handleDump)
}

type saveArgs struct {
	EntryID string `json:"entry_id"`
}

func (c *ClipHandlers) handleSave(data json.RawMessage) (any, error) {
	var args saveArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}, nil
	}
	return c.save(args.EntryID), nil
}

// save implements the "save(entry_id)" operation from spec.md §4.D.4:
// look up the history entry, compute a padded window around
// started_at/duration (or fall back to the last buffer_length_seconds when
// timing is unknown), clamp to the buffer's valid window, slice, and write
// a FLAC file under appdata/temp.
func (c *ClipHandlers) save(entryID string) Response {
	entry, err := c.store.Entry(entryID)
	if err != nil {
		return Response{Success: false, Status: "not_found"}
	}

	var startedAt, endedAt float64
	trackDuration, haveDuration := c.trackDurationSeconds(entry.TrackGUID)
	now := float64(time.Now().UnixNano()) / 1e9

	if !entry.StartedAt.IsZero() && haveDuration {
		started := float64(entry.StartedAt.UnixNano())/1e9 - c.cfg.TempSaveOffsetSecs
		ended := started + trackDuration + 2*c.cfg.TempSaveOffsetSecs
		startedAt, endedAt = started, ended
	} else {
		startedAt = now - float64(c.cfg.BufferLengthSecs)
		endedAt = now
	}

	_, lastFrameTime := c.buffer.Snapshot()

	maxOffset := -(c.buffer.Length() - 1)
	startedFrame := clampInt(int((startedAt-lastFrameTime)*float64(c.cfg.SampleRate)), maxOffset, -1)
	endedFrame := clampInt(int((endedAt-lastFrameTime)*float64(c.cfg.SampleRate)), maxOffset, 0)

	audioData := c.buffer.Slice(startedFrame, endedFrame)

	songPath := filepath.Join(c.appDataDir, "temp", entryID+".flac")
	if err := os.MkdirAll(filepath.Dir(songPath), 0o755); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}
	}
	if err := writeFLAC(songPath, audioData, c.cfg.SampleRate, c.cfg.Channels); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}
	}

	if err := c.store.MarkSaved(entryID); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}
	}

	return Response{Success: true, Message: "Saved temp song", Data: songPath}
}

// trackDurationSeconds looks up the matched track's duration; an unknown
// track (or a zero duration, never reported by a real provider) falls back
// to the buffer-length window, matching sound.py's own fallback when
// timing is unknown.
func (c *ClipHandlers) trackDurationSeconds(trackGUID string) (float64, bool) {
	t, err := c.store.Track(trackGUID)
	if err != nil || t.DurationSeconds <= 0 {
		return 0, false
	}
	return t.DurationSeconds, true
}

type dumpArgs struct {
	Seconds *float64 `json:"seconds"`
}

func (c *ClipHandlers) handleDump(data json.RawMessage) (any, error) {
	var args dumpArgs
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return Response{Success: false, Status: "internal_error", Message: err.Error()}, nil
		}
	}
	return c.dump(args.Seconds), nil
}

// dump implements the "dump(seconds?)" operation: reads the whole buffer
// (or the last `seconds` of it), peak-normalizes, and writes it to
// appdata/dump.flac.
func (c *ClipHandlers) dump(seconds *float64) Response {
	var frames *int
	if seconds != nil {
		n := int(*seconds * float64(c.cfg.SampleRate))
		frames = &n
	}

	raw := c.buffer.Read(frames)
	normalized := normalize(raw)

	path := filepath.Join(c.appDataDir, "dump.flac")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}
	}
	if err := writeFLAC(path, normalized, c.cfg.SampleRate, c.cfg.Channels); err != nil {
		return Response{Success: false, Status: "internal_error", Message: err.Error()}
	}

	return Response{Success: true, Message: "Saved audio buffer", Data: path}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
