// Package history is the external storage collaborator for persisted
// listening history and track metadata. Only the dedup contract from
// spec.md §3 matters here — the real relational schema is an external
// collaborator (Non-goals) — so this is a thin SQLite-backed stub,
// grounded on store/store.go's migration-list + database/sql pattern.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tracks (
		guid             TEXT PRIMARY KEY,
		source           TEXT NOT NULL,
		source_track_id  TEXT NOT NULL,
		track_name       TEXT NOT NULL,
		artist_name      TEXT NOT NULL,
		album_name       TEXT NOT NULL DEFAULT '',
		track_no         INTEGER NOT NULL DEFAULT 0,
		label            TEXT NOT NULL DEFAULT '',
		released         TEXT NOT NULL DEFAULT '',
		track_image      TEXT NOT NULL DEFAULT '',
		artist_image     TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		UNIQUE(source, source_track_id)
	)`,
	`CREATE TABLE IF NOT EXISTS history_entries (
		entry_id     TEXT PRIMARY KEY,
		track_guid   TEXT NOT NULL REFERENCES tracks(guid),
		detected_at  DATETIME NOT NULL,
		started_at   DATETIME,
		saved_temp   INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_created ON history_entries(created_at)`,
}

// Track is the subset of track metadata this collaborator persists.
type Track struct {
	Source          string
	SourceTrackID   string
	TrackName       string
	ArtistName      string
	AlbumName       string
	TrackNo         int
	Label           string
	Released        string
	TrackImageURL   string
	ArtistImageURL  string
	DurationSeconds float64
}

// Entry is one row of listening history.
type Entry struct {
	EntryID    string
	TrackGUID  string
	DetectedAt time.Time
	StartedAt  time.Time
	SavedTemp  bool
}

// Store wraps a SQLite database holding tracks and history entries.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies migrations. Use
// ":memory:" for ephemeral storage in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[history] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[history] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[history] applied migration v%d", v)
	}
	return nil
}

// UpsertTrack inserts or updates the track identified by (source,
// sourceTrackID) and returns its stable internal GUID.
func (s *Store) UpsertTrack(t Track) (string, error) {
	var guid string
	err := s.db.QueryRow(
		`SELECT guid FROM tracks WHERE source = ? AND source_track_id = ?`,
		t.Source, t.SourceTrackID,
	).Scan(&guid)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		guid = uuid.NewString()
		_, err = s.db.Exec(
			`INSERT INTO tracks(guid, source, source_track_id, track_name, artist_name,
				album_name, track_no, label, released, track_image, artist_image, duration_seconds)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			guid, t.Source, t.SourceTrackID, t.TrackName, t.ArtistName, t.AlbumName,
			t.TrackNo, t.Label, t.Released, t.TrackImageURL, t.ArtistImageURL, t.DurationSeconds,
		)
		if err != nil {
			return "", fmt.Errorf("history: insert track: %w", err)
		}
		return guid, nil
	case err != nil:
		return "", fmt.Errorf("history: lookup track: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE tracks SET track_name=?, artist_name=?, album_name=?, track_no=?, label=?,
			released=?, track_image=?, artist_image=?, duration_seconds=? WHERE guid=?`,
		t.TrackName, t.ArtistName, t.AlbumName, t.TrackNo, t.Label, t.Released,
		t.TrackImageURL, t.ArtistImageURL, t.DurationSeconds, guid,
	)
	if err != nil {
		return "", fmt.Errorf("history: update track: %w", err)
	}
	return guid, nil
}

// AppendOrRefineHistory implements the dedup rule from spec.md §3: if the
// most recently created row has the same trackGUID, only startedAt is
// refined — monotonically earlier — and no new row is inserted. Otherwise
// a new row is appended.
func (s *Store) AppendOrRefineHistory(trackGUID string, detectedAt, startedAt time.Time) error {
	var entryID, lastGUID string
	var lastStarted sql.NullTime
	err := s.db.QueryRow(
		`SELECT entry_id, track_guid, started_at FROM history_entries ORDER BY created_at DESC LIMIT 1`,
	).Scan(&entryID, &lastGUID, &lastStarted)

	if errors.Is(err, sql.ErrNoRows) {
		return s.insertHistoryEntry(trackGUID, detectedAt, startedAt)
	}
	if err != nil {
		return fmt.Errorf("history: read last entry: %w", err)
	}

	if lastGUID != trackGUID {
		return s.insertHistoryEntry(trackGUID, detectedAt, startedAt)
	}

	refined := startedAt
	if lastStarted.Valid && lastStarted.Time.Before(refined) {
		refined = lastStarted.Time
	}
	_, err = s.db.Exec(`UPDATE history_entries SET started_at = ? WHERE entry_id = ?`, refined, entryID)
	if err != nil {
		return fmt.Errorf("history: refine entry: %w", err)
	}
	return nil
}

func (s *Store) insertHistoryEntry(trackGUID string, detectedAt, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO history_entries(entry_id, track_guid, detected_at, started_at) VALUES(?, ?, ?, ?)`,
		uuid.NewString(), trackGUID, detectedAt, startedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert entry: %w", err)
	}
	return nil
}

// Entry looks up a history row by id.
func (s *Store) Entry(entryID string) (Entry, error) {
	var e Entry
	var started sql.NullTime
	var saved int
	err := s.db.QueryRow(
		`SELECT entry_id, track_guid, detected_at, started_at, saved_temp FROM history_entries WHERE entry_id = ?`,
		entryID,
	).Scan(&e.EntryID, &e.TrackGUID, &e.DetectedAt, &started, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("history: entry %q not found", entryID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("history: lookup entry: %w", err)
	}
	e.StartedAt = started.Time
	e.SavedTemp = saved != 0
	return e, nil
}

// EntriesForTrack returns a track's history rows, most recent first.
func (s *Store) EntriesForTrack(trackGUID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT entry_id, track_guid, detected_at, started_at, saved_temp
		 FROM history_entries WHERE track_guid = ? ORDER BY created_at DESC`,
		trackGUID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query entries for track: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started sql.NullTime
		var saved int
		if err := rows.Scan(&e.EntryID, &e.TrackGUID, &e.DetectedAt, &started, &saved); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		e.StartedAt = started.Time
		e.SavedTemp = saved != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Track looks up a persisted track by its GUID.
func (s *Store) Track(guid string) (Track, error) {
	var t Track
	err := s.db.QueryRow(
		`SELECT source, source_track_id, track_name, artist_name, album_name, track_no,
			label, released, track_image, artist_image, duration_seconds
		 FROM tracks WHERE guid = ?`,
		guid,
	).Scan(&t.Source, &t.SourceTrackID, &t.TrackName, &t.ArtistName, &t.AlbumName, &t.TrackNo,
		&t.Label, &t.Released, &t.TrackImageURL, &t.ArtistImageURL, &t.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, fmt.Errorf("history: track %q not found", guid)
	}
	if err != nil {
		return Track{}, fmt.Errorf("history: lookup track: %w", err)
	}
	return t, nil
}

// MarkSaved records that entryID's temp buffer clip has been written.
func (s *Store) MarkSaved(entryID string) error {
	_, err := s.db.Exec(`UPDATE history_entries SET saved_temp = 1 WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("history: mark saved: %w", err)
	}
	return nil
}
