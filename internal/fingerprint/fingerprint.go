// Package fingerprint defines the pluggable audio-identification
// capability: a small interface any recognition provider implements, plus
// a stub used by tests and local development. Real providers are external
// collaborators (spec.md Non-goals) — only the contract lives here.
package fingerprint

import "context"

// Track is the subset of matched-track metadata the detection scheduler
// needs to compute scheduling decisions (offset/duration) and identity
// (track_id) for deduplication.
type Track struct {
	TrackID         string
	TrackName       string
	ArtistName      string
	AlbumName       string
	TrackNo         int
	Label           string
	Released        string
	TrackImageURL   string
	ArtistImageURL  string
	DurationSeconds float64
	// Offset is how many seconds into the track the clip's start
	// corresponds to.
	Offset float64
}

// Result is the outcome of one Identify call.
type Result struct {
	Success bool
	Message string
	Track   Track
}

// Identifier recognizes a PCM clip against an external fingerprint
// database.
type Identifier interface {
	// Format reports the provider name, used for selecting one by
	// configuration at startup.
	Format() string
	Identify(ctx context.Context, pcm []float32, sampleRate int) (Result, error)
}

// Registry resolves a named Identifier, mirroring the teacher's
// name-to-implementation selection pattern (store.New choosing a driver).
type Registry struct {
	providers map[string]Identifier
}

// NewRegistry builds a Registry from the given providers, keyed by their
// own Format().
func NewRegistry(providers ...Identifier) *Registry {
	r := &Registry{providers: make(map[string]Identifier, len(providers))}
	for _, p := range providers {
		r.providers[p.Format()] = p
	}
	return r
}

// Get returns the provider registered under name, or false if none is.
func (r *Registry) Get(name string) (Identifier, bool) {
	p, ok := r.providers[name]
	return p, ok
}
