package fingerprint

import "context"

// TrackMeta, ArtistMeta and AlbumMeta are the pieces of supplementary
// metadata the detection loop fans out for concurrently once a track is
// identified, grounded on original_source/server/background/sound.py's
// get_last_fm_track/get_last_fm_artist/get_last_fm_album calls run via
// asyncio.gather.
type TrackMeta struct {
	DurationSeconds float64
	TrackNo         int
}

type ArtistMeta struct {
	Name string
}

type AlbumMeta struct {
	Name string
}

// Fetcher is the external metadata collaborator contract (spec.md
// Non-goals: only the contract matters, the real client is out of scope).
type Fetcher interface {
	Track(ctx context.Context, trackName, artistName string) (*TrackMeta, error)
	Artist(ctx context.Context, artistName string) (*ArtistMeta, error)
	Album(ctx context.Context, artistName, albumName string) (*AlbumMeta, error)
}

// FetchAll runs all three lookups concurrently and returns once every one
// has completed, mirroring asyncio.gather's all-or-nothing join. Album is
// skipped (nil, nil) when albumName is empty, matching sound.py's
// _get_album guard.
func FetchAll(ctx context.Context, f Fetcher, trackName, artistName, albumName string) (*TrackMeta, *ArtistMeta, *AlbumMeta, error) {
	type trackResult struct {
		v   *TrackMeta
		err error
	}
	type artistResult struct {
		v   *ArtistMeta
		err error
	}
	type albumResult struct {
		v   *AlbumMeta
		err error
	}

	trackCh := make(chan trackResult, 1)
	artistCh := make(chan artistResult, 1)
	albumCh := make(chan albumResult, 1)

	go func() {
		v, err := f.Track(ctx, trackName, artistName)
		trackCh <- trackResult{v, err}
	}()
	go func() {
		v, err := f.Artist(ctx, artistName)
		artistCh <- artistResult{v, err}
	}()
	go func() {
		if albumName == "" {
			albumCh <- albumResult{}
			return
		}
		v, err := f.Album(ctx, artistName, albumName)
		albumCh <- albumResult{v, err}
	}()

	tr := <-trackCh
	ar := <-artistCh
	al := <-albumCh

	if tr.err != nil {
		return nil, nil, nil, tr.err
	}
	if ar.err != nil {
		return nil, nil, nil, ar.err
	}
	if al.err != nil {
		return nil, nil, nil, al.err
	}
	return tr.v, ar.v, al.v, nil
}
