package fingerprint

import (
	"context"
	"errors"
	"testing"
)

func TestStubProviderThresholdGating(t *testing.T) {
	s := StubProvider{Threshold: 0.1, Track: Track{TrackID: "abc"}}

	silent := make([]float32, 100)
	res, err := s.Identify(context.Background(), silent, 44100)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if res.Success {
		t.Fatalf("expected no match on silence")
	}

	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 1.0
	}
	res, err = s.Identify(context.Background(), loud, 44100)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if !res.Success || res.Track.TrackID != "abc" {
		t.Fatalf("expected match with track abc, got %+v", res)
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(StubProvider{Threshold: 0.1})
	p, ok := r.Get("stub")
	if !ok || p.Format() != "stub" {
		t.Fatalf("expected to find stub provider")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected missing provider to be absent")
	}
}

type fakeFetcher struct{}

func (fakeFetcher) Track(ctx context.Context, trackName, artistName string) (*TrackMeta, error) {
	return &TrackMeta{DurationSeconds: 210, TrackNo: 3}, nil
}

func (fakeFetcher) Artist(ctx context.Context, artistName string) (*ArtistMeta, error) {
	return &ArtistMeta{Name: artistName}, nil
}

func (fakeFetcher) Album(ctx context.Context, artistName, albumName string) (*AlbumMeta, error) {
	return &AlbumMeta{Name: albumName}, nil
}

func TestFetchAllSkipsAlbumWhenNameEmpty(t *testing.T) {
	tr, ar, al, err := FetchAll(context.Background(), fakeFetcher{}, "Song", "Artist", "")
	if err != nil {
		t.Fatalf("fetchAll: %v", err)
	}
	if tr == nil || tr.DurationSeconds != 210 {
		t.Fatalf("expected track meta, got %+v", tr)
	}
	if ar == nil || ar.Name != "Artist" {
		t.Fatalf("expected artist meta, got %+v", ar)
	}
	if al != nil {
		t.Fatalf("expected nil album meta when albumName is empty, got %+v", al)
	}
}

type erroringFetcher struct{}

func (erroringFetcher) Track(ctx context.Context, trackName, artistName string) (*TrackMeta, error) {
	return nil, errors.New("boom")
}
func (erroringFetcher) Artist(ctx context.Context, artistName string) (*ArtistMeta, error) {
	return &ArtistMeta{}, nil
}
func (erroringFetcher) Album(ctx context.Context, artistName, albumName string) (*AlbumMeta, error) {
	return &AlbumMeta{}, nil
}

func TestFetchAllPropagatesError(t *testing.T) {
	_, _, _, err := FetchAll(context.Background(), erroringFetcher{}, "Song", "Artist", "Album")
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}
