// Package catalog resolves links and searches from third-party music catalogs
// into load results. Catalog tracks carry metadata only; they are turned into
// playable tracks by a node search just before they are played.
package catalog

import (
	"context"

	"github.com/fankserver/lavapool/pkg/track"
)

// Resolver is a remote catalog. Failures are reported as LOAD_FAILED results,
// never as errors.
type Resolver interface {
	// Name is the source name used to route searches, e.g. "deezer"
	Name() string

	// Match reports whether the resolver handles rawURL
	Match(rawURL string) bool

	// Resolve loads the track, album, playlist or artist behind rawURL
	Resolve(ctx context.Context, rawURL string) *track.LoadResult

	// Search returns catalog matches for a free-text query
	Search(ctx context.Context, query string) *track.LoadResult
}

func result(loadType track.LoadType, tracks []*track.Track, playlist string) *track.LoadResult {
	if tracks == nil {
		tracks = []*track.Track{}
	}
	return &track.LoadResult{
		LoadType:     loadType,
		Tracks:       tracks,
		PlaylistInfo: track.PlaylistInfo{Name: playlist},
	}
}
