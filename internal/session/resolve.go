package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/node"
	"github.com/fankserver/lavapool/pkg/track"
)

var urlPattern = regexp.MustCompile(`^https?://`)

// lengthTolerance is how far apart, in ms, a catalog track and a node search
// hit may be and still count as the same recording
const lengthTolerance = 2000

// Resolve loads tracks for query. Links go to the first catalog that matches
// them and otherwise straight to a node. Free text goes to the catalog named
// by source, or becomes a "{source}:{query}" node search.
func (m *Manager) Resolve(ctx context.Context, query, source string) (*track.LoadResult, error) {
	if urlPattern.MatchString(query) {
		for _, c := range m.catalogs {
			if c.Match(query) {
				return c.Resolve(ctx, query), nil
			}
		}
		return m.load(ctx, query)
	}

	for _, c := range m.catalogs {
		if c.Name() == source {
			return c.Search(ctx, query), nil
		}
	}

	if source == "" {
		source = m.opts.DefaultSearch
	}
	return m.load(ctx, source+":"+query)
}

func (m *Manager) load(ctx context.Context, identifier string) (*track.LoadResult, error) {
	n, err := m.pool.Select(node.Best)
	if err != nil {
		return nil, err
	}
	return n.LoadTracks(ctx, identifier), nil
}

// DecodeTrack asks the least-loaded node for the metadata behind encoded
func (m *Manager) DecodeTrack(ctx context.Context, encoded string) (*track.Info, error) {
	n, err := m.pool.Select(node.Best)
	if err != nil {
		return nil, err
	}
	return n.DecodeTrack(ctx, encoded)
}

// ResolveTrack finds a playable version of a catalog track by searching the
// node for "author - title". Hits by the same author with a matching length
// win over the first result.
func (m *Manager) ResolveTrack(ctx context.Context, t *track.Track) (*track.Track, error) {
	if t.Resolved() {
		return t, nil
	}

	query := t.Info.Title
	if t.Info.Author != "" {
		query = t.Info.Author + " - " + t.Info.Title
	}
	res, err := m.load(ctx, m.opts.DefaultSearch+":"+query)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.LoadType == track.LoadFailed {
		msg := "load failed"
		if res.Exception != nil {
			msg = res.Exception.Message
		}
		return nil, fmt.Errorf("%w: searching %q: %s", errs.ErrTransport, query, msg)
	}
	if !res.Usable() {
		msg := string(res.LoadType)
		if res.Exception != nil {
			msg = res.Exception.Message
		}
		return nil, fmt.Errorf("%w: no playable match for %q: %s", errs.ErrNotFound, query, msg)
	}

	best := bestMatch(t, res.Tracks)
	resolved := *best
	resolved.Requester = t.Requester
	if resolved.Info.Image == "" {
		resolved.Info.Image = t.Info.Image
	}
	return &resolved, nil
}

func bestMatch(want *track.Track, candidates []*track.Track) *track.Track {
	author := strings.ToLower(want.Info.Author)
	var byAuthor *track.Track
	for _, c := range candidates {
		if author == "" || !strings.Contains(strings.ToLower(c.Info.Author), author) {
			continue
		}
		if want.Info.Length > 0 && abs(c.Info.Length-want.Info.Length) <= lengthTolerance {
			return c
		}
		if byAuthor == nil {
			byAuthor = c
		}
	}
	if byAuthor != nil {
		return byAuthor
	}
	return candidates[0]
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
