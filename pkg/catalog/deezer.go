package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/fankserver/lavapool/pkg/track"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DeezerSource  = "deezer"
	DeezerBaseURL = "https://api.deezer.com"

	// limits are expressed in pages of this many tracks
	pageSize = 100
)

var deezerPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?deezer\.com/(?:\w{2}/)?(track|album|playlist|artist)/(\d+)`)

// DeezerConfig configures the Deezer resolver
type DeezerConfig struct {
	BaseURL string

	// PlaylistLimit, AlbumLimit and ArtistLimit cap results at N*100 tracks; 0 means no cap
	PlaylistLimit int
	AlbumLimit    int
	ArtistLimit   int

	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Deezer resolves deezer.com links through the public Deezer API
type Deezer struct {
	cfg     DeezerConfig
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewDeezer creates a Deezer resolver
func NewDeezer(cfg DeezerConfig) *Deezer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DeezerBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Deezer{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		logger:  logrus.WithField("catalog", DeezerSource),
	}
}

// Name implements Resolver
func (d *Deezer) Name() string { return DeezerSource }

// Match implements Resolver
func (d *Deezer) Match(rawURL string) bool {
	return deezerPattern.MatchString(rawURL)
}

type deezerTrack struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Duration int64  `json:"duration"`
	Artist   *struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album *struct {
		CoverMedium string `json:"cover_medium"`
	} `json:"album"`
}

type deezerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type deezerPage struct {
	Data  []deezerTrack `json:"data"`
	Next  string        `json:"next"`
	Error *deezerError  `json:"error"`
}

type deezerCollection struct {
	Title  string       `json:"title"`
	Tracks deezerPage   `json:"tracks"`
	Error  *deezerError `json:"error"`
}

// Resolve implements Resolver
func (d *Deezer) Resolve(ctx context.Context, rawURL string) *track.LoadResult {
	m := deezerPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return track.Failed(fmt.Sprintf("not a deezer link: %s", rawURL))
	}

	var (
		res *track.LoadResult
		err error
	)
	switch kind, id := m[1], m[2]; kind {
	case "track":
		res, err = d.fetchTrack(ctx, id)
	case "album":
		res, err = d.fetchCollection(ctx, "album/"+id, d.cfg.AlbumLimit)
	case "playlist":
		res, err = d.fetchCollection(ctx, "playlist/"+id, d.cfg.PlaylistLimit)
	case "artist":
		res, err = d.fetchArtist(ctx, id)
	}
	if err != nil {
		d.logger.WithError(err).WithField("url", rawURL).Warn("Failed to resolve link")
		return track.Failed(err.Error())
	}
	return res
}

// Search implements Resolver. The best match is returned as a single track.
func (d *Deezer) Search(ctx context.Context, query string) *track.LoadResult {
	if d.Match(query) {
		return d.Resolve(ctx, query)
	}

	var page deezerPage
	if err := d.get(ctx, d.cfg.BaseURL+"/search?"+url.Values{"q": {query}}.Encode(), &page); err != nil {
		d.logger.WithError(err).WithField("query", query).Warn("Search failed")
		return track.Failed(err.Error())
	}
	if page.Error != nil {
		return track.Failed(page.Error.Message)
	}
	if len(page.Data) == 0 {
		return result(track.LoadNoMatches, nil, "")
	}
	return result(track.LoadTrackLoaded, []*track.Track{unresolved(page.Data[0])}, "")
}

func (d *Deezer) fetchTrack(ctx context.Context, id string) (*track.LoadResult, error) {
	var t struct {
		deezerTrack
		Error *deezerError `json:"error"`
	}
	if err := d.get(ctx, d.cfg.BaseURL+"/track/"+id, &t); err != nil {
		return nil, err
	}
	if t.Error != nil {
		return nil, errors.New(t.Error.Message)
	}
	return result(track.LoadTrackLoaded, []*track.Track{unresolved(t.deezerTrack)}, ""), nil
}

func (d *Deezer) fetchCollection(ctx context.Context, endpoint string, limit int) (*track.LoadResult, error) {
	var c deezerCollection
	if err := d.get(ctx, d.cfg.BaseURL+"/"+endpoint, &c); err != nil {
		return nil, err
	}
	if c.Error != nil {
		return nil, errors.New(c.Error.Message)
	}
	return result(track.LoadPlaylistLoaded, convert(capped(c.Tracks.Data, limit)), c.Title), nil
}

func (d *Deezer) fetchArtist(ctx context.Context, id string) (*track.LoadResult, error) {
	var page deezerPage
	if err := d.get(ctx, d.cfg.BaseURL+"/artist/"+id+"/top", &page); err != nil {
		return nil, err
	}
	if page.Error != nil {
		return nil, errors.New(page.Error.Message)
	}

	all := page.Data
	want := d.cfg.ArtistLimit * pageSize
	for next := page.Next; next != "" && (want == 0 || len(all) < want); {
		var more deezerPage
		if err := d.get(ctx, next, &more); err != nil {
			return nil, err
		}
		all = append(all, more.Data...)
		next = more.Next
	}

	tracks := convert(capped(all, d.cfg.ArtistLimit))
	name := ""
	if len(tracks) > 0 {
		name = tracks[0].Info.Author
	}
	return result(track.LoadPlaylistLoaded, tracks, name), nil
}

func (d *Deezer) get(ctx context.Context, endpoint string, out interface{}) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error requesting deezer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deezer returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding deezer response: %w", err)
	}
	return nil
}

func capped(tracks []deezerTrack, limit int) []deezerTrack {
	if limit > 0 && len(tracks) > limit*pageSize {
		return tracks[:limit*pageSize]
	}
	return tracks
}

func convert(in []deezerTrack) []*track.Track {
	out := make([]*track.Track, 0, len(in))
	for _, t := range in {
		out = append(out, unresolved(t))
	}
	return out
}

func unresolved(t deezerTrack) *track.Track {
	author := "Unknown"
	if t.Artist != nil && t.Artist.Name != "" {
		author = t.Artist.Name
	}
	image := ""
	if t.Album != nil {
		image = t.Album.CoverMedium
	}

	return &track.Track{
		Info: track.Info{
			SourceName: DeezerSource,
			Identifier: fmt.Sprint(t.ID),
			IsSeekable: true,
			Author:     author,
			Length:     t.Duration * 1000,
			Title:      t.Title,
			URI:        t.Link,
			Image:      image,
		},
	}
}
