package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fankserver/lavapool/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deezerTrackJSON(id int) string {
	return fmt.Sprintf(`{"id":%d,"title":"Song %d","link":"https://www.deezer.com/track/%d","duration":180,
		"artist":{"name":"Daft Punk"},"album":{"cover_medium":"https://cdn/cover.jpg"}}`, id, id, id)
}

func tracksJSON(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, deezerTrackJSON(i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func newDeezerServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeezerMatch(t *testing.T) {
	d := NewDeezer(DeezerConfig{})

	for _, u := range []string{
		"https://www.deezer.com/track/3135556",
		"https://deezer.com/en/album/302127",
		"http://www.deezer.com/fr/playlist/908622995",
		"deezer.com/artist/27",
	} {
		assert.True(t, d.Match(u), u)
	}
	for _, u := range []string{
		"https://open.spotify.com/track/abc",
		"https://www.deezer.com/show/123",
		"never gonna give you up",
	} {
		assert.False(t, d.Match(u), u)
	}
	assert.Equal(t, DeezerSource, d.Name())
}

func TestDeezerResolveTrack(t *testing.T) {
	srv := newDeezerServer(t, map[string]string{"/track/3135556": deezerTrackJSON(3135556)})
	d := NewDeezer(DeezerConfig{BaseURL: srv.URL})

	res := d.Resolve(context.Background(), "https://www.deezer.com/track/3135556")
	require.Equal(t, track.LoadTrackLoaded, res.LoadType)
	require.Len(t, res.Tracks, 1)

	got := res.Tracks[0]
	assert.False(t, got.Resolved())
	assert.Equal(t, DeezerSource, got.Info.SourceName)
	assert.Equal(t, "3135556", got.Info.Identifier)
	assert.Equal(t, "Daft Punk", got.Info.Author)
	assert.Equal(t, int64(180000), got.Info.Length)
	assert.Equal(t, "https://cdn/cover.jpg", got.Info.Image)
	assert.True(t, got.Info.IsSeekable)
}

func TestDeezerResolvePlaylistHonoursLimit(t *testing.T) {
	srv := newDeezerServer(t, map[string]string{
		"/playlist/42": `{"title":"Road Trip","tracks":{"data":` + tracksJSON(0, 150) + `}}`,
		"/album/7":     `{"title":"Discovery","tracks":{"data":` + tracksJSON(0, 14) + `}}`,
	})
	d := NewDeezer(DeezerConfig{BaseURL: srv.URL, PlaylistLimit: 1})

	res := d.Resolve(context.Background(), "https://www.deezer.com/playlist/42")
	require.Equal(t, track.LoadPlaylistLoaded, res.LoadType)
	assert.Equal(t, "Road Trip", res.PlaylistInfo.Name)
	assert.Len(t, res.Tracks, 100)

	res = d.Resolve(context.Background(), "https://www.deezer.com/album/7")
	require.Equal(t, track.LoadPlaylistLoaded, res.LoadType)
	assert.Equal(t, "Discovery", res.PlaylistInfo.Name)
	assert.Len(t, res.Tracks, 14)
}

func TestDeezerResolveArtistFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artist/27/top":
			if r.URL.Query().Get("index") == "" {
				_, _ = fmt.Fprintf(w, `{"data":%s,"next":"%s/artist/27/top?index=5"}`, tracksJSON(0, 5), srv.URL)
				return
			}
			_, _ = fmt.Fprintf(w, `{"data":%s}`, tracksJSON(5, 8))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDeezer(DeezerConfig{BaseURL: srv.URL})
	res := d.Resolve(context.Background(), "https://www.deezer.com/artist/27")
	require.Equal(t, track.LoadPlaylistLoaded, res.LoadType)
	assert.Len(t, res.Tracks, 8)
	assert.Equal(t, "Daft Punk", res.PlaylistInfo.Name)
}

func TestDeezerFailuresBecomeLoadFailed(t *testing.T) {
	srv := newDeezerServer(t, map[string]string{
		"/track/1": `{"error":{"type":"DataException","message":"no data","code":800}}`,
	})
	d := NewDeezer(DeezerConfig{BaseURL: srv.URL})

	res := d.Resolve(context.Background(), "https://www.deezer.com/track/1")
	assert.Equal(t, track.LoadFailed, res.LoadType)
	require.NotNil(t, res.Exception)
	assert.Equal(t, "no data", res.Exception.Message)
	assert.Equal(t, track.SeverityCommon, res.Exception.Severity)

	res = d.Resolve(context.Background(), "https://www.deezer.com/album/404")
	assert.Equal(t, track.LoadFailed, res.LoadType)

	res = d.Resolve(context.Background(), "https://example.com/nothing")
	assert.Equal(t, track.LoadFailed, res.LoadType)
}

func TestDeezerSearch(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		if query == "nothing" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":` + tracksJSON(1, 4) + `}`))
	}))
	defer srv.Close()

	d := NewDeezer(DeezerConfig{BaseURL: srv.URL})

	res := d.Search(context.Background(), "one more time")
	assert.Equal(t, "one more time", query)
	require.Equal(t, track.LoadTrackLoaded, res.LoadType)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "1", res.Tracks[0].Info.Identifier)

	res = d.Search(context.Background(), "nothing")
	assert.Equal(t, track.LoadNoMatches, res.LoadType)
	assert.NotNil(t, res.Tracks)
}
