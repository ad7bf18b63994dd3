package track

// LoadType is the outcome of a track load
type LoadType string

const (
	LoadTrackLoaded    LoadType = "TRACK_LOADED"
	LoadPlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadSearchResult   LoadType = "SEARCH_RESULT"
	LoadNoMatches      LoadType = "NO_MATCHES"
	LoadFailed         LoadType = "LOAD_FAILED"
)

// SeverityCommon is the severity used for failures raised on this side of the wire
const SeverityCommon = "COMMON"

// Info is the metadata the node reports for a track
type Info struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
	Image      string `json:"image,omitempty"`
}

// Track is a playable track descriptor. An empty Encoded value marks a track
// that came from a catalog and still has to be resolved against a node.
type Track struct {
	Encoded   string `json:"track"`
	Info      Info   `json:"info"`
	Requester string `json:"requester,omitempty"`
}

// Resolved reports whether the track can be sent to a node as is
func (t *Track) Resolved() bool {
	return t != nil && t.Encoded != ""
}

// PlaylistInfo describes a loaded playlist
type PlaylistInfo struct {
	Name          string `json:"name,omitempty"`
	SelectedTrack int    `json:"selectedTrack,omitempty"`
}

// Exception carries the failure reported with a LOAD_FAILED result
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// LoadResult is the canonical answer of any resolver, node or catalog
type LoadResult struct {
	LoadType     LoadType     `json:"loadType"`
	Tracks       []*Track     `json:"tracks"`
	PlaylistInfo PlaylistInfo `json:"playlistInfo"`
	Exception    *Exception   `json:"exception,omitempty"`
}

// Failed builds a LOAD_FAILED result
func Failed(message string) *LoadResult {
	return &LoadResult{
		LoadType:  LoadFailed,
		Tracks:    []*Track{},
		Exception: &Exception{Message: message, Severity: SeverityCommon},
	}
}

// Usable reports whether the result carries at least one track
func (r *LoadResult) Usable() bool {
	if r == nil || len(r.Tracks) == 0 {
		return false
	}
	return r.LoadType != LoadFailed && r.LoadType != LoadNoMatches
}
