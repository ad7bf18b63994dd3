package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/pkg/track"
	"github.com/sirupsen/logrus"
)

// LoadTracks queries GET /loadtracks. Transport and HTTP failures come back as
// a LOAD_FAILED result rather than an error.
func (n *Node) LoadTracks(ctx context.Context, identifier string) *track.LoadResult {
	var result track.LoadResult
	status, err := n.get(ctx, "loadtracks", url.Values{"identifier": {identifier}}, &result)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"identifier": identifier,
			"status":     status,
		}).WithError(err).Warn("Failed to load tracks")
		return track.Failed(fmt.Sprintf("failed to load tracks from node %q: %v", n.Name(), err))
	}
	if result.Tracks == nil {
		result.Tracks = []*track.Track{}
	}
	return &result
}

// DecodeTrack queries GET /decodetrack. A 500 from the node means the blob is
// not decodable and yields errs.ErrNotDecodable.
func (n *Node) DecodeTrack(ctx context.Context, encoded string) (*track.Info, error) {
	var info track.Info
	status, err := n.get(ctx, "decodetrack", url.Values{"track": {encoded}}, &info)
	if status == http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotDecodable, encoded)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (n *Node) get(ctx context.Context, endpoint string, query url.Values, out interface{}) (int, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.opts.restURL(endpoint)+"?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", n.opts.Password)

	resp, err := n.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%w: %s returned %s", errs.ErrTransport, endpoint, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("error decoding %s response: %w", endpoint, err)
	}
	return resp.StatusCode, nil
}
