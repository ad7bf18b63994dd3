package session

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/fankserver/lavapool/internal/player"
	"github.com/fankserver/lavapool/pkg/track"
	"github.com/sirupsen/logrus"
)

const youtubeSource = "youtube"

// RadioPolicy keeps a player going after its queue ends by picking a random
// track from the YouTube mix of the last played track.
type RadioPolicy struct {
	m    *Manager
	pick func(n int) int
}

// NewRadioPolicy creates a RadioPolicy resolving through m
func NewRadioPolicy(m *Manager) *RadioPolicy {
	return &RadioPolicy{m: m, pick: rand.Intn}
}

// NextTrack implements player.NextTrackPolicy
func (r *RadioPolicy) NextTrack(ctx context.Context, p *player.Player) (*track.Track, error) {
	seed := p.Previous()
	if seed == nil {
		seed = p.Current()
	}
	if seed == nil || seed.Info.SourceName != youtubeSource || seed.Info.Identifier == "" {
		return nil, nil
	}

	id := seed.Info.Identifier
	mix := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s", id, id)
	res, err := r.m.Resolve(ctx, mix, "")
	if err != nil {
		return nil, err
	}
	if !res.Usable() {
		return nil, nil
	}

	candidates := make([]*track.Track, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		if t.Info.Identifier != id {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	next := candidates[r.pick(len(candidates))]
	logrus.WithFields(logrus.Fields{
		"guild_id": p.GuildID(),
		"seed":     id,
		"title":    next.Info.Title,
	}).Debug("Autoplay picked track")
	return next, nil
}
