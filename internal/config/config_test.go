package config

import (
	"errors"
	"testing"
	"time"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("LAVALINK_NODES", "ws://main:youshallnotpass@localhost:2333, wss://backup:pw@lava.example.com")
	t.Setenv("LAVALINK_RECONNECT_TRIES", "3")
	t.Setenv("LAVALINK_RESUME_KEY", "resume-me")
	t.Setenv("DEEZER_ENABLED", "true")
	t.Setenv("DEEZER_ARTIST_LIMIT", "2")

	cfg, err := Parse()
	require.NoError(t, err)

	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, NodeSpec{Name: "main", Password: "youshallnotpass", Host: "localhost", Port: 2333}, cfg.Nodes[0])
	assert.Equal(t, NodeSpec{Name: "backup", Password: "pw", Host: "lava.example.com", Port: DefaultNodePort, Secure: true}, cfg.Nodes[1])

	assert.Equal(t, 5*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, "ytsearch", cfg.DefaultSearch)
	assert.True(t, cfg.DeezerEnabled)
	assert.Equal(t, 2, cfg.Deezer().ArtistLimit)

	opts := cfg.NodeOptions("bot-1")
	require.Len(t, opts, 2)
	assert.Equal(t, "bot-1", opts[0].UserID)
	assert.Equal(t, 3, opts[1].ReconnectTries)
	assert.Equal(t, "resume-me", opts[1].ResumeKey)
	assert.NoError(t, opts[1].Validate())
}

func TestParseRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("LAVALINK_NODES", "ws://main:pw@localhost:2333")

	_, err := Parse()
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestParseRequiresNodes(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("LAVALINK_NODES", "")

	_, err := Parse()
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestParseRejectsBadNode(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")

	for _, raw := range []string{"http://main:pw@localhost:2333", "ws://main:pw@localhost:port", "ws://"} {
		t.Setenv("LAVALINK_NODES", raw)
		_, err := Parse()
		assert.True(t, errors.Is(err, errs.ErrConfiguration), raw)
	}
}

func TestLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"debug":   logrus.DebugLevel,
		"WARNING": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"chatty":  logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, (&Config{LogLevel: in}).Level(), in)
	}
}

func TestParseGeneratesResumeKey(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("LAVALINK_NODES", "ws://main:pw@localhost:2333")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.True(t, cfg.AutoResume)
	assert.Len(t, cfg.ResumeKey, 36)

	t.Setenv("LAVALINK_AUTO_RESUME", "false")
	cfg, err = Parse()
	require.NoError(t, err)
	assert.Empty(t, cfg.ResumeKey)
}
