// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/node"
	"github.com/fankserver/lavapool/pkg/catalog"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultNodePort is used when a node URL carries no port
const DefaultNodePort = 2333

// Config is the full runtime configuration
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	Nodes             []NodeSpec    `env:"LAVALINK_NODES" envSeparator:","`
	ReconnectInterval time.Duration `env:"LAVALINK_RECONNECT_INTERVAL" envDefault:"5s"`
	ReconnectTries    int           `env:"LAVALINK_RECONNECT_TRIES" envDefault:"5"`
	ResumeKey         string        `env:"LAVALINK_RESUME_KEY"`
	ResumeTimeout     time.Duration `env:"LAVALINK_RESUME_TIMEOUT" envDefault:"60s"`
	AutoResume        bool          `env:"LAVALINK_AUTO_RESUME" envDefault:"true"`
	ClientName        string        `env:"LAVALINK_CLIENT_NAME" envDefault:"lavapool"`
	Shards            int           `env:"LAVALINK_SHARDS" envDefault:"1"`

	DefaultSearch string `env:"DEFAULT_SEARCH" envDefault:"ytsearch"`
	Autoplay      bool   `env:"AUTOPLAY"`

	DeezerEnabled       bool `env:"DEEZER_ENABLED"`
	DeezerPlaylistLimit int  `env:"DEEZER_PLAYLIST_LIMIT" envDefault:"1"`
	DeezerAlbumLimit    int  `env:"DEEZER_ALBUM_LIMIT" envDefault:"1"`
	DeezerArtistLimit   int  `env:"DEEZER_ARTIST_LIMIT" envDefault:"1"`
}

// NodeSpec is one audio node given as ws[s]://name:password@host:port
type NodeSpec struct {
	Name     string
	Password string
	Host     string
	Port     int
	Secure   bool
}

// UnmarshalText parses a node URL
func (n *NodeSpec) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid node url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "ws":
	case "wss":
		n.Secure = true
	default:
		return fmt.Errorf("node url %q must use ws or wss", raw)
	}

	n.Host = u.Hostname()
	if n.Host == "" {
		return fmt.Errorf("node url %q has no host", raw)
	}
	n.Port = DefaultNodePort
	if p := u.Port(); p != "" {
		if n.Port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("node url %q has invalid port: %w", raw, err)
		}
	}
	if u.User != nil {
		n.Name = u.User.Username()
		n.Password, _ = u.User.Password()
	}
	return nil
}

// Load reads .env if present, then parses the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
	return Parse()
}

// Parse builds a Config from the process environment only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrConfiguration, err)
	}
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("%w: DISCORD_TOKEN is required", errs.ErrConfiguration)
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("%w: LAVALINK_NODES needs at least one node", errs.ErrConfiguration)
	}
	// Auto resume without a configured key gets a per-process key
	if cfg.AutoResume && cfg.ResumeKey == "" {
		cfg.ResumeKey = uuid.NewString()
	}
	return cfg, nil
}

// NodeOptions expands the node list into registration options
func (c *Config) NodeOptions(userID string) []node.Options {
	opts := make([]node.Options, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		opts = append(opts, node.Options{
			Name:              n.Name,
			Host:              n.Host,
			Port:              n.Port,
			Password:          n.Password,
			Secure:            n.Secure,
			ReconnectInterval: c.ReconnectInterval,
			ReconnectTries:    c.ReconnectTries,
			ResumeKey:         c.ResumeKey,
			ResumeTimeout:     c.ResumeTimeout,
			AutoResume:        c.AutoResume,
			UserID:            userID,
			Shards:            c.Shards,
			ClientName:        c.ClientName,
		})
	}
	return opts
}

// Deezer returns the catalog settings for the Deezer resolver
func (c *Config) Deezer() catalog.DeezerConfig {
	return catalog.DeezerConfig{
		PlaylistLimit: c.DeezerPlaylistLimit,
		AlbumLimit:    c.DeezerAlbumLimit,
		ArtistLimit:   c.DeezerArtistLimit,
	}
}

// Level parses LogLevel with logrus, defaulting to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
