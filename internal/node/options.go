package node

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/gorilla/websocket"
)

// Defaults applied to zero-valued Options fields
const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultReconnectTries    = 5
	DefaultResumeTimeout     = 60 * time.Second
	DefaultClientName        = "lavapool"
	DefaultRequestsPerSecond = 10
	DefaultHandshakeTimeout  = 10 * time.Second
)

// Options is the registration config of a node
type Options struct {
	Name     string
	Host     string
	Port     int
	Password string
	Secure   bool

	ReconnectInterval time.Duration
	ReconnectTries    int

	// ResumeKey enables session resuming; ResumeTimeout is how long the node
	// keeps players alive after the socket drops.
	ResumeKey     string
	ResumeTimeout time.Duration
	// AutoResume asks bound players to replay their state after a reconnect
	AutoResume bool

	UserID     string
	Shards     int
	ClientName string

	// RequestsPerSecond throttles REST calls to this node
	RequestsPerSecond float64

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

// Key is the pool key of the node: its name, falling back to its host
func (o Options) Key() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Host
}

// Validate checks the fields a node cannot start without
func (o Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: node host is required", errs.ErrConfiguration)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("%w: node %q has invalid port %d", errs.ErrConfiguration, o.Key(), o.Port)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = o.Host
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.ReconnectTries <= 0 {
		o.ReconnectTries = DefaultReconnectTries
	}
	if o.ResumeTimeout <= 0 {
		o.ResumeTimeout = DefaultResumeTimeout
	}
	if o.Shards <= 0 {
		o.Shards = 1
	}
	if o.ClientName == "" {
		o.ClientName = DefaultClientName
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return o
}

func (o Options) socketURL() string {
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, o.Host, o.Port)
}

func (o Options) restURL(endpoint string) string {
	scheme := "http"
	if o.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/%s", scheme, o.Host, o.Port, endpoint)
}
