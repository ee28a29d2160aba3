// Package camera talks to the PTZ camera outside the recording path: it
// resolves stream endpoints per quality tier, fetches single snapshots over
// HTTP and probes RTSP endpoints.
package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Tier selects the camera's main or sub stream.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// ErrUnknownTier is returned for tiers other than primary and secondary.
var ErrUnknownTier = errors.New("unknown stream tier")

// ParseTier maps a config string to a Tier. Empty selects primary.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "", TierPrimary:
		return TierPrimary, nil
	case TierSecondary:
		return TierSecondary, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Endpoint is a resolved stream location. URL carries the credentials.
type Endpoint struct {
	URL      string
	Username string
	Password string
	Tier     Tier
}

// Redacted returns the URL with the password masked, for logs.
func (e Endpoint) Redacted() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return e.URL
	}
	return u.Redacted()
}

// Config describes how to reach the camera.
type Config struct {
	Host          string
	Username      string
	Password      string
	RTSPPort      int
	HTTPPort      int
	PrimaryPath   string
	SecondaryPath string
	SnapshotPath  string
	Timeout       time.Duration
	RetryMax      int
}

const (
	DefaultRTSPPort      = 554
	DefaultHTTPPort      = 80
	DefaultPrimaryPath   = "/stream1"
	DefaultSecondaryPath = "/stream2"
	DefaultSnapshotPath  = "/cgi-bin/snapshot.cgi"
	DefaultTimeout       = 10 * time.Second
	DefaultRetryMax      = 3
)

func (c *Config) applyDefaults() {
	if c.RTSPPort == 0 {
		c.RTSPPort = DefaultRTSPPort
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.PrimaryPath == "" {
		c.PrimaryPath = DefaultPrimaryPath
	}
	if c.SecondaryPath == "" {
		c.SecondaryPath = DefaultSecondaryPath
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = DefaultSnapshotPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
}

// Client is the long-lived handle to one camera.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger *slog.Logger
}

// NewClient returns a client for cfg. A nil logger discards retry logs.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("camera host is required")
	}
	cfg.applyDefaults()

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 5 * time.Second
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = nil
	if logger != nil {
		hc.Logger = logger
	}

	return &Client{cfg: cfg, http: hc, logger: logger}, nil
}

// ResolveStreamEndpoint builds the RTSP URL for tier.
func (c *Client) ResolveStreamEndpoint(tier Tier) (Endpoint, error) {
	var path string
	switch tier {
	case TierPrimary, "":
		tier = TierPrimary
		path = c.cfg.PrimaryPath
	case TierSecondary:
		path = c.cfg.SecondaryPath
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	u := url.URL{
		Scheme: "rtsp",
		Host:   net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.RTSPPort)),
		Path:   path,
	}
	if c.cfg.Username != "" {
		u.User = url.UserPassword(c.cfg.Username, c.cfg.Password)
	}

	return Endpoint{
		URL:      u.String(),
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Tier:     tier,
	}, nil
}

func (c *Client) snapshotURL() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.HTTPPort)),
		Path:   c.cfg.SnapshotPath,
	}
	return u.String()
}
