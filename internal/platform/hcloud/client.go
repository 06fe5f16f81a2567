package hcloud

import (
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/provisioning"
)

var (
	_ provisioning.NetworkProvisioner = (*Client)(nil)
	_ provisioning.ComputeProvisioner = (*Client)(nil)
	_ provisioning.GatewayProvisioner = (*Client)(nil)
)

// Client implements the provisioning interfaces against the Hetzner Cloud API.
type Client struct {
	client   *hcloud.Client
	timeouts *config.Timeouts
	location string
	zone     string
	// hubNetwork holds the routes other networks keep towards spokes.
	hubNetwork string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHCloudClient sets a custom hcloud.Client (useful for testing).
func WithHCloudClient(client *hcloud.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeouts sets custom timeouts.
func WithTimeouts(timeouts *config.Timeouts) ClientOption {
	return func(c *Client) {
		c.timeouts = timeouts
	}
}

// WithLocation sets the default location and network zone for new resources.
func WithLocation(location, zone string) ClientOption {
	return func(c *Client) {
		c.location = location
		c.zone = zone
	}
}

// WithHubNetwork names the hub network whose routes are cleaned up when a
// spoke network is deleted.
func WithHubNetwork(name string) ClientOption {
	return func(c *Client) {
		c.hubNetwork = name
	}
}

// New creates a Client authenticated with token.
func New(token string, opts ...ClientOption) *Client {
	c := &Client{
		timeouts: config.LoadTimeouts(),
		location: "fsn1",
		zone:     string(hcloud.NetworkZoneEUCentral),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = hcloud.NewClient(
			hcloud.WithToken(token),
			hcloud.WithApplication("hubspoke", ""),
		)
	}
	return c
}

// NewFromConfig creates a Client from the provider and hub configuration.
func NewFromConfig(cfg *config.Config, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithTimeouts(cfg.Timeouts),
		WithLocation(cfg.Provider.Location, cfg.Provider.NetworkZone),
		WithHubNetwork(cfg.Hub.NetworkName),
	}
	return New(cfg.Provider.Token, append(base, opts...)...)
}

// Providers returns the client as a provisioning.Providers bundle.
func (c *Client) Providers() provisioning.Providers {
	return provisioning.Providers{Network: c, Compute: c, Gateway: c}
}
