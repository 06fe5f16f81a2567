package config

import (
	"fmt"
	"strings"
)

// ValidNetworkZones contains all valid Hetzner Cloud network zones.
// https://docs.hetzner.com/cloud/networks/overview/
var ValidNetworkZones = map[string]bool{
	"eu-central":   true,
	"us-east":      true,
	"us-west":      true,
	"ap-southeast": true,
}

var validStorageBackends = map[string]bool{
	StorageFile:     true,
	StorageSQLite:   true,
	StoragePostgres: true,
	StorageS3:       true,
	StorageMemory:   true,
}

var validLogFormats = map[string]bool{
	"auto":    true,
	"json":    true,
	"console": true,
}

// Validate checks the configuration for errors and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}
	if err := c.validateNetwork(); err != nil {
		return fmt.Errorf("network validation failed: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}

	if c.Gateway.Name == "" {
		return fmt.Errorf("gateway.name is required")
	}
	if c.Gateway.BackendPort <= 0 || c.Gateway.BackendPort > 65535 {
		return fmt.Errorf("gateway.backend_port %d is out of range", c.Gateway.BackendPort)
	}
	if c.Spokes.DefaultInstanceSize == "" {
		return fmt.Errorf("spokes.default_instance_size is required")
	}
	if c.Spokes.DefaultAdminUsername == "" {
		return fmt.Errorf("spokes.default_admin_username is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("log.format %q must be one of auto, json, console", c.Log.Format)
	}
	if c.MaxConcurrentDeployments < 1 {
		return fmt.Errorf("max_concurrent_deployments must be at least 1")
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider.Name {
	case ProviderMemory:
		return nil
	case ProviderHCloud:
		if c.Provider.Token == "" {
			return fmt.Errorf("hcloud token is required (set HCLOUD_TOKEN or store it in the keyring)")
		}
		if !ValidNetworkZones[c.Provider.NetworkZone] {
			return fmt.Errorf("invalid network zone %q", c.Provider.NetworkZone)
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
}

func (c *Config) validateNetwork() error {
	if c.Hub.NetworkName == "" {
		return fmt.Errorf("hub.network_name is required")
	}
	overlap, err := Overlaps(c.Hub.CIDR, c.Spokes.Supernet)
	if err != nil {
		return err
	}
	if overlap {
		return fmt.Errorf("hub CIDR %s overlaps spoke supernet %s", c.Hub.CIDR, c.Spokes.Supernet)
	}
	if _, err := SpokeBlock(c.Spokes.Supernet, 0); err != nil {
		return err
	}
	if c.Hub.RouterIP != "" {
		inside, err := ContainsAddr(c.Hub.CIDR, c.Hub.RouterIP)
		if err != nil {
			return err
		}
		if !inside {
			return fmt.Errorf("hub router IP %s is outside hub CIDR %s", c.Hub.RouterIP, c.Hub.CIDR)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	backend := strings.ToLower(c.Storage.Backend)
	if !validStorageBackends[backend] {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	c.Storage.Backend = backend

	switch backend {
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", backend)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3.bucket and storage.s3.endpoint are required for the s3 backend")
		}
	}
	return nil
}
