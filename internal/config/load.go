package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Provider.Name == ProviderHCloud && cfg.Provider.Token == "" {
		cfg.Provider.Token = LookupToken()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides file values with HUBSPOKE_* environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.Provider.Name, "HUBSPOKE_PROVIDER")
	setString(&cfg.Provider.Token, "HCLOUD_TOKEN")
	setString(&cfg.Provider.Location, "HUBSPOKE_LOCATION")
	setString(&cfg.Hub.NetworkName, "HUBSPOKE_HUB_NETWORK")
	setString(&cfg.Hub.CIDR, "HUBSPOKE_HUB_CIDR")
	setString(&cfg.Hub.RouterIP, "HUBSPOKE_HUB_ROUTER_IP")
	setString(&cfg.Spokes.Supernet, "HUBSPOKE_SPOKE_SUPERNET")
	setString(&cfg.Gateway.Name, "HUBSPOKE_GATEWAY_NAME")
	setString(&cfg.Storage.Backend, "HUBSPOKE_STORAGE_BACKEND")
	setString(&cfg.Storage.Path, "HUBSPOKE_STORAGE_PATH")
	setString(&cfg.Storage.DSN, "HUBSPOKE_STORAGE_DSN")
	setString(&cfg.Storage.S3.Endpoint, "HUBSPOKE_S3_ENDPOINT")
	setString(&cfg.Storage.S3.Bucket, "HUBSPOKE_S3_BUCKET")
	setString(&cfg.Storage.S3.AccessKey, "HUBSPOKE_S3_ACCESS_KEY")
	setString(&cfg.Storage.S3.SecretKey, "HUBSPOKE_S3_SECRET_KEY")
	setString(&cfg.Events.AMQPURL, "HUBSPOKE_AMQP_URL")
	setString(&cfg.Server.Addr, "HUBSPOKE_LISTEN_ADDR")
	setString(&cfg.Log.Level, "HUBSPOKE_LOG_LEVEL")
	setString(&cfg.Log.Format, "HUBSPOKE_LOG_FORMAT")

	if val := os.Getenv("HUBSPOKE_ENABLE_ROLLBACK"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.EnableRollback = &b
		}
	}
	cfg.MaxConcurrentDeployments = parseInt("HUBSPOKE_MAX_CONCURRENT_DEPLOYMENTS", cfg.MaxConcurrentDeployments)

	if cfg.Timeouts == nil {
		cfg.Timeouts = LoadTimeouts()
	}
}

func setString(dst *string, envVar string) {
	if val := os.Getenv(envVar); val != "" {
		*dst = val
	}
}
