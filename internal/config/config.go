package config

// Provider names accepted by ProviderConfig.Name.
const (
	ProviderHCloud = "hcloud"
	ProviderMemory = "memory"
)

// Storage backends accepted by StorageConfig.Backend.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageS3       = "s3"
	StorageMemory   = "memory"
)

// Config holds the service configuration. It is loaded once at startup and
// passed explicitly to every component that needs it.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Hub      HubConfig      `yaml:"hub"`
	Spokes   SpokeConfig    `yaml:"spokes"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`

	// EnableRollback controls whether a failed workflow is rolled back
	// automatically. Nil means enabled.
	EnableRollback *bool `yaml:"enable_rollback"`

	// MaxConcurrentDeployments caps create workflows running at once.
	MaxConcurrentDeployments int `yaml:"max_concurrent_deployments"`

	Timeouts *Timeouts `yaml:"-"`
}

// ProviderConfig selects and configures the cloud provider.
type ProviderConfig struct {
	Name        string `yaml:"name"`
	Token       string `yaml:"token"`
	Location    string `yaml:"location"`
	NetworkZone string `yaml:"network_zone"`
}

// HubConfig describes the pre-existing hub network.
type HubConfig struct {
	NetworkName string `yaml:"network_name"`
	CIDR        string `yaml:"cidr"`
	// RouterIP is the hub-side next hop for traffic to spokes.
	RouterIP string `yaml:"router_ip"`
}

// SpokeConfig holds defaults applied to every spoke request.
type SpokeConfig struct {
	// Supernet is the /16 that spoke /24 blocks are carved from.
	Supernet             string `yaml:"supernet"`
	DefaultInstanceSize  string `yaml:"default_instance_size"`
	DefaultAdminUsername string `yaml:"default_admin_username"`
	Image                string `yaml:"image"`
	DiskSizeGB           int    `yaml:"disk_size_gb"`
}

// GatewayConfig describes the shared load-balancing gateway.
type GatewayConfig struct {
	Name        string `yaml:"name"`
	BackendPort int    `yaml:"backend_port"`
}

// StorageConfig selects the deployment record backend.
type StorageConfig struct {
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	DSN     string   `yaml:"dsn"`
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the object storage backend.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// EventsConfig configures lifecycle event publishing. An empty AMQPURL
// disables publishing.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	enabled := true
	return &Config{
		Provider: ProviderConfig{
			Name:        ProviderHCloud,
			Location:    "fsn1",
			NetworkZone: "eu-central",
		},
		Hub: HubConfig{
			NetworkName: "hub-vnet",
			CIDR:        "10.0.0.0/16",
			RouterIP:    "10.0.0.2",
		},
		Spokes: SpokeConfig{
			Supernet:             "10.11.0.0/16",
			DefaultInstanceSize:  "cx22",
			DefaultAdminUsername: "spokeadmin",
			Image:                "ubuntu-24.04",
			DiskSizeGB:           10,
		},
		Gateway: GatewayConfig{
			Name:        "hub-gateway",
			BackendPort: 80,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Path:    "storage/deployments.json",
			S3: S3Config{
				Region: "fsn1",
				Prefix: "deployments/",
			},
		},
		Events: EventsConfig{
			Exchange: "hubspoke.events",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		EnableRollback:           &enabled,
		MaxConcurrentDeployments: 3,
		Timeouts:                 LoadTimeouts(),
	}
}

// RollbackEnabled reports whether failed workflows are rolled back automatically.
func (c *Config) RollbackEnabled() bool {
	return c.EnableRollback == nil || *c.EnableRollback
}
