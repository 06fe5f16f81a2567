package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hubspoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithMemoryProvider(t *testing.T) {
	t.Setenv("HUBSPOKE_PROVIDER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderMemory, cfg.Provider.Name)
	assert.Equal(t, "10.0.0.0/16", cfg.Hub.CIDR)
	assert.Equal(t, "10.11.0.0/16", cfg.Spokes.Supernet)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, "storage/deployments.json", cfg.Storage.Path)
	assert.True(t, cfg.RollbackEnabled())
	assert.Equal(t, 3, cfg.MaxConcurrentDeployments)
	require.NotNil(t, cfg.Timeouts)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.InstanceReady)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: memory
hub:
  network_name: core
  cidr: 10.20.0.0/16
  router_ip: 10.20.0.5
gateway:
  name: edge
  backend_port: 8080
storage:
  backend: SQLite
  path: /tmp/hubspoke.db
enable_rollback: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "core", cfg.Hub.NetworkName)
	assert.Equal(t, "10.20.0.0/16", cfg.Hub.CIDR)
	assert.Equal(t, "edge", cfg.Gateway.Name)
	assert.Equal(t, 8080, cfg.Gateway.BackendPort)
	assert.Equal(t, StorageSQLite, cfg.Storage.Backend, "backend names are normalized")
	assert.False(t, cfg.RollbackEnabled())
	// untouched sections keep defaults
	assert.Equal(t, "spokeadmin", cfg.Spokes.DefaultAdminUsername)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: memory
storage:
  backend: file
  path: from-file.json
`)
	t.Setenv("HUBSPOKE_STORAGE_PATH", "from-env.json")
	t.Setenv("HUBSPOKE_ENABLE_ROLLBACK", "false")
	t.Setenv("HUBSPOKE_MAX_CONCURRENT_DEPLOYMENTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.json", cfg.Storage.Path)
	assert.False(t, cfg.RollbackEnabled())
	assert.Equal(t, 7, cfg.MaxConcurrentDeployments)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "invalid yaml",
			content: "hub: [",
			wantMsg: "failed to unmarshal yaml",
		},
		{
			name: "overlapping hub and spokes",
			content: `
provider: {name: memory}
hub: {cidr: 10.0.0.0/8}
`,
			wantMsg: "overlaps spoke supernet",
		},
		{
			name: "router outside hub",
			content: `
provider: {name: memory}
hub: {router_ip: 192.168.1.1}
`,
			wantMsg: "outside hub CIDR",
		},
		{
			name: "unknown storage backend",
			content: `
provider: {name: memory}
storage: {backend: etcd}
`,
			wantMsg: "unknown storage backend",
		},
		{
			name: "postgres without dsn",
			content: `
provider: {name: memory}
storage: {backend: postgres}
`,
			wantMsg: "storage.dsn is required",
		},
		{
			name: "unknown provider",
			content: `
provider: {name: azure}
`,
			wantMsg: "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_HCloudRequiresToken(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Provider.Token = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hcloud token is required")

	cfg.Provider.Token = "secret"
	assert.NoError(t, cfg.Validate())
}
