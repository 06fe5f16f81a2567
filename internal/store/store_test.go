package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id int, status deployment.Status, age time.Duration) *deployment.Record {
	rec := deployment.New(id, "client")
	rec.Status = status
	rec.CreatedAt = base.Add(-age)
	rec.UpdatedAt = rec.CreatedAt
	rec.NetworkName = "spoke-vnet"
	return rec
}

// backends returns a fresh instance of every backend that runs without
// external services.
func backends(t *testing.T) map[string]Repository {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "deployments.json"))
	require.NoError(t, err)
	sqlite, err := OpenSQLite(filepath.Join(dir, "deployments.db"))
	require.NoError(t, err)

	repos := map[string]Repository{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": sqlite,
		"s3":     newS3Store(newFakeObjects(), "bucket", "hubspoke"),
	}
	t.Cleanup(func() {
		for _, r := range repos {
			_ = r.Close()
		}
	})
	return repos
}

func TestRepository_SaveGetUpsert(t *testing.T) {
	t.Parallel()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := record(3, deployment.StatusPending, 0)
			require.NoError(t, repo.Save(ctx, rec))

			// The stored copy is independent of the caller's record.
			rec.Status = deployment.StatusInProgress
			got, err := repo.Get(ctx, 3)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, deployment.StatusPending, got.Status)

			require.NoError(t, repo.Save(ctx, rec))
			got, err = repo.Get(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, deployment.StatusInProgress, got.Status)
			assert.Equal(t, "spoke-vnet", got.NetworkName)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

			all, err := repo.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 1, "save is an upsert")
		})
	}
}

func TestRepository_GetMissingIsNil(t *testing.T) {
	t.Parallel()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := repo.Get(context.Background(), 99)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	t.Parallel()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, record(1, deployment.StatusCompleted, 0)))
			require.NoError(t, repo.Save(ctx, record(2, deployment.StatusCompleted, 0)))

			require.NoError(t, repo.Delete(ctx, 1))
			require.NoError(t, repo.Delete(ctx, 1), "deleting twice is fine")

			got, err := repo.Get(ctx, 1)
			require.NoError(t, err)
			assert.Nil(t, got)
			got, err = repo.Get(ctx, 2)
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestRepository_ListOrderFilterLimit(t *testing.T) {
	t.Parallel()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, record(1, deployment.StatusCompleted, 3*time.Hour)))
			require.NoError(t, repo.Save(ctx, record(2, deployment.StatusFailed, 2*time.Hour)))
			require.NoError(t, repo.Save(ctx, record(3, deployment.StatusCompleted, time.Hour)))
			require.NoError(t, repo.Save(ctx, record(4, deployment.StatusRolledBack, 0)))

			all, err := repo.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []int{4, 3, 2, 1}, ids(all))

			completed, err := repo.List(ctx, Filter{Status: deployment.StatusCompleted})
			require.NoError(t, err)
			assert.Equal(t, []int{3, 1}, ids(completed))

			limited, err := repo.List(ctx, Filter{Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []int{4, 3}, ids(limited))

			none, err := repo.List(ctx, Filter{Status: deployment.StatusRollingBack})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func ids(records []*deployment.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.SpokeID
	}
	return out
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "deployments.json")
	ctx := context.Background()

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, record(7, deployment.StatusCompleted, 0)))

	second, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := second.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, deployment.StatusCompleted, got.Status)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are renamed or removed")
}

func TestFileStore_EmptyPath(t *testing.T) {
	t.Parallel()
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name    string
		backend string
		path    string
		want    any
		wantErr bool
	}{
		{name: "file", backend: config.StorageFile, path: filepath.Join(dir, "d.json"), want: &FileStore{}},
		{name: "sqlite", backend: config.StorageSQLite, path: filepath.Join(dir, "d.db"), want: &SQLiteStore{}},
		{name: "memory", backend: config.StorageMemory, want: &MemoryStore{}},
		{name: "unknown", backend: "etcd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Backend = tt.backend
			cfg.Storage.Path = tt.path

			repo, err := Open(context.Background(), cfg, logr.Discard())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer repo.Close()
			assert.IsType(t, tt.want, repo)
		})
	}
}
