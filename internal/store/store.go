// Package store persists deployment records.
//
// Every backend implements [Repository]. Save is an upsert keyed by spoke id
// and stores a copy of the record, so callers may keep mutating theirs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/spoke"
)

// ErrNoFreeSpokeID is returned by NextAvailableID when every id is taken.
var ErrNoFreeSpokeID = errors.New("no free spoke id")

// Repository is the persistence contract shared by all backends.
type Repository interface {
	// Save inserts or replaces the record for rec.SpokeID.
	Save(ctx context.Context, rec *deployment.Record) error

	// Get returns the record for spokeID, or nil when none exists.
	Get(ctx context.Context, spokeID int) (*deployment.Record, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, spokeID int) error

	// List returns records matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]*deployment.Record, error)

	// Close releases backend resources.
	Close() error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status deployment.Status
	Limit  int
}

func (f Filter) match(rec *deployment.Record) bool {
	return f.Status == "" || rec.Status == f.Status
}

// apply filters, sorts newest first and truncates records in place.
func (f Filter) apply(records []*deployment.Record) []*deployment.Record {
	out := records[:0]
	for _, rec := range records {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SpokeID > out[j].SpokeID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Open builds the repository selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, log logr.Logger) (Repository, error) {
	sc := cfg.Storage
	log = log.WithName("store").WithValues("backend", sc.Backend)

	var (
		repo Repository
		err  error
	)
	switch sc.Backend {
	case config.StorageFile, "":
		repo, err = NewFileStore(sc.Path)
	case config.StorageSQLite:
		repo, err = OpenSQLite(sc.Path)
	case config.StoragePostgres:
		repo, err = OpenPostgres(ctx, sc.DSN)
	case config.StorageS3:
		repo, err = NewS3Store(ctx, sc.S3)
	case config.StorageMemory:
		repo = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	if err != nil {
		return nil, err
	}
	log.V(1).Info("deployment store opened")
	return repo, nil
}

// Statistics summarises the stored deployments.
type Statistics struct {
	Total       int                       `json:"total_deployments"`
	ByStatus    map[deployment.Status]int `json:"by_status"`
	Completed   int                       `json:"completed"`
	InProgress  int                       `json:"in_progress"`
	Failed      int                       `json:"failed"`
	RolledBack  int                       `json:"rolled_back"`
	SuccessRate float64                   `json:"success_rate"`
	Latest      *deployment.Summary       `json:"latest_deployment,omitempty"`
}

// ComputeStatistics aggregates every record in repo. SuccessRate is the
// percentage of finished deployments that completed.
func ComputeStatistics(ctx context.Context, repo Repository) (*Statistics, error) {
	records, err := repo.List(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	stats := &Statistics{Total: len(records), ByStatus: make(map[deployment.Status]int)}
	for _, rec := range records {
		stats.ByStatus[rec.Status]++
		switch rec.Status {
		case deployment.StatusCompleted:
			stats.Completed++
		case deployment.StatusPending, deployment.StatusInProgress, deployment.StatusRollingBack:
			stats.InProgress++
		case deployment.StatusFailed, deployment.StatusRollbackFailed:
			stats.Failed++
		case deployment.StatusRolledBack:
			stats.RolledBack++
		}
	}
	if finished := stats.Completed + stats.Failed + stats.RolledBack; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) * 100 / float64(finished)
	}
	if len(records) > 0 {
		latest := records[0].Summary()
		stats.Latest = &latest
	}
	return stats, nil
}

// NextAvailableID returns one more than the highest stored spoke id, or the
// lowest free id when the top of the range is taken.
func NextAvailableID(ctx context.Context, repo Repository) (int, error) {
	records, err := repo.List(ctx, Filter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list deployments: %w", err)
	}

	used := make(map[int]bool, len(records))
	highest := 0
	for _, rec := range records {
		used[rec.SpokeID] = true
		highest = max(highest, rec.SpokeID)
	}
	if highest < spoke.MinSpokeID {
		return spoke.MinSpokeID, nil
	}
	if highest < spoke.MaxSpokeID {
		return highest + 1, nil
	}
	for id := spoke.MinSpokeID; id <= spoke.MaxSpokeID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, ErrNoFreeSpokeID
}

func jsonRecord(rec *deployment.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %d: %w", rec.SpokeID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*deployment.Record, error) {
	rec := &deployment.Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
