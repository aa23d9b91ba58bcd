/**
 * Storage Manager for the ID scan worker.
 *
 * Coordinates PostgreSQL (durable job records) and Redis (result cache).
 * Postgres is the source of truth; a cache write failure is logged by the
 * caller and never fails the scan.
 */

package storage

import (
	"context"
	"fmt"
	"time"
)

// Manager coordinates PostgreSQL and Redis operations
type Manager struct {
	postgres *PostgresClient
	cache    *ResultCache
}

// NewManager creates a new storage manager
func NewManager(databaseURL string, redisURL string, cacheTTL time.Duration) (*Manager, error) {
	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	cache, err := NewResultCache(redisURL, cacheTTL)
	if err != nil {
		postgres.Close() // Cleanup on failure
		return nil, fmt.Errorf("failed to initialize result cache: %w", err)
	}

	return &Manager{
		postgres: postgres,
		cache:    cache,
	}, nil
}

// UpdateJobStatus upserts the job row in PostgreSQL
func (m *Manager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return m.postgres.UpdateJobStatus(ctx, update)
}

// SaveScanResult persists a completed scan in PostgreSQL and caches it
// under the image digest. The cache write is best-effort: its error is
// returned separately so the caller can log it without failing the job.
func (m *Manager) SaveScanResult(ctx context.Context, rec *ScanRecord, digest string) (cacheErr error, err error) {
	if err := m.postgres.SaveScanResult(ctx, rec); err != nil {
		return nil, err
	}

	if digest == "" {
		return nil, nil
	}

	cacheErr = m.cache.Store(ctx, digest, &CachedScan{
		JobID:            rec.JobID,
		Name:             rec.HolderName,
		NameFound:        rec.HolderNameFound,
		DateOfBirth:      rec.DateOfBirth,
		DateOfBirthFound: rec.DateOfBirthFound,
		IDNumber:         rec.IDNumber,
		IDNumberFound:    rec.IDNumberFound,
		FullText:         rec.FullText,
		FacePath:         rec.FacePath,
		Confidence:       rec.Confidence,
	})
	return cacheErr, nil
}

// LookupCached returns a previously completed scan for an image digest
func (m *Manager) LookupCached(ctx context.Context, digest string) (*CachedScan, bool, error) {
	return m.cache.Lookup(ctx, digest)
}

// GetJobByID retrieves a scan job from PostgreSQL
func (m *Manager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return m.postgres.GetJobByID(ctx, jobID)
}

// Ping checks connectivity of both stores
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := m.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close closes both stores
func (m *Manager) Close() error {
	var firstErr error
	if err := m.postgres.Close(); err != nil {
		firstErr = err
	}
	if err := m.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
