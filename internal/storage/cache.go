/**
 * Redis result cache for the ID scan worker.
 *
 * Extraction is deterministic for identical image bytes, so completed
 * outcomes are cached by the SHA-256 digest of the uploaded file. A cache
 * hit lets the upload surface answer without re-running OCR.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedScan is the cache representation of a completed scan.
type CachedScan struct {
	JobID            string  `json:"jobId"`
	Name             string  `json:"name"`
	NameFound        bool    `json:"nameFound"`
	DateOfBirth      string  `json:"dateOfBirth"`
	DateOfBirthFound bool    `json:"dateOfBirthFound"`
	IDNumber         string  `json:"idNumber"`
	IDNumberFound    bool    `json:"idNumberFound"`
	FullText         string  `json:"fullText"`
	FacePath         string  `json:"facePath,omitempty"`
	Confidence       float64 `json:"confidence"`
	CachedAt         string  `json:"cachedAt"`
}

// ResultCache stores completed scans in Redis keyed by image digest
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a new Redis-backed result cache
func NewResultCache(redisURL string, ttl time.Duration) (*ResultCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ResultCache{client: client, ttl: ttl}, nil
}

func cacheKey(digest string) string {
	return fmt.Sprintf("idscan:results:%s", digest)
}

// Lookup returns the cached scan for an image digest, if present.
func (c *ResultCache) Lookup(ctx context.Context, digest string) (*CachedScan, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(digest)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var scan CachedScan
	if err := json.Unmarshal([]byte(data), &scan); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached scan: %w", err)
	}

	return &scan, true, nil
}

// Store caches a completed scan under the image digest with the cache TTL.
func (c *ResultCache) Store(ctx context.Context, digest string, scan *CachedScan) error {
	scan.CachedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("failed to marshal scan for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(digest), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}

	return nil
}

// Ping checks Redis connectivity
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	return c.client.Close()
}
