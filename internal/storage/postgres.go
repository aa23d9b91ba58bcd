/**
 * PostgreSQL Client for the ID scan worker.
 *
 * Persists scan jobs and their extraction results in the idscan schema.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID        string
	Status       string
	Filename     string
	MimeType     string
	FileSize     int64
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]interface{}
}

// ScanRecord holds the extraction results persisted for a completed scan.
// Absent fields are stored as NULL, not empty strings, so the API can
// distinguish "not found" from "found but empty".
type ScanRecord struct {
	JobID            string
	HolderName       string
	HolderNameFound  bool
	DateOfBirth      string
	DateOfBirthFound bool
	IDNumber         string
	IDNumberFound    bool
	FullText         string
	FacePath         string
	Confidence       float64
	TokensRecognized int
	ProcessingTimeMs int64
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0]. Raw float64 OCR confidences can carry excess precision
// (0.9632000000000001) that trips NUMERIC casts.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpdateJobStatus upserts the scan job row with the given status. The
// worker may observe a job before the API created it, so the first status
// update creates the record.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO idscan.scan_jobs (
			id, filename, mime_type, file_size,
			status, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown'),
			COALESCE(NULLIF($3, ''), 'application/octet-stream'), COALESCE($4, 0),
			$5, NULLIF($6, ''), NULLIF($7, ''),
			COALESCE($8::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			metadata = COALESCE(EXCLUDED.metadata, idscan.scan_jobs.metadata),
			filename = COALESCE(EXCLUDED.filename, idscan.scan_jobs.filename),
			mime_type = COALESCE(EXCLUDED.mime_type, idscan.scan_jobs.mime_type),
			file_size = COALESCE(NULLIF(EXCLUDED.file_size, 0), idscan.scan_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Filename,
		update.MimeType,
		update.FileSize,
		update.Status,
		update.ErrorCode,
		update.ErrorMessage,
		metadataJSON,
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// SaveScanResult writes the extraction results onto an existing job row.
func (p *PostgresClient) SaveScanResult(ctx context.Context, rec *ScanRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	query := `
		UPDATE idscan.scan_jobs SET
			holder_name = $2,
			date_of_birth = $3,
			id_number = $4,
			full_text = NULLIF($5, ''),
			face_path = NULLIF($6, ''),
			confidence = $7::NUMERIC(5,4),
			tokens_recognized = $8,
			processing_time_ms = $9,
			updated_at = NOW()
		WHERE id = $1::uuid
	`

	result, err := p.db.ExecContext(
		ctx,
		query,
		rec.JobID,
		nullableField(rec.HolderName, rec.HolderNameFound),
		nullableField(rec.DateOfBirth, rec.DateOfBirthFound),
		nullableField(rec.IDNumber, rec.IDNumberFound),
		rec.FullText,
		rec.FacePath,
		sanitizeConfidence(rec.Confidence),
		rec.TokensRecognized,
		rec.ProcessingTimeMs,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan result (job=%s): %w", rec.JobID, err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("job not found: %s", rec.JobID)
	}

	return nil
}

func nullableField(value string, found bool) sql.NullString {
	return sql.NullString{String: value, Valid: found}
}

// GetJobByID retrieves a scan job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			filename,
			mime_type,
			file_size,
			status,
			holder_name,
			date_of_birth,
			id_number,
			full_text,
			face_path,
			confidence,
			tokens_recognized,
			processing_time_ms,
			error_code,
			error_message,
			metadata,
			created_at,
			updated_at
		FROM idscan.scan_jobs
		WHERE id = $1::uuid
	`

	var (
		id, filename                   string
		mimeType, status               sql.NullString
		fileSize                       sql.NullInt64
		holderName, dateOfBirth        sql.NullString
		idNumber, fullText, facePath   sql.NullString
		confidence                     sql.NullFloat64
		tokensRecognized               sql.NullInt64
		processingTimeMs               sql.NullInt64
		errorCode, errorMessage        sql.NullString
		metadataJSON                   []byte
		createdAt, updatedAt           time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &filename, &mimeType, &fileSize, &status,
		&holderName, &dateOfBirth, &idNumber, &fullText, &facePath,
		&confidence, &tokensRecognized, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"filename":  filename,
		"status":    status.String,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if mimeType.Valid {
		result["mimeType"] = mimeType.String
	}
	if fileSize.Valid {
		result["fileSize"] = fileSize.Int64
	}
	// Absent extraction fields surface as "Not found" for display; a valid
	// NULL column means the pass ran and resolved nothing.
	result["name"] = displayField(holderName)
	result["dateOfBirth"] = displayField(dateOfBirth)
	result["idNumber"] = displayField(idNumber)
	if fullText.Valid {
		result["fullText"] = fullText.String
	}
	if facePath.Valid {
		result["facePath"] = facePath.String
	}
	if confidence.Valid {
		result["confidence"] = confidence.Float64
	}
	if tokensRecognized.Valid {
		result["tokensRecognized"] = tokensRecognized.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

func displayField(v sql.NullString) string {
	if !v.Valid {
		return "Not found"
	}
	return v.String
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
