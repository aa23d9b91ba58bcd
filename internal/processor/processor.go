/**
 * Card Processor for the ID scan worker.
 *
 * Orchestrates the scan pipeline for one uploaded card image:
 * - Format validation from magic bytes (PNG and JPEG only)
 * - OCR via the recognizer collaborator (Tesseract by default)
 * - Field extraction through the three-pass engine
 * - Optional face-region crop via the face-detection collaborator
 * - Persistence of the outcome (PostgreSQL + result cache)
 */

package processor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/veridoc/idscan-worker/internal/clients"
	"github.com/veridoc/idscan-worker/internal/errors"
	"github.com/veridoc/idscan-worker/internal/extract"
	"github.com/veridoc/idscan-worker/internal/storage"
)

// CardProcessorInterface defines the interface for scan processing
type CardProcessorInterface interface {
	ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// ResultStore is the slice of the storage manager the processor needs.
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	SaveScanResult(ctx context.Context, rec *storage.ScanRecord, digest string) (cacheErr error, err error)
}

// FaceDetector is the face-region collaborator. Detection is optional and
// never blocks extraction.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]clients.FaceRegion, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Languages     []string
	UploadDir     string
	MaxFileSize   int64
	FaceDetectURL string
	Vocabulary    extract.Vocabulary
	Patterns      extract.Patterns
	Store         ResultStore

	// Recognizer and Faces override the default collaborators; tests
	// inject fakes here.
	Recognizer Recognizer
	Faces      FaceDetector
}

// ScanRequest represents one card scan job
type ScanRequest struct {
	JobID      string
	Filename   string
	MimeType   string
	FileSize   int64
	FileBuffer []byte
	Metadata   map[string]interface{}
}

// ScanResult represents the processing result
type ScanResult struct {
	Name             string
	NameFound        bool
	DateOfBirth      string
	DateOfBirthFound bool
	IDNumber         string
	IDNumberFound    bool
	FullText         string
	FacePath         string
	FaceDetected     bool
	Confidence       float64
	TokensRecognized int
	ProcessingTimeMs int64
}

// CardProcessor handles card scan processing
type CardProcessor struct {
	config     *ProcessorConfig
	store      ResultStore
	recognizer Recognizer
	faces      FaceDetector
	vocabulary extract.Vocabulary
	patterns   extract.Patterns
}

// NewCardProcessor creates a new card processor
func NewCardProcessor(cfg *ProcessorConfig) (*CardProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}

	recognizer := cfg.Recognizer
	if recognizer == nil {
		recognizer = NewTesseractRecognizer(cfg.Languages)
	}

	faces := cfg.Faces
	if faces == nil && cfg.FaceDetectURL != "" {
		client := clients.NewFaceDetectClient(cfg.FaceDetectURL)

		// Probe the service once at startup; an unreachable detector is
		// non-fatal, scans simply carry no face crop.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(ctx); err != nil {
			log.Printf("WARNING: Face detection health check failed: %v. Scans will not include face crops.", err)
		} else {
			log.Printf("Face detection service verified: %s", cfg.FaceDetectURL)
		}
		faces = client
	}

	return &CardProcessor{
		config:     cfg,
		store:      cfg.Store,
		recognizer: recognizer,
		faces:      faces,
		vocabulary: cfg.Vocabulary,
		patterns:   cfg.Patterns,
	}, nil
}

// ProcessScan processes one card image through the complete pipeline
func (p *CardProcessor) ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	startTime := time.Now()
	log.Printf("[Job %s] Starting scan pipeline: filename=%s, size=%d bytes",
		req.JobID, req.Filename, len(req.FileBuffer))

	// Step 1: Validate the payload
	if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
		return nil, errors.NewUnsupportedFormatError(req.JobID,
			fmt.Sprintf("file exceeds %d bytes", p.config.MaxFileSize))
	}

	mimeType := detectImageMime(req.FileBuffer)
	if mimeType == "" {
		return nil, errors.NewUnsupportedFormatError(req.JobID, req.MimeType)
	}
	if req.MimeType == "" || req.MimeType == "application/octet-stream" {
		req.MimeType = mimeType
	}

	// Step 2: Recognize tokens
	log.Printf("[Job %s] Step 2: Running OCR (mime: %s)", req.JobID, mimeType)
	tokens, confidence, err := p.recognizer.Recognize(ctx, req.FileBuffer)
	if err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, err)
	}
	log.Printf("[Job %s] OCR complete: tokens=%d, confidence=%.2f", req.JobID, len(tokens), confidence)

	// Step 3: Extract identity fields. Absence of any field is a normal
	// outcome, never a pipeline failure.
	outcome := extract.Extract(tokens, p.vocabulary, p.patterns)
	log.Printf("[Job %s] Extraction complete: name=%t, dob=%t, id=%t",
		req.JobID, outcome.Name.Found, outcome.DateOfBirth.Found, outcome.IDNumber.Found)

	// Step 4: Face crop (best effort)
	facePath, faceDetected := p.cropFace(ctx, req)

	result := &ScanResult{
		Name:             outcome.Name.Value,
		NameFound:        outcome.Name.Found,
		DateOfBirth:      outcome.DateOfBirth.Value,
		DateOfBirthFound: outcome.DateOfBirth.Found,
		IDNumber:         outcome.IDNumber.Value,
		IDNumberFound:    outcome.IDNumber.Found,
		FullText:         outcome.FullText,
		FacePath:         facePath,
		FaceDetected:     faceDetected,
		Confidence:       confidence,
		TokensRecognized: len(tokens),
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	// Step 5: Persist the outcome
	digest := imageDigest(req.FileBuffer)
	cacheErr, err := p.store.SaveScanResult(ctx, &storage.ScanRecord{
		JobID:            req.JobID,
		HolderName:       result.Name,
		HolderNameFound:  result.NameFound,
		DateOfBirth:      result.DateOfBirth,
		DateOfBirthFound: result.DateOfBirthFound,
		IDNumber:         result.IDNumber,
		IDNumberFound:    result.IDNumberFound,
		FullText:         result.FullText,
		FacePath:         result.FacePath,
		Confidence:       result.Confidence,
		TokensRecognized: result.TokensRecognized,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}, digest)
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}
	if cacheErr != nil {
		log.Printf("[Job %s] Warning: Failed to cache scan result: %v", req.JobID, cacheErr)
	}

	log.Printf("[Job %s] Scan pipeline complete in %dms", req.JobID, result.ProcessingTimeMs)
	return result, nil
}

// UpdateJobStatus updates job status in the database
func (p *CardProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if metadata != nil {
		if fn, ok := metadata["filename"].(string); ok {
			update.Filename = fn
		}
		if mt, ok := metadata["mimeType"].(string); ok {
			update.MimeType = mt
		}
		if fs, ok := metadata["fileSize"].(int64); ok {
			update.FileSize = fs
		} else if fs, ok := metadata["fileSize"].(float64); ok {
			update.FileSize = int64(fs)
		}
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
		}
		if msg, ok := metadata["error"].(string); ok {
			update.ErrorMessage = msg
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

// cropFace asks the face collaborator for regions and writes a crop of the
// first one to the upload directory. Every failure here is non-fatal.
func (p *CardProcessor) cropFace(ctx context.Context, req *ScanRequest) (string, bool) {
	if p.faces == nil {
		return "", false
	}

	regions, err := p.faces.DetectFaces(ctx, req.FileBuffer)
	if err != nil {
		log.Printf("[Job %s] Warning: Face detection failed: %v", req.JobID, err)
		return "", false
	}
	if len(regions) == 0 {
		log.Printf("[Job %s] No face detected in the image", req.JobID)
		return "", false
	}

	img, _, err := image.Decode(bytes.NewReader(req.FileBuffer))
	if err != nil {
		log.Printf("[Job %s] Warning: Failed to decode image for face crop: %v", req.JobID, err)
		return "", false
	}

	region := regions[0]
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).
		Intersect(img.Bounds())
	if rect.Empty() {
		log.Printf("[Job %s] Warning: Face region outside image bounds", req.JobID)
		return "", false
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		log.Printf("[Job %s] Warning: Image format does not support cropping", req.JobID)
		return "", false
	}

	facePath := filepath.Join(p.config.UploadDir, fmt.Sprintf("face_%s.jpg", req.JobID))
	f, err := os.Create(facePath)
	if err != nil {
		log.Printf("[Job %s] Warning: Failed to create face crop file: %v", req.JobID, err)
		return "", false
	}
	defer f.Close()

	if err := jpeg.Encode(f, sub.SubImage(rect), nil); err != nil {
		log.Printf("[Job %s] Warning: Failed to encode face crop: %v", req.JobID, err)
		os.Remove(facePath)
		return "", false
	}

	log.Printf("[Job %s] Face crop saved: %s", req.JobID, facePath)
	return facePath, true
}

// imageDigest returns the hex SHA-256 of the image bytes, the cache key
// for deterministic re-uploads.
func imageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// detectImageMime identifies PNG and JPEG payloads from magic bytes. Any
// other format is unsupported for card scans.
func detectImageMime(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}

	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}

	return ""
}
