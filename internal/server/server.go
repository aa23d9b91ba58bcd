/**
 * HTTP upload surface for the ID scan worker.
 *
 * Accepts card images as multipart uploads, validates the extension,
 * stores the original, and enqueues a scan task. Results are polled by
 * job ID. Identical images short-circuit through the result cache.
 */

package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/veridoc/idscan-worker/internal/logging"
	"github.com/veridoc/idscan-worker/internal/queue"
	"github.com/veridoc/idscan-worker/internal/storage"
)

// allowedExtensions matches the upload rules of the original scanner:
// card photos only, no PDFs or office formats.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Enqueuer is the queue-side dependency of the server.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobStore is the storage-side dependency of the server.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	LookupCached(ctx context.Context, digest string) (*storage.CachedScan, bool, error)
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration
type Config struct {
	Addr        string
	UploadDir   string
	MaxFileSize int64
	QueueName   string
}

// Server exposes the upload and job-status endpoints
type Server struct {
	config     *Config
	store      JobStore
	enqueuer   Enqueuer
	logger     *logging.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server
func NewServer(cfg *Config, store JobStore, enqueuer Enqueuer) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}

	s := &Server{
		config:   cfg,
		store:    store,
		enqueuer: enqueuer,
		logger:   logging.NewLogger("HTTPServer"),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

// Handler returns the route multiplexer
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scans", s.handleUpload)
	mux.HandleFunc("/api/scans/", s.handleGetScan)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start begins serving; it blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleUpload accepts a card image and enqueues a scan job
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFileSize)
	if err := r.ParseMultipartForm(s.config.MaxFileSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no selected file")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file extension %q (allowed: png, jpg, jpeg)", ext))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	// Identical bytes yield identical outcomes; answer from the cache
	// without a new job when possible.
	digest := imageDigest(data)
	if cached, ok, err := s.store.LookupCached(r.Context(), digest); err != nil {
		s.logger.Warn("Cache lookup failed", "error", err)
	} else if ok {
		s.logger.Info("Serving scan from cache", "digest", digest, "jobId", cached.JobID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobId":       cached.JobID,
			"status":      "completed",
			"cached":      true,
			"name":        displayValue(cached.Name, cached.NameFound),
			"dateOfBirth": displayValue(cached.DateOfBirth, cached.DateOfBirthFound),
			"idNumber":    displayValue(cached.IDNumber, cached.IDNumberFound),
			"facePath":    cached.FacePath,
			"confidence":  cached.Confidence,
		})
		return
	}

	jobID := uuid.New().String()

	if err := s.saveOriginal(jobID, ext, data); err != nil {
		s.logger.Error("Failed to store original upload", "jobId", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if err := s.store.UpdateJobStatus(r.Context(), &storage.JobUpdate{
		JobID:    jobID,
		Status:   "pending",
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		FileSize: int64(len(data)),
	}); err != nil {
		s.logger.Error("Failed to create job record", "jobId", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	task, err := queue.NewScanTask(&queue.ScanJobData{
		JobID:      jobID,
		Filename:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		FileSize:   int64(len(data)),
		FileBuffer: data,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build scan task")
		return
	}

	if _, err := s.enqueuer.EnqueueContext(r.Context(), task,
		asynq.Queue(s.config.QueueName),
		asynq.MaxRetry(3),
	); err != nil {
		s.logger.Error("Failed to enqueue scan task", "jobId", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue scan")
		return
	}

	s.logger.Info("Scan job accepted", "jobId", jobID, "filename", header.Filename, "bytes", len(data))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":   jobID,
		"status":  "pending",
		"pollUrl": "/api/scans/" + jobID,
	})
}

// handleGetScan returns the job record with its extraction results
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/scans/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if _, err := uuid.Parse(jobID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleHealth pings both stores
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) saveOriginal(jobID, ext string, data []byte) error {
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.config.UploadDir, jobID+ext), data, 0o644)
}

func imageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func displayValue(value string, found bool) string {
	if !found {
		return "Not found"
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
