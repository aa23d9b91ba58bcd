package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/veridoc/idscan-worker/internal/queue"
	"github.com/veridoc/idscan-worker/internal/storage"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeJobStore struct {
	updates []*storage.JobUpdate
	jobs    map[string]map[string]interface{}
	cached  map[string]*storage.CachedScan
	pingErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:   make(map[string]map[string]interface{}),
		cached: make(map[string]*storage.CachedScan),
	}
}

func (s *fakeJobStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	s.updates = append(s.updates, update)
	s.jobs[update.JobID] = map[string]interface{}{
		"jobId":  update.JobID,
		"status": update.Status,
	}
	return nil
}

func (s *fakeJobStore) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

func (s *fakeJobStore) LookupCached(ctx context.Context, digest string) (*storage.CachedScan, bool, error) {
	scan, ok := s.cached[digest]
	return scan, ok, nil
}

func (s *fakeJobStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func newTestServer(t *testing.T, store JobStore, enqueuer Enqueuer) *Server {
	t.Helper()
	s, err := NewServer(&Config{
		Addr:        ":0",
		UploadDir:   t.TempDir(),
		MaxFileSize: 1 << 20,
		QueueName:   "idscan:jobs",
	}, store, enqueuer)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func multipartUpload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("part write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/scans", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestUploadAcceptsScan(t *testing.T) {
	store := newFakeJobStore()
	enq := &fakeEnqueuer{}
	s := newTestServer(t, store, enq)

	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "card.png", data))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	jobID, _ := body["jobId"].(string)
	if _, err := uuid.Parse(jobID); err != nil {
		t.Errorf("jobId is not a UUID: %q", jobID)
	}
	if body["status"] != "pending" {
		t.Errorf("status = %v, want pending", body["status"])
	}
	if body["pollUrl"] != "/api/scans/"+jobID {
		t.Errorf("pollUrl = %v", body["pollUrl"])
	}

	// Original saved to the upload directory
	saved, err := os.ReadFile(filepath.Join(s.config.UploadDir, jobID+".png"))
	if err != nil {
		t.Fatalf("original not saved: %v", err)
	}
	if !bytes.Equal(saved, data) {
		t.Errorf("saved bytes differ from upload")
	}

	// Pending job row created
	if len(store.updates) != 1 || store.updates[0].Status != "pending" {
		t.Errorf("expected one pending job update, got %+v", store.updates)
	}

	// Scan task enqueued with the uploaded bytes
	if len(enq.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enq.tasks))
	}
	task := enq.tasks[0]
	if task.Type() != queue.TaskTypeProcessScan {
		t.Errorf("task type = %s", task.Type())
	}
	var jobData queue.ScanJobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		t.Fatalf("task payload not ScanJobData: %v", err)
	}
	if jobData.JobID != jobID || !bytes.Equal(jobData.FileBuffer, data) {
		t.Errorf("task payload mismatch: jobID=%s", jobData.JobID)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	for _, filename := range []string{"doc.pdf", "card.gif", "card", "card.PNG.exe"} {
		t.Run(filename, func(t *testing.T) {
			enq := &fakeEnqueuer{}
			s := newTestServer(t, newFakeJobStore(), enq)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartUpload(t, filename, []byte("data")))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(enq.tasks) != 0 {
				t.Errorf("rejected upload must not enqueue")
			}
		})
	}
}

func TestUploadAcceptsUppercaseExtension(t *testing.T) {
	s := newTestServer(t, newFakeJobStore(), &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "CARD.JPG", []byte{0xFF, 0xD8, 0xFF}))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestUploadWithoutFilePart(t *testing.T) {
	s := newTestServer(t, newFakeJobStore(), &fakeEnqueuer{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("note", "no file here")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/scans", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadServesCachedScan(t *testing.T) {
	store := newFakeJobStore()
	enq := &fakeEnqueuer{}
	s := newTestServer(t, store, enq)

	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x01, 0x02}
	store.cached[imageDigest(data)] = &storage.CachedScan{
		JobID:         "cached-job",
		Name:          "أحمد سالم البلوشي",
		NameFound:     true,
		IDNumber:      "12345678",
		IDNumberFound: true,
		Confidence:    0.9,
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "card.png", data))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["cached"] != true || body["jobId"] != "cached-job" {
		t.Errorf("unexpected cached response: %v", body)
	}
	if body["idNumber"] != "12345678" {
		t.Errorf("idNumber = %v", body["idNumber"])
	}
	if body["dateOfBirth"] != "Not found" {
		t.Errorf("absent field must render as Not found, got %v", body["dateOfBirth"])
	}
	if len(enq.tasks) != 0 {
		t.Errorf("cache hit must not enqueue a new job")
	}
}

func TestGetScan(t *testing.T) {
	store := newFakeJobStore()
	s := newTestServer(t, store, &fakeEnqueuer{})

	jobID := uuid.New().String()
	store.jobs[jobID] = map[string]interface{}{
		"jobId":  jobID,
		"status": "completed",
		"name":   "أحمد سالم البلوشي",
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/"+jobID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "completed" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestGetScanNotFound(t *testing.T) {
	s := newTestServer(t, newFakeJobStore(), &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/"+uuid.New().String(), nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetScanInvalidID(t *testing.T) {
	s := newTestServer(t, newFakeJobStore(), &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, newFakeJobStore(), &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	store := newFakeJobStore()
	s := newTestServer(t, store, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", rec.Code)
	}

	store.pingErr = fmt.Errorf("postgres down")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
}
