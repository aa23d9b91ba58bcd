package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"

	procerrors "github.com/veridoc/idscan-worker/internal/errors"
	"github.com/veridoc/idscan-worker/internal/processor"
)

type statusUpdate struct {
	jobID    string
	status   string
	metadata map[string]interface{}
}

type fakeCardProcessor struct {
	result   *processor.ScanResult
	err      error
	requests []*processor.ScanRequest
	updates  []statusUpdate
}

func (p *fakeCardProcessor) ProcessScan(ctx context.Context, req *processor.ScanRequest) (*processor.ScanResult, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *fakeCardProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	p.updates = append(p.updates, statusUpdate{jobID: jobID, status: status, metadata: metadata})
	return nil
}

func newTestConsumer(t *testing.T, proc processor.CardProcessorInterface) *Consumer {
	t.Helper()
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:    "redis://localhost:6379",
		Concurrency: 1,
		Processor:   proc,
	})
	if err != nil {
		t.Fatalf("NewConsumer failed: %v", err)
	}
	return c
}

func TestNewScanTaskRoundTrip(t *testing.T) {
	task, err := NewScanTask(&ScanJobData{
		JobID:      "job-1",
		Filename:   "card.png",
		FileSize:   512,
		FileBuffer: []byte{0x89, 0x50},
	})
	if err != nil {
		t.Fatalf("NewScanTask failed: %v", err)
	}
	if task.Type() != TaskTypeProcessScan {
		t.Errorf("task type = %s, want %s", task.Type(), TaskTypeProcessScan)
	}

	var data ScanJobData
	if err := json.Unmarshal(task.Payload(), &data); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if data.JobID != "job-1" || data.Filename != "card.png" || data.FileSize != 512 {
		t.Errorf("payload mismatch: %+v", data)
	}
	if len(data.FileBuffer) != 2 {
		t.Errorf("file buffer not carried: %v", data.FileBuffer)
	}
}

func TestNewConsumerRequiresRedisAndProcessor(t *testing.T) {
	if _, err := NewConsumer(&ConsumerConfig{Processor: &fakeCardProcessor{}}); err == nil {
		t.Errorf("expected error for missing RedisURL")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379"}); err == nil {
		t.Errorf("expected error for missing Processor")
	}
}

func TestNewConsumerDefaultsQueueName(t *testing.T) {
	c := newTestConsumer(t, &fakeCardProcessor{})
	if c.config.QueueName != "idscan:jobs" {
		t.Errorf("QueueName = %s, want idscan:jobs", c.config.QueueName)
	}
}

func TestHandleProcessScanCompletes(t *testing.T) {
	proc := &fakeCardProcessor{
		result: &processor.ScanResult{
			NameFound:        true,
			IDNumberFound:    true,
			Confidence:       0.85,
			TokensRecognized: 7,
			FaceDetected:     true,
		},
	}
	c := newTestConsumer(t, proc)

	task, _ := NewScanTask(&ScanJobData{
		JobID:      "job-ok",
		Filename:   "card.png",
		MimeType:   "image/png",
		FileSize:   128,
		FileBuffer: []byte{0x89, 0x50, 0x4E, 0x47},
	})

	if err := c.handleProcessScan(context.Background(), task); err != nil {
		t.Fatalf("handleProcessScan failed: %v", err)
	}

	if len(proc.requests) != 1 || proc.requests[0].JobID != "job-ok" {
		t.Fatalf("processor not invoked with the job: %+v", proc.requests)
	}

	if len(proc.updates) != 2 {
		t.Fatalf("expected processing + completed updates, got %+v", proc.updates)
	}
	if proc.updates[0].status != "processing" {
		t.Errorf("first status = %s, want processing", proc.updates[0].status)
	}
	last := proc.updates[1]
	if last.status != "completed" {
		t.Errorf("final status = %s, want completed", last.status)
	}
	if last.metadata["tokensRecognized"] != 7 {
		t.Errorf("tokensRecognized = %v", last.metadata["tokensRecognized"])
	}
	if last.metadata["faceDetected"] != true {
		t.Errorf("faceDetected = %v", last.metadata["faceDetected"])
	}
}

func TestHandleProcessScanFailure(t *testing.T) {
	proc := &fakeCardProcessor{
		err: procerrors.NewOCRFailedError("job-bad", fmt.Errorf("tesseract crashed")),
	}
	c := newTestConsumer(t, proc)

	task, _ := NewScanTask(&ScanJobData{JobID: "job-bad", FileBuffer: []byte{0x01}})

	if err := c.handleProcessScan(context.Background(), task); err == nil {
		t.Fatalf("expected failure to propagate for retry")
	}

	last := proc.updates[len(proc.updates)-1]
	if last.status != "failed" {
		t.Errorf("final status = %s, want failed", last.status)
	}
	if last.metadata["error_code"] != string(procerrors.ErrorOCRFailed) {
		t.Errorf("error_code = %v, want %s", last.metadata["error_code"], procerrors.ErrorOCRFailed)
	}
}

func TestHandleProcessScanBadPayload(t *testing.T) {
	proc := &fakeCardProcessor{}
	c := newTestConsumer(t, proc)

	task := asynq.NewTask(TaskTypeProcessScan, []byte("{not json"))
	if err := c.handleProcessScan(context.Background(), task); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if len(proc.requests) != 0 {
		t.Errorf("processor must not run on malformed payload")
	}
}
