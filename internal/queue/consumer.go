/**
 * Queue Consumer for the ID scan worker.
 *
 * Consumes scan jobs from the Redis-backed Asynq queue. The HTTP upload
 * surface enqueues one task per accepted file; the consumer drives the
 * card processor and mirrors job state into PostgreSQL.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/veridoc/idscan-worker/internal/errors"
	"github.com/veridoc/idscan-worker/internal/processor"
)

// TaskTypeProcessScan is the task type for card scan jobs
const TaskTypeProcessScan = "scan:process"

// ScanJobData represents the payload of a scan task
type ScanJobData struct {
	JobID      string                 `json:"jobId"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewScanTask builds the Asynq task for a scan job
func NewScanTask(data *ScanJobData) (*asynq.Task, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan job: %w", err)
	}
	return asynq.NewTask(TaskTypeProcessScan, payload), nil
}

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.CardProcessorInterface
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.CardProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 60000)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "idscan:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at a minute
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
	}

	mux.HandleFunc(TaskTypeProcessScan, consumer.handleProcessScan)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Client returns the asynq client for enqueueing tasks
func (c *Consumer) Client() *asynq.Client {
	return c.client
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleProcessScan processes one scan job
func (c *Consumer) handleProcessScan(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData ScanJobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	log.Printf("[Job %s] Processing scan: filename=%s, size=%d bytes",
		jobData.JobID, jobData.Filename, jobData.FileSize)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "processing", map[string]interface{}{
		"filename": jobData.Filename,
		"mimeType": jobData.MimeType,
		"fileSize": jobData.FileSize,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", jobData.JobID, err)
	}

	timeout := time.Duration(60000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessScan(processCtx, &processor.ScanRequest{
		JobID:      jobData.JobID,
		Filename:   jobData.Filename,
		MimeType:   jobData.MimeType,
		FileSize:   jobData.FileSize,
		FileBuffer: jobData.FileBuffer,
		Metadata:   jobData.Metadata,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", jobData.JobID, duration, timeout)

			timeoutErr := errors.NewProcessingTimeoutError(jobData.JobID, timeout, err)
			if updateErr := c.processor.UpdateJobStatus(ctx, jobData.JobID, "failed", timeoutErr.ToMap()); updateErr != nil {
				log.Printf("[Job %s] Warning: Failed to update status to failed: %v", jobData.JobID, updateErr)
			}

			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		log.Printf("[Job %s] Processing failed after %v: %v", jobData.JobID, duration, err)

		failMeta := map[string]interface{}{
			"error":          err.Error(),
			"processingTime": duration.Milliseconds(),
		}
		var procErr *errors.ProcessingError
		if pe, ok := err.(*errors.ProcessingError); ok {
			procErr = pe
			failMeta["error_code"] = string(procErr.Code)
		}
		if updateErr := c.processor.UpdateJobStatus(ctx, jobData.JobID, "failed", failMeta); updateErr != nil {
			log.Printf("[Job %s] Warning: Failed to update status to failed: %v", jobData.JobID, updateErr)
		}

		return fmt.Errorf("scan processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed in %v: name=%t, dob=%t, id=%t, tokens=%d",
		jobData.JobID, duration, result.NameFound, result.DateOfBirthFound,
		result.IDNumberFound, result.TokensRecognized)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "completed", map[string]interface{}{
		"confidence":       result.Confidence,
		"processingTime":   duration.Milliseconds(),
		"tokensRecognized": result.TokensRecognized,
		"faceDetected":     result.FaceDetected,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", jobData.JobID, err)
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
