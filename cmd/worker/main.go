/**
 * IDScan Worker - Main Entry Point
 *
 * Go worker for ID card field extraction.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed scan job queue
 * - Tesseract OCR (Arabic + English) producing positioned text lines
 * - Three-pass field extraction: label proximity, regex fallback,
 *   positional name heuristic
 * - Face crop via external detection service (best effort)
 * - PostgreSQL persistence, Redis result cache keyed by image digest
 * - HTTP upload surface for submitting scans and polling results
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veridoc/idscan-worker/internal/config"
	"github.com/veridoc/idscan-worker/internal/extract"
	"github.com/veridoc/idscan-worker/internal/processor"
	"github.com/veridoc/idscan-worker/internal/queue"
	"github.com/veridoc/idscan-worker/internal/server"
	"github.com/veridoc/idscan-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("IDScan Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PostgreSQL=%s, Workers=%d",
		cfg.RedisURL, cfg.DatabaseURL, cfg.WorkerConcurrency)

	// Initialize unified storage manager (PostgreSQL + Redis cache)
	log.Printf("Connecting to storage (PostgreSQL + Redis)...")
	storageManager, err := storage.NewManager(
		cfg.DatabaseURL,
		cfg.RedisURL,
		time.Duration(cfg.CacheTTLSeconds)*time.Second,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	defer storageManager.Close()
	log.Printf("Storage manager initialized (PostgreSQL + Redis)")

	// Initialize card processor
	log.Printf("Initializing card processor...")
	proc, err := processor.NewCardProcessor(&processor.ProcessorConfig{
		Languages:     cfg.OCRLanguages,
		UploadDir:     cfg.UploadDir,
		MaxFileSize:   cfg.MaxFileSize,
		FaceDetectURL: cfg.FaceDetectURL,
		Vocabulary:    extract.OmaniCard(),
		Patterns:      extract.OmaniPatterns(),
		Store:         storageManager,
	})
	if err != nil {
		log.Fatalf("Failed to initialize card processor: %v", err)
	}
	log.Printf("Card processor initialized (languages=%v)", cfg.OCRLanguages)

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         "idscan:jobs",
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}
	log.Printf("Queue consumer initialized with concurrency=%d", cfg.WorkerConcurrency)

	// Start queue consumer
	if err := queueConsumer.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}
	log.Printf("Queue consumer started successfully")

	// Start HTTP upload surface
	httpServer, err := server.NewServer(&server.Config{
		Addr:        cfg.HTTPAddr,
		UploadDir:   cfg.UploadDir,
		MaxFileSize: cfg.MaxFileSize,
		QueueName:   "idscan:jobs",
	}, storageManager, queueConsumer.Client())
	if err != nil {
		log.Fatalf("Failed to initialize HTTP server: %v", err)
	}
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("IDScan Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: idscan:jobs")
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("HTTP: %s", cfg.HTTPAddr)
	log.Printf("OCR Languages: %v", cfg.OCRLanguages)
	log.Printf("Upload Dir: %s", cfg.UploadDir)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop HTTP server first so no new jobs arrive
	log.Printf("Stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Printf("HTTP server stopped")
	}

	// Stop queue consumer
	if err := queueConsumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	// Close storage manager
	log.Printf("Closing storage manager...")
	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}
