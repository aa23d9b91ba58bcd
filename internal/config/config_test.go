package config

import (
	"reflect"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/idscan")
	// Empty values read as unset, shielding the test from ambient env.
	for _, key := range []string{
		"REDIS_URL", "HTTP_ADDR", "UPLOAD_DIR", "FACEDETECT_URL",
		"WORKER_CONCURRENCY", "MAX_FILE_SIZE", "PROCESSING_TIMEOUT",
		"OCR_LANGUAGES", "TESSERACT_PATH", "CACHE_TTL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.HTTPAddr != ":8085" {
		t.Errorf("HTTPAddr = %s", cfg.HTTPAddr)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.MaxFileSize != 16777216 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.ProcessingTimeout != 60000 {
		t.Errorf("ProcessingTimeout = %d", cfg.ProcessingTimeout)
	}
	if !reflect.DeepEqual(cfg.OCRLanguages, []string{"ara", "eng"}) {
		t.Errorf("OCRLanguages = %v", cfg.OCRLanguages)
	}
	if cfg.CacheTTLSeconds != 3600 {
		t.Errorf("CacheTTLSeconds = %d", cfg.CacheTTLSeconds)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/idscan")
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("OCR_LANGUAGES", "ara, eng ,fra")
	t.Setenv("MAX_FILE_SIZE", "2048")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.RedisURL != "redis://cache:6380" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if !reflect.DeepEqual(cfg.OCRLanguages, []string{"ara", "eng", "fra"}) {
		t.Errorf("OCRLanguages = %v (whitespace should be trimmed)", cfg.OCRLanguages)
	}
	if cfg.MaxFileSize != 2048 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
}

func TestLoadConfigInvalidIntFallsBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/idscan")
	t.Setenv("WORKER_CONCURRENCY", "lots")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("WorkerConcurrency = %d, want default 4", cfg.WorkerConcurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:          "redis://localhost:6379",
			DatabaseURL:       "postgres://localhost/idscan",
			WorkerConcurrency: 4,
			MaxFileSize:       16777216,
			OCRLanguages:      []string{"ara", "eng"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing redis", func(c *Config) { c.RedisURL = "" }, true},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, true},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, true},
		{"excessive concurrency", func(c *Config) { c.WorkerConcurrency = 128 }, true},
		{"file size too small", func(c *Config) { c.MaxFileSize = 512 }, true},
		{"file size too large", func(c *Config) { c.MaxFileSize = 1 << 30 }, true},
		{"no languages", func(c *Config) { c.OCRLanguages = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}
