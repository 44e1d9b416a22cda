package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Listen != ":6565" {
		t.Errorf("expected default listen :6565, got %s", cfg.Listen)
	}
	if cfg.Upload.DefaultChunks != 4 {
		t.Errorf("expected default chunk count 4, got %d", cfg.Upload.DefaultChunks)
	}
	if cfg.Archive.Workers != 4 {
		t.Errorf("expected default archive workers 4, got %d", cfg.Archive.Workers)
	}
	if cfg.Archive.ParallelThreshold != 20 {
		t.Errorf("expected default parallel threshold 20, got %d", cfg.Archive.ParallelThreshold)
	}
	if cfg.Archive.GraceDelay != 60*time.Second {
		t.Errorf("expected default grace delay 60s, got %v", cfg.Archive.GraceDelay)
	}
	if cfg.Client.Retry.Attempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Client.Retry.Attempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Errorf("default client config must validate: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
listen: "127.0.0.1:8080"
root: /srv/share
upload_dir: /srv/incoming
chunk_bucket: file:///var/lib/portal/chunks
max_chunk_size: 128MiB
upload:
  default_chunks: 8
  session_ttl: 2h
archive:
  workers: 8
  grace_delay: 5m
log:
  level: debug
  format: json
client:
  chunk_size: 512MiB
  retry:
    attempts: 10
    backoff: 2s
    max_backoff: 60s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("expected listen 127.0.0.1:8080, got %s", cfg.Listen)
	}
	if cfg.Root != "/srv/share" || cfg.UploadDir != "/srv/incoming" {
		t.Errorf("unexpected dirs %s, %s", cfg.Root, cfg.UploadDir)
	}
	if cfg.ChunkBucket != "file:///var/lib/portal/chunks" {
		t.Errorf("unexpected chunk bucket %s", cfg.ChunkBucket)
	}
	if cfg.MaxChunkSize != 128*1024*1024 {
		t.Errorf("expected max chunk size 128MiB, got %d", cfg.MaxChunkSize)
	}
	if cfg.Upload.DefaultChunks != 8 {
		t.Errorf("expected default chunks 8, got %d", cfg.Upload.DefaultChunks)
	}
	if cfg.Upload.MaxChunks != 10000 {
		t.Errorf("expected max chunks preserved, got %d", cfg.Upload.MaxChunks)
	}
	if cfg.Upload.SessionTTL != 2*time.Hour {
		t.Errorf("expected session ttl 2h, got %v", cfg.Upload.SessionTTL)
	}
	if cfg.Upload.SweepInterval != time.Minute {
		t.Errorf("expected sweep interval preserved, got %v", cfg.Upload.SweepInterval)
	}
	if cfg.Archive.Workers != 8 || cfg.Archive.GraceDelay != 5*time.Minute {
		t.Errorf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Archive.ParallelThreshold != 20 {
		t.Errorf("expected parallel threshold preserved, got %d", cfg.Archive.ParallelThreshold)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Client.ChunkSize != 512*1024*1024 {
		t.Errorf("expected client chunk size 512MiB, got %d", cfg.Client.ChunkSize)
	}
	if cfg.Client.Retry.Attempts != 10 {
		t.Errorf("expected retry attempts 10, got %d", cfg.Client.Retry.Attempts)
	}
	if cfg.Client.Retry.Backoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %v", cfg.Client.Retry.Backoff)
	}
	if cfg.Client.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("expected retry max backoff 60s, got %v", cfg.Client.Retry.MaxBackoff)
	}
}

func TestLoadFromYAMLBadValues(t *testing.T) {
	for name, content := range map[string]string{
		"size":     "max_chunk_size: lots\n",
		"duration": "upload:\n  session_ttl: forever\n",
		"retry":    "client:\n  retry:\n    backoff: 5\n",
	} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
				t.Fatalf("write config file: %v", err)
			}
			if _, err := LoadFromFile(configPath); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORTAL_LISTEN", ":9000")
	t.Setenv("PORTAL_ROOT", "/data")
	t.Setenv("PORTAL_CHUNK_BUCKET", "mem://")
	t.Setenv("PORTAL_MAX_CHUNK_SIZE", "1GiB")
	t.Setenv("PORTAL_UPLOAD_MAX_CHUNKS", "64")
	t.Setenv("PORTAL_UPLOAD_SESSION_TTL", "15m")
	t.Setenv("PORTAL_ARCHIVE_WORKERS", "2")
	t.Setenv("PORTAL_ARCHIVE_GRACE_DELAY", "10s")
	t.Setenv("PORTAL_LOG_LEVEL", "warn")
	t.Setenv("PORTAL_SERVER", "http://portal:6565")
	t.Setenv("PORTAL_RETRY_ATTEMPTS", "3")
	t.Setenv("PORTAL_RETRY_BACKOFF", "500ms")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Listen != ":9000" || cfg.Root != "/data" || cfg.ChunkBucket != "mem://" {
		t.Errorf("unexpected strings %s %s %s", cfg.Listen, cfg.Root, cfg.ChunkBucket)
	}
	if cfg.MaxChunkSize != 1024*1024*1024 {
		t.Errorf("expected max chunk size 1GiB, got %d", cfg.MaxChunkSize)
	}
	if cfg.Upload.MaxChunks != 64 {
		t.Errorf("expected max chunks 64, got %d", cfg.Upload.MaxChunks)
	}
	if cfg.Upload.SessionTTL != 15*time.Minute {
		t.Errorf("expected session ttl 15m, got %v", cfg.Upload.SessionTTL)
	}
	if cfg.Archive.Workers != 2 || cfg.Archive.GraceDelay != 10*time.Second {
		t.Errorf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
	if cfg.Client.Server != "http://portal:6565" {
		t.Errorf("unexpected server %s", cfg.Client.Server)
	}
	if cfg.Client.Retry.Attempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.Client.Retry.Attempts)
	}
	if cfg.Client.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Client.Retry.Backoff)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("PORTAL_ARCHIVE_WORKERS", "many")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for invalid PORTAL_ARCHIVE_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing listen", mutate: func(c *Config) { c.Listen = "" }, wantErr: true},
		{name: "missing root", mutate: func(c *Config) { c.Root = "" }, wantErr: true},
		{name: "missing upload dir", mutate: func(c *Config) { c.UploadDir = "" }, wantErr: true},
		{name: "invalid max chunk size", mutate: func(c *Config) { c.MaxChunkSize = 0 }, wantErr: true},
		{name: "default above max chunks", mutate: func(c *Config) { c.Upload.MaxChunks = 2 }, wantErr: true},
		{name: "negative ttl", mutate: func(c *Config) { c.Upload.SessionTTL = -time.Second }, wantErr: true},
		{name: "zero ttl disables expiry", mutate: func(c *Config) { c.Upload.SessionTTL = 0 }},
		{name: "invalid archive workers", mutate: func(c *Config) { c.Archive.Workers = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateClient(t *testing.T) {
	cfg := Default()
	cfg.Client.Server = ""
	if err := cfg.ValidateClient(); err == nil {
		t.Error("expected error for missing server")
	}

	cfg = Default()
	cfg.Client.ChunkSize = 0
	if err := cfg.ValidateClient(); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Root = "/srv"
	base.ChunkBucket = "mem://"

	override := Config{
		Archive: ArchiveConfig{Workers: 16},
		// Leave other fields at zero values
	}

	merged := base.Merge(override)

	// Should keep base values for non-overridden fields
	if merged.Root != "/srv" {
		t.Errorf("expected Root preserved, got %s", merged.Root)
	}
	if merged.ChunkBucket != "mem://" {
		t.Errorf("expected ChunkBucket preserved, got %s", merged.ChunkBucket)
	}
	if merged.Archive.GraceDelay != 60*time.Second {
		t.Errorf("expected GraceDelay preserved, got %v", merged.Archive.GraceDelay)
	}

	// Should use override values
	if merged.Archive.Workers != 16 {
		t.Errorf("expected Workers overridden to 16, got %d", merged.Archive.Workers)
	}
}

func TestLoadYAMLFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
