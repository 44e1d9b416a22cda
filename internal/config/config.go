package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/portal/internal/progress"
)

// Config defines configuration for the portal server and CLI.
type Config struct {
	Listen       string        `yaml:"listen"`
	Root         string        `yaml:"root"`
	UploadDir    string        `yaml:"upload_dir"`
	ScratchDir   string        `yaml:"scratch_dir"`
	ChunkBucket  string        `yaml:"chunk_bucket"`
	MaxChunkSize int64         `yaml:"max_chunk_size"`
	Upload       UploadConfig  `yaml:"upload"`
	Archive      ArchiveConfig `yaml:"archive"`
	Log          LogConfig     `yaml:"log"`
	Client       ClientConfig  `yaml:"client"`
}

// UploadConfig defines upload session behavior.
type UploadConfig struct {
	DefaultChunks int           `yaml:"default_chunks"`
	MaxChunks     int           `yaml:"max_chunks"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ArchiveConfig defines directory archive behavior.
type ArchiveConfig struct {
	Workers           int           `yaml:"workers"`
	ParallelThreshold int           `yaml:"parallel_threshold"`
	GraceDelay        time.Duration `yaml:"grace_delay"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// ClientConfig defines how the CLI talks to a server.
type ClientConfig struct {
	Server    string      `yaml:"server"`
	Workers   int         `yaml:"workers"`
	ChunkSize int64       `yaml:"chunk_size"`
	Retry     RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:       ":6565",
		Root:         ".",
		UploadDir:    "uploads",
		ScratchDir:   os.TempDir(),
		MaxChunkSize: 256 * 1024 * 1024, // 256MiB
		Upload: UploadConfig{
			DefaultChunks: 4,
			MaxChunks:     10000,
			SessionTTL:    time.Hour,
			SweepInterval: time.Minute,
		},
		Archive: ArchiveConfig{
			Workers:           4,
			ParallelThreshold: 20,
			GraceDelay:        60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Client: ClientConfig{
			Server:    "http://localhost:6565",
			Workers:   4,
			ChunkSize: 64 * 1024 * 1024, // 64MiB
			Retry: RetryConfig{
				Attempts:   5,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Listen       string `yaml:"listen"`
	Root         string `yaml:"root"`
	UploadDir    string `yaml:"upload_dir"`
	ScratchDir   string `yaml:"scratch_dir"`
	ChunkBucket  string `yaml:"chunk_bucket"`
	MaxChunkSize string `yaml:"max_chunk_size"`
	Upload       struct {
		DefaultChunks int    `yaml:"default_chunks"`
		MaxChunks     int    `yaml:"max_chunks"`
		SessionTTL    string `yaml:"session_ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"upload"`
	Archive struct {
		Workers           int    `yaml:"workers"`
		ParallelThreshold int    `yaml:"parallel_threshold"`
		GraceDelay        string `yaml:"grace_delay"`
	} `yaml:"archive"`
	Log    LogConfig `yaml:"log"`
	Client struct {
		Server    string `yaml:"server"`
		Workers   int    `yaml:"workers"`
		ChunkSize string `yaml:"chunk_size"`
		Retry     struct {
			Attempts   int    `yaml:"attempts"`
			Backoff    string `yaml:"backoff"`
			MaxBackoff string `yaml:"max_backoff"`
		} `yaml:"retry"`
	} `yaml:"client"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	var over Config
	over.Listen = yc.Listen
	over.Root = yc.Root
	over.UploadDir = yc.UploadDir
	over.ScratchDir = yc.ScratchDir
	over.ChunkBucket = yc.ChunkBucket
	over.Upload.DefaultChunks = yc.Upload.DefaultChunks
	over.Upload.MaxChunks = yc.Upload.MaxChunks
	over.Archive.Workers = yc.Archive.Workers
	over.Archive.ParallelThreshold = yc.Archive.ParallelThreshold
	over.Log = yc.Log
	over.Client.Server = yc.Client.Server
	over.Client.Workers = yc.Client.Workers
	over.Client.Retry.Attempts = yc.Client.Retry.Attempts

	p := parser{}
	p.size("max_chunk_size", yc.MaxChunkSize, &over.MaxChunkSize)
	p.size("client.chunk_size", yc.Client.ChunkSize, &over.Client.ChunkSize)
	p.duration("upload.session_ttl", yc.Upload.SessionTTL, &over.Upload.SessionTTL)
	p.duration("upload.sweep_interval", yc.Upload.SweepInterval, &over.Upload.SweepInterval)
	p.duration("archive.grace_delay", yc.Archive.GraceDelay, &over.Archive.GraceDelay)
	p.duration("client.retry.backoff", yc.Client.Retry.Backoff, &over.Client.Retry.Backoff)
	p.duration("client.retry.max_backoff", yc.Client.Retry.MaxBackoff, &over.Client.Retry.MaxBackoff)
	if p.err != nil {
		return Config{}, p.err
	}

	return Default().Merge(over), nil
}

// parser collects the first error of a series of conversions.
type parser struct {
	err error
}

func (p *parser) size(name, v string, dst *int64) {
	if p.err != nil || v == "" {
		return
	}
	n, err := progress.ParseBytes(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = n
}

func (p *parser) duration(name, v string, dst *time.Duration) {
	if p.err != nil || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = d
}

func (p *parser) integer(name, v string, dst *int) {
	if p.err != nil || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = n
}

func (p *parser) str(v string, dst *string) {
	if v != "" {
		*dst = v
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PORTAL_ prefix.
func (c *Config) LoadFromEnv() error {
	p := parser{}
	p.str(os.Getenv("PORTAL_LISTEN"), &c.Listen)
	p.str(os.Getenv("PORTAL_ROOT"), &c.Root)
	p.str(os.Getenv("PORTAL_UPLOAD_DIR"), &c.UploadDir)
	p.str(os.Getenv("PORTAL_SCRATCH_DIR"), &c.ScratchDir)
	p.str(os.Getenv("PORTAL_CHUNK_BUCKET"), &c.ChunkBucket)
	p.size("PORTAL_MAX_CHUNK_SIZE", os.Getenv("PORTAL_MAX_CHUNK_SIZE"), &c.MaxChunkSize)
	p.integer("PORTAL_UPLOAD_DEFAULT_CHUNKS", os.Getenv("PORTAL_UPLOAD_DEFAULT_CHUNKS"), &c.Upload.DefaultChunks)
	p.integer("PORTAL_UPLOAD_MAX_CHUNKS", os.Getenv("PORTAL_UPLOAD_MAX_CHUNKS"), &c.Upload.MaxChunks)
	p.duration("PORTAL_UPLOAD_SESSION_TTL", os.Getenv("PORTAL_UPLOAD_SESSION_TTL"), &c.Upload.SessionTTL)
	p.duration("PORTAL_UPLOAD_SWEEP_INTERVAL", os.Getenv("PORTAL_UPLOAD_SWEEP_INTERVAL"), &c.Upload.SweepInterval)
	p.integer("PORTAL_ARCHIVE_WORKERS", os.Getenv("PORTAL_ARCHIVE_WORKERS"), &c.Archive.Workers)
	p.integer("PORTAL_ARCHIVE_PARALLEL_THRESHOLD", os.Getenv("PORTAL_ARCHIVE_PARALLEL_THRESHOLD"), &c.Archive.ParallelThreshold)
	p.duration("PORTAL_ARCHIVE_GRACE_DELAY", os.Getenv("PORTAL_ARCHIVE_GRACE_DELAY"), &c.Archive.GraceDelay)
	p.str(os.Getenv("PORTAL_LOG_LEVEL"), &c.Log.Level)
	p.str(os.Getenv("PORTAL_LOG_FORMAT"), &c.Log.Format)
	p.str(os.Getenv("PORTAL_SERVER"), &c.Client.Server)
	p.integer("PORTAL_CLIENT_WORKERS", os.Getenv("PORTAL_CLIENT_WORKERS"), &c.Client.Workers)
	p.size("PORTAL_CLIENT_CHUNK_SIZE", os.Getenv("PORTAL_CLIENT_CHUNK_SIZE"), &c.Client.ChunkSize)
	p.integer("PORTAL_RETRY_ATTEMPTS", os.Getenv("PORTAL_RETRY_ATTEMPTS"), &c.Client.Retry.Attempts)
	p.duration("PORTAL_RETRY_BACKOFF", os.Getenv("PORTAL_RETRY_BACKOFF"), &c.Client.Retry.Backoff)
	p.duration("PORTAL_RETRY_MAX_BACKOFF", os.Getenv("PORTAL_RETRY_MAX_BACKOFF"), &c.Client.Retry.MaxBackoff)
	return p.err
}

// Validate validates the server configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.Root == "" {
		return errors.New("config: root is required")
	}
	if c.UploadDir == "" {
		return errors.New("config: upload_dir is required")
	}
	if c.ScratchDir == "" {
		return errors.New("config: scratch_dir is required")
	}
	if c.MaxChunkSize <= 0 {
		return errors.New("config: max_chunk_size must be positive")
	}
	if c.Upload.DefaultChunks <= 0 || c.Upload.MaxChunks < c.Upload.DefaultChunks {
		return errors.New("config: upload.default_chunks must be positive and at most upload.max_chunks")
	}
	if c.Upload.SessionTTL < 0 || c.Upload.SweepInterval < 0 {
		return errors.New("config: upload durations must not be negative")
	}
	if c.Archive.Workers <= 0 {
		return errors.New("config: archive.workers must be positive")
	}
	if c.Archive.ParallelThreshold < 0 {
		return errors.New("config: archive.parallel_threshold must not be negative")
	}
	if c.Archive.GraceDelay < 0 {
		return errors.New("config: archive.grace_delay must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateClient validates the settings used by the CLI client commands.
func (c *Config) ValidateClient() error {
	if c.Client.Server == "" {
		return errors.New("config: client.server is required")
	}
	if c.Client.Workers <= 0 {
		return errors.New("config: client.workers must be positive")
	}
	if c.Client.ChunkSize <= 0 {
		return errors.New("config: client.chunk_size must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Listen != "" {
		c.Listen = override.Listen
	}
	if override.Root != "" {
		c.Root = override.Root
	}
	if override.UploadDir != "" {
		c.UploadDir = override.UploadDir
	}
	if override.ScratchDir != "" {
		c.ScratchDir = override.ScratchDir
	}
	if override.ChunkBucket != "" {
		c.ChunkBucket = override.ChunkBucket
	}
	if override.MaxChunkSize != 0 {
		c.MaxChunkSize = override.MaxChunkSize
	}
	if override.Upload.DefaultChunks != 0 {
		c.Upload.DefaultChunks = override.Upload.DefaultChunks
	}
	if override.Upload.MaxChunks != 0 {
		c.Upload.MaxChunks = override.Upload.MaxChunks
	}
	if override.Upload.SessionTTL != 0 {
		c.Upload.SessionTTL = override.Upload.SessionTTL
	}
	if override.Upload.SweepInterval != 0 {
		c.Upload.SweepInterval = override.Upload.SweepInterval
	}
	if override.Archive.Workers != 0 {
		c.Archive.Workers = override.Archive.Workers
	}
	if override.Archive.ParallelThreshold != 0 {
		c.Archive.ParallelThreshold = override.Archive.ParallelThreshold
	}
	if override.Archive.GraceDelay != 0 {
		c.Archive.GraceDelay = override.Archive.GraceDelay
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Client.Server != "" {
		c.Client.Server = override.Client.Server
	}
	if override.Client.Workers != 0 {
		c.Client.Workers = override.Client.Workers
	}
	if override.Client.ChunkSize != 0 {
		c.Client.ChunkSize = override.Client.ChunkSize
	}
	if override.Client.Retry.Attempts != 0 {
		c.Client.Retry.Attempts = override.Client.Retry.Attempts
	}
	if override.Client.Retry.Backoff != 0 {
		c.Client.Retry.Backoff = override.Client.Retry.Backoff
	}
	if override.Client.Retry.MaxBackoff != 0 {
		c.Client.Retry.MaxBackoff = override.Client.Retry.MaxBackoff
	}
	return c
}
