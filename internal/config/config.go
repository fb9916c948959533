// Package config centralizes how retom reads its settings: built-in defaults,
// an optional YAML file, then a .env file and RETOM_* environment variables.
// Later sources win.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration shared by the CLI, the HTTP server
// and the mirror worker.
type Config struct {
	DataDir        string
	Address        string
	MaxUploadSize  int64
	DevelopDelay   time.Duration
	RequireAdGate  bool
	JPEGQuality    int
	ThumbnailSize  int
	StampLayout    string
	SigningSecret  []byte
	SignedURLTTL   time.Duration
	ProcessingPool int
	SweepSchedule  string
	OrphanGrace    time.Duration
	LogLevel       string
	LogFormat      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	MirrorBucket string
}

const (
	defaultAddress       = ":8080"
	defaultMaxUploadSize = 25 << 20 // 25 MiB
	defaultJPEGQuality   = 90
	defaultThumbnailSize = 300
	defaultStampLayout   = "2006.01.02"
	defaultSignedTTL     = 5 * time.Minute
	defaultWorkerCount   = 2
	defaultSweepSchedule = "@every 1h"
	defaultOrphanGrace   = 10 * time.Minute
	defaultMirrorBucket  = "retom-photos"
	defaultS3Region      = "us-east-1"
)

// MinOrphanGrace is the shortest age at which an unreferenced image may be
// swept. A capture writes its file before the record is saved, so younger
// files can belong to a capture still in flight.
const MinOrphanGrace = time.Minute

// fileConfig mirrors Config for the YAML file. Durations are strings such as
// "90s" so the file stays readable.
type fileConfig struct {
	DataDir        string `yaml:"data_dir"`
	Address        string `yaml:"address"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	DevelopDelay   string `yaml:"develop_delay"`
	RequireAdGate  bool   `yaml:"require_ad_gate"`
	JPEGQuality    int    `yaml:"jpeg_quality"`
	ThumbnailSize  int    `yaml:"thumbnail_size"`
	StampLayout    string `yaml:"stamp_layout"`
	SigningSecret  string `yaml:"signing_secret"`
	SignedURLTTL   string `yaml:"signed_url_ttl"`
	Workers        int    `yaml:"workers"`
	SweepSchedule  string `yaml:"sweep_schedule"`
	OrphanGrace    string `yaml:"orphan_grace"`
	Log            struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	DatabaseURL string `yaml:"database_url"`
	Mirror      struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Region    string `yaml:"region"`
		UseSSL    bool   `yaml:"use_ssl"`
		Bucket    string `yaml:"bucket"`
	} `yaml:"mirror"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:        defaultDataDir(),
		Address:        defaultAddress,
		MaxUploadSize:  defaultMaxUploadSize,
		JPEGQuality:    defaultJPEGQuality,
		ThumbnailSize:  defaultThumbnailSize,
		StampLayout:    defaultStampLayout,
		SignedURLTTL:   defaultSignedTTL,
		ProcessingPool: defaultWorkerCount,
		SweepSchedule:  defaultSweepSchedule,
		OrphanGrace:    defaultOrphanGrace,
		LogLevel:       "info",
		LogFormat:      "text",
		S3Region:       defaultS3Region,
		MirrorBucket:   defaultMirrorBucket,
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	setString(&c.DataDir, fc.DataDir)
	setString(&c.Address, fc.Address)
	if fc.MaxUploadBytes > 0 {
		c.MaxUploadSize = fc.MaxUploadBytes
	}
	c.RequireAdGate = c.RequireAdGate || fc.RequireAdGate
	if fc.JPEGQuality > 0 {
		c.JPEGQuality = fc.JPEGQuality
	}
	if fc.ThumbnailSize > 0 {
		c.ThumbnailSize = fc.ThumbnailSize
	}
	setString(&c.StampLayout, fc.StampLayout)
	if fc.SigningSecret != "" {
		c.SigningSecret = []byte(fc.SigningSecret)
	}
	if fc.Workers > 0 {
		c.ProcessingPool = fc.Workers
	}
	setString(&c.SweepSchedule, fc.SweepSchedule)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setString(&c.RedisAddr, fc.Redis.Addr)
	setString(&c.RedisPassword, fc.Redis.Password)
	if fc.Redis.DB > 0 {
		c.RedisDB = fc.Redis.DB
	}
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.S3Endpoint, fc.Mirror.Endpoint)
	setString(&c.S3AccessKey, fc.Mirror.AccessKey)
	setString(&c.S3SecretKey, fc.Mirror.SecretKey)
	setString(&c.S3Region, fc.Mirror.Region)
	c.S3UseSSL = c.S3UseSSL || fc.Mirror.UseSSL
	setString(&c.MirrorBucket, fc.Mirror.Bucket)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"develop_delay", fc.DevelopDelay, &c.DevelopDelay},
		{"signed_url_ttl", fc.SignedURLTTL, &c.SignedURLTTL},
		{"orphan_grace", fc.OrphanGrace, &c.OrphanGrace},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DataDir = readEnv("RETOM_DATA_DIR", c.DataDir)
	c.Address = readEnv("RETOM_ADDRESS", c.Address)
	c.StampLayout = readEnv("RETOM_STAMP_LAYOUT", c.StampLayout)
	c.SweepSchedule = readEnv("RETOM_SWEEP_SCHEDULE", c.SweepSchedule)
	c.LogLevel = readEnv("RETOM_LOG_LEVEL", c.LogLevel)
	c.LogFormat = readEnv("RETOM_LOG_FORMAT", c.LogFormat)
	c.RedisAddr = readEnv("RETOM_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readEnv("RETOM_REDIS_PASSWORD", c.RedisPassword)
	c.DatabaseURL = readEnv("RETOM_DATABASE_URL", c.DatabaseURL)
	c.S3Endpoint = readEnv("RETOM_S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = readEnv("RETOM_S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = readEnv("RETOM_S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = readEnv("RETOM_S3_REGION", c.S3Region)
	c.MirrorBucket = readEnv("RETOM_MIRROR_BUCKET", c.MirrorBucket)
	if v, ok := lookupEnv("RETOM_SIGNING_SECRET"); ok {
		c.SigningSecret = []byte(v)
	}

	var err error
	if c.MaxUploadSize, err = parseInt64("RETOM_MAX_UPLOAD_BYTES", c.MaxUploadSize); err != nil {
		return err
	}
	if c.JPEGQuality, err = parseInt("RETOM_JPEG_QUALITY", c.JPEGQuality); err != nil {
		return err
	}
	if c.ThumbnailSize, err = parseInt("RETOM_THUMBNAIL_SIZE", c.ThumbnailSize); err != nil {
		return err
	}
	if c.ProcessingPool, err = parseInt("RETOM_WORKERS", c.ProcessingPool); err != nil {
		return err
	}
	if c.RedisDB, err = parseInt("RETOM_REDIS_DB", c.RedisDB); err != nil {
		return err
	}
	if c.DevelopDelay, err = parseDuration("RETOM_DEVELOP_DELAY", c.DevelopDelay); err != nil {
		return err
	}
	if c.SignedURLTTL, err = parseDuration("RETOM_SIGNED_TTL", c.SignedURLTTL); err != nil {
		return err
	}
	if c.OrphanGrace, err = parseDuration("RETOM_ORPHAN_GRACE", c.OrphanGrace); err != nil {
		return err
	}
	if c.RequireAdGate, err = parseBool("RETOM_REQUIRE_AD_GATE", c.RequireAdGate); err != nil {
		return err
	}
	if c.S3UseSSL, err = parseBool("RETOM_S3_USE_SSL", c.S3UseSSL); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.DevelopDelay < 0 {
		return fmt.Errorf("develop delay must be >= 0, got %s", c.DevelopDelay)
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = defaultMaxUploadSize
	}
	if c.ThumbnailSize <= 0 {
		c.ThumbnailSize = defaultThumbnailSize
	}
	if c.ProcessingPool <= 0 {
		c.ProcessingPool = defaultWorkerCount
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = defaultSignedTTL
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = defaultOrphanGrace
	} else if c.OrphanGrace < MinOrphanGrace {
		c.OrphanGrace = MinOrphanGrace
	}
	return nil
}

// MirrorEnabled reports whether enough settings exist to run the mirror
// pipeline (Redis for tasks and an S3 endpoint for uploads).
func (c *Config) MirrorEnabled() bool {
	return c.RedisAddr != "" && c.S3Endpoint != ""
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "retom")
	}
	return "retom-data"
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func readEnv(key, def string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return def
}

func parseInt64(key string, def int64) (int64, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func parseInt(key string, def int) (int, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func parseBool(key string, def bool) (bool, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
