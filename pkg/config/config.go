// Package config provides environment-based configuration for the release plane.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the release plane.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret    string
	JWTExpiry    time.Duration
	APIKeyHeader string

	// Server configuration
	APIPort int
	APIHost string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// PipelineFile is the path to the pipeline definition YAML.
	PipelineFile string

	// Trigger configuration
	Trigger TriggerConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Worker configuration
	Worker WorkerConfig

	// Artifact storage configuration
	Artifacts ArtifactConfig

	// Release publishing configuration
	Release ReleaseConfig

	// Age keys for encrypting release tokens at rest
	Age AgeConfig
}

// TriggerConfig holds webhook trigger configuration.
type TriggerConfig struct {
	// WebhookSecret is the shared secret for HMAC signature verification.
	WebhookSecret string
}

// SchedulerConfig holds scheduler-specific configuration.
type SchedulerConfig struct {
	ReconcileInterval time.Duration
	RunTimeout        time.Duration // Timeout for runs stuck in building
}

// WorkerConfig holds build worker-specific configuration.
type WorkerConfig struct {
	WorkDir        string
	BuildTimeout   time.Duration
	MaxConcurrency int
	// RepoURL is the git repository the worker clones sources from.
	RepoURL string
	// NDKHome is the android native toolchain root, empty if android
	// targets are not built on this worker.
	NDKHome string
}

// ArtifactConfig holds artifact storage configuration.
type ArtifactConfig struct {
	// Backend selects the blob backend: "fs" or "s3".
	Backend string
	// Root is the filesystem root for the fs backend.
	Root string
	// Retention is how long artifacts of unreleased runs are kept.
	Retention time.Duration
	// CleanupSchedule is a cron expression for the retention sweep.
	CleanupSchedule string

	// S3 backend settings.
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
}

// ReleaseConfig holds release publishing configuration.
type ReleaseConfig struct {
	// Owner/Repo identify the repository releases are published to.
	Owner string
	Repo  string
	// ChangelogPath is the changelog file read verbatim into release bodies.
	ChangelogPath string
	// SectionOnly extracts only the tagged version's changelog section
	// instead of the whole file.
	SectionOnly bool
	// APIBase overrides the release API base URL (for self-hosted forges).
	APIBase string
}

// AgeConfig holds age encryption keys for secrets at rest.
type AgeConfig struct {
	// PublicKey is the age recipient for encryption (required for API server).
	PublicKey string
	// PrivateKey is the age identity for decryption (required at publish time).
	PrivateKey string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Artifacts.Backend != "fs" && c.Artifacts.Backend != "s3" {
		return fmt.Errorf("ARTIFACT_BACKEND must be \"fs\" or \"s3\", got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "s3" && c.Artifacts.S3Bucket == "" {
		return fmt.Errorf("ARTIFACT_S3_BUCKET is required for the s3 backend")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-key-min-32-chars"
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/releaseplane?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIKeyHeader:    getEnv("API_KEY_HEADER", "X-API-Key"),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		PipelineFile:    getEnv("PIPELINE_FILE", "pipeline.yaml"),
		Trigger: TriggerConfig{
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			ReconcileInterval: getDurationEnv("SCHEDULER_RECONCILE_INTERVAL", 5*time.Second),
			RunTimeout:        getDurationEnv("SCHEDULER_RUN_TIMEOUT", 90*time.Minute),
		},
		Worker: WorkerConfig{
			WorkDir:        getEnv("WORKER_WORKDIR", "/tmp/release-plane-builds"),
			BuildTimeout:   getDurationEnv("BUILD_TIMEOUT", 45*time.Minute),
			MaxConcurrency: getIntEnv("WORKER_MAX_CONCURRENCY", 2),
			RepoURL:        getEnv("SOURCE_REPO_URL", ""),
			NDKHome:        getEnv("ANDROID_NDK_HOME", ""),
		},
		Artifacts: ArtifactConfig{
			Backend:         getEnv("ARTIFACT_BACKEND", "fs"),
			Root:            getEnv("ARTIFACT_ROOT", "/var/lib/release-plane/artifacts"),
			Retention:       getDurationEnv("ARTIFACT_RETENTION", 7*24*time.Hour),
			CleanupSchedule: getEnv("ARTIFACT_CLEANUP_SCHEDULE", "0 3 * * *"),
			S3Endpoint:      getEnv("ARTIFACT_S3_ENDPOINT", ""),
			S3Bucket:        getEnv("ARTIFACT_S3_BUCKET", ""),
			S3AccessKey:     getEnv("ARTIFACT_S3_ACCESS_KEY", ""),
			S3SecretKey:     getEnv("ARTIFACT_S3_SECRET_KEY", ""),
			S3UseSSL:        getBoolEnv("ARTIFACT_S3_USE_SSL", true),
		},
		Release: ReleaseConfig{
			Owner:         getEnv("RELEASE_OWNER", ""),
			Repo:          getEnv("RELEASE_REPO", ""),
			ChangelogPath: getEnv("RELEASE_CHANGELOG", "CHANGELOG.md"),
			SectionOnly:   getBoolEnv("RELEASE_SECTION_ONLY", false),
			APIBase:       getEnv("RELEASE_API_BASE", "https://api.github.com"),
		},
		Age: AgeConfig{
			PublicKey:  getEnv("AGE_PUBLIC_KEY", ""),
			PrivateKey: getEnv("AGE_PRIVATE_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
