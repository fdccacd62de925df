// Package config loads the parlor configuration file: scheduler tuning,
// participant definitions, history backend and observability settings.
// Delay and window values are plain integers in milliseconds, matching the
// knobs the scheduler exposes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parlor-dev/parlor/pkg/responder"
)

// Config is the top-level configuration.
type Config struct {
	// Room is the default room the CLI posts into.
	Room string `yaml:"room,omitempty"`

	// Scheduler tunes the scheduling core. Zero fields take defaults.
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// Participants are the configured responders.
	Participants []responder.Def `yaml:"participants"`

	// History selects the transcript persistence backend.
	History HistoryConfig `yaml:"history,omitempty"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// SchedulerConfig mirrors the scheduler's tuning knobs. All values are
// non-negative integers, milliseconds unless noted.
type SchedulerConfig struct {
	// MaxMessages bounds the per-room context log (count, not ms).
	MaxMessages int `yaml:"maxMessages,omitempty"`
	// MaxAIMessages is the per-room agent message budget (count).
	MaxAIMessages int `yaml:"maxAIMessages,omitempty"`
	// MaxConcurrentResponses caps in-flight generations (count).
	MaxConcurrentResponses int `yaml:"maxConcurrentResponses,omitempty"`
	// MinResponders and MaxResponders bound selection size (count).
	MinResponders int `yaml:"minResponders,omitempty"`
	MaxResponders int `yaml:"maxResponders,omitempty"`
	// InitConcurrency caps simultaneous participant startups (count).
	InitConcurrency int `yaml:"initConcurrency,omitempty"`

	InstantReplyMin      int `yaml:"instantReplyMin,omitempty"`
	InstantReplyMax      int `yaml:"instantReplyMax,omitempty"`
	MinUserResponseDelay int `yaml:"minUserResponseDelay,omitempty"`
	MaxUserResponseDelay int `yaml:"maxUserResponseDelay,omitempty"`
	MinBackgroundDelay   int `yaml:"minBackgroundDelay,omitempty"`
	MaxBackgroundDelay   int `yaml:"maxBackgroundDelay,omitempty"`
	MinDelayBetweenAI    int `yaml:"minDelayBetweenAI,omitempty"`
	MaxDelayBetweenAI    int `yaml:"maxDelayBetweenAI,omitempty"`
	BackgroundCheckMin   int `yaml:"backgroundCheckMin,omitempty"`
	BackgroundCheckMax   int `yaml:"backgroundCheckMax,omitempty"`
	SilenceWindow        int `yaml:"silenceWindow,omitempty"`
	ResponderCooldown    int `yaml:"responderCooldown,omitempty"`
	CleanupInterval      int `yaml:"cleanupInterval,omitempty"`
	CleanupMaxAge        int `yaml:"cleanupMaxAge,omitempty"`
}

// HistoryConfig selects and tunes the transcript store.
type HistoryConfig struct {
	// Backend is "memory", "redis" or "firestore". Empty means memory.
	Backend string `yaml:"backend,omitempty"`
	// MaxEntries bounds per-room retention for memory and redis.
	MaxEntries int `yaml:"maxEntries,omitempty"`
	// TTL expires idle transcripts where the backend supports it
	// (milliseconds, 0 = keep).
	TTL int `yaml:"ttl,omitempty"`

	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
}

// RedisConfig holds Redis connection settings for the history store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	PoolSize int    `yaml:"poolSize,omitempty"`
}

// FirestoreConfig holds Firestore settings for the transcript archive.
type FirestoreConfig struct {
	ProjectID        string `yaml:"project,omitempty"`
	CredentialsFile  string `yaml:"credentials,omitempty"`
	CollectionPrefix string `yaml:"collectionPrefix,omitempty"`
}

// ObservabilityConfig configures the metrics endpoint and tracing.
type ObservabilityConfig struct {
	// MetricsPort serves /metrics and the health endpoints when > 0.
	MetricsPort int `yaml:"metricsPort,omitempty"`
	// TracingExporter is "otlp", "stdout" or "none" (default none).
	TracingExporter string `yaml:"tracingExporter,omitempty"`
	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
}

// Load reads and parses a YAML config file, applying environment fallbacks
// for connection settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Room == "" {
		cfg.Room = "lobby"
	}
	if cfg.History.Redis.Addr == "" {
		cfg.History.Redis.Addr = os.Getenv("PARLOR_REDIS_ADDR")
	}
	if cfg.History.Firestore.ProjectID == "" {
		cfg.History.Firestore.ProjectID = os.Getenv("GCP_PROJECT")
	}
	if cfg.History.Firestore.CredentialsFile == "" {
		cfg.History.Firestore.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the parts the scheduler cannot check itself: participant
// definitions and backend selection. Scheduler tuning is validated again,
// after defaulting, at scheduler construction.
func (c *Config) Validate() error {
	if len(c.Participants) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	for i := range c.Participants {
		if err := c.Participants[i].Validate(); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
	}

	switch c.History.Backend {
	case "", "memory":
	case "redis":
		if c.History.Redis.Addr == "" {
			return fmt.Errorf("history backend redis: addr is required (or set PARLOR_REDIS_ADDR)")
		}
	case "firestore":
		if c.History.Firestore.ProjectID == "" {
			return fmt.Errorf("history backend firestore: project is required (or set GCP_PROJECT)")
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history maxEntries must not be negative, got %d", c.History.MaxEntries)
	}
	if c.History.TTL < 0 {
		return fmt.Errorf("history ttl must not be negative, got %d", c.History.TTL)
	}

	fields := []struct {
		name string
		v    int
	}{
		{"maxMessages", c.Scheduler.MaxMessages},
		{"maxAIMessages", c.Scheduler.MaxAIMessages},
		{"maxConcurrentResponses", c.Scheduler.MaxConcurrentResponses},
		{"minResponders", c.Scheduler.MinResponders},
		{"maxResponders", c.Scheduler.MaxResponders},
		{"initConcurrency", c.Scheduler.InitConcurrency},
		{"instantReplyMin", c.Scheduler.InstantReplyMin},
		{"instantReplyMax", c.Scheduler.InstantReplyMax},
		{"minUserResponseDelay", c.Scheduler.MinUserResponseDelay},
		{"maxUserResponseDelay", c.Scheduler.MaxUserResponseDelay},
		{"minBackgroundDelay", c.Scheduler.MinBackgroundDelay},
		{"maxBackgroundDelay", c.Scheduler.MaxBackgroundDelay},
		{"minDelayBetweenAI", c.Scheduler.MinDelayBetweenAI},
		{"maxDelayBetweenAI", c.Scheduler.MaxDelayBetweenAI},
		{"backgroundCheckMin", c.Scheduler.BackgroundCheckMin},
		{"backgroundCheckMax", c.Scheduler.BackgroundCheckMax},
		{"silenceWindow", c.Scheduler.SilenceWindow},
		{"responderCooldown", c.Scheduler.ResponderCooldown},
		{"cleanupInterval", c.Scheduler.CleanupInterval},
		{"cleanupMaxAge", c.Scheduler.CleanupMaxAge},
	}
	for _, f := range fields {
		if f.v < 0 {
			return fmt.Errorf("scheduler %s must not be negative, got %d", f.name, f.v)
		}
	}

	pairs := []struct {
		name     string
		min, max int
	}{
		{"userResponseDelay", c.Scheduler.MinUserResponseDelay, c.Scheduler.MaxUserResponseDelay},
		{"backgroundDelay", c.Scheduler.MinBackgroundDelay, c.Scheduler.MaxBackgroundDelay},
		{"delayBetweenAI", c.Scheduler.MinDelayBetweenAI, c.Scheduler.MaxDelayBetweenAI},
		{"instantReply", c.Scheduler.InstantReplyMin, c.Scheduler.InstantReplyMax},
		{"backgroundCheck", c.Scheduler.BackgroundCheckMin, c.Scheduler.BackgroundCheckMax},
		{"responders", c.Scheduler.MinResponders, c.Scheduler.MaxResponders},
	}
	for _, p := range pairs {
		if p.max != 0 && p.max < p.min {
			return fmt.Errorf("scheduler %s: max %d below min %d", p.name, p.max, p.min)
		}
	}

	switch c.Observability.TracingExporter {
	case "", "none", "otlp", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Observability.TracingExporter)
	}
	if c.Observability.MetricsPort < 0 || c.Observability.MetricsPort > 65535 {
		return fmt.Errorf("metricsPort out of range: %d", c.Observability.MetricsPort)
	}

	return nil
}

// Millis converts a milliseconds knob to a Duration.
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
