package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Log        LogConfig        `yaml:"log"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Search     SearchConfig     `yaml:"search"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Compaction CompactionConfig `yaml:"compaction"`
	Causal     CausalConfig     `yaml:"causal"`
	Backup     BackupConfig     `yaml:"backup"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	APIKey          string   `yaml:"-"` // env-only, never in YAML
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig contains Unix socket gateway settings.
type GatewayConfig struct {
	SocketPath    string   `yaml:"socket_path"`
	ReadDeadline  Duration `yaml:"read_deadline"`
	WatchdogCheck Duration `yaml:"watchdog_check"`
	RebindBackoff Duration `yaml:"rebind_backoff"`
	RebindRetries int      `yaml:"rebind_retries"`
}

// DatabaseConfig contains storage paths.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	TagIndexPath  string `yaml:"tag_index_path"`
	QueuePath     string `yaml:"queue_path"`
	TimestampPath string `yaml:"timestamp_path"`
}

// EmbeddingConfig contains embedding service settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"-"` // env-only, never in YAML
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DedupConfig contains semantic deduplication thresholds.
// Thresholds are cosine distances: smaller means more similar.
type DedupConfig struct {
	HardThreshold float64 `yaml:"hard_threshold"`
	SoftThreshold float64 `yaml:"soft_threshold"`
	FixThreshold  float64 `yaml:"fix_threshold"`
}

// SearchConfig contains retrieval and ranking settings.
type SearchConfig struct {
	DefaultTopK          int      `yaml:"default_top_k"`
	MaxTopK              int      `yaml:"max_top_k"`
	MinDistanceThreshold float64  `yaml:"min_distance_threshold"`
	MaxDistanceThreshold float64  `yaml:"max_distance_threshold"`
	RRFConstant          int      `yaml:"rrf_constant"`
	RecencyWeight        float64  `yaml:"recency_weight"`
	KeywordOverlapWeight float64  `yaml:"keyword_overlap_weight"`
	CacheTTL             Duration `yaml:"cache_ttl"`
	CoOccurrenceMinShare float64  `yaml:"co_occurrence_min_share"`
}

// IngestConfig contains write-path filter settings.
type IngestConfig struct {
	MinContentLength  int `yaml:"min_content_length"`
	NoiseLengthExempt int `yaml:"noise_length_exempt"`
	MaxCitationURLs   int `yaml:"max_citation_urls"`
	PreviewLength     int `yaml:"preview_length"`
}

// CompactionConfig contains background compaction settings.
type CompactionConfig struct {
	Interval            Duration `yaml:"interval"`
	ObservationTTL      Duration `yaml:"observation_ttl"`
	MaxObservations     int      `yaml:"max_observations"`
	EvictionBuffer      int      `yaml:"eviction_buffer"`
	MaxPromotions       int      `yaml:"max_promotions"`
	ChurnSessionMin     int      `yaml:"churn_session_min"`
	RepeatedCommandMin  int      `yaml:"repeated_command_min"`
}

// CausalConfig contains fix outcome tracking settings.
type CausalConfig struct {
	BanMinAttempts   int      `yaml:"ban_min_attempts"`
	BanConfidence    float64  `yaml:"ban_confidence"`
	RecommendedFloor float64  `yaml:"recommended_floor"`
	DecayHalfLife    Duration `yaml:"decay_half_life"`
}

// BackupConfig contains snapshot and off-box upload settings.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval Duration      `yaml:"interval"`
	Storage  StorageConfig `yaml:"storage"`
}

// StorageConfig contains S3-compatible storage settings.
// Empty bucket means local-only backups.
type StorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("MNEMO_CONFIG_PATH", "config/mnemo.yaml")

	// Missing file is not an error; defaults apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8321,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Gateway: GatewayConfig{
			SocketPath:    "data/mnemo.sock",
			ReadDeadline:  Duration(5 * time.Second),
			WatchdogCheck: Duration(1 * time.Second),
			RebindBackoff: Duration(5 * time.Second),
			RebindRetries: 10,
		},
		Database: DatabaseConfig{
			Path:          "data/mnemo.db",
			TagIndexPath:  "data/tags.db",
			QueuePath:     "data/capture_queue.jsonl",
			TimestampPath: "data/last_write",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Dedup: DedupConfig{
			HardThreshold: 0.12,
			SoftThreshold: 0.20,
			FixThreshold:  0.05,
		},
		Search: SearchConfig{
			DefaultTopK:          10,
			MaxTopK:              500,
			MinDistanceThreshold: 0.05,
			MaxDistanceThreshold: 0.8,
			RRFConstant:          60,
			RecencyWeight:        0.05,
			KeywordOverlapWeight: 0.05,
			CacheTTL:             Duration(2 * time.Minute),
			CoOccurrenceMinShare: 0.4,
		},
		Ingest: IngestConfig{
			MinContentLength:  20,
			NoiseLengthExempt: 85,
			MaxCitationURLs:   4,
			PreviewLength:     120,
		},
		Compaction: CompactionConfig{
			Interval:           Duration(1 * time.Hour),
			ObservationTTL:     Duration(30 * 24 * time.Hour),
			MaxObservations:    5000,
			EvictionBuffer:     500,
			MaxPromotions:      10,
			ChurnSessionMin:    5,
			RepeatedCommandMin: 3,
		},
		Causal: CausalConfig{
			BanMinAttempts:   2,
			BanConfidence:    0.18,
			RecommendedFloor: 0.5,
			DecayHalfLife:    Duration(30 * 24 * time.Hour),
		},
		Backup: BackupConfig{
			Dir:      "data/backups",
			Interval: Duration(6 * time.Hour),
			Storage: StorageConfig{
				URLExpiry: Duration(1 * time.Hour),
			},
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("MNEMO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MNEMO_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("MNEMO_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Gateway
	if v := os.Getenv("MNEMO_SOCKET_PATH"); v != "" {
		cfg.Gateway.SocketPath = v
	}

	// Database
	if v := os.Getenv("MNEMO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MNEMO_TAG_INDEX_PATH"); v != "" {
		cfg.Database.TagIndexPath = v
	}
	if v := os.Getenv("MNEMO_QUEUE_PATH"); v != "" {
		cfg.Database.QueuePath = v
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	// Log
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MNEMO_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Dedup
	if v := os.Getenv("MNEMO_DEDUP_HARD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dedup.HardThreshold = f
		}
	}
	if v := os.Getenv("MNEMO_DEDUP_SOFT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dedup.SoftThreshold = f
		}
	}

	// Compaction
	if v := os.Getenv("MNEMO_COMPACTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.Interval = Duration(d)
		}
	}
	if v := os.Getenv("MNEMO_MAX_OBSERVATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.MaxObservations = n
		}
	}

	// Backup
	if v := os.Getenv("MNEMO_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := os.Getenv("MNEMO_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}
	if v := os.Getenv("MNEMO_S3_ENDPOINT"); v != "" {
		cfg.Backup.Storage.Endpoint = v
	}
	if v := os.Getenv("MNEMO_S3_BUCKET"); v != "" {
		cfg.Backup.Storage.Bucket = v
	}
	if v := os.Getenv("MNEMO_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.Storage.AccessKey = v
	}
	if v := os.Getenv("MNEMO_S3_SECRET_KEY"); v != "" {
		cfg.Backup.Storage.SecretKey = v
	}
	if v := os.Getenv("MNEMO_S3_REGION"); v != "" {
		cfg.Backup.Storage.Region = v
	}
}

// validate checks that required configuration values are set and that
// threshold orderings hold. In dev mode (MNEMO_DEV_MODE=true), API key
// validation is skipped and the local embedder is used.
func (c *Config) validate() error {
	if c.Dedup.HardThreshold > c.Dedup.SoftThreshold {
		return fmt.Errorf("dedup hard threshold %.2f exceeds soft threshold %.2f",
			c.Dedup.HardThreshold, c.Dedup.SoftThreshold)
	}
	if c.Compaction.EvictionBuffer >= c.Compaction.MaxObservations {
		return errors.New("compaction eviction buffer must be below max observations")
	}

	if os.Getenv("MNEMO_DEV_MODE") == "true" {
		return nil
	}

	if c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Server.APIKey == "" {
		return errors.New("MNEMO_API_KEY is required")
	}
	return nil
}

// DevMode reports whether the service runs without external providers.
func DevMode() bool {
	return os.Getenv("MNEMO_DEV_MODE") == "true"
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
