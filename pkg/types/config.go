package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxRetries bounds retries on 429 and 503 responses (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// BrainConfig holds settings for loading and scoring the knowledge package.
type BrainConfig struct {
	HTTPConfig `yaml:",inline"`

	// Source is the package location: a file path or an http(s) URL.
	Source string `json:"source" yaml:"source"`

	// CacheDir holds the local package cache (default os.TempDir()).
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheTTL is how long a cached package is served before refetching.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// ForceRefresh bypasses the cache on the next load.
	ForceRefresh bool `json:"force_refresh" yaml:"force_refresh"`

	// Confidence is the base linear-score threshold (default 0.7).
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// MinPercentile selects the relevance floor when statistics are derived (default 2).
	MinPercentile float64 `json:"min_percentile" yaml:"min_percentile"`
}

// NormalizerConfig holds settings for the text normalization pipeline.
type NormalizerConfig struct {
	// Transforms is the ordered transform list. Empty means the default stack.
	Transforms []string `json:"transforms" yaml:"transforms"`

	// EnableFuzzy toggles fuzzy token replacement.
	EnableFuzzy bool `json:"enable_fuzzy" yaml:"enable_fuzzy"`

	// FuzzyScore is the replacement threshold (default 83).
	FuzzyScore float64 `json:"fuzzy_score" yaml:"fuzzy_score"`
}

// EntityConfig holds settings for the entity resolver.
type EntityConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Persist records new entity observations from backend payloads.
	Persist bool `json:"persist" yaml:"persist"`
}

// ContextConfig holds settings for context retrieval and persistence.
type ContextConfig struct {
	// TTL is the retrieval window (default 48h).
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Limit is the number of turns injected by the session strategy (default 3).
	Limit int `json:"limit" yaml:"limit"`

	// Persist toggles context writes globally.
	Persist bool `json:"persist" yaml:"persist"`
}

// StoreConfig selects the SQL persistence backend.
type StoreConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the data source name. For sqlite3 it is the database file path.
	DSN string `json:"dsn" yaml:"dsn"`
}

// SpeechConfig holds settings for the synthesized-speech cache.
type SpeechConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Endpoint is the speech synthesis service URL.
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	CacheDir string        `json:"cache_dir" yaml:"cache_dir"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// EventLogConfig configures the optional Kafka conversation-log sink.
type EventLogConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// EngineConfig aggregates the settings of every engine component.
type EngineConfig struct {
	Version    string           `json:"version" yaml:"version"`
	Voice      string           `json:"voice" yaml:"voice"`
	SecretsDir string           `json:"secrets_dir" yaml:"secrets_dir"`
	Brain      BrainConfig      `json:"brain" yaml:"brain"`
	Normalizer NormalizerConfig `json:"normalizer" yaml:"normalizer"`
	Entity     EntityConfig     `json:"entity" yaml:"entity"`
	Context    ContextConfig    `json:"context" yaml:"context"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Speech     SpeechConfig     `json:"speech" yaml:"speech"`
	EventLog   EventLogConfig   `json:"event_log" yaml:"event_log"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// DefaultEngineConfig returns the configuration used when nothing is overridden.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Version:    "dev",
		Voice:      "Joanna",
		SecretsDir: ".secrets/",
		Brain: BrainConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    30 * time.Second,
				UserAgent:  "bot-engine/0.1",
				MaxRetries: 5,
			},
			CacheTTL:      time.Hour,
			Confidence:    0.7,
			MinPercentile: 2,
		},
		Normalizer: NormalizerConfig{
			EnableFuzzy: true,
			FuzzyScore:  83,
		},
		Entity: EntityConfig{Enabled: true},
		Context: ContextConfig{
			TTL:     48 * time.Hour,
			Limit:   3,
			Persist: true,
		},
		Store: StoreConfig{
			Driver: "sqlite3",
			DSN:    "bot-engine.db",
		},
		Speech: SpeechConfig{CacheTTL: 24 * time.Hour},
		Log:    LogConfig{Level: "info"},
	}
}
