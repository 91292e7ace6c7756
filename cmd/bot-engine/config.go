// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/viper"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// setDefaults registers every configuration key with its default so that
// BOT_ENGINE_* environment variables resolve for nested keys too.
func setDefaults(v *viper.Viper) {
	d := types.DefaultEngineConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("voice", d.Voice)
	v.SetDefault("secrets_dir", d.SecretsDir)

	v.SetDefault("brain.source", d.Brain.Source)
	v.SetDefault("brain.cache_dir", d.Brain.CacheDir)
	v.SetDefault("brain.cache_ttl", d.Brain.CacheTTL)
	v.SetDefault("brain.force_refresh", d.Brain.ForceRefresh)
	v.SetDefault("brain.confidence", d.Brain.Confidence)
	v.SetDefault("brain.min_percentile", d.Brain.MinPercentile)
	v.SetDefault("brain.timeout", d.Brain.Timeout)
	v.SetDefault("brain.user_agent", d.Brain.UserAgent)
	v.SetDefault("brain.max_retries", d.Brain.MaxRetries)

	v.SetDefault("normalizer.transforms", d.Normalizer.Transforms)
	v.SetDefault("normalizer.enable_fuzzy", d.Normalizer.EnableFuzzy)
	v.SetDefault("normalizer.fuzzy_score", d.Normalizer.FuzzyScore)

	v.SetDefault("entity.enabled", d.Entity.Enabled)
	v.SetDefault("entity.persist", d.Entity.Persist)

	v.SetDefault("context.ttl", d.Context.TTL)
	v.SetDefault("context.limit", d.Context.Limit)
	v.SetDefault("context.persist", d.Context.Persist)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)

	v.SetDefault("speech.enabled", d.Speech.Enabled)
	v.SetDefault("speech.endpoint", d.Speech.Endpoint)
	v.SetDefault("speech.cache_dir", d.Speech.CacheDir)
	v.SetDefault("speech.cache_ttl", d.Speech.CacheTTL)

	v.SetDefault("event_log.brokers", d.EventLog.Brokers)
	v.SetDefault("event_log.topic", d.EventLog.Topic)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// engineConfig reads the engine configuration from v.
func engineConfig(v *viper.Viper) types.EngineConfig {
	cfg := types.DefaultEngineConfig()
	cfg.Version = v.GetString("version")
	if cfg.Version == "" || cfg.Version == "dev" {
		cfg.Version = version
	}
	cfg.Voice = v.GetString("voice")
	cfg.SecretsDir = v.GetString("secrets_dir")

	cfg.Brain.Source = v.GetString("brain.source")
	cfg.Brain.CacheDir = v.GetString("brain.cache_dir")
	cfg.Brain.CacheTTL = v.GetDuration("brain.cache_ttl")
	cfg.Brain.ForceRefresh = v.GetBool("brain.force_refresh")
	cfg.Brain.Confidence = v.GetFloat64("brain.confidence")
	cfg.Brain.MinPercentile = v.GetFloat64("brain.min_percentile")
	cfg.Brain.Timeout = v.GetDuration("brain.timeout")
	cfg.Brain.UserAgent = v.GetString("brain.user_agent")
	cfg.Brain.MaxRetries = v.GetInt("brain.max_retries")

	cfg.Normalizer.Transforms = v.GetStringSlice("normalizer.transforms")
	cfg.Normalizer.EnableFuzzy = v.GetBool("normalizer.enable_fuzzy")
	cfg.Normalizer.FuzzyScore = v.GetFloat64("normalizer.fuzzy_score")

	cfg.Entity.Enabled = v.GetBool("entity.enabled")
	cfg.Entity.Persist = v.GetBool("entity.persist")

	cfg.Context.TTL = v.GetDuration("context.ttl")
	cfg.Context.Limit = v.GetInt("context.limit")
	cfg.Context.Persist = v.GetBool("context.persist")

	cfg.Store.Driver = v.GetString("store.driver")
	cfg.Store.DSN = v.GetString("store.dsn")

	cfg.Speech.Enabled = v.GetBool("speech.enabled")
	cfg.Speech.Endpoint = v.GetString("speech.endpoint")
	cfg.Speech.CacheDir = v.GetString("speech.cache_dir")
	cfg.Speech.CacheTTL = v.GetDuration("speech.cache_ttl")

	cfg.EventLog.Brokers = v.GetStringSlice("event_log.brokers")
	cfg.EventLog.Topic = v.GetString("event_log.topic")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Development = v.GetBool("log.development")
	return cfg
}
