// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/brain"
	"github.com/pdiddy/bot-engine/internal/core"
	"github.com/pdiddy/bot-engine/internal/eventlog"
	"github.com/pdiddy/bot-engine/internal/federation"
	"github.com/pdiddy/bot-engine/internal/filecache"
	"github.com/pdiddy/bot-engine/internal/httputil"
	"github.com/pdiddy/bot-engine/internal/logging"
	"github.com/pdiddy/bot-engine/internal/producer"
	"github.com/pdiddy/bot-engine/internal/store"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// app bundles the engine with the resources it owns.
type app struct {
	cfg    types.EngineConfig
	engine *core.Engine
	store  *store.Store
	logger *zap.Logger
}

// newApp wires every component from the loaded configuration.
func newApp() (*app, error) {
	cfg := engineConfig(viper.GetViper())
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	httputil.Logger = logger.Named("http")
	if cfg.Brain.Source == "" {
		return nil, fmt.Errorf("no knowledge package: set --source, brain.source or BOT_ENGINE_BRAIN_SOURCE")
	}

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	sinks := []eventlog.Sink{eventlog.NewSQLSink(st)}
	if len(cfg.EventLog.Brokers) > 0 {
		k, err := eventlog.NewKafkaSink(cfg.EventLog)
		if err != nil {
			st.Close()
			return nil, err
		}
		sinks = append(sinks, k)
	}

	b := brain.New(brain.NewSource(cfg.Brain.Source, cfg.Brain.HTTPConfig), cfg.Brain, logger)
	eng, err := core.New(cfg, core.Deps{
		Brain:      b,
		Entities:   st,
		Contexts:   st,
		States:     st,
		Logs:       st,
		Sink:       eventlog.NewTee(logger, sinks...),
		Producer:   newProducer(cfg, logger),
		Federation: federation.NewClient(nil, cfg.Brain.HTTPConfig, loadedSecrets),
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{cfg: cfg, engine: eng, store: st, logger: logger}, nil
}

// newProducer builds the response producer: http(s) backends go over
// HTTP, other targets to the built-in static backends.
func newProducer(cfg types.EngineConfig, logger *zap.Logger) *producer.Producer {
	static := producer.NewStaticInvoker()
	static.Register("echo", func(_ context.Context, payload map[string]any) (any, error) {
		b, err := json.Marshal(payload)
		return string(b), err
	})

	opts := []producer.Option{
		producer.WithInvoker(&producer.Dispatcher{
			HTTP:   &producer.HTTPInvoker{Config: cfg.Brain.HTTPConfig},
			Static: static,
		}),
		producer.WithRoleAssumer(&producer.SecretsRoleAssumer{Secrets: loadedSecrets}),
	}
	if cfg.Speech.Enabled && cfg.Speech.Endpoint != "" {
		dir := cfg.Speech.CacheDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "bot-engine-speech")
		}
		synth := &producer.HTTPSynthesizer{Endpoint: cfg.Speech.Endpoint, Config: cfg.Brain.HTTPConfig}
		opts = append(opts, producer.WithSpeech(
			producer.NewSpeech(synth, filecache.New(dir, cfg.Speech.CacheTTL, ".mp3"), logger),
		))
	}
	return producer.New(logger, opts...)
}

// Close flushes the event log and closes the store.
func (a *app) Close() error {
	err := errors.Join(a.engine.Close(), a.store.Close())
	_ = a.logger.Sync()
	return err
}
