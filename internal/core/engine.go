// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package core sequences one request through the engine: normalization,
// entity and temporal extraction, classification, context, parameters and
// response production, then records the turn.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/brain"
	"github.com/pdiddy/bot-engine/internal/convctx"
	"github.com/pdiddy/bot-engine/internal/enrich"
	"github.com/pdiddy/bot-engine/internal/entity"
	"github.com/pdiddy/bot-engine/internal/eventlog"
	"github.com/pdiddy/bot-engine/internal/federation"
	"github.com/pdiddy/bot-engine/internal/normalize"
	"github.com/pdiddy/bot-engine/internal/params"
	"github.com/pdiddy/bot-engine/internal/producer"
	"github.com/pdiddy/bot-engine/internal/temporal"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Routed events reported on responses and conversation logs.
const (
	RouterKnowledge = "ROUTER_KNOWLEDGE"
	RouterNIF       = "ROUTER_NIF"
	RouterNIFLimit  = "ROUTER_NIF_LIMIT"
	EntityOnly      = "ENTITY_ONLY"
	Federated       = "FEDERATED"
)

// nifLimit is the number of consecutive no-match turns, the current one
// included, that switches to the limit router.
const nifLimit = 3

// LogHistory reads back recent conversation logs of a session, newest first.
type LogHistory interface {
	RecentLogs(ctx context.Context, sessionID string, limit int) ([]types.ConversationLog, error)
}

// Deps are the collaborators of an Engine. Brain is required; every other
// field may be nil.
type Deps struct {
	Brain      *brain.Brain
	Entities   entity.Store
	Contexts   convctx.Store
	States     producer.StateStore
	Logs       LogHistory
	Sink       eventlog.Sink
	Producer   *producer.Producer
	Federation *federation.Client
}

// Engine is the per-process handle on every component. It is safe for
// concurrent use.
type Engine struct {
	cfg        types.EngineConfig
	brain      *brain.Brain
	entities   entity.Store
	contexts   *convctx.Manager
	params     *params.Extractor
	producer   *producer.Producer
	states     producer.StateStore
	logs       LogHistory
	sink       eventlog.Sink
	federation *federation.Client
	logger     *zap.Logger
	now        func() time.Time
	newSession func() string

	mu        sync.Mutex
	normExt   map[string]normalize.Extension
	enrichExt map[string]enrich.Extension
	current   atomic.Pointer[runtime]
}

// runtime holds the components derived from one loaded knowledge package.
type runtime struct {
	index    *brain.Index
	pipeline *normalize.Pipeline
	enricher *enrich.Enricher
	entities *entity.Resolver
}

// New wires an engine. The knowledge package itself is loaded lazily on the
// first request.
func New(cfg types.EngineConfig, deps Deps, logger *zap.Logger) (*Engine, error) {
	if deps.Brain == nil {
		return nil, fmt.Errorf("creating engine: %w: no knowledge source", brain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Producer == nil {
		deps.Producer = producer.New(logger)
	}
	if deps.States == nil {
		deps.States = newMemoryStates()
	}
	e := &Engine{
		cfg:        cfg,
		brain:      deps.Brain,
		entities:   deps.Entities,
		contexts:   convctx.NewManager(deps.Contexts, cfg.Context, logger),
		params:     params.NewExtractor(logger),
		producer:   deps.Producer,
		states:     deps.States,
		logs:       deps.Logs,
		sink:       deps.Sink,
		federation: deps.Federation,
		logger:     logger,
		now:        time.Now,
		newSession: uuid.NewString,
		normExt:    map[string]normalize.Extension{},
		enrichExt:  map[string]enrich.Extension{},
	}
	return e, nil
}

// SetClock replaces the time source of the engine and its context manager.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.contexts.SetClock(now)
	e.current.Store(nil)
}

// RegisterNormalizer adds a normalization extension to every pipeline the
// engine builds.
func (e *Engine) RegisterNormalizer(name string, ext normalize.Extension) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.normExt[name] = ext
	e.current.Store(nil)
}

// RegisterEnrichment adds an enrichment extension.
func (e *Engine) RegisterEnrichment(name string, ext enrich.Extension) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enrichExt[name] = ext
	e.current.Store(nil)
}

// Index returns the knowledge index in use, loading it if needed.
func (e *Engine) Index(ctx context.Context) (*brain.Index, error) {
	return e.brain.Index(ctx)
}

// Reload refetches the knowledge package.
func (e *Engine) Reload(ctx context.Context) error {
	_, err := e.brain.Reload(ctx)
	return err
}

// Close releases the event log sink.
func (e *Engine) Close() error {
	if e.sink == nil {
		return nil
	}
	return e.sink.Close()
}

// runtime returns the components built for the current index, rebuilding
// them when the brain has loaded a new package.
func (e *Engine) runtime(ctx context.Context) (*runtime, error) {
	ix, err := e.brain.Index(ctx)
	if err != nil {
		return nil, err
	}
	if rt := e.current.Load(); rt != nil && rt.index == ix {
		return rt, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pkg := ix.Package()

	tx := temporal.NewExtractor(pkg.Analysers.Temporal, e.logger)
	tx.SetClock(e.now)
	dict := normalize.NewDictionary(pkg.StopWords, pkg.Analysers.Synonym, ix.AllIntents())
	pipeline := normalize.NewPipeline(e.cfg.Normalizer, dict, tx, e.logger)
	for name, ext := range e.normExt {
		pipeline.Register(name, ext)
	}
	enricher := enrich.New(pkg.Analysers, e.logger)
	for name, ext := range e.enrichExt {
		enricher.Register(name, ext)
	}

	rt := &runtime{
		index:    ix,
		pipeline: pipeline,
		enricher: enricher,
		entities: entity.NewResolver(e.entities, e.cfg.Entity, pkg.ProtectedEntities, e.logger),
	}
	e.current.Store(rt)
	return rt, nil
}
