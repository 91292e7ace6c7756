// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package brain loads knowledge packages and classifies utterances against
// them.
//
// A package is fetched from a Source, optionally through an on-disk Cache,
// decoded, validated and turned into an Index. Classification runs in two
// passes: a bag-of-words pass builds a shortlist of candidate ids and a
// linear pass compares each candidate's intents with the utterance variants.
package brain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/filecache"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Brain owns the current Index and reloads it when it expires.
type Brain struct {
	source   Source
	cache    *filecache.Cache
	ttl      time.Duration
	force    bool
	minPerc  float64
	logger   *zap.Logger
	now      func() time.Time
	current  atomic.Pointer[loaded]
	reloadMu sync.Mutex
}

type loaded struct {
	index *Index
	at    time.Time
}

// New returns a brain reading from source with cfg's cache settings.
func New(source Source, cfg types.BrainConfig, logger *zap.Logger) *Brain {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Brain{
		source:  source,
		ttl:     cfg.CacheTTL,
		force:   cfg.ForceRefresh,
		minPerc: cfg.MinPercentile,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.CacheDir != "" {
		b.cache = filecache.New(cfg.CacheDir, cfg.CacheTTL, ".pkg")
	}
	return b
}

// FromPackage returns a brain serving a fixed, already decoded package.
func FromPackage(pkg *types.KnowledgePackage, minPercentile float64) (*Brain, error) {
	ix, err := NewIndex(pkg, minPercentile)
	if err != nil {
		return nil, err
	}
	b := &Brain{logger: zap.NewNop(), now: time.Now}
	b.current.Store(&loaded{index: ix, at: time.Now()})
	return b, nil
}

// Index returns the current index, loading or refreshing it first when it
// is missing or older than the TTL. A refresh that cannot reach the source
// keeps serving the previous index; a malformed package is an error.
func (b *Brain) Index(ctx context.Context) (*Index, error) {
	cur := b.current.Load()
	if cur != nil && (b.source == nil || !b.expired(cur)) {
		return cur.index, nil
	}

	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	if cur = b.current.Load(); cur != nil && !b.expired(cur) {
		return cur.index, nil
	}
	ix, err := b.load(ctx, b.force)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			b.logger.Error("knowledge package rejected", zap.Error(err))
			return nil, err
		}
		if cur != nil {
			b.logger.Warn("knowledge refresh failed, serving previous package", zap.Error(err))
			return cur.index, nil
		}
		return nil, err
	}
	return ix, nil
}

// Reload fetches the package again, bypassing the cache, and swaps the
// index in atomically.
func (b *Brain) Reload(ctx context.Context) (*Index, error) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	return b.load(ctx, true)
}

func (b *Brain) expired(cur *loaded) bool {
	return b.ttl > 0 && b.now().Sub(cur.at) > b.ttl
}

func (b *Brain) load(ctx context.Context, force bool) (*Index, error) {
	if b.source == nil {
		return nil, fmt.Errorf("%w: no knowledge source configured", ErrConfiguration)
	}
	key := b.source.Name()

	var data []byte
	if !force {
		if cached, ok := b.cache.Get(key); ok {
			data = cached
			b.logger.Debug("knowledge package served from cache", zap.String("source", key))
		}
	}
	if data == nil {
		fetched, err := b.source.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		data = fetched
		if err := b.cache.Put(key, data); err != nil {
			b.logger.Warn("caching knowledge package failed", zap.Error(err))
		}
	}

	pkg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	ix, err := NewIndex(pkg, b.minPerc)
	if err != nil {
		return nil, err
	}
	b.current.Store(&loaded{index: ix, at: b.now()})
	b.logger.Info("knowledge package loaded",
		zap.String("source", key),
		zap.String("brain", pkg.BrainName),
		zap.String("version", pkg.Version),
		zap.Int("entries", len(pkg.Knowledge)),
	)
	return ix, nil
}
