// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convctx retrieves and records the per-session turn history that
// parameter extraction draws on.
package convctx

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Store is the context persistence collaborator. Query results are ordered
// newest first.
type Store interface {
	QuerySession(ctx context.Context, sessionID string, since time.Time, limit int) ([]types.ConversationContext, error)
	QueryTags(ctx context.Context, sessionID string, since time.Time, tags []string) ([]types.ConversationContext, error)
	Append(ctx context.Context, rec types.ConversationContext) error
}

const (
	// DefaultTTL bounds how far back any strategy looks.
	DefaultTTL = 48 * time.Hour

	defaultSessionLimit    = 3
	maxSessionLimit        = 10
	defaultIterationsLimit = 1
)

// Manager applies context policies against a Store.
type Manager struct {
	store   Store
	ttl     time.Duration
	limit   int
	persist bool
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager returns a manager over store. A nil store yields empty
// contexts and drops writes.
func NewManager(store Store, cfg types.ContextConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   store,
		ttl:     cfg.TTL,
		limit:   cfg.Limit,
		persist: cfg.Persist,
		now:     time.Now,
		logger:  logger,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.limit <= 0 {
		m.limit = defaultSessionLimit
	}
	return m
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Fetch returns the prior turns selected by policy for sessionID, newest
// first. Records outside the TTL window are never returned. Store errors
// are logged and produce an empty result.
func (m *Manager) Fetch(ctx context.Context, sessionID string, policy *types.ContextPolicy) []types.ConversationContext {
	if m.store == nil || sessionID == "" {
		return nil
	}
	strategy := types.ContextBySession
	if policy != nil && policy.Strategy != "" {
		strategy = policy.Strategy
	}
	since := m.now().Add(-m.ttl)

	var (
		recs  []types.ConversationContext
		err   error
		limit int
	)
	switch strategy {
	case types.ContextByIterations:
		limit = defaultIterationsLimit
		if policy.Limit > 0 {
			limit = policy.Limit
		}
		recs, err = m.store.QuerySession(ctx, sessionID, since, limit)
	case types.ContextByTags:
		if len(policy.Tags) == 0 {
			return nil
		}
		limit = policy.Limit
		recs, err = m.store.QueryTags(ctx, sessionID, since, policy.Tags)
	default:
		limit = m.limit
		if policy != nil && policy.Limit > 0 {
			limit = policy.Limit
		}
		limit = min(limit, maxSessionLimit)
		recs, err = m.store.QuerySession(ctx, sessionID, since, limit)
	}
	if err != nil {
		m.logger.Warn("context query failed",
			zap.String("session", sessionID),
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		return nil
	}

	out := recs[:0:0]
	for _, r := range recs {
		if r.SessionID != sessionID || r.Timestamp.Before(since) {
			continue
		}
		if strategy == types.ContextByTags && !overlaps(r, policy.Tags) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ShouldPersist reports whether a turn answered by entry with resp is
// recorded.
func (m *Manager) ShouldPersist(entry *types.KnowledgeEntry, resp *types.Response) bool {
	if !m.persist || m.store == nil || resp == nil {
		return false
	}
	if resp.NIF || resp.MoreInformation {
		return false
	}
	return entry != nil && entry.PersistContext()
}

// Save appends rec when the turn qualifies. It reports whether a record was
// written.
func (m *Manager) Save(ctx context.Context, rec types.ConversationContext, entry *types.KnowledgeEntry) bool {
	if !m.ShouldPersist(entry, rec.Response) {
		return false
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if err := m.store.Append(ctx, rec); err != nil {
		m.logger.Warn("context write failed", zap.String("session", rec.SessionID), zap.Error(err))
		return false
	}
	return true
}

func overlaps(r types.ConversationContext, tags []string) bool {
	for _, want := range tags {
		for _, have := range r.KnowledgeTags {
			if have == want {
				return true
			}
		}
		for _, have := range r.EnrichmentTags {
			if have == want {
				return true
			}
		}
	}
	return false
}
