// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package entity resolves entity mentions in an utterance against the
// entity store and produces the placeholder variants fed to the classifier.
package entity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Store is the entity persistence collaborator.
type Store interface {
	// FindByValue returns every entity whose value equals value.
	FindByValue(ctx context.Context, value string) ([]types.Entity, error)

	// Observe links e to knowledgeID, creating the entity when missing. It
	// reports whether anything changed; an existing link is left untouched.
	Observe(ctx context.Context, uid string, e types.Entity, knowledgeID string) (bool, error)
}

// minUnigramLength excludes short words from unigram lookups.
const minUnigramLength = 3

// maxParallelLookups bounds concurrent store queries per utterance.
const maxParallelLookups = 16

// namespace seeds the deterministic entity identifiers.
var namespace = uuid.MustParse("6f0d6e1c-4a57-4f43-9f4f-6d1d0d5e8b11")

// reservedPayloadKeys are never persisted as entities.
var reservedPayloadKeys = map[string]struct{}{
	"lang": {}, "about": {}, "step": {}, "context": {}, "userInfo": {},
	"_entities": {}, "_tags": {}, "_temporalEntities": {},
}

// Resolver finds entities through the store.
type Resolver struct {
	store     Store
	enabled   bool
	persist   bool
	protected map[string]struct{}
	logger    *zap.Logger
}

// NewResolver builds a resolver. protected lists payload keys that are never
// persisted as entities.
func NewResolver(store Store, cfg types.EntityConfig, protected []string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		store:     store,
		enabled:   cfg.Enabled && store != nil,
		persist:   cfg.Persist && store != nil,
		protected: map[string]struct{}{},
		logger:    logger,
	}
	for _, p := range protected {
		r.protected[p] = struct{}{}
	}
	return r
}

// NGrams returns the distinct unigrams (at least three characters), bigrams
// and trigrams of s.
func NGrams(s string) []string {
	tokens := strings.Fields(s)
	seen := map[string]struct{}{}
	var out []string
	add := func(g string) {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	for _, t := range tokens {
		if len([]rune(t)) >= minUnigramLength {
			add(t)
		}
	}
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			add(strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

// Resolve looks up every n-gram of utterance concurrently and returns the
// reduced entity list. Store failures are logged and count as no match.
func (r *Resolver) Resolve(ctx context.Context, utterance string) []types.Entity {
	if !r.enabled {
		return nil
	}
	grams := NGrams(utterance)

	var (
		mu      sync.Mutex
		matches []types.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for _, gram := range grams {
		gram := gram
		g.Go(func() error {
			found, err := r.store.FindByValue(gctx, gram)
			if err != nil {
				r.logger.Warn("entity lookup failed", zap.String("ngram", gram), zap.Error(err))
				return nil
			}
			mu.Lock()
			matches = append(matches, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Reduce(dedupe(matches))
}

// dedupe merges matches of the same type and value, unioning their
// knowledge links.
func dedupe(matches []types.Entity) []types.Entity {
	index := map[string]int{}
	var out []types.Entity
	for _, m := range matches {
		if m.Length == 0 {
			m.Length = len(m.Value)
		}
		key := m.Type + "\x00" + m.Value
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			m.Knowledge = append([]string(nil), m.Knowledge...)
			out = append(out, m)
			continue
		}
		for _, k := range m.Knowledge {
			if !containsString(out[i].Knowledge, k) {
				out[i].Knowledge = append(out[i].Knowledge, k)
			}
		}
	}
	return out
}

// Reduce keeps, within each type and then within each value, the longest
// matches that are not substrings of an already kept match. The result is
// ordered by type, then length descending, then value.
func Reduce(entities []types.Entity) []types.Entity {
	byType := longestPerGroup(entities, func(e types.Entity) string { return e.Type })
	return longestPerGroup(byType, func(e types.Entity) string { return e.Value })
}

func longestPerGroup(entities []types.Entity, key func(types.Entity) string) []types.Entity {
	groups := map[string][]types.Entity{}
	var keys []string
	for _, e := range entities {
		k := key(e)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	sort.Strings(keys)

	var out []types.Entity
	for _, k := range keys {
		group := groups[k]
		sortByLength(group)
		var kept []string
		for _, e := range group {
			if shadowed(kept, e.Value) {
				continue
			}
			kept = append(kept, e.Value)
			out = append(out, e)
		}
	}
	sortEntities(out)
	return out
}

// shadowed reports whether v is a strict substring of a kept value.
func shadowed(kept []string, v string) bool {
	for _, k := range kept {
		if k != v && strings.Contains(k, v) {
			return true
		}
	}
	return false
}

func sortByLength(es []types.Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Length != es[j].Length {
			return es[i].Length > es[j].Length
		}
		return es[i].Value < es[j].Value
	})
}

func sortEntities(es []types.Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Type != es[j].Type {
			return es[i].Type < es[j].Type
		}
		if es[i].Length != es[j].Length {
			return es[i].Length > es[j].Length
		}
		return es[i].Value < es[j].Value
	})
}

// Variants returns utterance followed by one variant per combination of
// distinct values across entity types, each value replaced by its type
// placeholder. Duplicates are dropped.
func Variants(utterance string, entities []types.Entity) []string {
	out := []string{utterance}
	if len(entities) == 0 {
		return out
	}

	byType := map[string][]types.Entity{}
	var typesOrder []string
	for _, e := range entities {
		if _, ok := byType[e.Type]; !ok {
			typesOrder = append(typesOrder, e.Type)
		}
		if !containsValue(byType[e.Type], e.Value) {
			byType[e.Type] = append(byType[e.Type], e)
		}
	}
	sort.Strings(typesOrder)

	seen := map[string]struct{}{utterance: {}}
	combo := make([]types.Entity, len(typesOrder))
	var walk func(int)
	walk = func(depth int) {
		if depth == len(typesOrder) {
			v := utterance
			for _, e := range combo {
				v = replaceWord(v, e.Value, e.Placeholder())
			}
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				out = append(out, v)
			}
			return
		}
		for _, e := range byType[typesOrder[depth]] {
			combo[depth] = e
			walk(depth + 1)
		}
	}
	walk(0)
	return out
}

// Cleanup replaces removable entity values with their placeholders and
// collapses whitespace. Non-removable values stay literal.
func Cleanup(utterance string, entities []types.Entity) string {
	out := utterance
	for _, e := range entities {
		if e.Removable {
			out = replaceWord(out, e.Value, e.Placeholder())
		}
	}
	return strings.Join(strings.Fields(out), " ")
}

// OnlyPlaceholders reports whether s consists solely of entity placeholders.
func OnlyPlaceholders(s string) bool {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.HasPrefix(t, "{") || !strings.HasSuffix(t, "}") {
			return false
		}
	}
	return true
}

// replaceWord replaces the first occurrence of phrase that sits on word
// boundaries.
func replaceWord(s, phrase, repl string) string {
	if phrase == "" {
		return s
	}
	from := 0
	for {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return s
		}
		i += from
		end := i + len(phrase)
		if (i == 0 || s[i-1] == ' ') && (end == len(s) || s[end] == ' ') {
			return s[:i] + repl + s[end:]
		}
		from = i + 1
	}
}

// UID returns the deterministic identifier of an entity.
func UID(typ, value string) string {
	return uuid.NewSHA1(namespace, []byte(strings.ToLower(typ)+"\x00"+strings.ToLower(value))).String()
}

// Persist records the string values of a backend payload as entity
// observations linked to knowledgeID. It returns the number of new links.
func (r *Resolver) Persist(ctx context.Context, payload map[string]any, knowledgeID string) int {
	if !r.persist {
		return 0
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	added := 0
	for _, k := range keys {
		if _, reserved := reservedPayloadKeys[k]; reserved {
			continue
		}
		if _, protected := r.protected[k]; protected {
			continue
		}
		v, ok := payload[k].(string)
		if !ok {
			continue
		}
		v = strings.ToLower(strings.TrimSpace(v))
		if len(v) < minUnigramLength {
			continue
		}
		e := types.Entity{Type: k, Value: v, Length: len(v), Removable: true}
		changed, err := r.store.Observe(ctx, UID(k, v), e, knowledgeID)
		if err != nil {
			r.logger.Warn("persisting entity failed", zap.String("type", k), zap.Error(err))
			continue
		}
		if changed {
			added++
		}
	}
	return added
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsValue(list []types.Entity, v string) bool {
	for _, e := range list {
		if e.Value == v {
			return true
		}
	}
	return false
}
