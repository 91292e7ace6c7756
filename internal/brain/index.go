// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/bot-engine/internal/normalize"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// DefaultMinPercentile selects relmin when the package carries no statistics.
const DefaultMinPercentile = 2

// Index is an immutable, query-ready view of one knowledge package.
type Index struct {
	pkg       *types.KnowledgePackage
	entries   map[string]*types.KnowledgeEntry
	ids       []string
	intents   map[string][]string
	words     map[string]map[string]struct{}
	stats     *types.Statistics
	stopWords map[string]struct{}
}

// NewIndex builds an index over pkg. Missing statistics are derived from
// the intents using minPercentile; a value of 0 selects the default.
func NewIndex(pkg *types.KnowledgePackage, minPercentile float64) (*Index, error) {
	if err := Validate(pkg); err != nil {
		return nil, err
	}
	if minPercentile <= 0 {
		minPercentile = DefaultMinPercentile
	}

	ix := &Index{
		pkg:       pkg,
		entries:   make(map[string]*types.KnowledgeEntry, len(pkg.Knowledge)),
		intents:   make(map[string][]string, len(pkg.Knowledge)),
		words:     make(map[string]map[string]struct{}, len(pkg.Knowledge)),
		stopWords: map[string]struct{}{},
	}
	for _, w := range pkg.StopWords {
		ix.stopWords[strings.ToLower(w)] = struct{}{}
	}

	for i := range pkg.Knowledge {
		e := &pkg.Knowledge[i]
		ix.entries[e.ID] = e
		ix.ids = append(ix.ids, e.ID)
		words := map[string]struct{}{}
		for _, intent := range e.Intents {
			n := ix.Normalize(intent)
			if n == "" || containsString(ix.intents[e.ID], n) {
				continue
			}
			ix.intents[e.ID] = append(ix.intents[e.ID], n)
			for _, w := range strings.Fields(n) {
				words[w] = struct{}{}
			}
		}
		ix.words[e.ID] = words
	}
	sort.Strings(ix.ids)

	if pkg.Statistics != nil && len(pkg.Statistics.Index) > 0 {
		ix.stats = pkg.Statistics
	} else {
		ix.stats = DeriveStatistics(ix.intents, minPercentile)
	}
	return ix, nil
}

// Normalize applies the cleanup shared by intents and utterance variants:
// lowercase, punctuation and accents stripped, stop words removed.
func (ix *Index) Normalize(s string) string {
	tokens := strings.Fields(normalize.Trained(s))
	kept := tokens[:0]
	for _, t := range tokens {
		if _, stop := ix.stopWords[t]; !stop {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// Package returns the package the index was built from.
func (ix *Index) Package() *types.KnowledgePackage { return ix.pkg }

// Statistics returns the word-relevance table in use.
func (ix *Index) Statistics() *types.Statistics { return ix.stats }

// IDs returns every knowledge id in lexicographic order.
func (ix *Index) IDs() []string { return append([]string(nil), ix.ids...) }

// Intents returns the normalized intents of id.
func (ix *Index) Intents(id string) []string { return ix.intents[id] }

// AllIntents returns every raw intent in the package, used to seed the
// fuzzy vocabulary.
func (ix *Index) AllIntents() []string {
	var out []string
	for _, id := range ix.ids {
		out = append(out, ix.entries[id].Intents...)
	}
	return out
}

// Entry returns the knowledge entry for id.
func (ix *Index) Entry(id string) (*types.KnowledgeEntry, error) {
	e, ok := ix.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKnowledge, id)
	}
	return e, nil
}

// ByID is the direct path that bypasses classification. It scores 1.0.
func (ix *Index) ByID(id string) (*Match, error) {
	e, err := ix.Entry(id)
	if err != nil {
		return nil, err
	}
	return &Match{Entry: e, Score: 1, Direct: true}, nil
}

func (ix *Index) word(w string) (types.WordStat, bool) {
	s, ok := ix.stats.Index[w]
	return s, ok
}

func (ix *Index) relMin() float64 { return ix.stats.Percentile.RelMin }
