// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"math"
	"sort"
	"strings"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Classifier tuning.
const (
	// DefaultConfidence is rel, the base linear-score threshold.
	DefaultConfidence = 0.7

	// entityWeight replaces a shared entity placeholder's relevance score in
	// the bag score.
	entityWeight = 200

	// shortlistDepth is the number of distinct bag scores kept.
	shortlistDepth = 5

	// minCoverage is the share of a variant's tokens, repeats included,
	// that must appear in an intent.
	minCoverage = 0.3
)

// shortlistDivisors relax the threshold when the linear candidate sits at
// the corresponding shortlist position.
var shortlistDivisors = [shortlistDepth]float64{2, 1.8, 1.6, 1.4, 1.2}

// LinearScore is the best intent/variant comparison for one knowledge id.
type LinearScore struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	Intersection int     `json:"intersection"`
	Entities     int     `json:"entities"`
	Intent       string  `json:"intent"`
	Variant      string  `json:"variant"`
}

// Classification is the full scoring trace for one utterance.
type Classification struct {
	// Bag maps candidate ids to their bag-of-words score.
	Bag map[string]float64 `json:"bag"`

	// Shortlist holds the ids of the top distinct bag scores, highest first,
	// lexicographic within a score.
	Shortlist []string `json:"shortlist"`

	// Linear holds the best comparison per intersection size, largest first.
	Linear []LinearScore `json:"linear"`

	// Max is the highest linear score seen across every comparison.
	Max *LinearScore `json:"max,omitempty"`
}

// Match is the winning knowledge entry.
type Match struct {
	Entry        *types.KnowledgeEntry
	Score        float64
	Intersection int
	Direct       bool
}

// Classify scores variants against the index. Each variant is normalized
// the same way intents were when the index was built.
func (ix *Index) Classify(variants []string) Classification {
	normalized := make([]string, 0, len(variants))
	for _, v := range variants {
		if n := ix.Normalize(v); n != "" && !containsString(normalized, n) {
			normalized = append(normalized, n)
		}
	}

	c := Classification{Bag: ix.bag(normalized)}
	c.Shortlist = shortlist(c.Bag)
	c.Linear, c.Max = ix.linear(c.Shortlist, normalized)
	return c
}

// bag scores every id sharing a relevant token with any variant.
func (ix *Index) bag(variants []string) map[string]float64 {
	utterance := map[string]struct{}{}
	for _, v := range variants {
		for _, w := range strings.Fields(v) {
			utterance[w] = struct{}{}
		}
	}
	relMin := ix.relMin()

	candidates := map[string]struct{}{}
	for w := range utterance {
		s, ok := ix.word(w)
		if !ok || s.RelScore < relMin {
			continue
		}
		for _, id := range s.Related {
			if _, known := ix.entries[id]; known {
				candidates[id] = struct{}{}
			}
		}
	}

	scores := make(map[string]float64, len(candidates))
	for id := range candidates {
		total := 0.0
		for w := range utterance {
			if _, shared := ix.words[id][w]; !shared {
				continue
			}
			s, ok := ix.word(w)
			if !ok || s.RelScore < relMin {
				continue
			}
			if s.Entity || isPlaceholder(w) {
				total += entityWeight
			} else {
				total += s.RelScore
			}
		}
		scores[id] = total
	}
	return scores
}

func shortlist(bag map[string]float64) []string {
	groups := map[float64][]string{}
	for id, s := range bag {
		groups[s] = append(groups[s], id)
	}
	distinct := make([]float64, 0, len(groups))
	for s := range groups {
		distinct = append(distinct, s)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(distinct)))
	if len(distinct) > shortlistDepth {
		distinct = distinct[:shortlistDepth]
	}
	var out []string
	for _, s := range distinct {
		ids := groups[s]
		sort.Strings(ids)
		out = append(out, ids...)
	}
	return out
}

// linear compares every shortlisted id's intents with every variant.
func (ix *Index) linear(ids []string, variants []string) ([]LinearScore, *LinearScore) {
	best := map[int]LinearScore{}
	var top *LinearScore
	for _, id := range ids {
		for _, intent := range ix.intents[id] {
			for _, variant := range variants {
				ls, ok := ix.compare(id, intent, variant)
				if !ok {
					continue
				}
				if cur, seen := best[ls.Intersection]; !seen || better(ls, cur) {
					best[ls.Intersection] = ls
				}
				if top == nil || better(ls, *top) {
					copied := ls
					top = &copied
				}
			}
		}
	}

	out := make([]LinearScore, 0, len(best))
	for _, ls := range best {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Intersection > out[j].Intersection })
	return out, top
}

// better orders comparisons by score, then entity count, then id.
func better(a, b LinearScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Entities != b.Entities {
		return a.Entities > b.Entities
	}
	return a.ID < b.ID
}

func (ix *Index) compare(id, intent, variant string) (LinearScore, bool) {
	intentTokens := strings.Fields(intent)
	variantTokens := strings.Fields(variant)
	intentCount := counts(intentTokens)
	variantCount := counts(variantTokens)

	var inter []string
	for _, w := range distinct(variantTokens) {
		if _, ok := intentCount[w]; ok {
			inter = append(inter, w)
		}
	}
	if len(inter) == 0 {
		return LinearScore{}, false
	}
	if float64(len(inter))/float64(len(variantTokens)) < minCoverage {
		return LinearScore{}, false
	}

	relScore := func(w string) float64 {
		s, _ := ix.word(w)
		return s.RelScore
	}

	totalIntent := 0.0
	for w, n := range intentCount {
		totalIntent += relScore(w) * float64(n)
	}
	totalEvent, shared := 0.0, 0.0
	entities := 0
	for _, w := range inter {
		totalEvent += relScore(w) * float64(variantCount[w])
		shared += relScore(w) * float64(intentCount[w])
		if isPlaceholder(w) {
			entities++
		}
	}

	score := 0.0
	if totalEvent != 0 {
		score = shared / totalEvent
	}
	diff := 1.0
	if totalEvent != 0 && totalIntent != 0 {
		diff = totalEvent / totalIntent
		if diff > 1 {
			diff = 1 / diff
		}
		diff = math.Abs(diff)
	}
	md := math.Abs(score * diff)
	if math.IsNaN(md) || math.IsInf(md, 0) {
		md = 0
	}
	return LinearScore{
		ID:           id,
		Score:        md,
		Intersection: len(inter),
		Entities:     entities,
		Intent:       intent,
		Variant:      variant,
	}, true
}

// BestMatch picks the first linear candidate whose score clears its
// threshold. A candidate found at shortlist position n (1..5) needs only
// rel divided by 2, 1.8, 1.6, 1.4 or 1.2 respectively; others need rel.
// It returns nil when nothing qualifies.
func (ix *Index) BestMatch(c Classification, rel float64) *Match {
	if rel <= 0 {
		rel = DefaultConfidence
	}
	for _, ls := range c.Linear {
		threshold := rel
		for n := 0; n < len(shortlistDivisors) && n < len(c.Shortlist); n++ {
			if c.Shortlist[n] == ls.ID {
				threshold = rel / shortlistDivisors[n]
				break
			}
		}
		if ls.Score < threshold {
			continue
		}
		e, ok := ix.entries[ls.ID]
		if !ok {
			continue
		}
		return &Match{Entry: e, Score: ls.Score, Intersection: ls.Intersection}
	}
	return nil
}

func counts(tokens []string) map[string]int {
	out := make(map[string]int, len(tokens))
	for _, t := range tokens {
		out[t]++
	}
	return out
}

func distinct(tokens []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
