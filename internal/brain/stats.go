// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"math"
	"sort"
	"strings"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// DeriveStatistics builds the word-relevance table from normalized intents
// keyed by knowledge id. It mirrors the offline training job so packages
// shipped without statistics still classify.
//
// For every token: presence p counts occurrences across all intents,
// distribution d counts distinct knowledge ids, importance is d/p (1 when
// d is 1). The relevance components scale d and p against the distinct
// values observed: reld = 100 - (d-min)*100/(max-min), likewise relp, and
// relscore = reld + relp. relmin is the minPercentile of all relscores.
func DeriveStatistics(intents map[string][]string, minPercentile float64) *types.Statistics {
	ids := make([]string, 0, len(intents))
	for id := range intents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	presence := map[string]int{}
	related := map[string][]string{}
	totalTokens, totalIntents := 0, 0
	for _, id := range ids {
		for _, intent := range intents[id] {
			tokens := strings.Fields(intent)
			totalTokens += len(tokens)
			totalIntents++
			for _, w := range tokens {
				presence[w]++
				if !containsString(related[w], id) {
					related[w] = append(related[w], id)
				}
			}
		}
	}

	stats := &types.Statistics{Index: make(map[string]types.WordStat, len(presence))}
	if totalIntents > 0 {
		stats.AvgWordsPerIntent = float64(totalTokens) / float64(totalIntents)
	}
	if len(presence) == 0 {
		return stats
	}

	var dValues, pValues, scores []float64
	dSeen, pSeen := map[int]bool{}, map[int]bool{}
	for w, p := range presence {
		d := len(related[w])
		importance := float64(d) / float64(p)
		if d == 1 {
			importance = 1
		}
		stats.Index[w] = types.WordStat{
			Length:       len(w),
			Presence:     p,
			Distribution: d,
			Importance:   importance,
			Score:        importance * float64(len(w)),
			Related:      related[w],
			Entity:       isPlaceholder(w),
		}
		scores = append(scores, importance*float64(len(w)))
		if !dSeen[d] {
			dSeen[d] = true
			dValues = append(dValues, float64(d))
		}
		if !pSeen[p] {
			pSeen[p] = true
			pValues = append(pValues, float64(p))
		}
	}
	stats.Percentile.Min = percentile(scores, minPercentile)
	stats.Percentile.Avg = percentile(scores, 50)
	stats.Percentile.Max = percentile(scores, 90)

	minD, maxD := bounds(dValues)
	minP, maxP := bounds(pValues)
	var rel []float64
	for w, s := range stats.Index {
		s.RelD = scale(float64(s.Distribution), minD, maxD)
		s.RelP = scale(float64(s.Presence), minP, maxP)
		s.RelScore = s.RelD + s.RelP
		stats.Index[w] = s
		rel = append(rel, s.RelScore)
	}
	stats.Percentile.RelMin = percentile(rel, minPercentile)
	return stats
}

// scale maps v into 100 (at min) down to 0 (at max). A degenerate range
// scores every value 100.
func scale(v, lo, hi float64) float64 {
	if hi == lo {
		return 100
	}
	return 100 - ((v-lo)*100)/(hi-lo)
}

func bounds(vs []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// percentile returns the nearest-rank percentile of vs.
func percentile(vs []float64, p float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func isPlaceholder(w string) bool {
	return strings.HasPrefix(w, "{") && strings.HasSuffix(w, "}")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
