// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Fuzzy scoring weights. A candidate must reach minCombinedScore across the
// three measures to be considered; the replacement decision then uses the
// edit-distance score alone.
const (
	minFuzzyLength       = 3
	maxDistanceTolerance = 3
	maxWordTolerance     = 3
	levenshteinFactor    = 3
	substringFactor      = 3
	wordCountFactor      = 1
	minCombinedScore     = 300
)

// Dictionary holds the package-derived word lists used by the pipeline.
type Dictionary struct {
	stopWords  map[string]struct{}
	synonyms   map[string]string
	vocabulary []string
	vocabSet   map[string]struct{}
}

// NewDictionary builds a dictionary. synonyms maps a canonical token to its
// variants; intents supply the fuzzy vocabulary. Entity placeholders are
// left out of the vocabulary.
func NewDictionary(stopWords []string, synonyms map[string][]string, intents []string) *Dictionary {
	d := &Dictionary{
		stopWords: map[string]struct{}{},
		synonyms:  map[string]string{},
		vocabSet:  map[string]struct{}{},
	}
	for _, w := range stopWords {
		d.stopWords[strings.ToLower(w)] = struct{}{}
	}
	canon := make([]string, 0, len(synonyms))
	for c := range synonyms {
		canon = append(canon, c)
	}
	sort.Strings(canon)
	for _, c := range canon {
		for _, v := range synonyms[c] {
			key := strings.ToLower(v)
			if _, dup := d.synonyms[key]; !dup {
				d.synonyms[key] = strings.ToLower(c)
			}
		}
	}
	for _, intent := range intents {
		for _, t := range Tokenize(Trained(intent)) {
			if strings.HasPrefix(t, "{") {
				continue
			}
			if _, seen := d.vocabSet[t]; !seen {
				d.vocabSet[t] = struct{}{}
				d.vocabulary = append(d.vocabulary, t)
			}
		}
	}
	sort.Strings(d.vocabulary)
	return d
}

// StopWord reports whether w is a stop word.
func (d *Dictionary) StopWord(w string) bool {
	_, ok := d.stopWords[w]
	return ok
}

// Vocabulary returns the fuzzy vocabulary in sorted order.
func (d *Dictionary) Vocabulary() []string {
	return append([]string(nil), d.vocabulary...)
}

// BestMatch finds the vocabulary word closest to term. It returns the word,
// its edit-distance score (0-100) and whether any candidate qualified.
func (d *Dictionary) BestMatch(term string) (string, float64, bool) {
	var (
		best         string
		bestCombined float64
		bestLev      float64
	)
	for _, cand := range d.vocabulary {
		lev := levenshteinScore(term, cand)
		combined := levenshteinFactor*lev + substringFactor*substringScore(term, cand) + wordCountFactor*wordCountScore(term, cand)
		if combined < minCombinedScore {
			continue
		}
		if best == "" || combined > bestCombined {
			best, bestCombined, bestLev = cand, combined, lev
		}
	}
	return best, bestLev, best != ""
}

func levenshteinScore(term, cand string) float64 {
	dist := levenshtein.ComputeDistance(term, cand)
	if dist > maxDistanceTolerance {
		return 0
	}
	longest := max(len([]rune(term)), len([]rune(cand)))
	if longest == 0 {
		return 100
	}
	return 100 - float64(dist)*100/float64(longest)
}

// substringScore rewards the longest run of characters shared by both words.
func substringScore(term, cand string) float64 {
	a, b := []rune(term), []rune(cand)
	if len(a) < minFuzzyLength {
		return 0
	}
	longest := 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				longest = max(longest, cur[j])
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	if longest < minFuzzyLength {
		return 0
	}
	return float64(longest) * 100 / float64(max(len(a), len(b)))
}

func wordCountScore(term, cand string) float64 {
	diff := len(Tokenize(term)) - len(Tokenize(cand))
	if diff < 0 {
		diff = -diff
	}
	if diff > maxWordTolerance {
		return 0
	}
	return 100 - float64(diff)*100/float64(maxWordTolerance+1)
}
