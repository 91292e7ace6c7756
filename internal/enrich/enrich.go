// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich tags utterances with the word lists shipped in the
// knowledge package. Tags feed response conditions through tag('x').
package enrich

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/normalize"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Built-in tags.
const (
	TagNegative     = "negative"
	TagPositive     = "positive"
	TagQualitative  = "qualitative"
	TagQuantitative = "quantitative"
	TagTemporal     = "temporal"
)

// Extension observes the utterance after tagging. Its result is discarded.
type Extension func(text string, tags []string) error

// Enricher maps words and phrases to tags.
type Enricher struct {
	phrases    map[string][]string
	maxWords   int
	extensions map[string]Extension
	logger     *zap.Logger
}

// New builds an enricher from the package analysers.
func New(a types.Analysers, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		phrases:    map[string][]string{},
		maxWords:   1,
		extensions: map[string]Extension{},
		logger:     logger,
	}
	e.add(TagNegative, a.NegativeWords)
	e.add(TagPositive, a.PositiveWords)
	e.add(TagQualitative, a.QualitativeWords)
	e.add(TagQuantitative, a.QuantitativeWords)
	e.add(TagTemporal, a.TemporalWords)

	tags := make([]string, 0, len(a.Sentiment))
	for tag := range a.Sentiment {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		e.add(tag, a.Sentiment[tag])
	}
	return e
}

func (e *Enricher) add(tag string, words []string) {
	for _, w := range words {
		key := normalize.Trained(w)
		if key == "" {
			continue
		}
		if n := len(strings.Fields(key)); n > e.maxWords {
			e.maxWords = n
		}
		if !contains(e.phrases[key], tag) {
			e.phrases[key] = append(e.phrases[key], tag)
		}
	}
}

// Register adds an extension run after every Tags call.
func (e *Enricher) Register(name string, ext Extension) {
	e.extensions[name] = ext
}

// Tags returns the sorted, distinct tags whose words or phrases occur in text.
func (e *Enricher) Tags(text string) []string {
	tokens := strings.Fields(normalize.Trained(text))
	seen := map[string]struct{}{}
	for n := 1; n <= e.maxWords; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			for _, tag := range e.phrases[strings.Join(tokens[i:i+n], " ")] {
				seen[tag] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)

	names := make([]string, 0, len(e.extensions))
	for name := range e.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := run(e.extensions[name], text, out); err != nil {
			e.logger.Warn("enrichment extension failed", zap.String("extension", name), zap.Error(err))
		}
	}
	return out
}

func run(ext Extension, text string, tags []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extension panicked: %v", rec)
		}
	}()
	return ext(text, append([]string(nil), tags...))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
