// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize implements the ordered text-normalization pipeline run on
// every utterance before entity resolution and classification.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/bot-engine/internal/temporal"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Transform names accepted in NormalizerConfig.Transforms.
const (
	ReplaceSynonym    = "replaceSynonym"
	RemovePunctuation = "removePunctuation"
	FuzzyReplacement  = "fuzzyReplacement"
	RemoveAccent      = "removeAccent"
	RemoveStopWords   = "removeStopWords"
	TemporalTagging   = "temporal"
)

// DefaultStack is the transform order used when none is configured.
var DefaultStack = []string{
	ReplaceSynonym,
	RemovePunctuation,
	FuzzyReplacement,
	RemoveAccent,
	RemoveStopWords,
	TemporalTagging,
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Input is the lowercased utterance before any transform.
	Input string

	// Text is the normalized utterance.
	Text string

	// Temporal holds the phrases tagged by the temporal transform.
	Temporal []types.TemporalEntity

	// Timings records how long each transform and extension took.
	Timings map[string]time.Duration
}

// Transform rewrites the utterance. A transform that fails leaves the
// utterance as it was.
type Transform func(r *Result, s string) (string, error)

// Extension observes the normalized utterance. Its output never feeds back
// into the pipeline.
type Extension func(s string) error

// Pipeline runs the configured transforms in order.
type Pipeline struct {
	stack      []string
	transforms map[string]Transform
	extensions map[string]Extension
	dict       *Dictionary
	temporal   *temporal.Extractor
	fuzzy      bool
	fuzzyScore float64
	logger     *zap.Logger
}

// NewPipeline builds a pipeline over dict. Unknown transform names in cfg
// are dropped with a warning.
func NewPipeline(cfg types.NormalizerConfig, dict *Dictionary, tx *temporal.Extractor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dict == nil {
		dict = NewDictionary(nil, nil, nil)
	}
	if tx == nil {
		tx = temporal.NewExtractor(nil, logger)
	}
	score := cfg.FuzzyScore
	if score <= 0 {
		score = 83
	}
	p := &Pipeline{
		extensions: map[string]Extension{},
		dict:       dict,
		temporal:   tx,
		fuzzy:      cfg.EnableFuzzy,
		fuzzyScore: score,
		logger:     logger,
	}
	p.transforms = map[string]Transform{
		ReplaceSynonym:    p.replaceSynonym,
		RemovePunctuation: func(_ *Result, s string) (string, error) { return StripPunctuation(s), nil },
		FuzzyReplacement:  p.fuzzyReplacement,
		RemoveAccent:      func(_ *Result, s string) (string, error) { return FoldAccents(s), nil },
		RemoveStopWords:   p.removeStopWords,
		TemporalTagging:   p.tagTemporal,
	}

	names := cfg.Transforms
	if len(names) == 0 {
		names = DefaultStack
	}
	for _, name := range names {
		if _, ok := p.transforms[name]; !ok {
			logger.Warn("ignoring unknown transform", zap.String("transform", name))
			continue
		}
		p.stack = append(p.stack, name)
	}
	return p
}

// Stack returns the active transform names in order.
func (p *Pipeline) Stack() []string {
	return append([]string(nil), p.stack...)
}

// Register adds an extension run after the core stack.
func (p *Pipeline) Register(name string, ext Extension) {
	p.extensions[name] = ext
}

// Run normalizes s.
func (p *Pipeline) Run(s string) Result {
	r := Result{Timings: map[string]time.Duration{}}
	current := strings.ToLower(s)
	r.Input = current

	for _, name := range p.stack {
		start := time.Now()
		next, err := p.apply(name, p.transforms[name], &r, current)
		r.Timings[name] = time.Since(start)
		if err != nil {
			p.logger.Warn("transform failed", zap.String("transform", name), zap.Error(err))
			continue
		}
		current = next
	}
	r.Text = current

	names := make([]string, 0, len(p.extensions))
	for name := range p.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		start := time.Now()
		if err := p.observe(p.extensions[name], current); err != nil {
			p.logger.Warn("extension failed", zap.String("extension", name), zap.Error(err))
		}
		r.Timings["ext:"+name] = time.Since(start)
	}
	return r
}

func (p *Pipeline) apply(name string, t Transform, r *Result, s string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = s, fmt.Errorf("transform %s panicked: %v", name, rec)
		}
	}()
	return t(r, s)
}

func (p *Pipeline) observe(ext Extension, s string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extension panicked: %v", rec)
		}
	}()
	return ext(s)
}

func (p *Pipeline) replaceSynonym(_ *Result, s string) (string, error) {
	tokens := Tokenize(s)
	for i, t := range tokens {
		if canonical, ok := p.dict.synonyms[t]; ok {
			tokens[i] = canonical
		}
	}
	return strings.Join(tokens, " "), nil
}

func (p *Pipeline) removeStopWords(_ *Result, s string) (string, error) {
	tokens := Tokenize(s)
	kept := tokens[:0]
	for _, t := range tokens {
		if _, stop := p.dict.stopWords[t]; !stop {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " "), nil
}

func (p *Pipeline) fuzzyReplacement(_ *Result, s string) (string, error) {
	if !p.fuzzy || len(p.dict.vocabulary) == 0 {
		return s, nil
	}
	tokens := Tokenize(s)
	for i, t := range tokens {
		if len([]rune(t)) < minFuzzyLength {
			continue
		}
		if _, known := p.dict.vocabSet[t]; known {
			continue
		}
		if best, score, ok := p.dict.BestMatch(t); ok && score > p.fuzzyScore {
			tokens[i] = best
		}
	}
	return strings.Join(tokens, " "), nil
}

func (p *Pipeline) tagTemporal(r *Result, s string) (string, error) {
	r.Temporal = p.temporal.Extract(s)
	return s, nil
}

// Tokenize splits s on whitespace.
func Tokenize(s string) []string {
	return strings.Fields(s)
}

var punctuation = regexp.MustCompile(`[&/\\#,+()$~%.!^'";:*?\[\]<>]`)

// StripPunctuation removes punctuation and collapses whitespace.
func StripPunctuation(s string) string {
	return strings.Join(Tokenize(punctuation.ReplaceAllString(s, "")), " ")
}

// FoldAccents removes combining marks, e.g. "pão" becomes "pao".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Trained applies the cleanup used on both intents and utterance variants
// before scoring: lowercase, punctuation, accents.
func Trained(s string) string {
	return FoldAccents(StripPunctuation(strings.ToLower(s)))
}
