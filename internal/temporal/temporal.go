// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package temporal recognizes date and time phrases in an utterance using a
// phrase library shipped in the knowledge package.
//
// Library expressions use a closed grammar:
//
//	base[(+|-)N unit]...[|layout]
//
// where base is now, today, tomorrow, yesterday, next:<weekday> or
// last:<weekday>, unit is m (minutes), h, d, w, M (months) or y, and layout
// is a Go time layout. "today+2d|Monday" renders the weekday two days out.
package temporal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// EntityType is the entity type assigned to temporal phrases.
const EntityType = "sbf:temporal"

// ErrExpression reports an expression outside the grammar.
var ErrExpression = errors.New("invalid temporal expression")

// Extractor matches library phrases against utterances.
type Extractor struct {
	expressions map[string]types.TemporalExpression
	now         func() time.Time
	logger      *zap.Logger
}

// NewExtractor builds an extractor over lib. A nil lib matches nothing.
func NewExtractor(lib *types.TemporalLibrary, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &Extractor{
		expressions: map[string]types.TemporalExpression{},
		now:         time.Now,
		logger:      logger,
	}
	if lib != nil {
		for phrase, e := range lib.Expressions {
			x.expressions[strings.ToLower(phrase)] = e
		}
	}
	return x
}

// SetClock replaces the time source.
func (x *Extractor) SetClock(now func() time.Time) { x.now = now }

// Extract returns the temporal entities found in text, ordered by their
// first position. Trigrams, bigrams and unigrams are looked up; a matched
// phrase that declares an override removes the overridden phrase.
func (x *Extractor) Extract(text string) []types.TemporalEntity {
	if len(x.expressions) == 0 {
		return nil
	}
	tokens := strings.Fields(strings.ToLower(text))
	found := map[string]int{}
	for n := 3; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			phrase := strings.Join(tokens[i:i+n], " ")
			if _, ok := x.expressions[phrase]; !ok {
				continue
			}
			if _, seen := found[phrase]; !seen {
				found[phrase] = i
			}
		}
	}
	for phrase := range found {
		if o := x.expressions[phrase].Override; o != "" {
			delete(found, strings.ToLower(o))
		}
	}

	now := x.now()
	var out []types.TemporalEntity
	for phrase := range found {
		e := x.expressions[phrase]
		t, v, err := Resolve(e.Exp, now)
		if err != nil {
			x.logger.Warn("skipping temporal phrase", zap.String("phrase", phrase), zap.Error(err))
			continue
		}
		out = append(out, types.TemporalEntity{Phrase: phrase, Expression: e.Exp, Value: v, Time: t})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := found[out[i].Phrase], found[out[j].Phrase]
		if pi != pj {
			return pi < pj
		}
		return out[i].Phrase < out[j].Phrase
	})
	return out
}

// Entities converts temporal matches into removable entities so they take
// part in placeholder substitution.
func Entities(matches []types.TemporalEntity) []types.Entity {
	out := make([]types.Entity, 0, len(matches))
	for _, m := range matches {
		out = append(out, types.Entity{
			Type:      EntityType,
			Value:     m.Phrase,
			Length:    len(m.Phrase),
			Removable: true,
		})
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Resolve evaluates exp relative to now and returns the instant and its
// rendering.
func Resolve(exp string, now time.Time) (time.Time, string, error) {
	body, layout, hasLayout := strings.Cut(strings.TrimSpace(exp), "|")
	body = strings.TrimSpace(body)

	end := strings.IndexAny(body, "+-")
	base := body
	rest := ""
	if end >= 0 {
		base, rest = strings.TrimSpace(body[:end]), body[end:]
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var t time.Time
	defaultLayout := "2006-01-02"
	switch {
	case base == "now":
		t = now
		defaultLayout = time.RFC3339
	case base == "today":
		t = today
	case base == "tomorrow":
		t = today.AddDate(0, 0, 1)
	case base == "yesterday":
		t = today.AddDate(0, 0, -1)
	case strings.HasPrefix(base, "next:"):
		wd, ok := weekdays[strings.TrimPrefix(base, "next:")]
		if !ok {
			return time.Time{}, "", fmt.Errorf("%w: unknown weekday in %q", ErrExpression, exp)
		}
		delta := (int(wd) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		t = today.AddDate(0, 0, delta)
	case strings.HasPrefix(base, "last:"):
		wd, ok := weekdays[strings.TrimPrefix(base, "last:")]
		if !ok {
			return time.Time{}, "", fmt.Errorf("%w: unknown weekday in %q", ErrExpression, exp)
		}
		delta := (int(today.Weekday()) - int(wd) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		t = today.AddDate(0, 0, -delta)
	default:
		return time.Time{}, "", fmt.Errorf("%w: unknown base %q", ErrExpression, base)
	}

	for rest != "" {
		sign := 1
		switch rest[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return time.Time{}, "", fmt.Errorf("%w: bad offset in %q", ErrExpression, exp)
		}
		rest = strings.TrimSpace(rest[1:])
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return time.Time{}, "", fmt.Errorf("%w: bad offset in %q", ErrExpression, exp)
		}
		n, _ := strconv.Atoi(rest[:i])
		n *= sign
		switch rest[i] {
		case 'm':
			t = t.Add(time.Duration(n) * time.Minute)
		case 'h':
			t = t.Add(time.Duration(n) * time.Hour)
		case 'd':
			t = t.AddDate(0, 0, n)
		case 'w':
			t = t.AddDate(0, 0, 7*n)
		case 'M':
			t = t.AddDate(0, n, 0)
		case 'y':
			t = t.AddDate(n, 0, 0)
		default:
			return time.Time{}, "", fmt.Errorf("%w: unknown unit %q in %q", ErrExpression, rest[i], exp)
		}
		rest = strings.TrimSpace(rest[i+1:])
	}

	if !hasLayout || strings.TrimSpace(layout) == "" {
		layout = defaultLayout
	}
	return t, t.Format(layout), nil
}
