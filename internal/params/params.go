// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package params fills the declared parameter slots of a matched knowledge
// entry and renders its backend payload.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/expr"
	"github.com/pdiddy/bot-engine/internal/normalize"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// ErrPayload reports a payload template that does not render to a JSON object.
var ErrPayload = errors.New("invalid payload template")

// Source records where a parameter value came from.
type Source string

const (
	FromEntity  Source = "entity"
	FromRegex   Source = "regex"
	FromPayload Source = "payload"
	FromContext Source = "context"
	FromDefault Source = "default"
)

// Input is everything a turn offers for slot filling.
type Input struct {
	Entry *types.KnowledgeEntry

	// RawIntent is the utterance as typed, matched against regex lists.
	RawIntent string

	Entities []types.Entity
	Payload  map[string]types.Answer

	// Contexts are prior turns, newest first.
	Contexts []types.ConversationContext

	Tags []string
	Vars map[string]string
}

// Result is the outcome of slot filling. When MoreInfo is set the turn must
// collect Slots through a sync conversation instead of producing a response.
type Result struct {
	Values  map[string]string `json:"values,omitempty"`
	Sources map[string]Source `json:"sources,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`

	MoreInfo bool             `json:"moreInfo,omitempty"`
	Slots    []types.SyncSlot `json:"slots,omitempty"`
}

// Extractor resolves parameters.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor returns an extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract resolves every parameter of in.Entry in order: entity, regex,
// client payload, context injection, default expression. Unresolved
// parameters turn into sync slots.
func (x *Extractor) Extract(in Input) (*Result, error) {
	res := &Result{Values: map[string]string{}, Sources: map[string]Source{}}
	if in.Entry == nil {
		return res, nil
	}

	for _, p := range in.Entry.Parameters {
		v, src, ok := x.resolve(p, in, res.Values)
		if !ok {
			res.MoreInfo = true
			res.Slots = append(res.Slots, Slot(p))
			continue
		}
		res.Values[p.Position()] = v
		res.Sources[p.Name] = src
	}
	if res.MoreInfo {
		return res, nil
	}

	payload, err := Render(in.Entry, res.Values)
	if err != nil {
		return nil, err
	}
	res.Payload = payload
	return res, nil
}

func (x *Extractor) resolve(p types.Parameter, in Input, resolved map[string]string) (string, Source, bool) {
	for _, e := range in.Entities {
		if e.Type == p.Name && e.Value != "" {
			return e.Value, FromEntity, true
		}
	}
	if v, ok := x.matchRegex(p, in.RawIntent); ok {
		return v, FromRegex, true
	}
	for _, key := range []string{p.Name, p.Position()} {
		if a, ok := in.Payload[key]; ok && a.Response != "" {
			return a.Response, FromPayload, true
		}
	}
	if p.CtxInjection && len(in.Contexts) > 0 {
		last := in.Contexts[0]
		if e, ok := last.Entity(p.Name); ok && e.Value != "" {
			return e.Value, FromContext, true
		}
		for _, key := range []string{p.Position(), p.Name} {
			if v, ok := last.PayloadValue(key); ok && v != "" {
				return v, FromContext, true
			}
		}
	}
	if p.DefaultValue != "" {
		env := expr.Env{Tags: in.Tags, Vars: in.Vars, Payload: resolved}
		if v, ok := x.evalDefault(p, env); ok {
			return v, FromDefault, true
		}
	}
	return "", "", false
}

// evalDefault evaluates the default expression. A default that does not
// parse as an expression is taken literally.
func (x *Extractor) evalDefault(p types.Parameter, env expr.Env) (string, bool) {
	prog, err := expr.Compile(p.DefaultValue)
	if err != nil {
		return strings.TrimSpace(p.DefaultValue), true
	}
	v, err := prog.Eval(env)
	if err != nil {
		x.logger.Warn("default value failed", zap.String("parameter", p.Name), zap.Error(err))
		return "", false
	}
	s := expr.String(v)
	return s, s != ""
}

func (x *Extractor) matchRegex(p types.Parameter, text string) (string, bool) {
	for _, raw := range p.RegexList {
		re, err := CompilePattern(raw)
		if err != nil {
			x.logger.Warn("skipping parameter regex", zap.String("parameter", p.Name), zap.String("regex", raw), zap.Error(err))
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

// CompilePattern compiles a "/pattern/flags" literal or a bare pattern. The
// i flag makes the match case-insensitive; other flags are ignored.
func CompilePattern(raw string) (*regexp.Regexp, error) {
	pattern := raw
	if strings.HasPrefix(raw, "/") {
		if end := strings.LastIndex(raw, "/"); end > 0 {
			pattern = raw[1:end]
			if strings.Contains(raw[end+1:], "i") {
				pattern = "(?i)" + pattern
			}
		}
	}
	return regexp.Compile(pattern)
}

// Slot synthesizes the sync slot that asks the user for p.
func Slot(p types.Parameter) types.SyncSlot {
	ask := p.NoMatchAsk
	if len(ask) == 0 {
		ask = []types.ResponseVariant{{Text: p.Name + "?"}}
	}
	return types.SyncSlot{
		Name:                     p.Name,
		PayloadPosition:          p.Position(),
		Ask:                      ask,
		Validation:               p.Validation,
		ValidationSuccessMessage: p.ValidationSuccessMessage,
		ValidationErrorMessage:   p.ValidationErrorMessage,
		MaxRetry:                 p.MaxRetry,
		Hangout:                  p.Hangout,
		RichResponseObject:       p.RichResponseObject,
	}
}

// Render fills the entry's payload template with values keyed by payload
// position. Without a template the values themselves form the payload.
func Render(entry *types.KnowledgeEntry, values map[string]string) (map[string]any, error) {
	if strings.TrimSpace(entry.Payload) == "" {
		out := make(map[string]any, len(values))
		for k, v := range values {
			if entry.RemoveAccent {
				v = normalize.FoldAccents(v)
			}
			out[k] = v
		}
		return out, nil
	}

	// Longer keys first so "$size" never clobbers "$sizeUnit".
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	rendered := entry.Payload
	for _, k := range keys {
		rendered = strings.ReplaceAll(rendered, "$"+k, jsonEscape(values[k]))
	}
	if entry.RemoveAccent {
		rendered = normalize.FoldAccents(rendered)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(rendered), &out); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrPayload, entry.ID, err)
	}
	return out, nil
}

// jsonEscape returns s escaped for use inside a JSON string literal.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
