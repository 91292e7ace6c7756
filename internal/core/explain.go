// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/bot-engine/internal/brain"
	"github.com/pdiddy/bot-engine/internal/entity"
	"github.com/pdiddy/bot-engine/internal/temporal"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Trace is the classification of one utterance with every intermediate
// value. It has no side effects: nothing is persisted or logged.
type Trace struct {
	Input      string                   `json:"input"`
	Normalized string                   `json:"normalized"`
	Timings    map[string]time.Duration `json:"timings"`
	Entities   []types.Entity           `json:"entities,omitempty"`
	Cleaned    string                   `json:"cleaned"`
	Variants   []string                 `json:"variants"`
	Tags       []string                 `json:"tags,omitempty"`

	Classification brain.Classification `json:"classification"`

	// KnowledgeID and Score are empty when nothing clears the threshold.
	KnowledgeID string  `json:"knowledgeId,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Explain classifies text the way Resolve does and returns the trace.
func (e *Engine) Explain(ctx context.Context, text string) (*Trace, error) {
	rt, err := e.runtime(ctx)
	if err != nil {
		return nil, fmt.Errorf("explaining utterance: %w", err)
	}
	norm := rt.pipeline.Run(text)
	found := rt.entities.Resolve(ctx, norm.Text)
	entities := entity.Reduce(append(found, temporal.Entities(norm.Temporal)...))
	cleaned := entity.Cleanup(norm.Text, entities)
	variants := entity.Variants(norm.Text, entities)

	c := rt.index.Classify(variants)
	tr := &Trace{
		Input:          text,
		Normalized:     norm.Text,
		Timings:        norm.Timings,
		Entities:       entities,
		Cleaned:        cleaned,
		Variants:       variants,
		Tags:           rt.enricher.Tags(text),
		Classification: c,
	}
	if m := rt.index.BestMatch(c, e.confidence()); m != nil {
		tr.KnowledgeID = m.Entry.ID
		tr.Score = m.Score
	}
	return tr, nil
}
