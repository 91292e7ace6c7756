// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/pdiddy/bot-engine/pkg/types"
)

var utteranceGen = rapid.StringMatching(`[a-zA-Zàáâãçéêíóôõúñ .,!?'"#()-]{0,40}`)

// TestProperty_PunctuationIdempotent verifies that stripping punctuation a
// second time changes nothing.
func TestProperty_PunctuationIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := utteranceGen.Draw(rt, "utterance")
		once := StripPunctuation(s)
		if twice := StripPunctuation(once); twice != once {
			rt.Fatalf("StripPunctuation(%q) = %q, again = %q", s, once, twice)
		}
	})
}

// TestProperty_AccentFoldingIdempotent verifies that folding accents a
// second time changes nothing.
func TestProperty_AccentFoldingIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := utteranceGen.Draw(rt, "utterance")
		once := FoldAccents(s)
		if twice := FoldAccents(once); twice != once {
			rt.Fatalf("FoldAccents(%q) = %q, again = %q", s, once, twice)
		}
	})
}

// TestProperty_PipelineIdempotent verifies that the punctuation and accent
// stack is a fixed point after one run.
func TestProperty_PipelineIdempotent(t *testing.T) {
	p := NewPipeline(types.NormalizerConfig{Transforms: []string{RemovePunctuation, RemoveAccent}}, nil, nil, nil)
	rapid.Check(t, func(rt *rapid.T) {
		s := utteranceGen.Draw(rt, "utterance")
		once := p.Run(s).Text
		if twice := p.Run(once).Text; twice != once {
			rt.Fatalf("Run(%q) = %q, again = %q", s, once, twice)
		}
	})
}
