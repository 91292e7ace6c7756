// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/pdiddy/bot-engine/pkg/types"
)

var vocabulary = []string{"order", "pizza", "drink", "weather", "table", "book", "cancel", "{size}", "{city}", "menu"}

func phrase(t *rapid.T, label string) string {
	words := rapid.SliceOfN(rapid.SampledFrom(vocabulary), 1, 5).Draw(t, label)
	return strings.Join(words, " ")
}

func TestProperty_LinearScoresBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "entries")
		pkg := &types.KnowledgePackage{}
		for i := 0; i < n; i++ {
			intents := []string{phrase(t, fmt.Sprintf("intent%d.a", i)), phrase(t, fmt.Sprintf("intent%d.b", i))}
			pkg.Knowledge = append(pkg.Knowledge, types.KnowledgeEntry{ID: fmt.Sprintf("K%d", i), Intents: intents})
		}
		ix, err := NewIndex(pkg, 0)
		if err != nil {
			t.Fatalf("building index: %v", err)
		}

		c := ix.Classify([]string{phrase(t, "utterance")})

		seen := map[int]bool{}
		for i, ls := range c.Linear {
			if ls.Score < 0 || ls.Score > 1+1e-9 {
				t.Fatalf("score %v out of range for %s", ls.Score, ls.ID)
			}
			if seen[ls.Intersection] {
				t.Fatalf("intersection %d listed twice", ls.Intersection)
			}
			seen[ls.Intersection] = true
			if i > 0 && c.Linear[i-1].Intersection <= ls.Intersection {
				t.Fatalf("linear list not ordered by intersection: %+v", c.Linear)
			}
			if c.Max == nil || ls.Score > c.Max.Score {
				t.Fatalf("running max %+v below %+v", c.Max, ls)
			}
		}

		if m := ix.BestMatch(c, DefaultConfidence); m != nil && m.Score < DefaultConfidence/2 {
			t.Fatalf("accepted %s with score %v below the loosest threshold", m.Entry.ID, m.Score)
		}
	})
}
