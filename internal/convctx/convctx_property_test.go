// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convctx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/pdiddy/bot-engine/pkg/types"
)

func TestProperty_ExpiredRecordsNeverReturned(t *testing.T) {
	strategies := []*types.ContextPolicy{
		nil,
		{Strategy: types.ContextByIterations, Limit: 10},
		{Strategy: types.ContextByTags, Tags: []string{"t0", "t1", "t2"}},
	}
	rapid.Check(t, func(t *rapid.T) {
		ttlHours := rapid.IntRange(1, 96).Draw(t, "ttlHours")
		n := rapid.IntRange(1, 12).Draw(t, "records")
		var recs []types.ConversationContext
		for i := 0; i < n; i++ {
			age := time.Duration(rapid.IntRange(0, 200*60).Draw(t, fmt.Sprintf("age%d", i))) * time.Minute
			tag := fmt.Sprintf("t%d", rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("tag%d", i)))
			recs = append(recs, rec("s1", fmt.Sprintf("K%d", i), age, tag))
		}

		m := NewManager(&leakyStore{recs: recs}, types.ContextConfig{TTL: time.Duration(ttlHours) * time.Hour}, nil)
		m.SetClock(func() time.Time { return now })
		window := now.Add(-time.Duration(ttlHours) * time.Hour)

		for _, policy := range strategies {
			for _, r := range m.Fetch(context.Background(), "s1", policy) {
				if r.Timestamp.Before(window) {
					t.Fatalf("record %s at %v is older than the %dh window", r.KnowledgeID, r.Timestamp, ttlHours)
				}
			}
		}
	})
}
