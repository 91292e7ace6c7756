// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Saturday.
var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestResolve(t *testing.T) {
	tests := []struct {
		exp  string
		want string
	}{
		{"today", "2026-03-14"},
		{"tomorrow", "2026-03-15"},
		{"yesterday", "2026-03-13"},
		{"today+2d", "2026-03-16"},
		{"today + 1w", "2026-03-21"},
		{"today-1M", "2026-02-14"},
		{"today+1y|2006", "2027"},
		{"next:monday", "2026-03-16"},
		{"next:saturday", "2026-03-21"},
		{"last:friday", "2026-03-13"},
		{"now+90m|15:04", "11:00"},
		{"today+2d|Monday", "Monday"},
	}
	for _, tt := range tests {
		t.Run(tt.exp, func(t *testing.T) {
			_, got, err := Resolve(tt.exp, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_RejectsOutsideGrammar(t *testing.T) {
	for _, exp := range []string{
		"moment().add(1, 'days')",
		"next:someday",
		"today+2",
		"today+2q",
		"today*2d",
	} {
		t.Run(exp, func(t *testing.T) {
			_, _, err := Resolve(exp, fixedNow)
			assert.ErrorIs(t, err, ErrExpression)
		})
	}
}

func TestExtract_OverrideAndOrder(t *testing.T) {
	lib := &types.TemporalLibrary{
		Locale: "en",
		Expressions: map[string]types.TemporalExpression{
			"tomorrow":           {Exp: "tomorrow"},
			"day after tomorrow": {Exp: "today+2d", Override: "tomorrow"},
			"next week":          {Exp: "today+1w"},
			"broken":             {Exp: "eval(x)"},
		},
	}
	x := NewExtractor(lib, nil)
	x.SetClock(func() time.Time { return fixedNow })

	got := x.Extract("book it the Day After Tomorrow or next week broken")
	require.Len(t, got, 2)
	assert.Equal(t, "day after tomorrow", got[0].Phrase)
	assert.Equal(t, "2026-03-16", got[0].Value)
	assert.Equal(t, "next week", got[1].Phrase)
	assert.Equal(t, "2026-03-21", got[1].Value)

	ents := Entities(got)
	require.Len(t, ents, 2)
	assert.Equal(t, EntityType, ents[0].Type)
	assert.True(t, ents[0].Removable)
}

func TestExtract_EmptyLibrary(t *testing.T) {
	assert.Empty(t, NewExtractor(nil, nil).Extract("tomorrow"))
}
