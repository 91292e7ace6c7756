// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() Env {
	return Env{
		Tags:    []string{"vip", "NEGATIVE"},
		Vars:    map[string]string{"channel": "web", "tier": "3"},
		Payload: map[string]string{"size": "large"},
		Value:   "12345",
		Now:     func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`tag('vip')`, true},
		{`tag('gold')`, false},
		{`!tag('gold')`, true},
		{`env('channel') == 'web'`, true},
		{`env('channel') != 'web'`, false},
		{`env('missing') == ''`, true},
		{`tag('vip') && env('channel') == 'web'`, true},
		{`tag('gold') || env('channel') == 'web'`, true},
		{`tag('gold') || (tag('vip') && !tag('x'))`, true},
		{`payload('size') in ['small', 'large']`, true},
		{`payload('size') in ['small', 'medium']`, false},
		{`['a', 'b'] contains 'b'`, true},
		{`'pepperoni pizza' contains 'pizza'`, true},
		{`matches(value, '^[0-9]{5}$')`, true},
		{`matches('abc', '^[0-9]+$')`, false},
		{`len(value) == 5`, true},
		{`number(env('tier')) >= 3`, true},
		{`env('tier') < 2`, false},
		{`value == 12345`, true},
		{`lower('ABC') == 'abc'`, true},
		{`true`, true},
		{`''`, false},
		{`now('2006-01-02') == '2026-03-14'`, true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			got, err := p.Bool(testEnv())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Values(t *testing.T) {
	v, err := Eval(`'order-' + value`, testEnv())
	require.NoError(t, err)
	assert.Equal(t, "order-12345", v)

	v, err = Eval(`1 + 2`, testEnv())
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = Eval(`now('15:04')`, testEnv())
	require.NoError(t, err)
	assert.Equal(t, "09:30", String(v))
}

func TestCompile_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		`tag('vip'`,
		`'unterminated`,
		`require('fs')`,
		`process.exit(1)`,
		`tag('a', 'b')`,
		`value ==`,
		`a = b`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestTruthy_ErrorsAreFalse(t *testing.T) {
	assert.False(t, Truthy(`require('fs')`, testEnv()))
	assert.False(t, Truthy(`matches(value, '(')`, testEnv()))
	assert.True(t, Truthy(`tag('vip')`, testEnv()))
}
