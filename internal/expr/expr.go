// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package expr evaluates the condition, validation and default-value
// expressions stored in knowledge packages. The grammar is closed: literals,
// comparisons, boolean operators and a fixed set of functions over the
// session tags, environment variables, payload and the value under test.
//
//	tag('vip') && env('channel') == 'web'
//	value in ['small', 'medium', 'large']
//	matches(value, '^[0-9]{5}$')
//	now('2006-01-02')
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrSyntax reports a malformed expression.
var ErrSyntax = errors.New("expression syntax error")

// ErrEval reports a well-formed expression that could not be evaluated.
var ErrEval = errors.New("expression evaluation error")

// Env is the data an expression may read.
type Env struct {
	Tags    []string
	Vars    map[string]string
	Payload map[string]string

	// Value is the answer under validation.
	Value string

	// Now returns the evaluation time. Nil means time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Program is a compiled expression.
type Program struct {
	src  string
	root node
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Compile parses src.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w at %d: unexpected %q", ErrSyntax, t.pos, t.text)
	}
	return &Program{src: src, root: root}, nil
}

// Eval runs the program against env.
func (p *Program) Eval(env Env) (any, error) {
	return p.root.eval(&env)
}

// Bool runs the program and reports its truthiness.
func (p *Program) Bool(env Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Eval compiles and runs src.
func Eval(src string, env Env) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(env)
}

// Truthy compiles and runs src, treating any error as false.
func Truthy(src string, env Env) bool {
	p, err := Compile(src)
	if err != nil {
		return false
	}
	ok, err := p.Bool(env)
	return err == nil && ok
}

// String renders an evaluated value as text.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = String(e)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

type node interface {
	eval(env *Env) (any, error)
}

type literal struct{ v any }

func (n literal) eval(*Env) (any, error) { return n.v, nil }

type valueRef struct{}

func (valueRef) eval(env *Env) (any, error) { return env.Value, nil }

type list struct{ items []node }

func (n list) eval(env *Env) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, it := range n.items {
		v, err := it.eval(env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type not struct{ x node }

func (n not) eval(env *Env) (any, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type logical struct {
	op   string
	l, r node
}

func (n logical) eval(env *Env) (any, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return nil, err
	}
	if n.op == "&&" && !truthy(l) {
		return false, nil
	}
	if n.op == "||" && truthy(l) {
		return true, nil
	}
	r, err := n.r.eval(env)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

type binary struct {
	op   string
	l, r node
}

func (n binary) eval(env *Env) (any, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "+":
		lf, lok := l.(float64)
		rf, rok := r.(float64)
		if lok && rok {
			return lf + rf, nil
		}
		return String(l) + String(r), nil
	case "contains":
		return contains(l, r), nil
	case "in":
		return contains(r, l), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, l, r)
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrEval, n.op)
}

type call struct {
	name string
	args []node
}

func (n call) eval(env *Env) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	fn := functions[n.name]
	return fn(env, args)
}

type function func(env *Env, args []any) (any, error)

// functions is the closed set of callables with their arities.
var functions = map[string]function{
	"tag": func(env *Env, args []any) (any, error) {
		want := String(args[0])
		for _, t := range env.Tags {
			if t == want {
				return true, nil
			}
		}
		return false, nil
	},
	"env": func(env *Env, args []any) (any, error) {
		return env.Vars[String(args[0])], nil
	},
	"payload": func(env *Env, args []any) (any, error) {
		return env.Payload[String(args[0])], nil
	},
	"len": func(_ *Env, args []any) (any, error) {
		if l, ok := args[0].([]any); ok {
			return float64(len(l)), nil
		}
		return float64(len([]rune(String(args[0])))), nil
	},
	"lower": func(_ *Env, args []any) (any, error) {
		return strings.ToLower(String(args[0])), nil
	},
	"upper": func(_ *Env, args []any) (any, error) {
		return strings.ToUpper(String(args[0])), nil
	},
	"trim": func(_ *Env, args []any) (any, error) {
		return strings.TrimSpace(String(args[0])), nil
	},
	"number": func(_ *Env, args []any) (any, error) {
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrEval, String(args[0]))
		}
		return f, nil
	},
	"matches": func(_ *Env, args []any) (any, error) {
		re, err := regexp.Compile(String(args[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEval, err)
		}
		return re.MatchString(String(args[0])), nil
	},
	"now": func(env *Env, args []any) (any, error) {
		layout := time.RFC3339
		if len(args) > 0 {
			layout = String(args[0])
		}
		return env.now().Format(layout), nil
	},
}

var arity = map[string][2]int{
	"tag":     {1, 1},
	"env":     {1, 1},
	"payload": {1, 1},
	"len":     {1, 1},
	"lower":   {1, 1},
	"upper":   {1, 1},
	"trim":    {1, 1},
	"number":  {1, 1},
	"matches": {2, 2},
	"now":     {0, 1},
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	}
	return true
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func equal(l, r any) bool {
	_, lnum := l.(float64)
	_, rnum := r.(float64)
	if lnum || rnum {
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if lok && rok {
			return lf == rf
		}
	}
	if lb, ok := l.(bool); ok {
		return lb == truthy(r)
	}
	if rb, ok := r.(bool); ok {
		return rb == truthy(l)
	}
	return String(l) == String(r)
}

func contains(haystack, needle any) bool {
	if l, ok := haystack.([]any); ok {
		for _, e := range l {
			if equal(e, needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(String(haystack), String(needle))
}

func compare(op string, l, r any) (any, error) {
	lf, lok := toNumber(l)
	rf, rok := toNumber(r)
	if !lok || !rok {
		ls, rs := String(l), String(r)
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	default:
		return lf >= rf, nil
	}
}
