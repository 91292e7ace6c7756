// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package expr

import (
	"fmt"
	"strconv"
)

// parser is a recursive-descent parser over the token stream.
//
//	or      := and ("||" and)*
//	and     := unary ("&&" unary)*
//	unary   := "!" unary | cmp
//	cmp     := sum (("=="|"!="|"<"|"<="|">"|">="|"contains"|"in") sum)?
//	sum     := primary ("+" primary)*
//	primary := string | number | "true" | "false" | "value"
//	         | ident "(" args ")" | "[" args "]" | "(" or ")"
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokenKind, text string) bool {
	t := p.peek()
	if t.kind == kind && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(tokOp, text) {
		t := p.peek()
		return fmt.Errorf("%w at %d: expected %q, got %q", ErrSyntax, t.pos, text, t.text)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "||") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = logical{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "&&") {
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = logical{op: "&&", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.accept(tokOp, "!") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return not{x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	op := ""
	switch {
	case t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">="):
		op = t.text
	case t.kind == tokIdent && (t.text == "contains" || t.text == "in"):
		op = t.text
	default:
		return l, nil
	}
	p.next()
	r, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return binary{op: op, l: l, r: r}, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "+") {
		r, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		l = binary{op: "+", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return literal{v: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w at %d: bad number %q", ErrSyntax, t.pos, t.text)
		}
		return literal{v: f}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{v: true}, nil
		case "false":
			return literal{v: false}, nil
		case "value":
			return valueRef{}, nil
		}
		bounds, ok := arity[t.text]
		if !ok {
			return nil, fmt.Errorf("%w at %d: unknown identifier %q", ErrSyntax, t.pos, t.text)
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		args, err := p.parseArgs(")")
		if err != nil {
			return nil, err
		}
		if len(args) < bounds[0] || len(args) > bounds[1] {
			return nil, fmt.Errorf("%w at %d: %s takes %d to %d arguments", ErrSyntax, t.pos, t.text, bounds[0], bounds[1])
		}
		return call{name: t.text, args: args}, nil
	case tokOp:
		switch t.text {
		case "(":
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			items, err := p.parseArgs("]")
			if err != nil {
				return nil, err
			}
			return list{items: items}, nil
		}
	}
	return nil, fmt.Errorf("%w at %d: unexpected %q", ErrSyntax, t.pos, t.text)
}

func (p *parser) parseArgs(closing string) ([]node, error) {
	var args []node
	if p.accept(tokOp, closing) {
		return args, nil
	}
	for {
		a, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.accept(tokOp, closing) {
			return args, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}
