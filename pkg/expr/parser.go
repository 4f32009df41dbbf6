package expr

import (
	"fmt"
	"strconv"
)

// node is an evaluable AST node.
type node interface {
	eval(env *env) (any, error)
}

type literalNode struct {
	value any
}

type identNode struct {
	name string
}

type indexNode struct {
	target node
	index  node
}

type lenNode struct {
	target node
}

type compareNode struct {
	op    string // == != < <= > >= in
	left  node
	right node
}

type logicalNode struct {
	op    string // and, or
	left  node
	right node
}

type notNode struct {
	operand node
}

// parser is a recursive-descent parser over the token stream.
//
// Grammar, loosest binding first:
//
//	expr       := and ("or" and)*
//	and        := unary ("and" unary)*
//	unary      := "not" unary | comparison
//	comparison := postfix (compOp postfix)?
//	postfix    := primary ("[" expr "]" | "." ident)*
//	primary    := literal | ident | "len" "(" expr ")" | "(" expr ")"
type parser struct {
	tokens []token
	pos    int
}

// Parse compiles a condition expression into a Compiled condition.
func Parse(src string) (*Compiled, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, err)
	}

	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, err)
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("invalid condition %q: unexpected %s", src, p.peek().describe())
	}

	return &Compiled{src: src, root: root}, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().kind == tokenOp && p.peek().text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %s", what, t.describe())
	}
	return t, nil
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.acceptOp("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"in": true,
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	if t.kind == tokenOp && comparisonOps[t.text] {
		p.next()
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePostfix() (node, error) {
	target, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.peek().kind == tokenLBracket:
			p.next()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRBracket, "']'"); err != nil {
				return nil, err
			}
			target = &indexNode{target: target, index: index}
		case p.peek().kind == tokenDot:
			p.next()
			field, err := p.expect(tokenIdent, "field name")
			if err != nil {
				return nil, err
			}
			target = &indexNode{target: target, index: &literalNode{value: field.text}}
		default:
			return target, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &literalNode{value: f}, nil
	case tokenString:
		return &literalNode{value: t.text}, nil
	case tokenBool:
		return &literalNode{value: t.text == "true"}, nil
	case tokenIdent:
		// len(...) is the only supported call form.
		if t.text == "len" && p.peek().kind == tokenLParen {
			p.next()
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRParen, "')'"); err != nil {
				return nil, err
			}
			return &lenNode{target: inner}, nil
		}
		return &identNode{name: t.text}, nil
	case tokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %s", t.describe())
	}
}
