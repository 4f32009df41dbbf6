package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenBool
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenDot
	tokenOp // ==, !=, <, <=, >, >=, in, and, or, not
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a condition expression into tokens. Keywords (and, or, not,
// in, true, false) are case-sensitive, matching the template syntax.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokenLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokenRBracket, "]", i})
			i++
		case c == '.':
			tokens = append(tokens, token{tokenDot, ".", i})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			tokens = append(tokens, token{tokenString, src[i+1 : j], i})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, src[i : i+2], i})
				i += 2
				break
			}
			if c == '=' {
				return nil, fmt.Errorf("unexpected '=' at offset %d (use '==')", i)
			}
			if c == '!' {
				tokens = append(tokens, token{tokenOp, "not", i})
				i++
				break
			}
			tokens = append(tokens, token{tokenOp, string(c), i})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, fmt.Errorf("unexpected %q at offset %d", string(c), i)
			}
			if c == '&' {
				tokens = append(tokens, token{tokenOp, "and", i})
			} else {
				tokens = append(tokens, token{tokenOp, "or", i})
			}
			i += 2
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, src[i:j], i})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			switch word {
			case "and", "or", "not", "in":
				tokens = append(tokens, token{tokenOp, word, i})
			case "true", "false":
				tokens = append(tokens, token{tokenBool, word, i})
			default:
				tokens = append(tokens, token{tokenIdent, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", string(c), i)
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(src)})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// describe renders a token for error messages.
func (t token) describe() string {
	if t.kind == tokenEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", strings.TrimSpace(t.text))
}
