package matcher

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Rule lines use the audit search comparison syntax: `field OP value` terms
// with =, !=, <, <=, >, >=, combined by &&, || and ! with parentheses. Values
// are bare words or quoted strings. lowerExpression rewrites such a line into
// a CEL expression over the fields map. A comparison matches only when the
// field is present, so an absent field never matches and never errors.

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
	tokenCompare
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isWordChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune("_.:/@*+-", r)
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case r == '&':
			if i+1 >= len(runes) || runes[i+1] != '&' {
				return nil, fmt.Errorf("single '&' at position %d, expected '&&'", i)
			}
			tokens = append(tokens, token{tokenAnd, "&&", i})
			i += 2
		case r == '|':
			if i+1 >= len(runes) || runes[i+1] != '|' {
				return nil, fmt.Errorf("single '|' at position %d, expected '||'", i)
			}
			tokens = append(tokens, token{tokenOr, "||", i})
			i += 2
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenCompare, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}
		case r == '=':
			tokens = append(tokens, token{tokenCompare, "=", i})
			i++
		case r == '<' || r == '>':
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{tokenCompare, op, i})
			i++
		case r == '"' || r == '\'':
			quote := r
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string starting at position %d", start)
			}
			tokens = append(tokens, token{tokenString, sb.String(), start})
		case isWordChar(r):
			start := i
			for i < len(runes) && isWordChar(runes[i]) {
				i++
			}
			tokens = append(tokens, token{tokenWord, string(runes[start:i]), start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(runes)})
	return tokens, nil
}

type normalizer struct {
	tokens []token
	pos    int
}

func (n *normalizer) peek() token {
	return n.tokens[n.pos]
}

func (n *normalizer) next() token {
	t := n.tokens[n.pos]
	if t.kind != tokenEOF {
		n.pos++
	}
	return t
}

// lowerExpression rewrites an audit search expression into CEL text.
func lowerExpression(expr string) (string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return "", err
	}

	n := &normalizer{tokens: tokens}
	out, err := n.parseOr()
	if err != nil {
		return "", err
	}
	if t := n.peek(); t.kind != tokenEOF {
		return "", fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return out, nil
}

func (n *normalizer) parseOr() (string, error) {
	left, err := n.parseAnd()
	if err != nil {
		return "", err
	}
	for n.peek().kind == tokenOr {
		n.next()
		right, err := n.parseAnd()
		if err != nil {
			return "", err
		}
		left = left + " || " + right
	}
	return left, nil
}

func (n *normalizer) parseAnd() (string, error) {
	left, err := n.parseUnary()
	if err != nil {
		return "", err
	}
	for n.peek().kind == tokenAnd {
		n.next()
		right, err := n.parseUnary()
		if err != nil {
			return "", err
		}
		left = left + " && " + right
	}
	return left, nil
}

func (n *normalizer) parseUnary() (string, error) {
	switch t := n.peek(); t.kind {
	case tokenNot:
		n.next()
		inner, err := n.parseUnary()
		if err != nil {
			return "", err
		}
		return "!" + inner, nil
	case tokenLParen:
		n.next()
		inner, err := n.parseOr()
		if err != nil {
			return "", err
		}
		if closing := n.next(); closing.kind != tokenRParen {
			return "", fmt.Errorf("expected ')' at position %d", closing.pos)
		}
		return "(" + inner + ")", nil
	default:
		return n.parseComparison()
	}
}

func (n *normalizer) parseComparison() (string, error) {
	field := n.next()
	if field.kind != tokenWord {
		return "", fmt.Errorf("expected field name at position %d, got %q", field.pos, field.text)
	}

	op := n.next()
	if op.kind != tokenCompare {
		return "", fmt.Errorf("expected comparison operator after %q at position %d", field.text, op.pos)
	}
	celOp := op.text
	if celOp == "=" {
		celOp = "=="
	}

	value := n.next()
	if value.kind != tokenWord && value.kind != tokenString {
		return "", fmt.Errorf("expected value after %q at position %d", op.text, value.pos)
	}

	qf := strconv.Quote(field.text)
	qv := strconv.Quote(value.text)
	return fmt.Sprintf("(%s in fields && fields[%s] %s %s)", qf, qf, celOp, qv), nil
}
