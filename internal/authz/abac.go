// Copyright 2026 The GateKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Attributes are the merged subject/resource/context maps a condition
// is evaluated against. Top-level keys are "subject", "resource" and
// "context"; values are nested maps, strings, numbers, bools or string
// slices.
type Attributes map[string]any

// EvalCondition evaluates a policy condition expression. The grammar:
//
//	expr   := and ("||" and)*
//	and    := unary ("&&" unary)*
//	unary  := "!" unary | "(" expr ")" | cmp
//	cmp    := operand (("=="|"!="|"<"|"<="|">"|">="|"in") operand)?
//
// Operands are dotted attribute references (subject.id), string/number/
// bool literals, or [a, b] lists. A bare boolean reference is a valid
// condition. Evaluation errors fail closed: the caller treats them as
// a non-match.
func EvalCondition(condition string, attrs Attributes) (bool, error) {
	p := &condParser{tokens: lexCondition(condition), attrs: attrs}
	result, err := p.parseExpr()
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition is not boolean")
	}
	return b, nil
}

type condToken struct {
	kind string // ident, string, number, bool, op, punct, end
	text string
}

func lexCondition(src string) []condToken {
	var tokens []condToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')' || c == '[' || c == ']' || c == ',':
			tokens = append(tokens, condToken{"punct", string(c)})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				tokens = append(tokens, condToken{"err", "unterminated string"})
				return tokens
			}
			tokens = append(tokens, condToken{"string", src[i+1 : j]})
			i = j + 1
		case strings.HasPrefix(src[i:], "==") || strings.HasPrefix(src[i:], "!=") ||
			strings.HasPrefix(src[i:], "&&") || strings.HasPrefix(src[i:], "||") ||
			strings.HasPrefix(src[i:], "<=") || strings.HasPrefix(src[i:], ">="):
			tokens = append(tokens, condToken{"op", src[i : i+2]})
			i += 2
		case c == '<' || c == '>' || c == '!':
			tokens = append(tokens, condToken{"op", string(c)})
			i++
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, condToken{"number", src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			switch word {
			case "true", "false":
				tokens = append(tokens, condToken{"bool", word})
			case "in":
				tokens = append(tokens, condToken{"op", word})
			default:
				tokens = append(tokens, condToken{"ident", word})
			}
			i = j
		default:
			tokens = append(tokens, condToken{"err", string(c)})
			return tokens
		}
	}
	tokens = append(tokens, condToken{"end", ""})
	return tokens
}

type condParser struct {
	tokens []condToken
	pos    int
	attrs  Attributes
}

func (p *condParser) peek() condToken { return p.tokens[p.pos] }
func (p *condParser) next() condToken { t := p.tokens[p.pos]; p.pos++; return t }
func (p *condParser) atEnd() bool     { return p.peek().kind == "end" }

func (p *condParser) parseExpr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == "op" && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = lb || rb
	}
	return left, nil
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == "op" && p.peek().text == "&&" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = lb && rb
	}
	return left, nil
}

func (p *condParser) parseUnary() (any, error) {
	if p.peek().kind == "op" && p.peek().text == "!" {
		p.next()
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	if p.peek().kind == "punct" && p.peek().text == "(" {
		p.next()
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().text != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return val, nil
	}
	return p.parseCmp()
}

func (p *condParser) parseCmp() (any, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	if t.kind != "op" || t.text == "&&" || t.text == "||" {
		return left, nil
	}

	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		ln, lok := toNumber(left)
		rn, rok := toNumber(right)
		if !lok || !rok {
			return nil, fmt.Errorf("%s requires numeric operands", op)
		}
		switch op {
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		default:
			return ln >= rn, nil
		}
	case "in":
		return valueIn(left, right)
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func (p *condParser) parseOperand() (any, error) {
	t := p.next()
	switch t.kind {
	case "string":
		return t.text, nil
	case "number":
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return n, nil
	case "bool":
		return t.text == "true", nil
	case "ident":
		return resolveRef(t.text, p.attrs), nil
	case "punct":
		if t.text == "[" {
			var list []any
			for {
				if p.peek().text == "]" {
					p.next()
					return list, nil
				}
				item, err := p.parseOperand()
				if err != nil {
					return nil, err
				}
				list = append(list, item)
				if p.peek().text == "," {
					p.next()
				}
			}
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// resolveRef walks a dotted path through the attribute maps. A missing
// path resolves to nil, which compares unequal to everything.
func resolveRef(path string, attrs Attributes) any {
	var current any = map[string]any(attrs)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func valuesEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func valueIn(needle, haystack any) (bool, error) {
	switch list := haystack.(type) {
	case []any:
		for _, item := range list {
			if valuesEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range list {
			if valuesEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("in requires a list operand")
	}
}
