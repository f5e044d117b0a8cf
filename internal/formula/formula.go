// Package formula evaluates the arithmetic expressions of calculated form
// fields. Only numbers, field references, a fixed operator set and a
// whitelist of functions are accepted.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrSyntax         = errors.New("formula syntax error")
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnknownFunc    = errors.New("unknown function")
)

// Vars resolves identifiers to numbers. Missing or non-numeric values
// evaluate as 0.
type Vars map[string]any

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func tokenize(src string) ([]token, error) {
	var out []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// exponent suffix such as 1e3
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			text := string(runes[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, text, start)
			}
			out = append(out, token{kind: tokNumber, text: text, num: n, pos: start})
		case r == '{':
			end := i + 1
			for end < len(runes) && runes[end] != '}' {
				end++
			}
			if end == len(runes) {
				return nil, fmt.Errorf("%w: unterminated field reference at %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(string(runes[i+1 : end]))
			if name == "" {
				return nil, fmt.Errorf("%w: empty field reference at %d", ErrSyntax, i)
			}
			out = append(out, token{kind: tokIdent, text: name, pos: i})
			i = end + 1
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			out = append(out, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		case strings.ContainsRune("+-*/%^", r):
			out = append(out, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(runes)})
	return out, nil
}

// Evaluate parses and evaluates expr against vars.
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = "-" unary | power
//	power   = primary [ "^" unary ]
//	primary = number | ident | ident "(" args ")" | "(" expr ")"
func Evaluate(expr string, vars Vars) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{tokens: tokens, vars: vars}
	value, err := p.expr()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, tok.text, tok.pos)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: result is not a finite number", ErrSyntax)
	}
	return value, nil
}

// References returns the field names expr refers to, in order of first use.
func References(expr string) ([]string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for i, tok := range tokens {
		if tok.kind != tokIdent {
			continue
		}
		if tokens[i+1].kind == tokLParen {
			continue
		}
		if !seen[tok.text] {
			seen[tok.text] = true
			names = append(names, tok.text)
		}
	}
	return names, nil
}

type parser struct {
	tokens []token
	pos    int
	vars   Vars
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return 0, err
		}
		if tok.text == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/" && tok.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch tok.text {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *parser) unary() (float64, error) {
	if tok := p.peek(); tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		p.next()
		value, err := p.unary()
		if err != nil {
			return 0, err
		}
		if tok.text == "-" {
			return -value, nil
		}
		return value, nil
	}
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind == tokOp && tok.text == "^" {
		p.next()
		// right associative: 2^3^2 == 2^9
		exponent, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

func (p *parser) primary() (float64, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return tok.num, nil
	case tokLParen:
		value, err := p.expr()
		if err != nil {
			return 0, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return 0, fmt.Errorf("%w: expected ) at %d", ErrSyntax, closing.pos)
		}
		return value, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.args()
			if err != nil {
				return 0, err
			}
			return call(tok.text, args)
		}
		return lookup(p.vars, tok.text), nil
	case tokEOF:
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, tok.text, tok.pos)
	}
}

func (p *parser) args() ([]float64, error) {
	var args []float64
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		value, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		tok := p.next()
		switch tok.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, fmt.Errorf("%w: expected , or ) at %d", ErrSyntax, tok.pos)
		}
	}
}

func call(name string, args []float64) (float64, error) {
	unary := func(fn func(float64) float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("%w: %s takes 1 argument, got %d", ErrSyntax, name, len(args))
		}
		return fn(args[0]), nil
	}
	switch strings.ToLower(name) {
	case "min", "max":
		if len(args) == 0 {
			return 0, fmt.Errorf("%w: %s needs at least 1 argument", ErrSyntax, name)
		}
		out := args[0]
		for _, v := range args[1:] {
			if strings.EqualFold(name, "min") {
				out = math.Min(out, v)
			} else {
				out = math.Max(out, v)
			}
		}
		return out, nil
	case "abs":
		return unary(math.Abs)
	case "floor":
		return unary(math.Floor)
	case "ceil":
		return unary(math.Ceil)
	case "sqrt":
		if len(args) == 1 && args[0] < 0 {
			return 0, fmt.Errorf("%w: sqrt of negative number", ErrSyntax)
		}
		return unary(math.Sqrt)
	case "round":
		switch len(args) {
		case 1:
			return math.Round(args[0]), nil
		case 2:
			scale := math.Pow(10, math.Trunc(args[1]))
			return math.Round(args[0]*scale) / scale, nil
		default:
			return 0, fmt.Errorf("%w: round takes 1 or 2 arguments, got %d", ErrSyntax, len(args))
		}
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
}

func lookup(vars Vars, name string) float64 {
	value, ok := vars[name]
	if !ok {
		return 0
	}
	return ToNumber(value)
}

// ToNumber converts a submitted field value to a number. Values that do
// not look numeric become 0.
func ToNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return n
	case interface{ Float64() (float64, error) }:
		n, err := v.Float64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
