/*
expr.go - Sandboxed arithmetic evaluation

PURPOSE:
  Evaluates the substituted formula text. Formulas are user-authored, so
  nothing but arithmetic over decimal literals is ever interpreted.

GRAMMAR:
  expr    = term { ("+" | "-") term }
  term    = unary { ("*" | "/") unary }
  unary   = ("+" | "-") unary | primary
  primary = number | "(" expr ")"
  number  = digits [ "." digits ] | "." digits

  Arithmetic runs on shopspring/decimal, so 42 * 1.1 is exactly 46.2.
*/
package indexation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsafeExpression means characters outside the arithmetic whitelist remain.
	ErrUnsafeExpression = errors.New("expression contains forbidden characters")

	// ErrMalformedExpression means the text is not a well-formed arithmetic expression.
	ErrMalformedExpression = errors.New("malformed expression")

	// ErrDivisionByZero means a divisor evaluated to zero.
	ErrDivisionByZero = errors.New("division by zero")
)

var safeExpression = regexp.MustCompile(`^[0-9.+\-*/()\s]+$`)

// maxNesting bounds parenthesis and unary nesting.
const maxNesting = 128

// divisionPrecision is the number of decimal places kept by "/".
const divisionPrecision = 16

// CheckSafe applies the character whitelist.
func CheckSafe(expr string) error {
	if !safeExpression.MatchString(expr) {
		return ErrUnsafeExpression
	}
	return nil
}

// EvalArithmetic checks expr against the whitelist, then evaluates it.
func EvalArithmetic(expr string) (decimal.Decimal, error) {
	if err := CheckSafe(expr); err != nil {
		return decimal.Zero, err
	}
	p := &parser{src: expr}
	v, err := p.parseExpr()
	if err != nil {
		return decimal.Zero, err
	}
	p.skipSpace()
	if !p.done() {
		return decimal.Zero, p.errorf("unexpected %q", p.src[p.pos])
	}
	return v, nil
}

// =============================================================================
// PARSER
// =============================================================================

type parser struct {
	src   string
	pos   int
	depth int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.done() {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrMalformedExpression, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseExpr() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return decimal.Zero, err
		}
		if op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

func (p *parser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseUnary()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return decimal.Zero, err
		}
		if op == '*' {
			left = left.Mul(right)
			continue
		}
		if right.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		left = left.DivRound(right, divisionPrecision)
	}
}

func (p *parser) parseUnary() (decimal.Decimal, error) {
	p.skipSpace()
	switch p.peek() {
	case '+', '-':
		op := p.peek()
		p.pos++
		if err := p.enter(); err != nil {
			return decimal.Zero, err
		}
		v, err := p.parseUnary()
		p.depth--
		if err != nil {
			return decimal.Zero, err
		}
		if op == '-' {
			v = v.Neg()
		}
		return v, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (decimal.Decimal, error) {
	p.skipSpace()
	if p.done() {
		return decimal.Zero, p.errorf("unexpected end of expression")
	}
	if p.peek() == '(' {
		p.pos++
		if err := p.enter(); err != nil {
			return decimal.Zero, err
		}
		v, err := p.parseExpr()
		p.depth--
		if err != nil {
			return decimal.Zero, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return decimal.Zero, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	return p.parseNumber()
}

func (p *parser) parseNumber() (decimal.Decimal, error) {
	start := p.pos
	digits, dots := 0, 0
	for !p.done() {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' {
			dots++
		} else {
			break
		}
		p.pos++
	}
	if digits == 0 || dots > 1 {
		p.pos = start
		return decimal.Zero, p.errorf("invalid number")
	}
	lit := p.src[start:p.pos]
	if lit[len(lit)-1] == '.' {
		lit += "0"
	}
	if lit[0] == '.' {
		lit = "0" + lit
	}
	v, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Zero, p.errorf("invalid number %q", lit)
	}
	return v, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return p.errorf("nesting too deep")
	}
	return nil
}
