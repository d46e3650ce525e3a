package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var (
	reCalcExclude = regexp.MustCompile(`\b(weather|your name|who are you|what time|the time|the date|my id|user id|chat id)\b`)
	reCalc        = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:calculate|compute|evaluate)\b`),
		regexp.MustCompile(`\b(?:what(?:'s| is)|how much is)\s+\(?-?\d+(?:\.\d+)?\s*[-+*/^%x×÷]\s*\(?-?\d`),
		regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:plus|minus|times|multiplied by|divided by|percent of|% of|to the power of)\s*\d`),
		regexp.MustCompile(`\bconvert \d+(?:\.\d+)?\s*\w+ (?:to|into) \w+`),
		regexp.MustCompile(`\bhow many \w+ (?:are )?(?:there )?in (?:a |an |one |\d+ )?\w+`),
		regexp.MustCompile(`\bsquare root of \d`),
		regexp.MustCompile(`^[-+*/^%().\d\s]*\d\s*[-+*/^%]\s*[-+*/^%().\d\s]*$`),
	}
	reCalcResult = regexp.MustCompile(`(?im)^\s*\**result\**\s*:\s*(.+)$`)
	reExpr       = regexp.MustCompile(`[-+*/^%().\d\s]*\d\s*[-+*/^%]\s*[-+*/^%().\d\s]*\d[)\s]*`)
)

// Calculation answers arithmetic and unit questions. Plain expressions are
// evaluated locally; everything else goes to the AI backend.
type Calculation struct {
	skills.Base
	deps *Deps
}

// NewCalculation creates the calculator skill.
func NewCalculation(desc skills.Descriptor, deps *Deps) *Calculation {
	return &Calculation{Base: skills.Base{Desc: desc}, deps: deps}
}

func (c *Calculation) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if reCalcExclude.MatchString(msg.Normalized) || !matchAny(reCalc, msg.Normalized) {
		return skills.Intent{}, false
	}
	return intent(c.Slug(), "calc"), true
}

func (c *Calculation) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if label != "calc" {
		return skills.Intent{}, false
	}
	return intent(c.Slug(), "calc"), true
}

func (c *Calculation) Handle(ctx context.Context, _ skills.Intent, msg skills.Message) (string, error) {
	if expr := reExpr.FindString(msg.Normalized); expr != "" && onlyExpression(msg.Normalized, expr) {
		if v, err := Evaluate(expr); err == nil {
			return "🔢 " + strings.TrimSpace(expr) + " = " + formatNumber(v), nil
		}
	}

	prompt := fmt.Sprintf(`Solve this calculation or conversion. Be brief and finish with a line of the form "Result: <answer>".

%s`, msg.Text)
	answer, err := c.deps.ask(ctx, prompt)
	if err != nil {
		c.deps.Logger.Warn("calculation failed", "error", err)
		return aiUnavailableReply, nil
	}
	if m := reCalcResult.FindAllStringSubmatch(answer, -1); len(m) > 0 {
		return "🔢 " + strings.TrimSpace(m[len(m)-1][1]), nil
	}
	return "🔢 " + strings.TrimSpace(answer), nil
}

// onlyExpression reports whether text is the expression plus question
// filler such as "what is" or "calculate".
func onlyExpression(text, expr string) bool {
	rest := strings.Replace(text, expr, " ", 1)
	for _, w := range []string{"what's", "what is", "how much is", "calculate", "compute", "evaluate", "?", "=", "please"} {
		rest = strings.ReplaceAll(rest, w, " ")
	}
	return strings.TrimSpace(rest) == ""
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var errBadExpr = errors.New("invalid expression")

// Evaluate computes an arithmetic expression with + - * / % ^ and
// parentheses.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: strings.ReplaceAll(expr, " ", "")}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("%w: unexpected %q", errBadExpr, p.src[p.pos:])
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: result is not a number", errBadExpr)
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *exprParser) sum() (float64, error) {
	v, err := p.product()
	for err == nil {
		op := p.peek()
		if op != '+' && op != '-' {
			return v, nil
		}
		p.pos++
		var r float64
		if r, err = p.product(); err == nil {
			if op == '+' {
				v += r
			} else {
				v -= r
			}
		}
	}
	return 0, err
}

func (p *exprParser) product() (float64, error) {
	v, err := p.power()
	for err == nil {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return v, nil
		}
		p.pos++
		var r float64
		if r, err = p.power(); err != nil {
			break
		}
		switch op {
		case '*':
			v *= r
		case '/':
			if r == 0 {
				return 0, fmt.Errorf("%w: division by zero", errBadExpr)
			}
			v /= r
		case '%':
			if r == 0 {
				return 0, fmt.Errorf("%w: division by zero", errBadExpr)
			}
			v = math.Mod(v, r)
		}
	}
	return 0, err
}

func (p *exprParser) power() (float64, error) {
	base, err := p.unary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.power()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) unary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.unary()
		return -v, err
	case '+':
		p.pos++
		return p.unary()
	case '(':
		p.pos++
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing )", errBadExpr)
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("%w: expected a number", errBadExpr)
	}
	return strconv.ParseFloat(p.src[start:p.pos], 64)
}
