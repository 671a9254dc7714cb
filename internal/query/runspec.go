package query

import (
	"fmt"
	"strings"
	"time"
)

// TraceMode selects how much execution history the engine retains.
type TraceMode int

const (
	TraceNone TraceMode = iota
	TraceRing
	TraceFull
)

var traceModeNames = [...]string{"NONE", "RING", "FULL"}

func (m TraceMode) String() string {
	if int(m) < len(traceModeNames) {
		return traceModeNames[m]
	}
	return "RING"
}

// ParseTraceMode accepts NONE, RING or FULL in any case.
func ParseTraceMode(s string) (TraceMode, bool) {
	for i, n := range traceModeNames {
		if strings.EqualFold(n, s) {
			return TraceMode(i), true
		}
	}
	return 0, false
}

// RunSpec is the optional WITH clause. Nil fields were not given.
type RunSpec struct {
	Seeds           *int
	MaxInstructions *int
	MaxDepth        *int
	TraceMode       *TraceMode
	TimeBudgetMs    *int
}

// IsEmpty reports whether no field is set.
func (r *RunSpec) IsEmpty() bool {
	return r == nil || (r.Seeds == nil && r.MaxInstructions == nil && r.MaxDepth == nil &&
		r.TraceMode == nil && r.TimeBudgetMs == nil)
}

func (r *RunSpec) String() string {
	var parts []string
	if r.Seeds != nil {
		parts = append(parts, fmt.Sprintf("seeds: %d", *r.Seeds))
	}
	if r.MaxInstructions != nil {
		parts = append(parts, fmt.Sprintf("maxInstructions: %d", *r.MaxInstructions))
	}
	if r.MaxDepth != nil {
		parts = append(parts, fmt.Sprintf("maxDepth: %d", *r.MaxDepth))
	}
	if r.TraceMode != nil {
		parts = append(parts, "traceMode: "+strings.ToLower(r.TraceMode.String()))
	}
	if r.TimeBudgetMs != nil {
		parts = append(parts, fmt.Sprintf("timeBudget: %d", *r.TimeBudgetMs))
	}
	return strings.Join(parts, ", ")
}

// Budget is a fully resolved execution budget.
type Budget struct {
	Seeds           int
	MaxInstructions int
	MaxDepth        int
	TraceMode       TraceMode
	TimeBudget      time.Duration
}

// DefaultBudget is used for any field neither the query nor configuration
// sets.
var DefaultBudget = Budget{
	Seeds:           10,
	MaxInstructions: 100_000,
	MaxDepth:        50,
	TraceMode:       TraceRing,
	TimeBudget:      60 * time.Second,
}

// Resolve overlays the fields set in r onto base.
func (r *RunSpec) Resolve(base Budget) Budget {
	if r == nil {
		return base
	}
	b := base
	if r.Seeds != nil {
		b.Seeds = *r.Seeds
	}
	if r.MaxInstructions != nil {
		b.MaxInstructions = *r.MaxInstructions
	}
	if r.MaxDepth != nil {
		b.MaxDepth = *r.MaxDepth
	}
	if r.TraceMode != nil {
		b.TraceMode = *r.TraceMode
	}
	if r.TimeBudgetMs != nil {
		b.TimeBudget = time.Duration(*r.TimeBudgetMs) * time.Millisecond
	}
	return b
}

// parseRunSpec reads key: value pairs until the next token is not an
// identifier. Pairs may be separated by commas.
func (p *Parser) parseRunSpec() (*RunSpec, error) {
	rs := &RunSpec{}
	for p.check(TokIdent) {
		key := p.advance()
		if _, err := p.expect(TokColon); err != nil {
			return nil, err
		}
		if err := p.parseRunSpecValue(rs, key); err != nil {
			return nil, err
		}
		if p.check(TokComma) && p.peekAt(1).Type == TokIdent {
			p.advance()
		}
	}
	return rs, nil
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) parseRunSpecValue(rs *RunSpec, key Token) error {
	switch strings.ToLower(key.Value) {
	case "seeds":
		n, err := p.parseInt()
		if err != nil {
			return err
		}
		rs.Seeds = &n
	case "maxinstructions", "max_instructions":
		n, err := p.parseInt()
		if err != nil {
			return err
		}
		rs.MaxInstructions = &n
	case "maxdepth", "max_depth":
		n, err := p.parseInt()
		if err != nil {
			return err
		}
		rs.MaxDepth = &n
	case "tracemode", "trace_mode", "trace":
		t := p.advance()
		mode, ok := ParseTraceMode(t.Value)
		if !ok || (t.Type != TokIdent && t.Type != TokString) {
			return syntaxErrorf(t.Pos, "Invalid trace mode: %s", t.Value)
		}
		rs.TraceMode = &mode
	case "timebudget", "time_budget":
		n, err := p.parseInt()
		if err != nil {
			return err
		}
		rs.TimeBudgetMs = &n
	default:
		return syntaxErrorf(key.Pos, "Unknown run spec key: %s", key.Value)
	}
	return nil
}
