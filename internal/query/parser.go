package query

import (
	"regexp"
	"strconv"
	"strings"
)

// Parser converts a token stream into an AST.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a query string. Any failure is returned as a
// *Error carrying the byte offset of the problem; there is no partial result.
func Parse(input string) (*Query, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	return p.parseQuery()
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	t := p.peek()
	p.pos++
	return t
}

func (p *Parser) check(typ TokenType) bool {
	return p.peek().Type == typ
}

// match consumes the next token when it has type typ.
func (p *Parser) match(typ TokenType) bool {
	if p.check(typ) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	t := p.peek()
	if t.Type != typ {
		return t, syntaxErrorf(t.Pos, "Expected %s but found %s", typ, describe(t))
	}
	p.advance()
	return t, nil
}

// describe renders a token for error messages.
func describe(t Token) string {
	if t.Type == TokEOF {
		return "end of input"
	}
	return "'" + t.Value + "'"
}

func (p *Parser) parseQuery() (*Query, error) {
	q := &Query{Scope: &AllScope{}}

	switch p.peek().Type {
	case TokFind:
		q.Mode = ModeFind
	case TokShow:
		q.Mode = ModeShow
	default:
		return nil, syntaxErrorf(p.peek().Pos, "Expected FIND or SHOW but found %s", describe(p.peek()))
	}
	p.advance()

	p.match(TokAll) // "find all methods"

	target, err := p.parseTarget()
	if err != nil {
		return nil, err
	}
	q.Target = target

	switch p.peek().Type {
	case TokIn, TokDuring, TokBetween:
		scope, err := p.parseScope()
		if err != nil {
			return nil, err
		}
		q.Scope = scope
	}

	if p.match(TokWhere) {
		pred, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		q.Predicate = pred
	}

	if p.match(TokWith) {
		rs, err := p.parseRunSpec()
		if err != nil {
			return nil, err
		}
		q.RunSpec = rs
	}

	if p.match(TokLimit) {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		q.Limit = &n
	}

	if p.match(TokOrder) {
		ob, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		q.OrderBy = ob
	}

	if t := p.peek(); t.Type != TokEOF {
		return nil, syntaxErrorf(t.Pos, "Unexpected token: %s", t.Value)
	}
	return q, nil
}

var targetTokens = map[TokenType]Target{
	TokMethods: TargetMethods,
	TokClasses: TargetClasses,
	TokPaths:   TargetPaths,
	TokEvents:  TargetEvents,
	TokStrings: TargetStrings,
	TokObjects: TargetObjects,
}

func (p *Parser) parseTarget() (Target, error) {
	t := p.peek()
	target, ok := targetTokens[t.Type]
	if !ok {
		return 0, syntaxErrorf(t.Pos, "Expected target (methods, classes, paths, events, strings, objects) but found %s", describe(t))
	}
	p.advance()
	return target, nil
}

func (p *Parser) parseOrderBy() (*OrderBy, error) {
	if _, err := p.expect(TokBy); err != nil {
		return nil, err
	}
	key, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	ob := &OrderBy{Key: key.Value}
	if p.match(TokDesc) {
		ob.Descending = true
	} else {
		p.match(TokAsc)
	}
	return ob, nil
}

// --- Scopes ---

func (p *Parser) parseScope() (Scope, error) {
	switch p.advance().Type {
	case TokIn:
		return p.parseInScope()
	case TokDuring:
		return p.parseDuringScope()
	default: // TokBetween
		return p.parseBetweenScope()
	}
}

func (p *Parser) parseInScope() (Scope, error) {
	switch {
	case p.match(TokAll):
		return &AllScope{}, nil
	case p.match(TokClass):
		pattern, isRegex, err := p.parseClassPattern()
		if err != nil {
			return nil, err
		}
		return &ClassScope{Pattern: pattern, IsRegex: isRegex}, nil
	case p.match(TokMethod):
		pattern, isRegex, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return &MethodScope{Pattern: pattern, IsRegex: isRegex}, nil
	}
	return nil, syntaxErrorf(p.peek().Pos, "Expected 'all', 'class', or 'method' after IN")
}

func (p *Parser) parseDuringScope() (Scope, error) {
	if p.match(TokClinit) {
		ds := &DuringScope{Clinit: true}
		if !p.match(TokOf) {
			return ds, nil
		}
		if !p.match(TokClasses) && !p.match(TokClass) {
			return nil, syntaxErrorf(p.peek().Pos, "Expected 'classes' after OF")
		}
		word, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(word.Value, "matching") {
			return nil, syntaxErrorf(word.Pos, "Expected 'matching' but found '%s'", word.Value)
		}
		pattern, isRegex, err := p.parseClassPattern()
		if err != nil {
			return nil, err
		}
		ds.ClassFilter = &ClassScope{Pattern: pattern, IsRegex: isRegex}
		return ds, nil
	}

	if p.match(TokMethod) {
		pattern, _, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return &DuringScope{MethodPattern: pattern}, nil
	}

	return nil, syntaxErrorf(p.peek().Pos, "Expected '<clinit>' or 'method' after DURING")
}

func (p *Parser) parseBetweenScope() (Scope, error) {
	start, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokAnd); err != nil {
		return nil, err
	}
	end, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &BetweenScope{Start: start, End: end}, nil
}

// parsePattern reads a string or regex literal. A regex literal is always a
// regex; a quoted string is treated as one when it contains regex syntax.
func (p *Parser) parsePattern() (string, bool, error) {
	t := p.peek()
	switch t.Type {
	case TokRegex:
		p.advance()
		if _, err := regexp.Compile(t.Value); err != nil {
			return "", false, syntaxErrorf(t.Pos, "Invalid regex: %v", err)
		}
		return t.Value, true, nil
	case TokString:
		p.advance()
		return t.Value, looksLikeRegex(t.Value), nil
	}
	return "", false, syntaxErrorf(t.Pos, "Expected string or regex pattern but found %s", describe(t))
}

// parseClassPattern reads a class pattern. Literal class names are matched
// against internal names, so a dotted literal is rewritten with slashes.
func (p *Parser) parseClassPattern() (string, bool, error) {
	pattern, isRegex, err := p.parsePattern()
	if err != nil || isRegex {
		return pattern, isRegex, err
	}
	return internalName(pattern), false, nil
}

// looksLikeRegex reports whether s uses regex metacharacters and compiles.
func looksLikeRegex(s string) bool {
	if !strings.ContainsAny(s, `*+?[](){}|^$\`) {
		return false
	}
	_, err := regexp.Compile(s)
	return err == nil
}

// --- Predicates ---

func (p *Parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Predicate, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.match(TokAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Predicate, error) {
	if p.match(TokNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Predicate, error) {
	t := p.advance()
	switch t.Type {
	case TokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokBefore:
		inner, err := p.parseWrapped()
		if err != nil {
			return nil, err
		}
		return &Before{Inner: inner}, nil
	case TokAfter:
		inner, err := p.parseWrapped()
		if err != nil {
			return nil, err
		}
		return &After{Inner: inner}, nil
	case TokCalls:
		return p.parseCalls()
	case TokAllocCount:
		return p.parseAllocCount()
	case TokWritesField:
		ref, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		owner, name, desc := parseFieldRef(ref)
		return &WritesField{Owner: owner, Field: name, Desc: desc}, nil
	case TokReadsField:
		ref, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		owner, name, desc := parseFieldRef(ref)
		return &ReadsField{Owner: owner, Field: name, Desc: desc}, nil
	case TokField:
		return p.parseField()
	case TokContainsString:
		if _, err := p.expect(TokLParen); err != nil {
			return nil, err
		}
		pattern, isRegex, err := p.parseStringPattern()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return &ContainsString{Pattern: pattern, IsRegex: isRegex}, nil
	case TokThrows:
		typ, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		return &Throws{Type: typ}, nil
	case TokInstructionCount:
		op, err := p.parseCompareOp()
		if err != nil {
			return nil, err
		}
		n, err := p.parseLong()
		if err != nil {
			return nil, err
		}
		return &InstructionCount{Op: op, Threshold: n}, nil
	case TokCoverage:
		return p.parseCoverage()
	}
	return nil, syntaxErrorf(t.Pos, "Expected predicate but found %s", describe(t))
}

// parseWrapped reads '(' Primary ')'.
func (p *Parser) parseWrapped() (Predicate, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	inner, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return inner, nil
}

// parseStringArg reads '(' string ')'.
func (p *Parser) parseStringArg() (string, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return "", err
	}
	s, err := p.expect(TokString)
	if err != nil {
		return "", err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return "", err
	}
	return s.Value, nil
}

// parseStringPattern reads a string or regex where only a regex literal
// counts as a regex.
func (p *Parser) parseStringPattern() (string, bool, error) {
	t := p.peek()
	switch t.Type {
	case TokRegex:
		p.advance()
		if _, err := regexp.Compile(t.Value); err != nil {
			return "", false, syntaxErrorf(t.Pos, "Invalid regex: %v", err)
		}
		return t.Value, true, nil
	case TokString:
		p.advance()
		return t.Value, false, nil
	}
	return "", false, syntaxErrorf(t.Pos, "Expected string or regex pattern but found %s", describe(t))
}

var argumentTokens = map[TokenType]ArgumentType{
	TokAny:      ArgAny,
	TokLiteral:  ArgLiteral,
	TokDynamic:  ArgDynamic,
	TokFieldArg: ArgField,
	TokLocalArg: ArgLocal,
	TokCallArg:  ArgCall,
}

func (p *Parser) parseCalls() (Predicate, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	ref, err := p.expect(TokString)
	if err != nil {
		return nil, err
	}
	owner, name, desc := parseMethodRef(ref.Value)
	c := &Calls{Owner: owner, Name: name, Desc: desc, Arg: ArgAny}
	if p.match(TokComma) {
		t := p.advance()
		arg, ok := argumentTokens[t.Type]
		if !ok {
			return nil, syntaxErrorf(t.Pos, "Expected argument type (any, literal, dynamic, fieldArg, localArg, callArg) but found %s", describe(t))
		}
		c.Arg = arg
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) parseAllocCount() (Predicate, error) {
	typ, err := p.parseStringArg()
	if err != nil {
		return nil, err
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	n, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	return &AllocCount{Type: typ, Op: op, Threshold: n}, nil
}

// parseField reads field(ref) [becomes (non-null|null)]. Without BECOMES it
// is a plain read of the field.
func (p *Parser) parseField() (Predicate, error) {
	ref, err := p.parseStringArg()
	if err != nil {
		return nil, err
	}
	owner, name, desc := parseFieldRef(ref)
	if !p.match(TokBecomes) {
		return &ReadsField{Owner: owner, Field: name, Desc: desc}, nil
	}
	switch t := p.advance(); t.Type {
	case TokNonNull:
		return &FieldBecomes{Owner: owner, Field: name, State: StateNonNull}, nil
	case TokNull:
		return &FieldBecomes{Owner: owner, Field: name, State: StateNull}, nil
	default:
		return nil, syntaxErrorf(t.Pos, "Expected 'non-null' or 'null' after BECOMES but found %s", describe(t))
	}
}

func (p *Parser) parseCoverage() (Predicate, error) {
	c := &Coverage{}
	if p.check(TokLParen) {
		block, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		c.Block = block
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return nil, err
	}
	th, err := p.parseDouble()
	if err != nil {
		return nil, err
	}
	c.Op, c.Threshold = op, th
	return c, nil
}

var compareTokens = map[TokenType]CompareOp{
	TokGT:  OpGT,
	TokGTE: OpGTE,
	TokLT:  OpLT,
	TokLTE: OpLTE,
	TokEQ:  OpEQ,
	TokNEQ: OpNEQ,
}

func (p *Parser) parseCompareOp() (CompareOp, error) {
	t := p.peek()
	op, ok := compareTokens[t.Type]
	if !ok {
		return 0, syntaxErrorf(t.Pos, "Expected comparison operator but found %s", describe(t))
	}
	p.advance()
	return op, nil
}

// --- Numbers ---

func (p *Parser) parseInt() (int, error) {
	t, err := p.expect(TokNumber)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(t.Value)
	if convErr != nil {
		return 0, numberErrorf(t.Pos, "Invalid integer: %s", t.Value)
	}
	return n, nil
}

func (p *Parser) parseLong() (int64, error) {
	t, err := p.expect(TokNumber)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.ParseInt(t.Value, 10, 64)
	if convErr != nil {
		return 0, numberErrorf(t.Pos, "Invalid long: %s", t.Value)
	}
	return n, nil
}

func (p *Parser) parseDouble() (float64, error) {
	t, err := p.expect(TokNumber)
	if err != nil {
		return 0, err
	}
	f, convErr := strconv.ParseFloat(t.Value, 64)
	if convErr != nil {
		return 0, numberErrorf(t.Pos, "Invalid number: %s", t.Value)
	}
	return f, nil
}

// --- Member references ---

// parseMethodRef splits "owner.name(desc)". The owner is everything before
// the last '.' ahead of the descriptor; Java-style dotted owners are
// normalised to the internal slash form.
func parseMethodRef(ref string) (owner, name, desc string) {
	head := ref
	if i := strings.IndexByte(ref, '('); i >= 0 {
		head, desc = ref[:i], ref[i:]
	}
	if i := strings.LastIndexByte(head, '.'); i >= 0 {
		return internalName(head[:i]), head[i+1:], desc
	}
	return "", head, desc
}

// parseFieldRef splits "owner.name:desc" where owner and desc are optional.
func parseFieldRef(ref string) (owner, name, desc string) {
	head := ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		head, desc = ref[:i], ref[i+1:]
	}
	if i := strings.LastIndexByte(head, '.'); i >= 0 {
		return internalName(head[:i]), head[i+1:], desc
	}
	return "", head, desc
}

func internalName(owner string) string {
	return strings.ReplaceAll(owner, ".", "/")
}
