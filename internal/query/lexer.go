package query

import (
	"fmt"
	"strings"
)

// TokenType classifies a lexer token.
type TokenType int

const (
	// Keywords
	TokFind    TokenType = iota // FIND
	TokShow                     // SHOW
	TokWhere                    // WHERE
	TokIn                       // IN
	TokDuring                   // DURING
	TokBetween                  // BETWEEN
	TokAnd                      // AND
	TokOr                       // OR
	TokNot                      // NOT
	TokBefore                   // BEFORE
	TokAfter                    // AFTER
	TokWith                     // WITH
	TokLimit                    // LIMIT
	TokOrder                    // ORDER
	TokBy                       // BY
	TokAsc                      // ASC
	TokDesc                     // DESC
	TokOf                       // OF
	TokAll                      // ALL
	TokClass                    // CLASS
	TokMethod                   // METHOD
	TokClinit                   // CLINIT or <clinit>
	TokBecomes                  // BECOMES
	TokNonNull                  // NON-NULL
	TokNull                     // NULL

	// Targets
	TokMethods // METHODS
	TokClasses // CLASSES
	TokPaths   // PATHS
	TokEvents  // EVENTS
	TokStrings // STRINGS
	TokObjects // OBJECTS

	// Predicates
	TokCalls            // CALLS
	TokAllocCount       // ALLOCCOUNT
	TokWritesField      // WRITESFIELD
	TokReadsField       // READSFIELD
	TokField            // FIELD
	TokContainsString   // CONTAINSSTRING
	TokThrows           // THROWS
	TokInstructionCount // INSTRUCTIONCOUNT
	TokCoverage         // COVERAGE

	// Argument kinds
	TokAny      // ANY
	TokLiteral  // LITERAL
	TokDynamic  // DYNAMIC
	TokFieldArg // FIELDARG
	TokLocalArg // LOCALARG
	TokCallArg  // CALLARG

	// Symbols
	TokLParen // (
	TokRParen // )
	TokComma  // ,
	TokDot    // .
	TokColon  // :
	TokGT     // >
	TokGTE    // >=
	TokLT     // <
	TokLTE    // <=
	TokEQ     // ==
	TokNEQ    // !=

	// Literals
	TokIdent  // identifier
	TokString // "..." or '...'
	TokRegex  // /.../flags
	TokNumber // integer or decimal

	TokEOF // end of input
)

// Token is a single lexer token.
type Token struct {
	Type  TokenType
	Value string
	Pos   int // byte offset in the input
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, %q, pos=%d)", t.Type, t.Value, t.Pos)
}

// keywords maps lower-case keyword spellings to their token type.
var keywords = map[string]TokenType{
	"find":     TokFind,
	"show":     TokShow,
	"where":    TokWhere,
	"in":       TokIn,
	"during":   TokDuring,
	"between":  TokBetween,
	"and":      TokAnd,
	"or":       TokOr,
	"not":      TokNot,
	"before":   TokBefore,
	"after":    TokAfter,
	"with":     TokWith,
	"limit":    TokLimit,
	"order":    TokOrder,
	"by":       TokBy,
	"asc":      TokAsc,
	"desc":     TokDesc,
	"of":       TokOf,
	"all":      TokAll,
	"class":    TokClass,
	"method":   TokMethod,
	"clinit":   TokClinit,
	"<clinit>": TokClinit,
	"becomes":  TokBecomes,
	"non-null": TokNonNull,
	"null":     TokNull,

	"methods": TokMethods,
	"classes": TokClasses,
	"paths":   TokPaths,
	"events":  TokEvents,
	"strings": TokStrings,
	"objects": TokObjects,

	"calls":             TokCalls,
	"alloccount":        TokAllocCount,
	"alloc_count":       TokAllocCount,
	"writesfield":       TokWritesField,
	"writes_field":      TokWritesField,
	"readsfield":        TokReadsField,
	"reads_field":       TokReadsField,
	"field":             TokField,
	"containsstring":    TokContainsString,
	"contains_string":   TokContainsString,
	"throws":            TokThrows,
	"instructioncount":  TokInstructionCount,
	"instruction_count": TokInstructionCount,
	"coverage":          TokCoverage,

	"any":        TokAny,
	"literal":    TokLiteral,
	"dynamic":    TokDynamic,
	"dynamicarg": TokDynamic,
	"fieldarg":   TokFieldArg,
	"localarg":   TokLocalArg,
	"callarg":    TokCallArg,
}

// singleCharTokens maps punctuation to its token type.
var singleCharTokens = map[byte]TokenType{
	'(': TokLParen,
	')': TokRParen,
	',': TokComma,
	'.': TokDot,
	':': TokColon,
}

const clinitLexeme = "<clinit>"

// Lexer tokenizes a bytecode query string.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// Lex tokenizes the input string into a slice of tokens terminated by TokEOF.
func Lex(input string) ([]Token, error) {
	l := &Lexer{input: input}
	if err := l.tokenize(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

// isSpace accepts ASCII whitespace only; input is scanned byte by byte.
func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func (l *Lexer) tokenize() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		if isSpace(ch) {
			l.pos++
			continue
		}

		if err := l.lexNextToken(ch); err != nil {
			return err
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokEOF, Value: "", Pos: l.pos})
	return nil
}

// lexNextToken dispatches a single token starting at l.pos.
func (l *Lexer) lexNextToken(ch byte) error {
	if tok, ok := singleCharTokens[ch]; ok {
		l.emit(tok, string(ch), l.pos)
		l.pos++
		return nil
	}

	switch {
	case ch == '"' || ch == '\'':
		return l.lexString(ch)
	case ch == '/':
		return l.lexRegex()
	case isDigit(ch) || (ch == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		l.lexNumber()
	case ch == '<' && l.hasClinitAhead():
		l.emit(TokClinit, clinitLexeme, l.pos)
		l.pos += len(clinitLexeme)
	case ch == '>':
		l.lexTwoChar('=', TokGTE, TokGT)
	case ch == '<':
		l.lexTwoChar('=', TokLTE, TokLT)
	case ch == '=':
		if l.peekByte(1) != '=' {
			return lexErrorf(l.pos, "Unexpected character '='")
		}
		l.emit(TokEQ, "==", l.pos)
		l.pos += 2
	case ch == '!':
		if l.peekByte(1) != '=' {
			return lexErrorf(l.pos, "Expected '=' after '!'")
		}
		l.emit(TokNEQ, "!=", l.pos)
		l.pos += 2
	case isIdentStart(ch):
		l.lexIdent()
	default:
		return lexErrorf(l.pos, "Unexpected character %q", string(ch))
	}
	return nil
}

func (l *Lexer) peekByte(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

// hasClinitAhead reports whether "<clinit>" (any case) starts at l.pos.
func (l *Lexer) hasClinitAhead() bool {
	end := l.pos + len(clinitLexeme)
	return end <= len(l.input) && strings.EqualFold(l.input[l.pos:end], clinitLexeme)
}

// lexTwoChar emits the two-character token when second follows, else the
// single-character one.
func (l *Lexer) lexTwoChar(second byte, twoTok, oneTok TokenType) {
	start := l.pos
	if l.peekByte(1) == second {
		l.emit(twoTok, l.input[start:start+2], start)
		l.pos += 2
		return
	}
	l.emit(oneTok, l.input[start:start+1], start)
	l.pos++
}

func (l *Lexer) emit(typ TokenType, val string, pos int) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: val, Pos: pos})
}

// lexString reads a quoted string, resolving escapes. The token carries the
// unescaped content.
func (l *Lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++ // skip opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			l.pos++
			l.emit(TokString, sb.String(), start)
			return nil
		}
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			sb.WriteByte(unescape(l.input[l.pos]))
			l.pos++
			continue
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return lexErrorf(start, "Unterminated string")
}

func unescape(ch byte) byte {
	switch ch {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return ch // \\ \" \' and anything else pass through
	}
}

// lexRegex reads /pattern/flags. Escapes are kept verbatim for the regex
// engine; trailing flag letters become a (?flags) prefix.
func (l *Lexer) lexRegex() error {
	start := l.pos
	l.pos++ // skip opening slash
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '/' {
			l.pos++
			flagStart := l.pos
			for l.pos < len(l.input) && isLetter(l.input[l.pos]) {
				l.pos++
			}
			pattern := sb.String()
			if flags := l.input[flagStart:l.pos]; flags != "" {
				pattern = "(?" + flags + ")" + pattern
			}
			l.emit(TokRegex, pattern, start)
			return nil
		}
		if ch == '\\' && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			if next == '/' {
				sb.WriteByte('/')
			} else {
				sb.WriteByte(ch)
				sb.WriteByte(next)
			}
			l.pos += 2
			continue
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return lexErrorf(start, "Unterminated regex")
}

// lexNumber reads [-]digits[.digits], dropping '_' group separators.
func (l *Lexer) lexNumber() {
	start := l.pos
	var sb strings.Builder
	if l.input[l.pos] == '-' {
		sb.WriteByte('-')
		l.pos++
	}
	l.readDigits(&sb)
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		sb.WriteByte('.')
		l.pos++
		l.readDigits(&sb)
	}
	l.emit(TokNumber, sb.String(), start)
}

func (l *Lexer) readDigits(sb *strings.Builder) {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) {
			sb.WriteByte(ch)
		} else if ch != '_' {
			return
		}
		l.pos++
	}
}

func (l *Lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	if kw, ok := keywords[strings.ToLower(word)]; ok {
		l.emit(kw, word, start)
		return
	}
	l.emit(TokIdent, word, start)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentStart(ch byte) bool {
	return isLetter(ch) || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_' || ch == '-' || ch == '$'
}
