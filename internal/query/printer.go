package query

import "strings"

// tokenSpellings gives the canonical source text of every fixed token.
var tokenSpellings = map[TokenType]string{
	TokFind:     "find",
	TokShow:     "show",
	TokWhere:    "where",
	TokIn:       "in",
	TokDuring:   "during",
	TokBetween:  "between",
	TokAnd:      "and",
	TokOr:       "or",
	TokNot:      "not",
	TokBefore:   "before",
	TokAfter:    "after",
	TokWith:     "with",
	TokLimit:    "limit",
	TokOrder:    "order",
	TokBy:       "by",
	TokAsc:      "asc",
	TokDesc:     "desc",
	TokOf:       "of",
	TokAll:      "all",
	TokClass:    "class",
	TokMethod:   "method",
	TokClinit:   "<clinit>",
	TokBecomes:  "becomes",
	TokNonNull:  "non-null",
	TokNull:     "null",
	TokMethods:  "methods",
	TokClasses:  "classes",
	TokPaths:    "paths",
	TokEvents:   "events",
	TokStrings:  "strings",
	TokObjects:  "objects",
	TokCalls:    "calls",
	TokField:    "field",
	TokThrows:   "throws",
	TokCoverage: "coverage",
	TokAny:      "any",
	TokLiteral:  "literal",
	TokDynamic:  "dynamic",
	TokFieldArg: "fieldArg",
	TokLocalArg: "localArg",
	TokCallArg:  "callArg",

	TokAllocCount:       "allocCount",
	TokWritesField:      "writesField",
	TokReadsField:       "readsField",
	TokContainsString:   "containsString",
	TokInstructionCount: "instructionCount",

	TokLParen: "(",
	TokRParen: ")",
	TokComma:  ",",
	TokDot:    ".",
	TokColon:  ":",
	TokGT:     ">",
	TokGTE:    ">=",
	TokLT:     "<",
	TokLTE:    "<=",
	TokEQ:     "==",
	TokNEQ:    "!=",
}

func (t TokenType) String() string {
	if s, ok := tokenSpellings[t]; ok {
		return "'" + s + "'"
	}
	switch t {
	case TokIdent:
		return "identifier"
	case TokString:
		return "string"
	case TokRegex:
		return "regex"
	case TokNumber:
		return "number"
	case TokEOF:
		return "end of input"
	}
	return "unknown"
}

// Text returns source text that lexes back to a token of the same type.
// Literal values survive unchanged; keywords use their canonical spelling.
func (t Token) Text() string {
	switch t.Type {
	case TokIdent, TokNumber:
		return t.Value
	case TokString:
		return quote(t.Value)
	case TokRegex:
		return regexLiteral(t.Value)
	case TokEOF:
		return ""
	}
	return tokenSpellings[t.Type]
}

// Print renders a token sequence as space-separated source text. Lexing the
// result yields the same sequence of token types.
func Print(tokens []Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Type == TokEOF {
			break
		}
		parts = append(parts, t.Text())
	}
	return strings.Join(parts, " ")
}
