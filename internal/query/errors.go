package query

import "fmt"

// ErrorKind distinguishes the ways query compilation can fail.
type ErrorKind int

const (
	ErrLexical ErrorKind = iota // unterminated literal, illegal character
	ErrSyntax                   // unexpected or missing token, unknown run-spec key
	ErrNumber                   // numeric literal out of range or wrong shape
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLexical:
		return "lexical"
	case ErrSyntax:
		return "syntax"
	case ErrNumber:
		return "number"
	}
	return "unknown"
}

// Error is a positioned query compilation error. Pos is a byte offset into
// the query text.
type Error struct {
	Kind ErrorKind
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

func lexErrorf(pos int, format string, args ...any) *Error {
	return &Error{Kind: ErrLexical, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func syntaxErrorf(pos int, format string, args ...any) *Error {
	return &Error{Kind: ErrSyntax, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func numberErrorf(pos int, format string, args ...any) *Error {
	return &Error{Kind: ErrNumber, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
