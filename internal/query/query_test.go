package query

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// --- Lexer tests ---

func TestLexBasicQuery(t *testing.T) {
	tokens, err := Lex(`find methods where calls("java/lang/Runtime.exec") limit 5`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}

	expected := []TokenType{
		TokFind, TokMethods, TokWhere, TokCalls, TokLParen, TokString, TokRParen,
		TokLimit, TokNumber, TokEOF,
	}

	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tok := range tokens {
		if tok.Type != expected[i] {
			t.Errorf("token[%d]: expected type %s, got %s (%q)", i, expected[i], tok.Type, tok.Value)
		}
	}
}

func TestLexKeywordsCaseInsensitive(t *testing.T) {
	tokens, err := Lex(`FIND Methods WHERE AllocCount alloc_count INSTRUCTION_COUNT CallArg`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	expected := []TokenType{TokFind, TokMethods, TokWhere, TokAllocCount, TokAllocCount, TokInstructionCount, TokCallArg, TokEOF}
	for i, typ := range expected {
		if tokens[i].Type != typ {
			t.Errorf("token[%d]: expected %s, got %s", i, typ, tokens[i].Type)
		}
	}
}

func TestLexStringEscapes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`'it\'s'`, "it's"},
		{`"q\"q"`, `q"q`},
		{`"back\\slash"`, `back\slash`},
		{`"pass\zthrough"`, "passzthrough"},
	}
	for _, tt := range tests {
		tokens, err := Lex(tt.input)
		if err != nil {
			t.Fatalf("lex %s: %v", tt.input, err)
		}
		if tokens[0].Type != TokString || tokens[0].Value != tt.want {
			t.Errorf("lex %s: got %s %q, want %q", tt.input, tokens[0].Type, tokens[0].Value, tt.want)
		}
	}
}

func TestLexRegexFlags(t *testing.T) {
	tokens, err := Lex(`/^[a-f0-9]+$/i`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if tokens[0].Type != TokRegex {
		t.Fatalf("expected regex, got %s", tokens[0].Type)
	}
	if tokens[0].Value != "(?i)^[a-f0-9]+$" {
		t.Errorf("unexpected pattern %q", tokens[0].Value)
	}

	tokens, err = Lex(`/a\/b\d/`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if tokens[0].Value != `a/b\d` {
		t.Errorf("escaped slash: got %q", tokens[0].Value)
	}
}

func TestLexNumbers(t *testing.T) {
	tokens, err := Lex(`100_000 -5 0.75 3.x`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	want := []struct {
		typ TokenType
		val string
	}{
		{TokNumber, "100000"},
		{TokNumber, "-5"},
		{TokNumber, "0.75"},
		{TokNumber, "3"},
		{TokDot, "."},
		{TokIdent, "x"},
		{TokEOF, ""},
	}
	for i, w := range want {
		if tokens[i].Type != w.typ || tokens[i].Value != w.val {
			t.Errorf("token[%d]: got %s %q, want %s %q", i, tokens[i].Type, tokens[i].Value, w.typ, w.val)
		}
	}
}

func TestLexClinitAndComparisons(t *testing.T) {
	tokens, err := Lex(`during <CLINIT> < <= > >= == != non-null`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	expected := []TokenType{TokDuring, TokClinit, TokLT, TokLTE, TokGT, TokGTE, TokEQ, TokNEQ, TokNonNull, TokEOF}
	for i, typ := range expected {
		if tokens[i].Type != typ {
			t.Errorf("token[%d]: expected %s, got %s (%q)", i, typ, tokens[i].Type, tokens[i].Value)
		}
	}
}

func TestLexPositions(t *testing.T) {
	tokens, err := Lex(`find  methods`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if tokens[0].Pos != 0 || tokens[1].Pos != 6 || tokens[2].Pos != 13 {
		t.Errorf("unexpected positions: %v", tokens)
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		input string
		pos   int
		msg   string
	}{
		{`find methods where calls("foo`, 25, "Unterminated string"},
		{`containsString(/abc`, 15, "Unterminated regex"},
		{`a ! b`, 2, "Expected '=' after '!'"},
		{`a = b`, 2, "Unexpected character '='"},
		{`a # b`, 2, "Unexpected character"},
		{"a\xa0b", 1, "Unexpected character"},
		{"find\x85methods", 4, "Unexpected character"},
	}
	for _, tt := range tests {
		_, err := Lex(tt.input)
		var qe *Error
		if !errors.As(err, &qe) {
			t.Fatalf("lex %q: expected *Error, got %v", tt.input, err)
		}
		if qe.Kind != ErrLexical {
			t.Errorf("lex %q: expected lexical error, got %s", tt.input, qe.Kind)
		}
		if qe.Pos != tt.pos {
			t.Errorf("lex %q: expected pos %d, got %d", tt.input, tt.pos, qe.Pos)
		}
		if !strings.Contains(qe.Msg, tt.msg) {
			t.Errorf("lex %q: expected message containing %q, got %q", tt.input, tt.msg, qe.Msg)
		}
	}
}

func TestPrintRoundTrip(t *testing.T) {
	inputs := []string{
		`find methods where calls("java/lang/Runtime.exec") and allocCount("[B") > 10 with maxInstructions: 50000 limit 25 order by name desc`,
		`show classes where containsString(/^[A-Fa-f0-9]{16,}$/i)`,
		`find all methods during <clinit> of classes matching "com/.*"`,
		`find events between calls('a\'b.c') and throws("x\ty") where coverage("b1") >= 0.5`,
		`find methods where field("a/B.f:I") becomes non-null or not instruction_count != -3`,
		`find methods in method /a\/b/ where readsField("x") , . :`,
	}
	for _, in := range inputs {
		first, err := Lex(in)
		if err != nil {
			t.Fatalf("lex %q: %v", in, err)
		}
		printed := Print(first)
		second, err := Lex(printed)
		if err != nil {
			t.Fatalf("relex %q: %v", printed, err)
		}
		if len(first) != len(second) {
			t.Fatalf("relex %q: %d tokens vs %d", printed, len(first), len(second))
		}
		for i := range first {
			if first[i].Type != second[i].Type {
				t.Errorf("relex %q: token[%d] %s vs %s", printed, i, first[i].Type, second[i].Type)
			}
			if first[i].Type == TokString || first[i].Type == TokRegex || first[i].Type == TokNumber {
				if first[i].Value != second[i].Value {
					t.Errorf("relex %q: token[%d] value %q vs %q", printed, i, first[i].Value, second[i].Value)
				}
			}
		}
	}
}

// --- Parser tests ---

func TestParseScenarioClassScopeCalls(t *testing.T) {
	q, err := Parse(`find methods in class "com/foo/.*" where calls("java/lang/Runtime.exec")`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Target != TargetMethods {
		t.Errorf("expected methods target, got %s", q.Target)
	}
	scope, ok := q.Scope.(*ClassScope)
	if !ok {
		t.Fatalf("expected *ClassScope, got %T", q.Scope)
	}
	if scope.Pattern != "com/foo/.*" || !scope.IsRegex {
		t.Errorf("unexpected scope %+v", scope)
	}
	calls, ok := q.Predicate.(*Calls)
	if !ok {
		t.Fatalf("expected *Calls, got %T", q.Predicate)
	}
	want := &Calls{Owner: "java/lang/Runtime", Name: "exec", Arg: ArgAny}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("got %+v, want %+v", calls, want)
	}
}

func TestParseScenarioRegexContainsString(t *testing.T) {
	q, err := Parse(`show classes where containsString(/^[A-Fa-f0-9]{16,}$/i)`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Mode != ModeShow || q.Target != TargetClasses {
		t.Errorf("unexpected mode/target %s %s", q.Mode, q.Target)
	}
	cs, ok := q.Predicate.(*ContainsString)
	if !ok {
		t.Fatalf("expected *ContainsString, got %T", q.Predicate)
	}
	if !cs.IsRegex {
		t.Error("expected regex")
	}
	if !strings.HasPrefix(cs.Pattern, "(?i)") {
		t.Errorf("expected (?i) prefix, got %q", cs.Pattern)
	}
}

func TestParseScenarioAndWithLimit(t *testing.T) {
	q, err := Parse(`find methods where allocCount("[B") > 5 and instructionCount < 1000 limit 10`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &And{
		Left:  &AllocCount{Type: "[B", Op: OpGT, Threshold: 5},
		Right: &InstructionCount{Op: OpLT, Threshold: 1000},
	}
	if !reflect.DeepEqual(q.Predicate, want) {
		t.Errorf("got %s, want %s", q.Predicate, want)
	}
	if q.Limit == nil || *q.Limit != 10 {
		t.Errorf("expected limit 10, got %v", q.Limit)
	}
}

func TestParseScenarioUnterminatedString(t *testing.T) {
	_, err := Parse(`find methods where calls("foo`)
	var qe *Error
	if !errors.As(err, &qe) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if qe.Kind != ErrLexical || qe.Pos != strings.Index(`find methods where calls("foo`, `"`) {
		t.Errorf("unexpected error %+v", qe)
	}
	if qe.Error() != "Unterminated string at position 25" {
		t.Errorf("unexpected message %q", qe.Error())
	}
}

func TestParseEveryPredicateKind(t *testing.T) {
	tests := []struct {
		where string
		want  Predicate
	}{
		{`calls("exec")`, &Calls{Name: "exec", Arg: ArgAny}},
		{`calls("a/B.m(I)V", literal)`, &Calls{Owner: "a/B", Name: "m", Desc: "(I)V", Arg: ArgLiteral}},
		{`calls("java.lang.String.valueOf", dynamicArg)`, &Calls{Owner: "java/lang/String", Name: "valueOf", Arg: ArgDynamic}},
		{`calls("x.y", fieldArg)`, &Calls{Owner: "x", Name: "y", Arg: ArgField}},
		{`calls("x.y", localArg)`, &Calls{Owner: "x", Name: "y", Arg: ArgLocal}},
		{`calls("x.y", callArg)`, &Calls{Owner: "x", Name: "y", Arg: ArgCall}},
		{`allocCount("java/lang/StringBuilder") >= 3`, &AllocCount{Type: "java/lang/StringBuilder", Op: OpGTE, Threshold: 3}},
		{`writesField("a/B.count:I")`, &WritesField{Owner: "a/B", Field: "count", Desc: "I"}},
		{`readsField("count")`, &ReadsField{Field: "count"}},
		{`reads_field("a/B.count")`, &ReadsField{Owner: "a/B", Field: "count"}},
		{`field("a/B.f")`, &ReadsField{Owner: "a/B", Field: "f"}},
		{`field("a/B.f") becomes non-null`, &FieldBecomes{Owner: "a/B", Field: "f", State: StateNonNull}},
		{`field("a/B.f") becomes null`, &FieldBecomes{Owner: "a/B", Field: "f", State: StateNull}},
		{`containsString("http://")`, &ContainsString{Pattern: "http://"}},
		{`throws("IOException")`, &Throws{Type: "IOException"}},
		{`instructionCount == 12_000`, &InstructionCount{Op: OpEQ, Threshold: 12000}},
		{`coverage > 0.5`, &Coverage{Op: OpGT, Threshold: 0.5}},
		{`coverage("B3") <= 1`, &Coverage{Block: "B3", Op: OpLTE, Threshold: 1}},
		{`before(calls("a.b"))`, &Before{Inner: &Calls{Owner: "a", Name: "b", Arg: ArgAny}}},
		{`after(throws("E"))`, &After{Inner: &Throws{Type: "E"}}},
		{`not throws("E")`, &Not{Inner: &Throws{Type: "E"}}},
	}
	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			q, err := Parse("find methods where " + tt.where)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(q.Predicate, tt.want) {
				t.Errorf("got %#v, want %#v", q.Predicate, tt.want)
			}
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	q, err := Parse(`find methods where throws("A") or throws("B") and not throws("C")`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Or{
		Left: &Throws{Type: "A"},
		Right: &And{
			Left:  &Throws{Type: "B"},
			Right: &Not{Inner: &Throws{Type: "C"}},
		},
	}
	if !reflect.DeepEqual(q.Predicate, want) {
		t.Errorf("got %s", q.Predicate)
	}

	q, err = Parse(`find methods where (throws("A") or throws("B")) and throws("C")`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := q.Predicate.(*And); !ok {
		t.Errorf("expected *And at root, got %T", q.Predicate)
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		input string
		want  Scope
	}{
		{`find methods`, &AllScope{}},
		{`find methods in all`, &AllScope{}},
		{`find methods in class "com/foo/Bar"`, &ClassScope{Pattern: "com/foo/Bar"}},
		{`find methods in class "com.foo.Bar"`, &ClassScope{Pattern: "com/foo/Bar"}},
		{`find methods during clinit of class matching "com.foo.Bar"`, &DuringScope{Clinit: true, ClassFilter: &ClassScope{Pattern: "com/foo/Bar"}}},
		{`find methods in class /Foo$/`, &ClassScope{Pattern: "Foo$", IsRegex: true}},
		{`find methods in method "decrypt"`, &MethodScope{Pattern: "decrypt"}},
		{`find methods during <clinit>`, &DuringScope{Clinit: true}},
		{`find methods during clinit of class matching "com/.*"`, &DuringScope{Clinit: true, ClassFilter: &ClassScope{Pattern: "com/.*", IsRegex: true}}},
		{`find methods during method "run"`, &DuringScope{MethodPattern: "run"}},
		{`find events between calls("a.start") and calls("a.stop")`, &BetweenScope{
			Start: &Calls{Owner: "a", Name: "start", Arg: ArgAny},
			End:   &Calls{Owner: "a", Name: "stop", Arg: ArgAny},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(q.Scope, tt.want) {
				t.Errorf("got %#v, want %#v", q.Scope, tt.want)
			}
		})
	}
}

func TestParseTargets(t *testing.T) {
	for _, target := range []Target{TargetMethods, TargetClasses, TargetPaths, TargetEvents, TargetStrings, TargetObjects} {
		q, err := Parse("find all " + target.String())
		if err != nil {
			t.Fatalf("parse %s: %v", target, err)
		}
		if q.Target != target {
			t.Errorf("expected %s, got %s", target, q.Target)
		}
	}
}

func TestParseRunSpec(t *testing.T) {
	q, err := Parse(`find methods where calls("a.b") with seeds: 3, max_depth: 9 trace: full timeBudget: 1500 maxInstructions: 1_000 limit 4`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rs := q.RunSpec
	if rs == nil {
		t.Fatal("expected run spec")
	}
	if *rs.Seeds != 3 || *rs.MaxDepth != 9 || *rs.TraceMode != TraceFull || *rs.TimeBudgetMs != 1500 || *rs.MaxInstructions != 1000 {
		t.Errorf("unexpected run spec %s", rs)
	}
	b := rs.Resolve(DefaultBudget)
	if b.Seeds != 3 || b.MaxInstructions != 1000 || b.TimeBudget.Milliseconds() != 1500 {
		t.Errorf("unexpected budget %+v", b)
	}
	if *q.Limit != 4 {
		t.Errorf("expected limit 4, got %d", *q.Limit)
	}
}

func TestParseOrderBy(t *testing.T) {
	q, err := Parse(`find methods order by instructions`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.OrderBy == nil || q.OrderBy.Key != "instructions" || q.OrderBy.Descending {
		t.Errorf("unexpected order by %+v", q.OrderBy)
	}
	q, err = Parse(`find methods order by name DESC`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !q.OrderBy.Descending {
		t.Error("expected descending")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  ErrorKind
		pos   int
		msg   string
	}{
		{`methods`, ErrSyntax, 0, "Expected FIND or SHOW"},
		{`find widgets`, ErrSyntax, 5, "Expected target"},
		{`find methods where calls("a.b"`, ErrSyntax, 30, "Expected ')'"},
		{`find methods with bogus: 1`, ErrSyntax, 18, "Unknown run spec key: bogus"},
		{`find methods with trace: loud`, ErrSyntax, 25, "Invalid trace mode"},
		{`find methods limit 1.5`, ErrNumber, 19, "Invalid integer"},
		{`find methods where allocCount("x") > 99999999999999999999`, ErrNumber, 37, "Invalid integer"},
		{`find methods limit 3 extra`, ErrSyntax, 21, "Unexpected token: extra"},
		{`find methods where field("x") becomes maybe`, ErrSyntax, 38, "Expected 'non-null' or 'null'"},
		{`find methods where containsString(/[/)`, ErrSyntax, 34, "Invalid regex"},
		{`find methods during of`, ErrSyntax, 20, "Expected '<clinit>' or 'method'"},
		{`find methods where`, ErrSyntax, 18, "Expected predicate"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			var qe *Error
			if !errors.As(err, &qe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if qe.Kind != tt.kind {
				t.Errorf("expected %s error, got %s (%s)", tt.kind, qe.Kind, qe.Msg)
			}
			if qe.Pos != tt.pos {
				t.Errorf("expected pos %d, got %d (%s)", tt.pos, qe.Pos, qe.Msg)
			}
			if !strings.Contains(qe.Msg, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, qe.Msg)
			}
		})
	}
}

func TestQueryStringReparses(t *testing.T) {
	inputs := []string{
		`find methods in class "com/foo/.*" where calls("java/lang/Runtime.exec", literal) and allocCount("[B") > 10 with maxInstructions: 50000 limit 25 order by name desc`,
		`show classes where containsString(/^[A-Fa-f0-9]{16,}$/i)`,
		`find methods where not (throws("A") or throws("B")) and coverage("b") > 0.25`,
		`find events between before(calls("a.b")) and after(readsField("c.d:I"))`,
		`find methods during <clinit> of classes matching /Config$/ where field("a/B.f") becomes null`,
		`find methods during method "run" where writesField("a/B.f") or instructionCount <= 7`,
		`find strings in method /^get/ with seeds: 2, traceMode: none`,
	}
	for _, in := range inputs {
		q1, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		q2, err := Parse(q1.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", q1.String(), err)
		}
		if !reflect.DeepEqual(q1, q2) {
			t.Errorf("round trip mismatch:\n  %s\n  %s", q1, q2)
		}
	}
}

func TestArgumentTypeMatches(t *testing.T) {
	if !ArgAny.Matches(0) {
		t.Error("any should match unknown")
	}
	for _, a := range []ArgumentType{ArgLiteral, ArgDynamic, ArgField, ArgLocal, ArgCall} {
		if a.Matches(0) {
			t.Errorf("%s should not match unknown", a)
		}
	}
}

func TestCompareOp(t *testing.T) {
	tests := []struct {
		op   CompareOp
		a, b int64
		want bool
	}{
		{OpGT, 2, 1, true}, {OpGT, 1, 1, false},
		{OpGTE, 1, 1, true}, {OpLT, 0, 1, true},
		{OpLTE, 2, 1, false}, {OpEQ, 3, 3, true},
		{OpNEQ, 3, 3, false},
	}
	for _, tt := range tests {
		if got := tt.op.CompareInt(tt.a, tt.b); got != tt.want {
			t.Errorf("%d %s %d: got %v", tt.a, tt.op, tt.b, got)
		}
		if got := tt.op.CompareFloat(float64(tt.a), float64(tt.b)); got != tt.want {
			t.Errorf("float %d %s %d: got %v", tt.a, tt.op, tt.b, got)
		}
	}
}
