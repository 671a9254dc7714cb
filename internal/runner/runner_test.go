package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/planner"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/probe"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

const (
	sigRun      = "com/foo/Shell.run(Ljava/lang/String;)V"
	sigRunConst = "com/foo/Shell.runConst()V"
	sigDecrypt  = "com/foo/Crypto.decrypt([B)[B"
)

func testUniverse() *bytecode.Universe {
	u := bytecode.NewUniverse()
	u.AddClass(bytecode.Class{Name: "com/foo/Crypto"}, []bytecode.Method{
		{Owner: "com/foo/Crypto", Name: "<clinit>", Desc: "()V", HasCode: true},
		{Owner: "com/foo/Crypto", Name: "decrypt", Desc: "([B)[B", HasCode: true},
	}, []string{"AES/CBC/PKCS5Padding"})
	u.AddClass(bytecode.Class{Name: "com/foo/Shell"}, []bytecode.Method{
		{Owner: "com/foo/Shell", Name: "run", Desc: "(Ljava/lang/String;)V", HasCode: true},
		{Owner: "com/foo/Shell", Name: "runConst", Desc: "()V", HasCode: true},
		{Owner: "com/foo/Shell", Name: "spawn", Desc: "()V", Access: bytecode.AccAbstract},
		{Owner: "com/foo/Shell", Name: "fork0", Desc: "()I", Access: bytecode.AccNative},
	}, []string{"/bin/sh"})
	u.AddClass(bytecode.Class{Name: "org/bar/Util"}, []bytecode.Method{
		{Owner: "org/bar/Util", Name: "<clinit>", Desc: "()V", HasCode: true},
		{Owner: "org/bar/Util", Name: "count", Desc: "()I", HasCode: true},
	}, nil)

	u.AddXrefs(
		bytecode.Xref{
			SourceClass: "com/foo/Shell", SourceMethod: "run", SourceMethodDesc: "(Ljava/lang/String;)V",
			InstructionIndex: 4, Line: 12, Kind: bytecode.RefCall,
			TargetOwner: "java/lang/Runtime", TargetName: "exec", TargetDesc: "(Ljava/lang/String;)Ljava/lang/Process;",
			ArgKinds: []bytecode.ArgKind{bytecode.ArgLocal},
		},
		bytecode.Xref{
			SourceClass: "com/foo/Shell", SourceMethod: "runConst", SourceMethodDesc: "()V",
			InstructionIndex: 6, Kind: bytecode.RefCall,
			TargetOwner: "java/lang/Runtime", TargetName: "exec", TargetDesc: "(Ljava/lang/String;)Ljava/lang/Process;",
			ArgKinds: []bytecode.ArgKind{bytecode.ArgLiteral},
		},
		bytecode.Xref{
			SourceClass: "org/bar/Util", SourceMethod: "count", SourceMethodDesc: "()I",
			InstructionIndex: 1, Kind: bytecode.RefFieldRead,
			TargetOwner: "org/bar/Util", TargetName: "n", TargetDesc: "I",
		},
		bytecode.Xref{
			SourceClass: "org/bar/Util", SourceMethod: "<clinit>", SourceMethodDesc: "()V",
			InstructionIndex: 3, Kind: bytecode.RefFieldWrite,
			TargetOwner: "org/bar/Util", TargetName: "n", TargetDesc: "I",
		},
	)
	return u
}

// fakeEngine serves canned results by method signature.
type fakeEngine struct {
	mu      sync.Mutex
	results map[string]*postfilter.Result
	fail    map[string]bool
	block   bool
	calls   []string
}

func (e *fakeEngine) Execute(ctx context.Context, m bytecode.Method, _ *probe.Set, _ query.Budget) (*postfilter.Result, error) {
	sig := m.Signature()
	e.mu.Lock()
	e.calls = append(e.calls, sig)
	e.mu.Unlock()

	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.fail[sig] {
		return nil, errors.New("simulation diverged")
	}
	if r, ok := e.results[sig]; ok {
		return r, nil
	}
	return postfilter.Empty(sig), nil
}

func (e *fakeEngine) executed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func cannedEngine() *fakeEngine {
	run := &postfilter.Result{
		Method:       sigRun,
		Instructions: 300,
		Calls:        []postfilter.CallEvent{{Sequence: 1, PC: 4, Owner: "java/lang/Runtime", Name: "exec"}},
		Strings:      []postfilter.StringEvent{{Sequence: 0, PC: 2, Value: "/bin/sh -c id"}},
	}
	run.RecordAllocation("[B")
	run.RecordAllocation("[B")
	run.RecordAllocation("[B")

	runConst := &postfilter.Result{
		Method:       sigRunConst,
		Instructions: 50,
		Calls:        []postfilter.CallEvent{{Sequence: 0, PC: 6, Owner: "java/lang/Runtime", Name: "exec"}},
	}
	runConst.RecordAllocation("[B")

	decrypt := &postfilter.Result{
		Method:       sigDecrypt,
		Instructions: 900,
		Exceptions:   []postfilter.ExceptionEvent{{Sequence: 9, PC: 40, Type: "javax/crypto/BadPaddingException"}},
	}
	for range 4 {
		decrypt.RecordAllocation("[B")
	}

	return &fakeEngine{results: map[string]*postfilter.Result{
		sigRun:      run,
		sigRunConst: runConst,
		sigDecrypt:  decrypt,
	}}
}

func compile(t *testing.T, u *bytecode.Universe, text string) *planner.Plan {
	t.Helper()
	q, err := query.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return planner.New(u, u, query.DefaultBudget).Plan(q)
}

func labels(rows []postfilter.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Label)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Static fast path ---

func TestStaticFastPath(t *testing.T) {
	u := testUniverse()
	engine := cannedEngine()
	r := New(u, engine, Options{})

	rep, err := r.Run(context.Background(), compile(t, u, `find methods where calls("java/lang/Runtime.exec", literal)`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.StaticOnly {
		t.Error("expected static-only run")
	}
	if engine.executed() != 0 {
		t.Errorf("static run must not execute anything, executed %d", engine.executed())
	}
	if len(rep.Rows) != 1 || rep.Rows[0].Label != sigRunConst {
		t.Fatalf("unexpected rows: %v", labels(rep.Rows))
	}
	row := rep.Rows[0]
	if len(row.Children) != 1 {
		t.Fatalf("expected 1 site, got %d", len(row.Children))
	}
	child := row.Children[0]
	if child.Label != "Call to java/lang/Runtime.exec(Ljava/lang/String;)Ljava/lang/Process;" {
		t.Errorf("unexpected site label %q", child.Label)
	}
	if child.Target != sigRunConst+"@6" || child.Columns["args"] != "literal" {
		t.Errorf("unexpected site: %+v", child)
	}
	if row.Evidence[0].Type != "CALL" {
		t.Errorf("expected CALL evidence, got %s", row.Evidence[0].Type)
	}
}

func TestStaticFastPathClasses(t *testing.T) {
	u := testUniverse()
	r := New(u, nil, Options{})

	rep, err := r.Run(context.Background(), compile(t, u,
		`find classes where readsField("org/bar/Util.n") or writesField("org/bar/Util.n")`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("expected 1 class row, got %v", labels(rep.Rows))
	}
	row := rep.Rows[0]
	if row.Label != "org/bar/Util" || row.Columns["methods"] != 2 || row.Columns["count"] != 2 {
		t.Errorf("unexpected class row: %+v", row)
	}
	if len(row.Children) != 2 {
		t.Errorf("expected 2 method children, got %d", len(row.Children))
	}
}

func TestStaticFastPathRespectsScope(t *testing.T) {
	u := testUniverse()
	r := New(u, nil, Options{})

	rep, err := r.Run(context.Background(), compile(t, u,
		`find methods in class "org/bar" where calls("java/lang/Runtime.exec")`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.StaticOnly || len(rep.Rows) != 0 {
		t.Errorf("expected no rows outside the scope, got %v", labels(rep.Rows))
	}
}

// --- Dynamic path ---

func TestDynamicRun(t *testing.T) {
	u := testUniverse()

	tests := []struct {
		name     string
		query    string
		want     []string
		executed int
	}{
		{
			name:     "alloc count ordered by instructions",
			query:    `find methods where allocCount("[B") > 1 order by instructions desc`,
			want:     []string{sigDecrypt, sigRun},
			executed: 6,
		},
		{
			name:     "negated exception",
			query:    `find methods where not throws("BadPadding") order by name`,
			want:     []string{"com/foo/Crypto.<clinit>()V", sigRun, sigRunConst, "org/bar/Util.<clinit>()V", "org/bar/Util.count()I"},
			executed: 6,
		},
		{
			name:     "limit after ordering",
			query:    `find methods where instructionCount > 10 order by instructions limit 2`,
			want:     []string{sigRunConst, sigRun},
			executed: 6,
		},
		{
			name:     "static narrowing before execution",
			query:    `find strings where calls("java/lang/Runtime.exec")`,
			want:     []string{"/bin/sh -c id"},
			executed: 2,
		},
		{
			name:     "classes merge per owner",
			query:    `find classes where allocCount("[B") >= 1 order by name`,
			want:     []string{"com/foo/Crypto", "com/foo/Shell"},
			executed: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := cannedEngine()
			rep, err := New(u, engine, Options{Workers: 3}).Run(context.Background(), compile(t, u, tt.query))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := labels(rep.Rows); !equalStrings(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if rep.Executed != tt.executed || engine.executed() != tt.executed {
				t.Errorf("expected %d executions, report=%d engine=%d", tt.executed, rep.Executed, engine.executed())
			}
		})
	}
}

func TestClassRowsSumColumns(t *testing.T) {
	u := testUniverse()
	rep, err := New(u, cannedEngine(), Options{}).Run(context.Background(),
		compile(t, u, `find classes where allocCount("[B") >= 1 order by name`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	shell := rep.Rows[1]
	if shell.Columns["methods"] != 2 || shell.Columns["allocations"] != 4 {
		t.Errorf("unexpected merged columns: %+v", shell.Columns)
	}
}

func TestAbstractAndNativeSkipped(t *testing.T) {
	u := testUniverse()
	engine := cannedEngine()
	rep, err := New(u, engine, Options{}).Run(context.Background(), compile(t, u, `find methods`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Candidates != 8 {
		t.Errorf("expected 8 static candidates, got %d", rep.Candidates)
	}
	for _, sig := range engine.calls {
		if sig == "com/foo/Shell.spawn()V" || sig == "com/foo/Shell.fork0()I" {
			t.Errorf("%s should not have been executed", sig)
		}
	}
	if rep.Executed != 6 {
		t.Errorf("expected 6 executions, got %d", rep.Executed)
	}
}

func TestFailedExecutionUsesEmptyResult(t *testing.T) {
	u := testUniverse()
	engine := cannedEngine()
	engine.fail = map[string]bool{sigDecrypt: true}

	rep, err := New(u, engine, Options{}).Run(context.Background(),
		compile(t, u, `find methods where allocCount("[B") > 1 or instructionCount == 0 order by name`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", rep.Failed)
	}
	// decrypt now has zero instructions and no allocations
	found := false
	for _, row := range rep.Rows {
		if row.Label == sigDecrypt {
			found = true
			if row.Columns["instructions"] != int64(0) {
				t.Errorf("failed candidate should report 0 instructions, got %v", row.Columns["instructions"])
			}
		}
	}
	if !found {
		t.Errorf("failed candidate should evaluate against an empty result, rows=%v", labels(rep.Rows))
	}
}

func TestTimeBudget(t *testing.T) {
	u := testUniverse()
	engine := &fakeEngine{block: true}

	rep, err := New(u, engine, Options{Workers: 2}).Run(context.Background(),
		compile(t, u, `find methods where instructionCount < 1 with timeBudget: 5`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 6 || len(rep.Rows) != 6 {
		t.Errorf("expected every candidate to time out and match the empty result, failed=%d rows=%d",
			rep.Failed, len(rep.Rows))
	}
}

func TestMaxMethods(t *testing.T) {
	u := testUniverse()
	engine := cannedEngine()
	rep, err := New(u, engine, Options{MaxMethods: 2}).Run(context.Background(), compile(t, u, `find methods`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Truncated || rep.Executed != 2 {
		t.Errorf("expected truncation to 2, truncated=%v executed=%d", rep.Truncated, rep.Executed)
	}
}

func TestCancelledContext(t *testing.T) {
	u := testUniverse()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := New(u, cannedEngine(), Options{}).Run(ctx, compile(t, u, `find methods`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep == nil || rep.Executed != 0 {
		t.Errorf("expected an empty partial report, got %+v", rep)
	}
}

func TestNoEngine(t *testing.T) {
	u := testUniverse()
	_, err := New(u, nil, Options{}).Run(context.Background(), compile(t, u, `find methods where throws("E")`))
	if !errors.Is(err, ErrNoEngine) {
		t.Errorf("expected ErrNoEngine, got %v", err)
	}
}

// --- Ordering ---

func TestSortRows(t *testing.T) {
	rows := []postfilter.Row{
		{Label: "b", Columns: map[string]any{"instructions": int64(5)}},
		{Label: "a", Columns: map[string]any{"instructions": int64(50)}},
		{Label: "c"},
		{Label: "d", Columns: map[string]any{"instructions": int64(7)}},
	}

	sortRows(rows, "instructions", false)
	if got := labels(rows); !equalStrings(got, []string{"b", "d", "a", "c"}) {
		t.Errorf("ascending: got %v", got)
	}
	sortRows(rows, "instructions", true)
	if got := labels(rows); !equalStrings(got, []string{"a", "d", "b", "c"}) {
		t.Errorf("descending: got %v", got)
	}
	sortRows(rows, "NAME", true)
	if got := labels(rows); !equalStrings(got, []string{"d", "c", "b", "a"}) {
		t.Errorf("by name: got %v", got)
	}
}
