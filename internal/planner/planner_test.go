package planner

import (
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/filter"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/probe"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
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
	}, []string{"/bin/sh"})
	u.AddClass(bytecode.Class{Name: "org/bar/Util"}, []bytecode.Method{
		{Owner: "org/bar/Util", Name: "<clinit>", Desc: "()V", HasCode: true},
		{Owner: "org/bar/Util", Name: "count", Desc: "()I", HasCode: true},
	}, nil)

	u.AddXrefs(
		bytecode.Xref{
			SourceClass: "com/foo/Shell", SourceMethod: "run", SourceMethodDesc: "(Ljava/lang/String;)V",
			InstructionIndex: 4, Kind: bytecode.RefCall,
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

func mustParse(t *testing.T, text string) *query.Query {
	t.Helper()
	q, err := query.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return q
}

func candidates(t *testing.T, u *bytecode.Universe, f filter.StaticFilter) []string {
	t.Helper()
	ms, err := u.Methods()
	if err != nil {
		t.Fatalf("Methods: %v", err)
	}
	var out []string
	for _, m := range f.FilterMethods(ms) {
		out = append(out, m.Signature())
	}
	sort.Strings(out)
	return out
}

// --- Static filter tests ---

func TestNotHasNoStaticFilter(t *testing.T) {
	u := testUniverse()
	p := New(u, u, query.DefaultBudget)
	q := mustParse(t, `find methods where not calls("java/lang/Runtime.exec")`)

	if f := p.PredicateFilter(q.Predicate); f != nil {
		t.Fatalf("expected no filter for not(...), got %v", f)
	}
	plan := p.Plan(q)
	if got := candidates(t, u, plan.StaticFilter); len(got) != 6 {
		t.Errorf("expected all 6 methods to survive, got %v", got)
	}
	if plan.XrefBacked {
		t.Error("not(...) must not be xref-backed")
	}
}

func TestStaticFilterByQuery(t *testing.T) {
	u := testUniverse()
	p := New(u, u, query.DefaultBudget)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "calls",
			query: `find methods where calls("java/lang/Runtime.exec")`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "calls with literal argument",
			query: `find methods where calls("java/lang/Runtime.exec", literal)`,
			want:  []string{"com/foo/Shell.runConst()V"},
		},
		{
			name:  "calls with dynamic argument",
			query: `find methods where calls("java/lang/Runtime.exec", dynamic)`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V"},
		},
		{
			name:  "dotted owner",
			query: `find methods where calls("java.lang.Runtime.exec")`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "reads field",
			query: `find methods where readsField("org/bar/Util.n")`,
			want:  []string{"org/bar/Util.count()I"},
		},
		{
			name:  "writes field",
			query: `find methods where writesField("org/bar/Util.n")`,
			want:  []string{"org/bar/Util.<clinit>()V"},
		},
		{
			name:  "constant pool string",
			query: `find methods where containsString("/bin/sh")`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "and degrades to the defined side",
			query: `find methods where allocCount("[B") > 1 and readsField("org/bar/Util.n")`,
			want:  []string{"org/bar/Util.count()I"},
		},
		{
			name:  "or of two xref filters",
			query: `find methods where readsField("org/bar/Util.n") or writesField("org/bar/Util.n")`,
			want:  []string{"org/bar/Util.<clinit>()V", "org/bar/Util.count()I"},
		},
		{
			name:  "or with an undecidable side degrades to the other",
			query: `find methods where calls("java/lang/Runtime.exec") or throws("IOException")`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "or with an undecidable left side",
			query: `find methods where allocCount("[B") > 1 or calls("java/lang/Runtime.exec")`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "dotted class scope",
			query: `find methods in class "com.foo.Shell"`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "before forwards",
			query: `find methods where before(writesField("org/bar/Util.n"))`,
			want:  []string{"org/bar/Util.<clinit>()V"},
		},
		{
			name:  "class scope",
			query: `find methods in class "org/bar/.*"`,
			want:  []string{"org/bar/Util.<clinit>()V", "org/bar/Util.count()I"},
		},
		{
			name:  "method scope",
			query: `find methods in method "decrypt"`,
			want:  []string{"com/foo/Crypto.decrypt([B)[B"},
		},
		{
			name:  "clinit scope",
			query: `find methods during <clinit>`,
			want:  []string{"com/foo/Crypto.<clinit>()V", "org/bar/Util.<clinit>()V"},
		},
		{
			name:  "clinit of matching classes",
			query: `find methods during <clinit> of classes matching "org/bar"`,
			want:  []string{"org/bar/Util.<clinit>()V"},
		},
		{
			name:  "during method",
			query: `find methods during method "run.*"`,
			want:  []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"},
		},
		{
			name:  "between unions both boundaries",
			query: `find methods between readsField("org/bar/Util.n") and calls("java/lang/Runtime.exec")`,
			want: []string{
				"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V", "org/bar/Util.count()I",
			},
		},
		{
			name:  "scope and predicate intersect",
			query: `find methods in class "Crypto" where containsString("AES")`,
			want:  []string{"com/foo/Crypto.<clinit>()V", "com/foo/Crypto.decrypt([B)[B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.Plan(mustParse(t, tt.query))
			got := candidates(t, u, plan.StaticFilter)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("candidate[%d]: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestWithoutXrefDatabase(t *testing.T) {
	u := testUniverse()
	p := New(u, nil, query.DefaultBudget)

	for _, text := range []string{
		`find methods where calls("java/lang/Runtime.exec")`,
		`find methods where readsField("org/bar/Util.n") or writesField("org/bar/Util.n")`,
	} {
		plan := p.Plan(mustParse(t, text))
		if got := candidates(t, u, plan.StaticFilter); len(got) != 6 {
			t.Errorf("%s: expected all methods without xrefs, got %v", text, got)
		}
		if plan.XrefBacked || plan.StaticOnly() {
			t.Errorf("%s: plan must not be xref-backed without xrefs", text)
		}
	}

	// constant-pool filtering only needs the provider
	plan := p.Plan(mustParse(t, `find methods where containsString("/bin/sh")`))
	if got := candidates(t, u, plan.StaticFilter); len(got) != 2 {
		t.Errorf("expected constant pool filter without xrefs, got %v", got)
	}
}

func TestStaticOnly(t *testing.T) {
	u := testUniverse()
	p := New(u, u, query.DefaultBudget)

	tests := []struct {
		query string
		want  bool
	}{
		{`find methods where calls("java/lang/Runtime.exec")`, true},
		{`show classes where readsField("org/bar/Util.n") or writesField("org/bar/Util.n")`, true},
		{`find methods in class "com/foo/.*" where calls("java/lang/Runtime.exec")`, true},
		{`find events where calls("java/lang/Runtime.exec")`, false},
		{`find methods where calls("java/lang/Runtime.exec") and allocCount("[B") > 1`, false},
		{`find methods where not calls("java/lang/Runtime.exec")`, false},
		{`find methods where containsString("/bin/sh")`, false},
		{`find methods`, false},
	}
	for _, tt := range tests {
		if got := p.Plan(mustParse(t, tt.query)).StaticOnly(); got != tt.want {
			t.Errorf("StaticOnly(%s) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestPlanEvidence(t *testing.T) {
	u := testUniverse()
	p := New(u, u, query.DefaultBudget)

	plan := p.Plan(mustParse(t, `find methods in class "com/foo/.*" where calls("java/lang/Runtime.exec", literal)`))
	ev := plan.Evidence()
	if len(ev) != 1 {
		t.Fatalf("expected evidence for 1 method, got %d", len(ev))
	}
	sites := ev["com/foo/Shell.runConst()V"]
	if len(sites) != 1 || sites[0].InstructionIndex != 6 {
		t.Errorf("unexpected sites: %+v", sites)
	}

	if ev := p.Plan(mustParse(t, `find methods where throws("E")`)).Evidence(); ev != nil {
		t.Errorf("expected no evidence, got %v", ev)
	}
}

// partialXrefs fails method lookups for one member name.
type partialXrefs struct {
	*bytecode.Universe
	broken string
}

func (x partialXrefs) RefsToMethod(owner, name, desc string) ([]bytecode.Xref, error) {
	if name == x.broken {
		return nil, errors.New("lookup failed")
	}
	return x.Universe.RefsToMethod(owner, name, desc)
}

func TestPlanFailedLookupIsNotStaticOnly(t *testing.T) {
	u := testUniverse()
	p := New(u, partialXrefs{Universe: u, broken: "getRuntime"}, query.DefaultBudget)

	plan := p.Plan(mustParse(t, `find methods where calls("java/lang/Runtime.exec") and calls("java/lang/Runtime.getRuntime")`))
	if plan.XrefBacked || plan.StaticOnly() {
		t.Errorf("xref_backed = %v, static_only = %v; want both false", plan.XrefBacked, plan.StaticOnly())
	}
	if ev := plan.Evidence(); ev != nil {
		t.Errorf("expected no evidence, got %v", ev)
	}
	// The failed side keeps everything, so the exec side still narrows.
	want := []string{"com/foo/Shell.run(Ljava/lang/String;)V", "com/foo/Shell.runConst()V"}
	if got := candidates(t, u, plan.StaticFilter); !reflect.DeepEqual(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
}

// --- Probe tests ---

func TestProbes(t *testing.T) {
	tests := []struct {
		query string
		kinds []probe.Kind
	}{
		{`find methods`, nil},
		{`find methods where calls("a/B.c")`, []probe.Kind{probe.KindCall}},
		{`find methods where not calls("a/B.c")`, []probe.Kind{probe.KindCall}},
		{`find methods where instructionCount > 10`, nil},
		{`find methods where allocCount("[B") > 1 or throws("E")`, []probe.Kind{probe.KindAllocation, probe.KindException}},
		{`find methods where coverage > 0.5`, []probe.Kind{probe.KindBranch}},
		{`find methods where field("a/B.x") becomes null`, []probe.Kind{probe.KindField}},
		{`find methods where after(containsString("x")) and readsField("a/B.f")`, []probe.Kind{probe.KindString, probe.KindField}},
		{`find methods between calls("a/B.start") and writesField("a/B.done")`, []probe.Kind{probe.KindCall, probe.KindField}},
		{`find strings`, []probe.Kind{probe.KindString}},
		{`find objects where calls("a/B.c")`, []probe.Kind{probe.KindCall, probe.KindAllocation}},
	}
	for _, tt := range tests {
		set := Probes(mustParse(t, tt.query))
		var got []probe.Kind
		for _, s := range set.Probes() {
			got = append(got, s.Kind())
		}
		if len(got) != len(tt.kinds) {
			t.Errorf("%s: expected kinds %v, got %v", tt.query, tt.kinds, got)
			continue
		}
		for i := range got {
			if got[i] != tt.kinds[i] {
				t.Errorf("%s: probe[%d] expected %s, got %s", tt.query, i, tt.kinds[i], got[i])
			}
		}
	}
}

func TestProbesMatchPredicate(t *testing.T) {
	set := Probes(mustParse(t, `find methods where calls("java/lang/Runtime.exec") and containsString(/^[0-9a-f]{8}$/)`))
	if !set.WantsCall("java/lang/Runtime", "exec", "(Ljava/lang/String;)Ljava/lang/Process;") {
		t.Error("call probe should match Runtime.exec")
	}
	if set.WantsCall("java/lang/Runtime", "halt", "(I)V") {
		t.Error("call probe should not match Runtime.halt")
	}
	if !set.WantsString("deadbeef") || set.WantsString("not hex") {
		t.Error("string probe matched incorrectly")
	}
}

// --- Post-filter tests ---

func capturedResult() *postfilter.Result {
	r := &postfilter.Result{
		Method:       "com/foo/Shell.run(Ljava/lang/String;)V",
		Instructions: 420,
		Calls: []postfilter.CallEvent{
			{Sequence: 1, PC: 9, Owner: "java/lang/Runtime", Name: "exec"},
		},
		Strings: []postfilter.StringEvent{
			{Sequence: 0, PC: 2, Value: "/bin/sh -c id"},
		},
		Exceptions: []postfilter.ExceptionEvent{
			{Sequence: 2, PC: 20, Type: "java/io/IOException"},
		},
	}
	r.RecordAllocation("[B")
	r.RecordAllocation("[B")
	return r
}

func TestPostFilter(t *testing.T) {
	r := capturedResult()
	empty := postfilter.Empty("a/B.m()V")

	tests := []struct {
		query     string
		want      bool
		wantEmpty bool
	}{
		{`find methods`, true, true},
		{`find methods where calls("java/lang/Runtime.exec")`, true, false},
		{`find methods where calls("exec")`, true, false},
		{`find methods where calls("java/lang/Runtime.halt")`, false, false},
		{`find methods where allocCount("[B") >= 2`, true, false},
		{`find methods where allocCount("[B") > 2`, false, false},
		{`find methods where allocCount("[C") == 0`, true, true},
		{`find methods where instructionCount < 1000`, true, true},
		{`find methods where throws("IOException")`, true, false},
		{`find methods where throws("SecurityException")`, false, false},
		{`find methods where containsString("/bin/sh")`, true, false},
		{`find methods where containsString(/sh -c [a-z]+$/)`, true, false},
		{`find methods where containsString("powershell")`, false, false},
		{`find methods where readsField("a/B.f")`, true, true},
		{`find methods where writesField("a/B.f")`, true, true},
		{`find methods where coverage > 0.9`, true, true},
		{`find methods where field("a/B.f") becomes non-null`, true, true},
		{`find methods where before(calls("java/lang/Runtime.exec"))`, true, false},
		{`find methods where not throws("IOException")`, false, true},
		{`find methods where calls("java/lang/Runtime.exec") and allocCount("[B") > 5`, false, false},
		{`find methods where calls("java/lang/Runtime.halt") or instructionCount > 100`, true, false},
	}
	for _, tt := range tests {
		pf := PostFilterFor(mustParse(t, tt.query).Predicate)
		if got := pf(r); got != tt.want {
			t.Errorf("%s: on captured result got %v, want %v", tt.query, got, tt.want)
		}
		if got := pf(empty); got != tt.wantEmpty {
			t.Errorf("%s: on empty result got %v, want %v", tt.query, got, tt.wantEmpty)
		}
	}
}

func TestBudget(t *testing.T) {
	base := query.DefaultBudget
	base.Seeds = 7
	p := New(nil, nil, base)

	plan := p.Plan(mustParse(t, `find methods with maxInstructions: 500, timeBudget: 250`))
	want := base
	want.MaxInstructions = 500
	want.TimeBudget = 250 * time.Millisecond
	if plan.Budget != want {
		t.Errorf("expected budget %+v, got %+v", want, plan.Budget)
	}

	if got := p.Plan(mustParse(t, `find methods`)).Budget; got != base {
		t.Errorf("expected base budget without WITH, got %+v", got)
	}
}

// --- Cache tests ---

func TestCache(t *testing.T) {
	u := testUniverse()
	c := NewCache(New(u, u, query.DefaultBudget), 2)

	text := `find methods where calls("java/lang/Runtime.exec")`
	first, err := c.Compile(text)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := c.Compile(text)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first != second {
		t.Error("expected the cached plan on the second compile")
	}

	_, err = c.Compile(`find methods where calls("foo`)
	var qe *query.Error
	if !errors.As(err, &qe) || qe.Kind != query.ErrLexical {
		t.Fatalf("expected lexical error, got %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("errors must not be cached, len=%d", c.Len())
	}

	c.Compile(`find classes`)
	c.Compile(`find strings`)
	if c.Len() != 2 {
		t.Errorf("expected LRU to hold 2 plans, got %d", c.Len())
	}
	third, _ := c.Compile(text)
	if third == first {
		t.Error("evicted plan should have been rebuilt")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after purge, got %d", c.Len())
	}
}
