package probe

import (
	"reflect"
	"testing"
)

func TestCallMatches(t *testing.T) {
	tests := []struct {
		probe             Call
		owner, name, desc string
		want              bool
	}{
		{Call{}, "a/B", "m", "()V", true},
		{Call{Owner: "java/lang/Runtime", Name: "exec"}, "java/lang/Runtime", "exec", "(Ljava/lang/String;)Ljava/lang/Process;", true},
		{Call{Owner: "Runtime", Name: "exec"}, "java/lang/Runtime", "exec", "()V", true},
		{Call{Owner: "time", Name: "exec"}, "java/lang/Runtime", "exec", "()V", false},
		{Call{Name: "exec", Desc: "()V"}, "x/Y", "exec", "(I)V", false},
		{Call{Name: "exec"}, "x/Y", "execute", "()V", false},
	}
	for _, tt := range tests {
		if got := tt.probe.Matches(tt.owner, tt.name, tt.desc); got != tt.want {
			t.Errorf("%s matches %s.%s%s = %v, want %v", tt.probe.String(), tt.owner, tt.name, tt.desc, got, tt.want)
		}
	}
}

func TestStringAndExceptionMatches(t *testing.T) {
	var b Builder
	set := b.Strings(`^[0-9a-f]{8}$`, true).Strings("http://", false).Exception("IOException").Build()

	if !set.WantsString("deadbeef") {
		t.Error("regex probe should record hex string")
	}
	if !set.WantsString("see http://example.com") {
		t.Error("literal probe should record substring")
	}
	if set.WantsString("nothing") {
		t.Error("no probe should record 'nothing'")
	}
	if !set.WantsException("java/io/IOException") {
		t.Error("exception probe should match by substring")
	}
	if set.WantsException("java/lang/RuntimeException") {
		t.Error("unexpected exception match")
	}
}

func TestInvalidRegexRecordsNothing(t *testing.T) {
	var b Builder
	set := b.Strings("[", true).Build()
	if set.WantsString("[") {
		t.Error("invalid regex should not match")
	}
}

func TestFieldProbeModes(t *testing.T) {
	var b Builder
	set := b.FieldReads("a/B", "x").FieldTransitions("a/B", "y").Build()

	tests := []struct {
		name  string
		write bool
		want  bool
	}{
		{"x", false, true},
		{"x", true, false},
		{"y", true, true},
		{"y", false, false},
	}
	for _, tt := range tests {
		if got := set.WantsField("a/B", tt.name, tt.write); got != tt.want {
			t.Errorf("WantsField(%s, write=%v) = %v, want %v", tt.name, tt.write, got, tt.want)
		}
	}
}

func TestCapabilities(t *testing.T) {
	var b Builder
	set := b.Exception("E").Call("a", "b", "").Alloc("[B").Call("c", "d", "").Branches().Build()

	want := []Capability{CallTracking, AllocationTracking, ExceptionTracking, BranchTracking}
	if got := set.Capabilities(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if set.Len() != 5 {
		t.Errorf("expected 5 probes, got %d", set.Len())
	}
	if !set.Has(KindAllocation) || set.Has(KindField) {
		t.Error("Has reported wrong kinds")
	}
	if len(Empty().Capabilities()) != 0 {
		t.Error("empty set should need no capabilities")
	}
}

func TestBuildIsSnapshot(t *testing.T) {
	var b Builder
	first := b.AllCalls().Build()
	b.AllAllocs()
	if first.Len() != 1 {
		t.Errorf("set changed after build: %d probes", first.Len())
	}
	probes := first.Probes()
	probes[0] = &Branch{}
	if first.Probes()[0].Kind() != KindCall {
		t.Error("Probes must return a copy")
	}
}
