package probe

import (
	"regexp"
	"sort"
)

// Set is an immutable collection of probes. Probes are kept in the order
// they were added; duplicates are allowed and merged by the consumer.
type Set struct {
	probes []Spec
}

// Empty returns a set with no probes.
func Empty() *Set { return &Set{} }

// Probes returns a copy of the probes in insertion order.
func (s *Set) Probes() []Spec {
	return append([]Spec(nil), s.probes...)
}

// Len returns the number of probes.
func (s *Set) Len() int { return len(s.probes) }

// Has reports whether the set contains a probe of kind k.
func (s *Set) Has(k Kind) bool {
	for _, p := range s.probes {
		if p.Kind() == k {
			return true
		}
	}
	return false
}

// Capabilities returns the distinct engine capabilities the set needs, in
// capability order.
func (s *Set) Capabilities() []Capability {
	seen := make(map[Capability]bool)
	var caps []Capability
	for _, p := range s.probes {
		c := p.Kind().Capability()
		if !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// WantsCall reports whether any call probe records owner.name+desc.
func (s *Set) WantsCall(owner, name, desc string) bool {
	for _, p := range s.probes {
		if c, ok := p.(*Call); ok && c.Matches(owner, name, desc) {
			return true
		}
	}
	return false
}

// WantsAlloc reports whether any allocation probe records typ.
func (s *Set) WantsAlloc(typ string) bool {
	for _, p := range s.probes {
		if a, ok := p.(*Alloc); ok && a.Matches(typ) {
			return true
		}
	}
	return false
}

// WantsField reports whether any field probe records a read or write of
// owner.name.
func (s *Set) WantsField(owner, name string, write bool) bool {
	for _, p := range s.probes {
		f, ok := p.(*Field)
		if !ok || !f.Matches(owner, name) {
			continue
		}
		if (write && (f.Writes || f.Transitions)) || (!write && f.Reads) {
			return true
		}
	}
	return false
}

// WantsString reports whether any string probe records value.
func (s *Set) WantsString(value string) bool {
	for _, p := range s.probes {
		if sp, ok := p.(*String); ok && sp.Matches(value) {
			return true
		}
	}
	return false
}

// WantsException reports whether any exception probe records typ.
func (s *Set) WantsException(typ string) bool {
	for _, p := range s.probes {
		if e, ok := p.(*Exception); ok && e.Matches(typ) {
			return true
		}
	}
	return false
}

// Builder accumulates probes. The zero value is ready to use.
type Builder struct {
	probes []Spec
}

// Add appends an arbitrary probe.
func (b *Builder) Add(p Spec) *Builder {
	b.probes = append(b.probes, p)
	return b
}

// Call adds a call probe for owner.name+desc.
func (b *Builder) Call(owner, name, desc string) *Builder {
	return b.Add(&Call{Owner: owner, Name: name, Desc: desc})
}

// AllCalls adds a probe recording every invocation.
func (b *Builder) AllCalls() *Builder { return b.Add(&Call{}) }

// Alloc adds an allocation probe for typ.
func (b *Builder) Alloc(typ string) *Builder { return b.Add(&Alloc{Type: typ}) }

// AllAllocs adds a probe recording every allocation.
func (b *Builder) AllAllocs() *Builder { return b.Add(&Alloc{}) }

// FieldReads adds a probe recording reads of owner.name.
func (b *Builder) FieldReads(owner, name string) *Builder {
	return b.Add(&Field{Owner: owner, Name: name, Reads: true})
}

// FieldWrites adds a probe recording writes of owner.name.
func (b *Builder) FieldWrites(owner, name string) *Builder {
	return b.Add(&Field{Owner: owner, Name: name, Writes: true})
}

// FieldTransitions adds a probe recording null/non-null transitions of
// owner.name.
func (b *Builder) FieldTransitions(owner, name string) *Builder {
	return b.Add(&Field{Owner: owner, Name: name, Writes: true, Transitions: true})
}

// Strings adds a string probe. An empty pattern records every string. An
// invalid regex records nothing.
func (b *Builder) Strings(pattern string, isRegex bool) *Builder {
	p := &String{Pattern: pattern, IsRegex: isRegex}
	if isRegex && pattern != "" {
		p.re, _ = regexp.Compile(pattern)
	}
	return b.Add(p)
}

// AllStrings adds a probe recording every string.
func (b *Builder) AllStrings() *Builder { return b.Add(&String{}) }

// Exception adds an exception probe for typ.
func (b *Builder) Exception(typ string) *Builder { return b.Add(&Exception{Type: typ}) }

// Branches adds a probe recording every branch outcome.
func (b *Builder) Branches() *Builder { return b.Add(&Branch{}) }

// Coverage adds a block or edge coverage probe.
func (b *Builder) Coverage(edges bool) *Builder { return b.Add(&Coverage{Edges: edges}) }

// Build returns the accumulated set. The builder may keep being used.
func (b *Builder) Build() *Set {
	return &Set{probes: append([]Spec(nil), b.probes...)}
}
