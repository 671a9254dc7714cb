package filter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// XrefFilter keeps methods containing at least one reference site to a
// target member. Sites are looked up once, on first use.
type XrefFilter struct {
	db    bytecode.XrefDatabase
	kind  bytecode.RefKind
	owner string
	name  string
	desc  string
	// keep further restricts call sites, e.g. by argument kind. Nil keeps all.
	keep func(bytecode.Xref) bool

	once     sync.Once
	failed   bool
	bySource map[string][]bytecode.Xref
}

// CallsMethod filters by call sites of owner.name(desc). An empty desc
// matches every overload.
func CallsMethod(db bytecode.XrefDatabase, owner, name, desc string, keep func(bytecode.Xref) bool) *XrefFilter {
	return &XrefFilter{db: db, kind: bytecode.RefCall, owner: owner, name: name, desc: desc, keep: keep}
}

// ReadsField filters by read sites of owner.name.
func ReadsField(db bytecode.XrefDatabase, owner, name, desc string) *XrefFilter {
	return &XrefFilter{db: db, kind: bytecode.RefFieldRead, owner: owner, name: name, desc: desc}
}

// WritesField filters by write sites of owner.name.
func WritesField(db bytecode.XrefDatabase, owner, name, desc string) *XrefFilter {
	return &XrefFilter{db: db, kind: bytecode.RefFieldWrite, owner: owner, name: name, desc: desc}
}

func (f *XrefFilter) load() {
	f.once.Do(func() {
		var refs []bytecode.Xref
		var err error
		if f.kind == bytecode.RefCall {
			refs, err = f.db.RefsToMethod(f.owner, f.name, f.desc)
		} else {
			refs, err = f.db.RefsToField(f.owner, f.name, f.desc)
		}
		if err != nil {
			slog.Warn("filter.xref.err", "target", f.target(), "err", err)
			f.failed = true
			return
		}

		f.bySource = make(map[string][]bytecode.Xref)
		for _, x := range refs {
			if x.Kind != f.kind {
				continue
			}
			if f.keep != nil && !f.keep(x) {
				continue
			}
			sig := x.SourceSignature()
			f.bySource[sig] = append(f.bySource[sig], x)
		}
		slog.Debug("filter.xref", "target", f.target(), "kind", f.kind, "refs", len(refs), "methods", len(f.bySource))
	})
}

// FilterMethods implements StaticFilter. A failed lookup keeps everything.
func (f *XrefFilter) FilterMethods(ms []bytecode.Method) []bytecode.Method {
	f.load()
	if f.failed {
		return ms
	}
	var out []bytecode.Method
	for _, m := range ms {
		if _, ok := f.bySource[m.Signature()]; ok {
			out = append(out, m)
		}
	}
	return out
}

// FilterClasses keeps classes that own at least one referencing method.
func (f *XrefFilter) FilterClasses(cs []bytecode.Class) []bytecode.Class {
	f.load()
	if f.failed {
		return cs
	}
	owners := make(map[string]bool)
	for _, xs := range f.bySource {
		owners[xs[0].SourceClass] = true
	}
	var out []bytecode.Class
	for _, c := range cs {
		if owners[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// Evidence returns the surviving sites grouped by containing method
// signature. The map must not be modified.
func (f *XrefFilter) Evidence() map[string][]bytecode.Xref {
	f.load()
	return f.bySource
}

func (f *XrefFilter) target() string {
	return f.owner + "." + f.name + f.desc
}

func (f *XrefFilter) String() string {
	return fmt.Sprintf("xref(%s %s)", f.kind, f.target())
}
