package bytecode

import (
	"fmt"
	"sort"
	"sync"
)

// Universe is an in-memory Provider and XrefDatabase. The indexing pipeline
// builds one per parsed batch, and tests use it directly.
type Universe struct {
	mu      sync.RWMutex
	classes map[string]Class
	methods []Method
	strings map[string][]string
	xrefs   []Xref
}

// NewUniverse returns an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		classes: make(map[string]Class),
		strings: make(map[string][]string),
	}
}

// AddClass registers a class with its methods and constant-pool strings.
func (u *Universe) AddClass(c Class, methods []Method, strs []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.classes[c.Name] = c
	u.methods = append(u.methods, methods...)
	u.strings[c.Name] = append(u.strings[c.Name], strs...)
}

// AddXrefs registers reference sites.
func (u *Universe) AddXrefs(xs ...Xref) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.xrefs = append(u.xrefs, xs...)
}

// Classes returns classes sorted by name.
func (u *Universe) Classes() ([]Class, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]Class, 0, len(u.classes))
	for _, c := range u.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Methods returns methods in registration order.
func (u *Universe) Methods() ([]Method, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Method(nil), u.methods...), nil
}

// ClassStrings returns the constant-pool strings of a class.
func (u *Universe) ClassStrings(className string) ([]string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if _, ok := u.classes[className]; !ok {
		return nil, fmt.Errorf("class %s not found", className)
	}
	return u.strings[className], nil
}

// Xrefs returns all registered sites.
func (u *Universe) Xrefs() []Xref {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Xref(nil), u.xrefs...)
}

// RefsToMethod implements XrefDatabase.
func (u *Universe) RefsToMethod(owner, name, desc string) ([]Xref, error) {
	return u.refs(func(x Xref) bool {
		return x.Kind == RefCall && targetMatches(x, owner, name, desc)
	}), nil
}

// RefsToField implements XrefDatabase.
func (u *Universe) RefsToField(owner, name, desc string) ([]Xref, error) {
	return u.refs(func(x Xref) bool {
		return x.Kind.IsField() && targetMatches(x, owner, name, desc)
	}), nil
}

func (u *Universe) refs(keep func(Xref) bool) []Xref {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []Xref
	for _, x := range u.xrefs {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}

func targetMatches(x Xref, owner, name, desc string) bool {
	if owner != "" && x.TargetOwner != owner {
		return false
	}
	if x.TargetName != name {
		return false
	}
	return desc == "" || x.TargetDesc == desc
}
