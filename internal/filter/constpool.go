package filter

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// ConstPoolFilter keeps classes whose constant pool holds a string matching
// a pattern, and the methods of those classes.
type ConstPoolFilter struct {
	provider bytecode.Provider
	pattern  *regexp.Regexp

	mu      sync.Mutex
	matched map[string]bool // class name -> verdict
}

// ContainsString matches a literal substring, or a regex when isRegex is set.
func ContainsString(p bytecode.Provider, pattern string, isRegex bool) (*ConstPoolFilter, error) {
	re, err := compilePattern(pattern, isRegex)
	if err != nil {
		return nil, err
	}
	return &ConstPoolFilter{provider: p, pattern: re, matched: make(map[string]bool)}, nil
}

// FilterMethods implements StaticFilter.
func (f *ConstPoolFilter) FilterMethods(ms []bytecode.Method) []bytecode.Method {
	var out []bytecode.Method
	for _, m := range ms {
		if f.classMatches(m.Owner) {
			out = append(out, m)
		}
	}
	return out
}

// FilterClasses implements StaticFilter.
func (f *ConstPoolFilter) FilterClasses(cs []bytecode.Class) []bytecode.Class {
	var out []bytecode.Class
	for _, c := range cs {
		if f.classMatches(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func (f *ConstPoolFilter) classMatches(name string) bool {
	f.mu.Lock()
	verdict, ok := f.matched[name]
	f.mu.Unlock()
	if ok {
		return verdict
	}

	verdict = f.scan(name)

	f.mu.Lock()
	f.matched[name] = verdict
	f.mu.Unlock()
	return verdict
}

func (f *ConstPoolFilter) scan(name string) bool {
	strs, err := f.provider.ClassStrings(name)
	if err != nil {
		slog.Warn("filter.constpool.err", "class", name, "err", err)
		return true
	}
	for _, s := range strs {
		if f.pattern.MatchString(s) {
			return true
		}
	}
	return false
}

func (f *ConstPoolFilter) String() string {
	return "constPool(" + f.pattern.String() + ")"
}
