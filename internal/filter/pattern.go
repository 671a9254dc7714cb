package filter

import (
	"fmt"
	"regexp"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// PatternFilter keeps members whose names match a class pattern, a method
// pattern, or both. A nil pattern imposes no constraint.
type PatternFilter struct {
	class  *regexp.Regexp
	method *regexp.Regexp
}

var clinitPattern = regexp.MustCompile(`.*\.<clinit>\(\)V`)

// ClassMatching keeps classes, and methods of classes, whose internal name
// matches pattern. A non-regex pattern matches as a literal substring.
func ClassMatching(pattern string, isRegex bool) (*PatternFilter, error) {
	re, err := compilePattern(pattern, isRegex)
	if err != nil {
		return nil, err
	}
	return &PatternFilter{class: re}, nil
}

// MethodMatching keeps methods whose owner.name+desc signature or bare name
// matches pattern.
func MethodMatching(pattern string, isRegex bool) (*PatternFilter, error) {
	re, err := compilePattern(pattern, isRegex)
	if err != nil {
		return nil, err
	}
	return &PatternFilter{method: re}, nil
}

// Clinit keeps static initializers.
func Clinit() *PatternFilter {
	return &PatternFilter{method: clinitPattern}
}

// WithClass returns a copy of f additionally constrained by class pattern c.
func (f *PatternFilter) WithClass(c *PatternFilter) *PatternFilter {
	return &PatternFilter{class: c.class, method: f.method}
}

func compilePattern(pattern string, isRegex bool) (*regexp.Regexp, error) {
	if !isRegex {
		pattern = regexp.QuoteMeta(pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// FilterMethods implements StaticFilter.
func (f *PatternFilter) FilterMethods(ms []bytecode.Method) []bytecode.Method {
	var out []bytecode.Method
	for _, m := range ms {
		if f.class != nil && !f.class.MatchString(m.Owner) {
			continue
		}
		if f.method != nil && !f.method.MatchString(m.Signature()) && !f.method.MatchString(m.Name) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FilterClasses implements StaticFilter. Only the class pattern applies.
func (f *PatternFilter) FilterClasses(cs []bytecode.Class) []bytecode.Class {
	if f.class == nil {
		return cs
	}
	var out []bytecode.Class
	for _, c := range cs {
		if f.class.MatchString(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func (f *PatternFilter) String() string {
	switch {
	case f.class != nil && f.method != nil:
		return fmt.Sprintf("pattern(class=%s, method=%s)", f.class, f.method)
	case f.class != nil:
		return fmt.Sprintf("pattern(class=%s)", f.class)
	case f.method != nil:
		return fmt.Sprintf("pattern(method=%s)", f.method)
	}
	return "pattern()"
}
