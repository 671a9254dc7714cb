// Package bytecode holds the metadata model that query filters run against:
// classes, methods, constant-pool strings and cross-references between them.
package bytecode

import (
	"strings"
)

// Access flags from the class file format.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
)

// ClinitName and ClinitDesc identify a static initializer.
const (
	ClinitName = "<clinit>"
	ClinitDesc = "()V"
)

// Method is a method declared by a class. Owner uses the internal
// slash-separated form (com/foo/Bar).
type Method struct {
	Owner   string
	Name    string
	Desc    string
	Access  int
	HasCode bool
}

// Signature returns owner.name+desc, the key used throughout the index.
func (m Method) Signature() string {
	return m.Owner + "." + m.Name + m.Desc
}

// IsAbstract reports whether the method carries ACC_ABSTRACT.
func (m Method) IsAbstract() bool { return m.Access&AccAbstract != 0 }

// IsNative reports whether the method carries ACC_NATIVE.
func (m Method) IsNative() bool { return m.Access&AccNative != 0 }

// IsClinit reports whether the method is a static initializer.
func (m Method) IsClinit() bool { return m.Name == ClinitName && m.Desc == ClinitDesc }

// Executable reports whether the method has a body that can be simulated.
func (m Method) Executable() bool {
	return m.HasCode && !m.IsAbstract() && !m.IsNative()
}

// Class is a class or interface in the index.
type Class struct {
	Name   string
	Super  string
	Access int
	Source string // file or jar entry it was read from
}

// RefKind classifies what an xref site does to its target.
type RefKind int

const (
	RefCall RefKind = iota
	RefFieldRead
	RefFieldWrite
	RefAlloc
)

var refKindNames = [...]string{"CALL", "READ", "WRITE", "ALLOC"}

func (k RefKind) String() string {
	if int(k) < len(refKindNames) {
		return refKindNames[k]
	}
	return "UNKNOWN"
}

// ParseRefKind is the inverse of RefKind.String.
func ParseRefKind(s string) (RefKind, bool) {
	for i, n := range refKindNames {
		if n == s {
			return RefKind(i), true
		}
	}
	return 0, false
}

// IsField reports whether the kind is a field access.
func (k RefKind) IsField() bool { return k == RefFieldRead || k == RefFieldWrite }

// Xref is one site where SourceMethod references a target member.
type Xref struct {
	SourceClass      string
	SourceMethod     string
	SourceMethodDesc string
	InstructionIndex int // bytecode offset of the referencing instruction
	Line             int // 0 when no line table is present
	Kind             RefKind
	TargetOwner      string
	TargetName       string
	TargetDesc       string
	// ArgKinds classifies the producer of each call argument, in
	// declaration order. Empty for field refs.
	ArgKinds []ArgKind
}

// SourceSignature returns the containing method's signature.
func (x Xref) SourceSignature() string {
	return x.SourceClass + "." + x.SourceMethod + x.SourceMethodDesc
}

// TargetDisplay renders the target as owner.name+desc for result rows.
func (x Xref) TargetDisplay() string {
	return x.TargetOwner + "." + x.TargetName + x.TargetDesc
}

// XrefDatabase answers who-references-what lookups. A nil XrefDatabase is
// valid wherever one is accepted and means no static xref filtering.
type XrefDatabase interface {
	// RefsToMethod returns call sites targeting owner.name. An empty desc
	// matches every overload; an empty owner matches every owner.
	RefsToMethod(owner, name, desc string) ([]Xref, error)
	// RefsToField returns read and write sites targeting owner.name.
	RefsToField(owner, name, desc string) ([]Xref, error)
}

// Provider enumerates the metadata universe a query runs over.
type Provider interface {
	Classes() ([]Class, error)
	Methods() ([]Method, error)
	// ClassStrings returns every string reachable from the class's constant
	// pool: UTF8 entries plus the targets of string-ref entries.
	ClassStrings(className string) ([]string, error)
}

// SplitSignature splits owner.name+desc into its three parts. The owner is
// everything before the last '.' preceding the descriptor.
func SplitSignature(sig string) (owner, name, desc string) {
	head := sig
	if i := strings.IndexByte(sig, '('); i >= 0 {
		head, desc = sig[:i], sig[i:]
	}
	if i := strings.LastIndexByte(head, '.'); i >= 0 {
		return head[:i], head[i+1:], desc
	}
	return "", head, desc
}

// OwnerOf returns the class part of a method signature.
func OwnerOf(sig string) string {
	owner, _, _ := SplitSignature(sig)
	if owner == "" {
		return sig
	}
	return owner
}
