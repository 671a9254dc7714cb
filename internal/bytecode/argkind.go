package bytecode

import "strings"

// ArgKind classifies the instruction that produced a call argument.
type ArgKind int

const (
	ArgUnknown ArgKind = iota // producer could not be determined
	ArgLiteral                // ldc, iconst_*, bipush, sipush, aconst_null
	ArgField                  // getfield, getstatic
	ArgLocal                  // *load
	ArgCall                   // invoke*
	ArgDynamic                // any other computed value
)

var argKindNames = [...]string{"unknown", "literal", "field", "local", "call", "dynamic"}

func (k ArgKind) String() string {
	if int(k) < len(argKindNames) {
		return argKindNames[k]
	}
	return "unknown"
}

// ParseArgKind is the inverse of ArgKind.String. Unrecognised names map to
// ArgUnknown.
func ParseArgKind(s string) ArgKind {
	for i, n := range argKindNames {
		if n == s {
			return ArgKind(i)
		}
	}
	return ArgUnknown
}

// FormatArgKinds renders kinds as a comma-separated list for storage.
func FormatArgKinds(kinds []ArgKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}

// ParseArgKinds is the inverse of FormatArgKinds.
func ParseArgKinds(s string) []ArgKind {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	kinds := make([]ArgKind, len(parts))
	for i, p := range parts {
		kinds[i] = ParseArgKind(p)
	}
	return kinds
}

// DescriptorArgs returns the parameter types of a method descriptor, one
// entry per declared parameter. Malformed descriptors yield what could be
// read before the error.
func DescriptorArgs(desc string) []string {
	if !strings.HasPrefix(desc, "(") {
		return nil
	}
	var args []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for i < len(desc) && desc[i] == '[' {
			i++
		}
		if i >= len(desc) {
			break
		}
		if desc[i] == 'L' {
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				break
			}
			i += end + 1
		} else {
			i++
		}
		args = append(args, desc[start:i])
	}
	return args
}

// SlotSize returns the operand stack slots a field type occupies.
func SlotSize(typ string) int {
	if typ == "J" || typ == "D" {
		return 2
	}
	return 1
}

// ReturnSlots returns the stack slots pushed by a method returning desc's
// return type.
func ReturnSlots(desc string) int {
	i := strings.LastIndexByte(desc, ')')
	if i < 0 || i+1 >= len(desc) {
		return 0
	}
	ret := desc[i+1:]
	if ret == "V" {
		return 0
	}
	return SlotSize(ret)
}
