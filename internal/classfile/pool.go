package classfile

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Constant is one constant pool entry. Only the fields relevant to its tag
// are set: Utf8 carries Text; Class, String, MethodType, Module and Package
// carry Index1; member refs, NameAndType, Dynamic and InvokeDynamic carry
// Index1 and Index2.
type Constant struct {
	Tag    byte
	Text   string
	Index1 uint16
	Index2 uint16
	Value  uint64
}

// Pool is a parsed constant pool. Entry 0 and the slot after each Long or
// Double are unused.
type Pool struct {
	entries []Constant
}

// Len returns the constant_pool_count value (one more than the last index).
func (p *Pool) Len() int { return len(p.entries) }

// Get returns the entry at index.
func (p *Pool) Get(index uint16) (Constant, error) {
	if index == 0 || int(index) >= len(p.entries) || p.entries[index].Tag == 0 {
		return Constant{}, fmt.Errorf("constant pool index %d out of range", index)
	}
	return p.entries[index], nil
}

// Utf8 returns the text of a Utf8 entry.
func (p *Pool) Utf8(index uint16) (string, error) {
	c, err := p.Get(index)
	if err != nil {
		return "", err
	}
	if c.Tag != TagUtf8 {
		return "", fmt.Errorf("constant %d: expected Utf8, got tag %d", index, c.Tag)
	}
	return c.Text, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *Pool) ClassName(index uint16) (string, error) {
	c, err := p.Get(index)
	if err != nil {
		return "", err
	}
	if c.Tag != TagClass {
		return "", fmt.Errorf("constant %d: expected Class, got tag %d", index, c.Tag)
	}
	return p.Utf8(c.Index1)
}

// NameAndType resolves a NameAndType entry.
func (p *Pool) NameAndType(index uint16) (name, desc string, err error) {
	c, err := p.Get(index)
	if err != nil {
		return "", "", err
	}
	if c.Tag != TagNameAndType {
		return "", "", fmt.Errorf("constant %d: expected NameAndType, got tag %d", index, c.Tag)
	}
	if name, err = p.Utf8(c.Index1); err != nil {
		return "", "", err
	}
	desc, err = p.Utf8(c.Index2)
	return name, desc, err
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref. For
// InvokeDynamic and Dynamic entries the owner is empty.
func (p *Pool) MemberRef(index uint16) (owner, name, desc string, err error) {
	c, err := p.Get(index)
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		if owner, err = p.ClassName(c.Index1); err != nil {
			return "", "", "", err
		}
	case TagInvokeDynamic, TagDynamic:
	default:
		return "", "", "", fmt.Errorf("constant %d: expected member ref, got tag %d", index, c.Tag)
	}
	name, desc, err = p.NameAndType(c.Index2)
	return owner, name, desc, err
}

// Strings returns every Utf8 entry plus the target of every String entry,
// deduplicated in pool order.
func (p *Pool) Strings() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, c := range p.entries {
		switch c.Tag {
		case TagUtf8:
			add(c.Text)
		case TagString:
			if s, err := p.Utf8(c.Index1); err == nil {
				add(s)
			}
		}
	}
	return out
}

func readPool(r *reader) (*Pool, error) {
	count := int(r.u2())
	p := &Pool{entries: make([]Constant, count)}
	for i := 1; i < count; i++ {
		tag := r.u1()
		c := Constant{Tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			c.Text = decodeModifiedUTF8(r.bytes(n))
		case TagInteger, TagFloat:
			c.Value = uint64(r.u4())
		case TagLong, TagDouble:
			c.Value = uint64(r.u4())<<32 | uint64(r.u4())
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.Index1 = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.Index1 = r.u2()
			c.Index2 = r.u2()
		case TagMethodHandle:
			c.Index1 = uint16(r.u1())
			c.Index2 = r.u2()
		default:
			return nil, fmt.Errorf("constant %d: unknown tag %d", i, tag)
		}
		if r.err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, r.err)
		}
		p.entries[i] = c
		if tag == TagLong || tag == TagDouble {
			i++
		}
	}
	return p, nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8: NUL is encoded as
// C0 80 and supplementary characters as surrogate pairs of three bytes each.
func decodeModifiedUTF8(b []byte) string {
	var units []uint16
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	var sb strings.Builder
	for _, r := range utf16.Decode(units) {
		sb.WriteRune(r)
	}
	return sb.String()
}
