// Package classfile reads JVM class files: the constant pool, fields,
// methods and their Code attributes. It decodes instructions and extracts
// the cross-references and call-site argument kinds the index stores.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// ClassFile is a parsed class.
type ClassFile struct {
	Minor, Major uint16
	Pool         *Pool
	Access       int
	Name         string
	Super        string // empty for java/lang/Object and module-info
	Interfaces   []string
	Fields       []Member
	Methods      []Member
	SourceFile   string
}

// Member is a field or method.
type Member struct {
	Access int
	Name   string
	Desc   string
	Code   *Code // methods only; nil when abstract or native
}

// Code is a method's Code attribute.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytes     []byte
	Handlers  []Handler
	Lines     []LineEntry
}

// Handler is one exception table entry.
type Handler struct {
	StartPC, EndPC, HandlerPC int
	CatchType                 string // empty for finally
}

// LineEntry maps a bytecode offset to a source line.
type LineEntry struct {
	StartPC int
	Line    int
}

// LineAt returns the source line for pc, or 0 when the method has no line
// table.
func (c *Code) LineAt(pc int) int {
	line := 0
	best := -1
	for _, e := range c.Lines {
		if e.StartPC <= pc && e.StartPC > best {
			best = e.StartPC
			line = e.Line
		}
	}
	return line
}

// ErrNotClassFile is returned when the input does not start with the magic.
var ErrNotClassFile = errors.New("not a class file")

// Parse reads a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}
	if r.u4() != Magic {
		return nil, ErrNotClassFile
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("header: %w", r.err)
	}

	pool, err := readPool(r)
	if err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}
	cf.Pool = pool

	cf.Access = int(r.u2())
	if cf.Name, err = pool.ClassName(r.u2()); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if super := r.u2(); super != 0 {
		if cf.Super, err = pool.ClassName(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	n := int(r.u2())
	for i := 0; i < n; i++ {
		name, err := pool.ClassName(r.u2())
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	if cf.Fields, err = readMembers(r, pool, false); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if cf.Methods, err = readMembers(r, pool, true); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}

	n = int(r.u2())
	for i := 0; i < n; i++ {
		name, body, err := readAttribute(r, pool)
		if err != nil {
			return nil, fmt.Errorf("class attribute %d: %w", i, err)
		}
		if name == "SourceFile" && len(body) >= 2 {
			cf.SourceFile, _ = pool.Utf8(binary.BigEndian.Uint16(body))
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", cf.Name, r.err)
	}
	return cf, nil
}

func readMembers(r *reader, pool *Pool, methods bool) ([]Member, error) {
	n := int(r.u2())
	out := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		m := Member{Access: int(r.u2())}
		var err error
		if m.Name, err = pool.Utf8(r.u2()); err != nil {
			return nil, fmt.Errorf("member %d name: %w", i, err)
		}
		if m.Desc, err = pool.Utf8(r.u2()); err != nil {
			return nil, fmt.Errorf("member %s desc: %w", m.Name, err)
		}
		attrs := int(r.u2())
		for j := 0; j < attrs; j++ {
			name, body, err := readAttribute(r, pool)
			if err != nil {
				return nil, fmt.Errorf("member %s attribute %d: %w", m.Name, j, err)
			}
			if methods && name == "Code" {
				if m.Code, err = parseCode(body, pool); err != nil {
					return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
				}
			}
		}
		out = append(out, m)
	}
	return out, r.err
}

func readAttribute(r *reader, pool *Pool) (string, []byte, error) {
	name, err := pool.Utf8(r.u2())
	if err != nil {
		return "", nil, err
	}
	body := r.bytes(int(r.u4()))
	return name, body, r.err
}

func parseCode(body []byte, pool *Pool) (*Code, error) {
	r := &reader{buf: body}
	c := &Code{MaxStack: int(r.u2()), MaxLocals: int(r.u2())}
	c.Bytes = r.bytes(int(r.u4()))
	n := int(r.u2())
	for i := 0; i < n; i++ {
		h := Handler{StartPC: int(r.u2()), EndPC: int(r.u2()), HandlerPC: int(r.u2())}
		if t := r.u2(); t != 0 {
			name, err := pool.ClassName(t)
			if err != nil {
				return nil, fmt.Errorf("handler %d: %w", i, err)
			}
			h.CatchType = name
		}
		c.Handlers = append(c.Handlers, h)
	}
	n = int(r.u2())
	for i := 0; i < n; i++ {
		name, attr, err := readAttribute(r, pool)
		if err != nil {
			return nil, fmt.Errorf("code attribute %d: %w", i, err)
		}
		if name == "LineNumberTable" {
			lr := &reader{buf: attr}
			entries := int(lr.u2())
			for j := 0; j < entries; j++ {
				c.Lines = append(c.Lines, LineEntry{StartPC: int(lr.u2()), Line: int(lr.u2())})
			}
			if lr.err != nil {
				return nil, fmt.Errorf("line table: %w", lr.err)
			}
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("code: %w", r.err)
	}
	return c, nil
}

// reader is a big-endian cursor with a sticky error.
type reader struct {
	buf []byte
	off int
	err error
}

var errTruncated = errors.New("truncated")

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = errTruncated
		return false
	}
	return true
}

func (r *reader) u1() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}
