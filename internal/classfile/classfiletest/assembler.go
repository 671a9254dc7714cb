// Package classfiletest assembles small class files for tests.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Class builds one class file. Constants are interned in insertion order.
type Class struct {
	Name      string
	Super     string
	Access    uint16
	Methods   []*Method
	pool      [][]byte
	next      uint16
	interned  map[string]uint16
	ExtraUtf8 []string // extra Utf8 entries, for constant-pool string tests
}

// Method is one method definition. A nil Code emits no Code attribute.
type Method struct {
	Access    uint16
	Name      string
	Desc      string
	MaxStack  uint16
	MaxLocals uint16
	Code      *Code
}

// Code is a method body under construction.
type Code struct {
	buf      bytes.Buffer
	class    *Class
	lines    [][2]uint16
	handlers [][4]uint16
}

// New starts a class with super java/lang/Object and ACC_PUBLIC|ACC_SUPER.
func New(name string) *Class {
	return &Class{Name: name, Super: "java/lang/Object", Access: 0x0021, next: 1, interned: make(map[string]uint16)}
}

// Method adds a method with a body and returns the body for writing.
func (c *Class) Method(access uint16, name, desc string) *Code {
	code := &Code{class: c}
	c.Methods = append(c.Methods, &Method{Access: access, Name: name, Desc: desc, MaxStack: 16, MaxLocals: 16, Code: code})
	return code
}

// AbstractMethod adds a method without a body.
func (c *Class) AbstractMethod(access uint16, name, desc string) {
	c.Methods = append(c.Methods, &Method{Access: access, Name: name, Desc: desc})
}

func (c *Class) intern(key string, slots uint16, entry []byte) uint16 {
	if i, ok := c.interned[key]; ok {
		return i
	}
	i := c.next
	c.interned[key] = i
	c.pool = append(c.pool, entry)
	c.next += slots
	return i
}

// Utf8 interns a Utf8 constant.
func (c *Class) Utf8(s string) uint16 {
	e := []byte{1}
	e = binary.BigEndian.AppendUint16(e, uint16(len(s)))
	e = append(e, s...)
	return c.intern("u:"+s, 1, e)
}

// ClassRef interns a Class constant.
func (c *Class) ClassRef(name string) uint16 {
	n := c.Utf8(name)
	return c.intern("c:"+name, 1, binary.BigEndian.AppendUint16([]byte{7}, n))
}

// String interns a String constant.
func (c *Class) String(s string) uint16 {
	n := c.Utf8(s)
	return c.intern("s:"+s, 1, binary.BigEndian.AppendUint16([]byte{8}, n))
}

// Int interns an Integer constant.
func (c *Class) Int(v int32) uint16 {
	return c.intern(fmt.Sprintf("i:%d", v), 1, binary.BigEndian.AppendUint32([]byte{3}, uint32(v)))
}

// Long interns a Long constant, which occupies two pool slots.
func (c *Class) Long(v int64) uint16 {
	return c.intern(fmt.Sprintf("l:%d", v), 2, binary.BigEndian.AppendUint64([]byte{5}, uint64(v)))
}

// Double interns a Double constant, which occupies two pool slots.
func (c *Class) Double(v float64) uint16 {
	return c.intern(fmt.Sprintf("d:%v", v), 2, binary.BigEndian.AppendUint64([]byte{6}, math.Float64bits(v)))
}

func (c *Class) nameAndType(name, desc string) uint16 {
	n, d := c.Utf8(name), c.Utf8(desc)
	e := binary.BigEndian.AppendUint16([]byte{12}, n)
	return c.intern("nt:"+name+":"+desc, 1, binary.BigEndian.AppendUint16(e, d))
}

func (c *Class) memberRef(tag byte, owner, name, desc string) uint16 {
	cl, nt := c.ClassRef(owner), c.nameAndType(name, desc)
	e := binary.BigEndian.AppendUint16([]byte{tag}, cl)
	return c.intern(fmt.Sprintf("m%d:%s.%s%s", tag, owner, name, desc), 1, binary.BigEndian.AppendUint16(e, nt))
}

// FieldRef interns a Fieldref constant.
func (c *Class) FieldRef(owner, name, desc string) uint16 { return c.memberRef(9, owner, name, desc) }

// MethodRef interns a Methodref constant.
func (c *Class) MethodRef(owner, name, desc string) uint16 { return c.memberRef(10, owner, name, desc) }

// InterfaceMethodRef interns an InterfaceMethodref constant.
func (c *Class) InterfaceMethodRef(owner, name, desc string) uint16 {
	return c.memberRef(11, owner, name, desc)
}

// Bytes serializes the class (major version 52).
func (c *Class) Bytes() []byte {
	this := c.ClassRef(c.Name)
	var super uint16
	if c.Super != "" {
		super = c.ClassRef(c.Super)
	}
	for _, s := range c.ExtraUtf8 {
		c.Utf8(s)
	}
	type encoded struct {
		access, name, desc uint16
		code               []byte
	}
	codeAttr := c.Utf8("Code")
	lineAttr := c.Utf8("LineNumberTable")
	var methods []encoded
	for _, m := range c.Methods {
		e := encoded{access: m.Access, name: c.Utf8(m.Name), desc: c.Utf8(m.Desc)}
		if m.Code != nil {
			e.code = m.Code.attribute(m.MaxStack, m.MaxLocals, lineAttr)
		}
		methods = append(methods, e)
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))
	w(uint16(52))
	w(c.next)
	for _, e := range c.pool {
		out.Write(e)
	}
	w(c.Access)
	w(this)
	w(super)
	w(uint16(0)) // interfaces
	w(uint16(0)) // fields
	w(uint16(len(methods)))
	for _, m := range methods {
		w(m.access)
		w(m.name)
		w(m.desc)
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1))
		w(codeAttr)
		w(uint32(len(m.code)))
		out.Write(m.code)
	}
	w(uint16(0)) // class attributes
	return out.Bytes()
}

func (code *Code) attribute(maxStack, maxLocals, lineAttr uint16) []byte {
	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(maxStack)
	w(maxLocals)
	w(uint32(code.buf.Len()))
	out.Write(code.buf.Bytes())
	w(uint16(len(code.handlers)))
	for _, h := range code.handlers {
		w(h)
	}
	if len(code.lines) == 0 {
		w(uint16(0))
		return out.Bytes()
	}
	w(uint16(1))
	w(lineAttr)
	w(uint32(2 + 4*len(code.lines)))
	w(uint16(len(code.lines)))
	for _, l := range code.lines {
		w(l)
	}
	return out.Bytes()
}

// PC returns the offset of the next instruction.
func (code *Code) PC() int { return code.buf.Len() }

// Line records that the next instruction starts source line n.
func (code *Code) Line(n int) *Code {
	code.lines = append(code.lines, [2]uint16{uint16(code.PC()), uint16(n)})
	return code
}

// Handler adds an exception table entry. catchType may be empty.
func (code *Code) Handler(start, end, handler int, catchType string) *Code {
	var t uint16
	if catchType != "" {
		t = code.class.ClassRef(catchType)
	}
	code.handlers = append(code.handlers, [4]uint16{uint16(start), uint16(end), uint16(handler), t})
	return code
}

// Op emits a raw opcode with operand bytes.
func (code *Code) Op(op byte, operands ...byte) *Code {
	code.buf.WriteByte(op)
	code.buf.Write(operands)
	return code
}

func (code *Code) op2(op byte, index uint16) *Code {
	return code.Op(op, byte(index>>8), byte(index))
}

// Ldc loads a string constant, using ldc_w when the index needs it.
func (code *Code) Ldc(s string) *Code {
	i := code.class.String(s)
	if i < 256 {
		return code.Op(0x12, byte(i))
	}
	return code.op2(0x13, i)
}

// LdcLong loads a long constant with ldc2_w.
func (code *Code) LdcLong(v int64) *Code { return code.op2(0x14, code.class.Long(v)) }

// Iconst emits iconst_<n> for -1..5 or bipush otherwise.
func (code *Code) Iconst(n int) *Code {
	if n >= -1 && n <= 5 {
		return code.Op(byte(0x03 + n))
	}
	return code.Op(0x10, byte(int8(n)))
}

// Aload emits aload_<n> or aload n.
func (code *Code) Aload(n int) *Code {
	if n < 4 {
		return code.Op(byte(0x2a + n))
	}
	return code.Op(0x19, byte(n))
}

// Iload emits iload_<n> or iload n.
func (code *Code) Iload(n int) *Code {
	if n < 4 {
		return code.Op(byte(0x1a + n))
	}
	return code.Op(0x15, byte(n))
}

// Astore emits astore n.
func (code *Code) Astore(n int) *Code { return code.Op(0x3a, byte(n)) }

// Getfield emits getfield.
func (code *Code) Getfield(owner, name, desc string) *Code {
	return code.op2(0xb4, code.class.FieldRef(owner, name, desc))
}

// Getstatic emits getstatic.
func (code *Code) Getstatic(owner, name, desc string) *Code {
	return code.op2(0xb2, code.class.FieldRef(owner, name, desc))
}

// Putfield emits putfield.
func (code *Code) Putfield(owner, name, desc string) *Code {
	return code.op2(0xb5, code.class.FieldRef(owner, name, desc))
}

// Putstatic emits putstatic.
func (code *Code) Putstatic(owner, name, desc string) *Code {
	return code.op2(0xb3, code.class.FieldRef(owner, name, desc))
}

// Invokevirtual emits invokevirtual.
func (code *Code) Invokevirtual(owner, name, desc string) *Code {
	return code.op2(0xb6, code.class.MethodRef(owner, name, desc))
}

// Invokespecial emits invokespecial.
func (code *Code) Invokespecial(owner, name, desc string) *Code {
	return code.op2(0xb7, code.class.MethodRef(owner, name, desc))
}

// Invokestatic emits invokestatic.
func (code *Code) Invokestatic(owner, name, desc string) *Code {
	return code.op2(0xb8, code.class.MethodRef(owner, name, desc))
}

// Invokeinterface emits invokeinterface with the given argument slot count.
func (code *Code) Invokeinterface(owner, name, desc string, count byte) *Code {
	i := code.class.InterfaceMethodRef(owner, name, desc)
	return code.Op(0xb9, byte(i>>8), byte(i), count, 0)
}

// New emits new.
func (code *Code) New(class string) *Code { return code.op2(0xbb, code.class.ClassRef(class)) }

// Dup emits dup.
func (code *Code) Dup() *Code { return code.Op(0x59) }

// Pop emits pop.
func (code *Code) Pop() *Code { return code.Op(0x57) }

// Iadd emits iadd.
func (code *Code) Iadd() *Code { return code.Op(0x60) }

// Return emits return.
func (code *Code) Return() *Code { return code.Op(0xb1) }

// Areturn emits areturn.
func (code *Code) Areturn() *Code { return code.Op(0xb0) }

// Athrow emits athrow.
func (code *Code) Athrow() *Code { return code.Op(0xbf) }

// Patch16 overwrites two bytes at off, for fixing up forward branches.
func (code *Code) Patch16(off int, v int16) {
	b := code.buf.Bytes()
	binary.BigEndian.PutUint16(b[off:], uint16(v))
}

// Branch emits a two-byte branch (ifeq, goto, ...) to the absolute target.
func (code *Code) Branch(op byte, target int) *Code {
	off := int16(target - code.PC())
	return code.Op(op, byte(uint16(off)>>8), byte(off))
}
