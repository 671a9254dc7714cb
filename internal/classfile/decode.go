package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// Instruction is one decoded instruction.
type Instruction struct {
	PC      int
	Op      byte
	Length  int
	Wide    bool
	Index   int   // constant pool index or local variable index
	Dims    int   // multianewarray dimensions
	Targets []int // branch targets, absolute
	// Owner, Name and Desc are resolved for field, invoke, new, anewarray,
	// checkcast and instanceof instructions.
	Owner string
	Name  string
	Desc  string
	// ConstTag is the tag of the constant an ldc loads.
	ConstTag byte
}

// Mnemonic returns the opcode name.
func (in Instruction) Mnemonic() string { return OpName(in.Op) }

// Decode decodes a method body, resolving constant pool references.
func Decode(code []byte, pool *Pool) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(code); {
		in, err := decodeOne(code, pc, pool)
		if err != nil {
			return out, fmt.Errorf("pc %d: %w", pc, err)
		}
		out = append(out, in)
		pc += in.Length
	}
	return out, nil
}

func decodeOne(code []byte, pc int, pool *Pool) (Instruction, error) {
	op := code[pc]
	info := opTable[op]
	if !info.valid {
		return Instruction{}, fmt.Errorf("undefined opcode 0x%02x", op)
	}
	in := Instruction{PC: pc, Op: op, Length: 1 + info.operands}

	switch op {
	case OpWide:
		if pc+1 >= len(code) {
			return in, errTruncated
		}
		in.Op = code[pc+1]
		in.Wide = true
		in.Length = 4
		if in.Op == OpIinc {
			in.Length = 6
		}
		if pc+in.Length > len(code) {
			return in, errTruncated
		}
		in.Index = int(binary.BigEndian.Uint16(code[pc+2:]))
		return in, nil
	case OpTableswitch, OpLookupswitch:
		return decodeSwitch(code, pc, in)
	}

	if pc+in.Length > len(code) {
		return in, errTruncated
	}
	operand := code[pc+1 : pc+in.Length]

	switch {
	case op >= OpIfeq && op <= OpJsr, op == OpIfnull, op == OpIfnonnull:
		in.Targets = []int{pc + int(int16(binary.BigEndian.Uint16(operand)))}
	case op == OpGotoW, op == OpJsrW:
		in.Targets = []int{pc + int(int32(binary.BigEndian.Uint32(operand)))}
	case op == OpLdc:
		in.Index = int(operand[0])
		in.ConstTag = constTag(pool, in.Index)
	case op == OpLdcW, op == OpLdc2W:
		in.Index = int(binary.BigEndian.Uint16(operand))
		in.ConstTag = constTag(pool, in.Index)
	case isFieldOp(op), isInvoke(op):
		in.Index = int(binary.BigEndian.Uint16(operand))
		owner, name, desc, err := pool.MemberRef(uint16(in.Index))
		if err != nil {
			return in, err
		}
		in.Owner, in.Name, in.Desc = owner, name, desc
	case op == OpNew, op == OpAnewarray, op == OpCheckcast, op == OpInstanceof, op == OpMultianewarray:
		in.Index = int(binary.BigEndian.Uint16(operand))
		name, err := pool.ClassName(uint16(in.Index))
		if err != nil {
			return in, err
		}
		in.Owner = name
		if op == OpMultianewarray {
			in.Dims = int(operand[2])
		}
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpIstore+4, op == OpRet, op == OpIinc:
		in.Index = int(operand[0])
	}
	return in, nil
}

func decodeSwitch(code []byte, pc int, in Instruction) (Instruction, error) {
	pad := (4 - (pc+1)%4) % 4
	base := pc + 1 + pad
	word := func(i int) (int, bool) {
		off := base + i*4
		if off+4 > len(code) {
			return 0, false
		}
		return int(int32(binary.BigEndian.Uint32(code[off:]))), true
	}
	def, ok := word(0)
	if !ok {
		return in, errTruncated
	}
	in.Targets = append(in.Targets, pc+def)

	if in.Op == OpTableswitch {
		low, ok1 := word(1)
		high, ok2 := word(2)
		if !ok1 || !ok2 || high < low {
			return in, errTruncated
		}
		n := high - low + 1
		for i := 0; i < n; i++ {
			off, ok := word(3 + i)
			if !ok {
				return in, errTruncated
			}
			in.Targets = append(in.Targets, pc+off)
		}
		in.Length = 1 + pad + (3+n)*4
		return in, nil
	}

	npairs, ok := word(1)
	if !ok || npairs < 0 {
		return in, errTruncated
	}
	for i := 0; i < npairs; i++ {
		off, ok := word(2 + i*2 + 1)
		if !ok {
			return in, errTruncated
		}
		in.Targets = append(in.Targets, pc+off)
	}
	in.Length = 1 + pad + (2+npairs*2)*4
	return in, nil
}

func constTag(pool *Pool, index int) byte {
	c, err := pool.Get(uint16(index))
	if err != nil {
		return 0
	}
	return c.Tag
}

// stackEffect returns the operand stack slots in consumes and produces.
func stackEffect(in Instruction) (pop, push int) {
	switch {
	case isInvoke(in.Op):
		for _, a := range bytecode.DescriptorArgs(in.Desc) {
			pop += bytecode.SlotSize(a)
		}
		if in.Op != OpInvokestatic && in.Op != OpInvokedynamic {
			pop++
		}
		return pop, bytecode.ReturnSlots(in.Desc)
	case isFieldOp(in.Op):
		size := bytecode.SlotSize(in.Desc)
		switch in.Op {
		case OpGetstatic:
			return 0, size
		case OpPutstatic:
			return size, 0
		case OpGetfield:
			return 1, size
		default:
			return 1 + size, 0
		}
	case in.Op == OpMultianewarray:
		return in.Dims, 1
	case in.Op == OpLdc, in.Op == OpLdcW:
		if in.ConstTag == TagLong || in.ConstTag == TagDouble {
			return 0, 2
		}
		return 0, 1
	}
	info := opTable[in.Op]
	return info.pop, info.push
}
