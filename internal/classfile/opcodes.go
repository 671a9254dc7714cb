package classfile

// Opcodes referenced by name.
const (
	OpAconstNull      = 0x01
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpAload           = 0x19
	OpAload3          = 0x2d
	OpIstore          = 0x36
	OpIinc            = 0x84
	OpIfeq            = 0x99
	OpIfAcmpne        = 0xa6
	OpGoto            = 0xa7
	OpJsr             = 0xa8
	OpRet             = 0xa9
	OpTableswitch     = 0xaa
	OpLookupswitch    = 0xab
	OpIreturn         = 0xac
	OpReturn          = 0xb1
	OpGetstatic       = 0xb2
	OpPutstatic       = 0xb3
	OpGetfield        = 0xb4
	OpPutfield        = 0xb5
	OpInvokevirtual   = 0xb6
	OpInvokespecial   = 0xb7
	OpInvokestatic    = 0xb8
	OpInvokeinterface = 0xb9
	OpInvokedynamic   = 0xba
	OpNew             = 0xbb
	OpNewarray        = 0xbc
	OpAnewarray       = 0xbd
	OpAthrow          = 0xbf
	OpCheckcast       = 0xc0
	OpInstanceof      = 0xc1
	OpWide            = 0xc4
	OpMultianewarray  = 0xc5
	OpIfnull          = 0xc6
	OpIfnonnull       = 0xc7
	OpGotoW           = 0xc8
	OpJsrW            = 0xc9
)

// opInfo is the fixed shape of an opcode. operands is the operand byte
// count, or -1 when it depends on the instruction (switches, wide). pop and
// push are operand stack slots, ignored for ops whose effect depends on a
// descriptor.
type opInfo struct {
	name     string
	operands int
	pop      int
	push     int
	valid    bool
}

var opTable [256]opInfo

func def(op int, name string, operands, pop, push int) {
	opTable[op] = opInfo{name: name, operands: operands, pop: pop, push: push, valid: true}
}

func init() {
	def(0x00, "nop", 0, 0, 0)
	def(0x01, "aconst_null", 0, 0, 1)
	for i, n := range []string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5"} {
		def(0x02+i, n, 0, 0, 1)
	}
	def(0x09, "lconst_0", 0, 0, 2)
	def(0x0a, "lconst_1", 0, 0, 2)
	def(0x0b, "fconst_0", 0, 0, 1)
	def(0x0c, "fconst_1", 0, 0, 1)
	def(0x0d, "fconst_2", 0, 0, 1)
	def(0x0e, "dconst_0", 0, 0, 2)
	def(0x0f, "dconst_1", 0, 0, 2)
	def(0x10, "bipush", 1, 0, 1)
	def(0x11, "sipush", 2, 0, 1)
	def(0x12, "ldc", 1, 0, 1)
	def(0x13, "ldc_w", 2, 0, 1)
	def(0x14, "ldc2_w", 2, 0, 2)

	// typed loads and stores: i l f d a
	prefixes := []string{"i", "l", "f", "d", "a"}
	slots := []int{1, 2, 1, 2, 1}
	for i, p := range prefixes {
		def(0x15+i, p+"load", 1, 0, slots[i])
		def(0x36+i, p+"store", 1, slots[i], 0)
		for n := 0; n < 4; n++ {
			suffix := "_" + string(rune('0'+n))
			def(0x1a+i*4+n, p+"load"+suffix, 0, 0, slots[i])
			def(0x3b+i*4+n, p+"store"+suffix, 0, slots[i], 0)
		}
	}

	// array loads and stores: i l f d a b c s
	arrays := []string{"i", "l", "f", "d", "a", "b", "c", "s"}
	arraySlots := []int{1, 2, 1, 2, 1, 1, 1, 1}
	for i, p := range arrays {
		def(0x2e+i, p+"aload", 0, 2, arraySlots[i])
		def(0x4f+i, p+"astore", 0, 2+arraySlots[i], 0)
	}

	def(0x57, "pop", 0, 1, 0)
	def(0x58, "pop2", 0, 2, 0)
	def(0x59, "dup", 0, 1, 2)
	def(0x5a, "dup_x1", 0, 2, 3)
	def(0x5b, "dup_x2", 0, 3, 4)
	def(0x5c, "dup2", 0, 2, 4)
	def(0x5d, "dup2_x1", 0, 3, 5)
	def(0x5e, "dup2_x2", 0, 4, 6)
	def(0x5f, "swap", 0, 2, 2)

	// arithmetic: add sub mul div rem over i l f d
	for i, op := range []string{"add", "sub", "mul", "div", "rem"} {
		def(0x60+i*4, "i"+op, 0, 2, 1)
		def(0x61+i*4, "l"+op, 0, 4, 2)
		def(0x62+i*4, "f"+op, 0, 2, 1)
		def(0x63+i*4, "d"+op, 0, 4, 2)
	}
	def(0x74, "ineg", 0, 1, 1)
	def(0x75, "lneg", 0, 2, 2)
	def(0x76, "fneg", 0, 1, 1)
	def(0x77, "dneg", 0, 2, 2)
	def(0x78, "ishl", 0, 2, 1)
	def(0x79, "lshl", 0, 3, 2)
	def(0x7a, "ishr", 0, 2, 1)
	def(0x7b, "lshr", 0, 3, 2)
	def(0x7c, "iushr", 0, 2, 1)
	def(0x7d, "lushr", 0, 3, 2)
	def(0x7e, "iand", 0, 2, 1)
	def(0x7f, "land", 0, 4, 2)
	def(0x80, "ior", 0, 2, 1)
	def(0x81, "lor", 0, 4, 2)
	def(0x82, "ixor", 0, 2, 1)
	def(0x83, "lxor", 0, 4, 2)
	def(0x84, "iinc", 2, 0, 0)

	// conversions
	def(0x85, "i2l", 0, 1, 2)
	def(0x86, "i2f", 0, 1, 1)
	def(0x87, "i2d", 0, 1, 2)
	def(0x88, "l2i", 0, 2, 1)
	def(0x89, "l2f", 0, 2, 1)
	def(0x8a, "l2d", 0, 2, 2)
	def(0x8b, "f2i", 0, 1, 1)
	def(0x8c, "f2l", 0, 1, 2)
	def(0x8d, "f2d", 0, 1, 2)
	def(0x8e, "d2i", 0, 2, 1)
	def(0x8f, "d2l", 0, 2, 2)
	def(0x90, "d2f", 0, 2, 1)
	def(0x91, "i2b", 0, 1, 1)
	def(0x92, "i2c", 0, 1, 1)
	def(0x93, "i2s", 0, 1, 1)

	def(0x94, "lcmp", 0, 4, 1)
	def(0x95, "fcmpl", 0, 2, 1)
	def(0x96, "fcmpg", 0, 2, 1)
	def(0x97, "dcmpl", 0, 4, 1)
	def(0x98, "dcmpg", 0, 4, 1)
	for i, n := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle"} {
		def(0x99+i, n, 2, 1, 0)
	}
	for i, n := range []string{"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne"} {
		def(0x9f+i, n, 2, 2, 0)
	}
	def(0xa7, "goto", 2, 0, 0)
	def(0xa8, "jsr", 2, 0, 1)
	def(0xa9, "ret", 1, 0, 0)
	def(0xaa, "tableswitch", -1, 1, 0)
	def(0xab, "lookupswitch", -1, 1, 0)
	def(0xac, "ireturn", 0, 1, 0)
	def(0xad, "lreturn", 0, 2, 0)
	def(0xae, "freturn", 0, 1, 0)
	def(0xaf, "dreturn", 0, 2, 0)
	def(0xb0, "areturn", 0, 1, 0)
	def(0xb1, "return", 0, 0, 0)

	// descriptor-dependent effects are computed in stackEffect
	def(0xb2, "getstatic", 2, 0, 0)
	def(0xb3, "putstatic", 2, 0, 0)
	def(0xb4, "getfield", 2, 0, 0)
	def(0xb5, "putfield", 2, 0, 0)
	def(0xb6, "invokevirtual", 2, 0, 0)
	def(0xb7, "invokespecial", 2, 0, 0)
	def(0xb8, "invokestatic", 2, 0, 0)
	def(0xb9, "invokeinterface", 4, 0, 0)
	def(0xba, "invokedynamic", 4, 0, 0)

	def(0xbb, "new", 2, 0, 1)
	def(0xbc, "newarray", 1, 1, 1)
	def(0xbd, "anewarray", 2, 1, 1)
	def(0xbe, "arraylength", 0, 1, 1)
	def(0xbf, "athrow", 0, 1, 0)
	def(0xc0, "checkcast", 2, 1, 1)
	def(0xc1, "instanceof", 2, 1, 1)
	def(0xc2, "monitorenter", 0, 1, 0)
	def(0xc3, "monitorexit", 0, 1, 0)
	def(0xc4, "wide", -1, 0, 0)
	def(0xc5, "multianewarray", 3, 0, 1)
	def(0xc6, "ifnull", 2, 1, 0)
	def(0xc7, "ifnonnull", 2, 1, 0)
	def(0xc8, "goto_w", 4, 0, 0)
	def(0xc9, "jsr_w", 4, 0, 1)
}

// OpName returns the mnemonic of op, or "" for an undefined opcode.
func OpName(op byte) string { return opTable[op].name }

func isInvoke(op byte) bool { return op >= OpInvokevirtual && op <= OpInvokedynamic }

func isFieldOp(op byte) bool { return op >= OpGetstatic && op <= OpPutfield }

func isLoad(op byte) bool { return op >= OpIload && op <= OpAload3 }

// isBranch covers every instruction that transfers control other than by
// falling through.
func isBranch(op byte) bool {
	switch {
	case op >= OpIfeq && op <= OpLookupswitch:
		return true
	case op >= OpIreturn && op <= OpReturn:
		return true
	case op == OpAthrow, op == OpIfnull, op == OpIfnonnull, op == OpGotoW, op == OpJsrW:
		return true
	}
	return false
}
