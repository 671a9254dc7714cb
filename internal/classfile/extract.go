package classfile

import (
	"fmt"
	"log/slog"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

// Extract converts a parsed class into the record the index stores. source
// names the file or jar entry the class was read from. A method whose body
// fails to decode keeps its metadata but contributes no xrefs.
func Extract(cf *ClassFile, source string) *store.ClassRecord {
	rec := &store.ClassRecord{
		Class: bytecode.Class{
			Name:   cf.Name,
			Super:  cf.Super,
			Access: cf.Access,
			Source: source,
		},
		Strings: cf.Pool.Strings(),
	}
	for _, m := range cf.Methods {
		rec.Methods = append(rec.Methods, bytecode.Method{
			Owner:   cf.Name,
			Name:    m.Name,
			Desc:    m.Desc,
			Access:  m.Access,
			HasCode: m.Code != nil,
		})
		if m.Code == nil {
			continue
		}
		xs, err := MethodXrefs(cf, m)
		if err != nil {
			slog.Warn("classfile.decode.err", "class", cf.Name, "method", m.Name+m.Desc, "err", err)
			continue
		}
		rec.Xrefs = append(rec.Xrefs, xs...)
	}
	return rec
}

// ParseAndExtract parses data and extracts its record.
func ParseAndExtract(data []byte, source string) (*store.ClassRecord, error) {
	cf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return Extract(cf, source), nil
}

// MethodXrefs returns the call, field and allocation sites in m's body.
// invokedynamic sites have no owner to reference and are skipped.
func MethodXrefs(cf *ClassFile, m Member) ([]bytecode.Xref, error) {
	insns, err := Decode(m.Code.Bytes, cf.Pool)
	if err != nil {
		return nil, err
	}
	merges := mergePoints(insns, m.Code)

	var out []bytecode.Xref
	for i, in := range insns {
		x := bytecode.Xref{
			SourceClass:      cf.Name,
			SourceMethod:     m.Name,
			SourceMethodDesc: m.Desc,
			InstructionIndex: in.PC,
			Line:             m.Code.LineAt(in.PC),
			TargetOwner:      in.Owner,
			TargetName:       in.Name,
			TargetDesc:       in.Desc,
		}
		switch {
		case in.Op == OpInvokedynamic:
			continue
		case isInvoke(in.Op):
			x.Kind = bytecode.RefCall
			x.ArgKinds = ArgumentKinds(insns, i, merges)
		case in.Op == OpGetstatic, in.Op == OpGetfield:
			x.Kind = bytecode.RefFieldRead
		case in.Op == OpPutstatic, in.Op == OpPutfield:
			x.Kind = bytecode.RefFieldWrite
		case in.Op == OpNew:
			x.Kind = bytecode.RefAlloc
		default:
			continue
		}
		out = append(out, x)
	}
	return out, nil
}

// mergePoints returns the offsets where control flow joins: branch targets
// and exception handlers.
func mergePoints(insns []Instruction, code *Code) map[int]bool {
	merges := make(map[int]bool)
	for _, in := range insns {
		for _, t := range in.Targets {
			merges[t] = true
		}
	}
	for _, h := range code.Handlers {
		merges[h.HandlerPC] = true
	}
	return merges
}

// ArgumentKinds classifies the producer of each argument of the invoke at
// insns[at], in declaration order. The producer is found by walking back
// through straight-line code counting stack slots; a walk that crosses a
// branch or a merge point yields ArgUnknown.
func ArgumentKinds(insns []Instruction, at int, merges map[int]bool) []bytecode.ArgKind {
	args := bytecode.DescriptorArgs(insns[at].Desc)
	kinds := make([]bytecode.ArgKind, len(args))
	if merges[insns[at].PC] {
		return kinds
	}
	for i := range args {
		depth := 0
		for _, a := range args[i+1:] {
			depth += bytecode.SlotSize(a)
		}
		kinds[i] = classify(producer(insns, at, depth, merges))
	}
	return kinds
}

// producer returns the instruction that pushed the slot depth positions
// below the top of stack at insns[at], or nil.
func producer(insns []Instruction, at, depth int, merges map[int]bool) *Instruction {
	for j := at - 1; j >= 0; j-- {
		in := &insns[j]
		if isBranch(in.Op) {
			return nil
		}
		pop, push := stackEffect(*in)
		if depth < push {
			return in
		}
		depth += pop - push
		if merges[in.PC] {
			return nil
		}
	}
	return nil
}

func classify(in *Instruction) bytecode.ArgKind {
	if in == nil {
		return bytecode.ArgUnknown
	}
	switch op := in.Op; {
	case op >= OpAconstNull && op <= OpLdc2W:
		return bytecode.ArgLiteral
	case isLoad(op):
		return bytecode.ArgLocal
	case op == OpGetfield, op == OpGetstatic:
		return bytecode.ArgField
	case isInvoke(op):
		return bytecode.ArgCall
	}
	return bytecode.ArgDynamic
}
