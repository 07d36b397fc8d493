// Package isa implements the instruction set of the four-core machine:
// word decoding, the register-usage rules the pipeline's hazard unit relies
// on, the ALU, and branch comparison. Everything here is a pure function of
// its inputs; all timing lives in pkg/core.
package isa

import "fmt"

// IMemSize is the per-core instruction memory size in words. Program
// counters wrap modulo this everywhere, including the JAL link value.
const IMemSize = 1024

// Instruction is one decoded 32-bit word. Layout of the raw word:
// opcode 31:24, rd 23:20, rs 19:16, rt 15:12, immediate 11:0 (sign-extended).
// PC is the fetch address, kept because traces report stage occupancy by PC
// and JAL derives its return address from it.
type Instruction struct {
	Raw uint32
	Op  Opcode
	Rd  int
	Rs  int
	Rt  int
	Imm int32
	PC  int
}

// Decode breaks a raw instruction word into its fields.
func Decode(raw uint32, pc int) Instruction {
	return Instruction{
		Raw: raw,
		Op:  Opcode(raw >> 24),
		Rd:  int(raw >> 20 & 0xF),
		Rs:  int(raw >> 16 & 0xF),
		Rt:  int(raw >> 12 & 0xF),
		Imm: SignExtend(raw, 12),
		PC:  pc,
	}
}

// SignExtend interprets the low bits of val as a signed bits-wide integer.
func SignExtend(val uint32, bits int) int32 {
	mask := uint32(1)<<bits - 1
	val &= mask
	if val&(1<<(bits-1)) != 0 {
		val |= ^mask
	}
	return int32(val)
}

// DestReg returns the architectural destination register of the instruction,
// or -1 when it has none. HALT, SW and branches write nothing; JAL always
// links into R15. R0 and R1 are reserved (zero and the decode-stage
// immediate), so writes aimed at them are reported as no destination.
func (i Instruction) DestReg() int {
	switch {
	case i.Op == HALT || i.Op == SW || i.Op.IsBranch():
		return -1
	case i.Op == JAL:
		return 15
	case i.Rd <= 1:
		return -1
	}
	return i.Rd
}

// SourceRegs appends the source register indices of the instruction to dst
// and returns the extended slice. The set is what hazard detection checks:
// ALU ops and LW read rs/rt; SW additionally reads rd (the store data);
// branches read rd as the jump target; JAL reads only rd.
func (i Instruction) SourceRegs(dst []int) []int {
	switch {
	case i.Op == SW:
		return append(dst, i.Rd, i.Rs, i.Rt)
	case i.Op.IsBranch():
		return append(dst, i.Rs, i.Rt, i.Rd)
	case i.Op == JAL:
		return append(dst, i.Rd)
	case i.Op == HALT:
		return dst
	case i.Op.IsMemOp() || i.Op <= SRL:
		return append(dst, i.Rs, i.Rt)
	}
	return dst
}

// Disassemble renders the instruction in a readable assembler-like form.
// Used by the debugger, not by any batch output.
func (i Instruction) Disassemble() string {
	switch {
	case i.Op == HALT:
		return "HALT"
	case i.Op == JAL:
		return fmt.Sprintf("JAL R%d", i.Rd)
	case i.Op.IsMemOp() || i.Op.IsBranch() || i.Op <= SRL:
		return fmt.Sprintf("%s R%d, R%d, R%d ; imm=%d", i.Op, i.Rd, i.Rs, i.Rt, i.Imm)
	}
	return i.Op.String()
}
