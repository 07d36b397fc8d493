package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func word(op Opcode, rd, rs, rt, imm int) uint32 {
	return uint32(op)<<24 | uint32(rd&0xF)<<20 | uint32(rs&0xF)<<16 | uint32(rt&0xF)<<12 | uint32(imm&0xFFF)
}

func TestDecodeLayout(t *testing.T) {
	i := Decode(word(SW, 5, 10, 15, 0x123), 42)
	assert.Equal(t, SW, i.Op)
	assert.Equal(t, 5, i.Rd)
	assert.Equal(t, 10, i.Rs)
	assert.Equal(t, 15, i.Rt)
	assert.Equal(t, int32(0x123), i.Imm)
	assert.Equal(t, 42, i.PC)
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		raw  uint32
		want int32
	}{
		{0x000, 0},
		{0x7FF, 2047},
		{0x800, -2048},
		{0xFFF, -1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SignExtend(tc.raw, 12), "raw %03X", tc.raw)
	}
}

func TestDestReg(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want int
	}{
		{"ADD writes rd", word(ADD, 5, 0, 0, 0), 5},
		{"rd 0 suppressed", word(ADD, 0, 0, 0, 0), -1},
		{"rd 1 suppressed", word(MUL, 1, 0, 0, 0), -1},
		{"SW writes nothing", word(SW, 5, 0, 0, 0), -1},
		{"branch writes nothing", word(BLT, 5, 0, 0, 0), -1},
		{"JAL links R15", word(JAL, 3, 0, 0, 0), 15},
		{"HALT writes nothing", word(HALT, 5, 0, 0, 0), -1},
		{"LW writes rd", word(LW, 9, 0, 0, 0), 9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decode(tc.raw, 0).DestReg())
		})
	}
}

func TestSourceRegs(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want []int
	}{
		{"ALU reads rs rt", word(XOR, 5, 6, 7, 0), []int{6, 7}},
		{"LW reads rs rt", word(LW, 5, 6, 7, 0), []int{6, 7}},
		{"SW reads rd rs rt", word(SW, 5, 6, 7, 0), []int{5, 6, 7}},
		{"branch reads rs rt rd", word(BNE, 5, 6, 7, 0), []int{6, 7, 5}},
		{"JAL reads rd", word(JAL, 5, 6, 7, 0), []int{5}},
		{"HALT reads nothing", word(HALT, 5, 6, 7, 0), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Decode(tc.raw, 0).SourceRegs(nil)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestALU(t *testing.T) {
	tests := []struct {
		name   string
		op     Opcode
		rs, rt int32
		want   uint32
	}{
		{"add", ADD, 3, 4, 7},
		{"add wraps", ADD, 0x7FFFFFFF, 1, 0x80000000},
		{"sub", SUB, 3, 5, 0xFFFFFFFE},
		{"and", AND, 0xFF, 0x0F, 0x0F},
		{"or", OR, 0xF0, 0x0F, 0xFF},
		{"xor", XOR, 0xFF, 0x0F, 0xF0},
		{"mul low bits", MUL, 0x10000, 0x10000, 0},
		{"mul signed", MUL, -2, 3, 0xFFFFFFFA},
		{"sll", SLL, 1, 4, 16},
		{"sll masks shift", SLL, 1, 33, 2},
		{"sra keeps sign", SRA, -8, 1, 0xFFFFFFFC},
		{"srl shifts zeros", SRL, -8, 1, 0x7FFFFFFC},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			i := Decode(word(tc.op, 2, 3, 4, 0), 0)
			assert.Equal(t, tc.want, ALU(i, tc.rs, tc.rt))
		})
	}
}

func TestALUJALReturnAddress(t *testing.T) {
	i := Decode(word(JAL, 15, 0, 0, 0), 100)
	assert.Equal(t, uint32(101), ALU(i, 0, 0))

	// link wraps at the top of instruction memory
	i = Decode(word(JAL, 15, 0, 0, 0), IMemSize-1)
	assert.Equal(t, uint32(0), ALU(i, 0, 0))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op     Opcode
		rs, rt int32
		want   bool
	}{
		{BEQ, 5, 5, true},
		{BEQ, 5, 6, false},
		{BNE, 5, 6, true},
		{BLT, -1, 0, true},
		{BLT, 0, -1, false},
		{BGT, 1, 0, true},
		{BLE, 5, 5, true},
		{BGE, -1, -1, true},
		{BGE, -2, -1, false},
		{ADD, 1, 1, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Compare(tc.op, tc.rs, tc.rt),
			"%v %d %d", tc.op, tc.rs, tc.rt)
	}
}

func TestOpcodePredicates(t *testing.T) {
	assert.True(t, BEQ.IsBranch())
	assert.True(t, BGE.IsBranch())
	assert.False(t, JAL.IsBranch())
	assert.True(t, LW.IsMemOp())
	assert.True(t, SW.IsMemOp())
	assert.False(t, HALT.IsMemOp())
	assert.Equal(t, Opcode(20), HALT)
	assert.Equal(t, Opcode(17), SW)
}
