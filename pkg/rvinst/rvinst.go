// Package rvinst classifies raw RISC-V instruction words for the checkpoint
// cutting rules. It does not decode operands beyond what those rules need.
package rvinst

import (
	"encoding/binary"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Ecall is the encoding of the environment call instruction.
const Ecall uint32 = 0x00000073

type baseOpcode uint32

// RV32/64G base opcode map, inst[6:2]
const (
	boLoad    = baseOpcode(0x00)
	boOpImm   = baseOpcode(0x04)
	boAUIPC   = baseOpcode(0x05)
	boOpImm32 = baseOpcode(0x06)
	boAMO     = baseOpcode(0x0b)
	boOp      = baseOpcode(0x0c)
	boLUI     = baseOpcode(0x0d)
	boOp32    = baseOpcode(0x0e)
	boOpFP    = baseOpcode(0x14)
	boJALR    = baseOpcode(0x19)
	boJAL     = baseOpcode(0x1b)
	boSystem  = baseOpcode(0x1c)
)

// Len returns the length in bytes of the instruction whose low bits are
// given: 2 for compressed instructions, 4 otherwise.
func Len(bits uint32) int {
	if bits&0x3 != 0x3 {
		return 2
	}
	return 4
}

// IsEcall reports whether bits encode an environment call.
func IsEcall(bits uint32) bool {
	return bits == Ecall
}

// Rd extracts the destination register field of a 4-byte instruction.
func Rd(bits uint32) uint32 {
	return bits >> 7 & 0x1f
}

// WritesRd reports whether a 4-byte instruction writes an integer
// destination register. The result says nothing about whether rd is x0.
func WritesRd(bits uint32) bool {
	if Len(bits) != 4 {
		return false
	}
	switch baseOpcode(bits >> 2 & 0x1f) {
	case boLoad, boOpImm, boAUIPC, boOpImm32, boAMO, boOp, boLUI, boOp32, boJALR, boJAL:
		return true
	case boSystem:
		// csrr* variants; ecall, ebreak and xret have funct3 == 0
		return bits>>12&0x7 != 0
	case boOpFP:
		// compares, fcvt to integer, fmv.x and fclass
		switch bits >> 27 {
		case 0x14, 0x18, 0x1c:
			return true
		}
	}
	return false
}

// Disasm renders the instruction in GNU syntax, or "?" when it cannot be
// decoded.
func Disasm(bits uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], bits)
	inst, err := riscv64asm.Decode(b[:Len(bits)])
	if err != nil {
		return "?"
	}
	return riscv64asm.GNUSyntax(inst)
}
