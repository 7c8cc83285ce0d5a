package rvinst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLen(t *testing.T) {
	assert.Equal(t, 2, Len(0x4501))     // c.li a0,0
	assert.Equal(t, 4, Len(0x00000513)) // li a0,0
	assert.Equal(t, 4, Len(Ecall))
}

func TestWritesRd(t *testing.T) {
	for _, tc := range []struct {
		desc string
		bits uint32
		want bool
	}{
		{"addi a0,a0,1", 0x00150513, true},
		{"lui a5,0x12", 0x000127b7, true},
		{"jal ra,0", 0x000000ef, true},
		{"ld a1,0(sp)", 0x00013583, true},
		{"sd a1,0(sp)", 0x00b13023, false},
		{"beq a0,a1,0", 0x00b50063, false},
		{"ecall", Ecall, false},
		{"csrr a0,cycle", 0xc0002573, true},
		{"feq.d a0,fa0,fa1", 0xa2b52553, true},
		{"fadd.d fa0,fa0,fa1", 0x02b57553, false},
		{"c.li a0,0", 0x4501, false},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, WritesRd(tc.bits))
		})
	}
}

func TestRd(t *testing.T) {
	assert.Equal(t, uint32(10), Rd(0x00150513))
	assert.Equal(t, uint32(15), Rd(0x000127b7))
}

func TestDisasm(t *testing.T) {
	assert.Equal(t, "ecall", Disasm(Ecall))
	assert.NotEqual(t, "?", Disasm(0x00150513))
}
