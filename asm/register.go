package asm

import "fmt"

// Register of the eBPF virtual machine.
type Register uint8

// eBPF registers.
const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
)

// Pseudo register used by 64bit loads to tag their immediate operand.
//
// PseudoMapFD marks the immediate of an LD_IMM64 as a map file descriptor.
// The kernel replaces it with the map's address during verification.
const PseudoMapFD = R1

func (r Register) String() string {
	v := uint8(r)
	if v == 10 {
		return "rfp"
	}
	return fmt.Sprintf("r%d", v)
}
