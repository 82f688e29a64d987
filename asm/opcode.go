package asm

import "fmt"

// Class of operations.
//
//	msb      lsb
//	+---+--+---+
//	|  ??  |CLS|
//	+---+--+---+
type Class uint8

const classMask OpCode = 0x07

const (
	// LdClass loads immediate values into registers.
	LdClass Class = 0x00
	// LdXClass loads memory into registers.
	LdXClass Class = 0x01
	// StClass stores immediate values to memory.
	StClass Class = 0x02
	// StXClass stores registers to memory.
	StXClass Class = 0x03
	// ALUClass describes arithmetic operators.
	ALUClass Class = 0x04
	// JumpClass describes jump operators.
	JumpClass Class = 0x05
	// ALU64Class describes arithmetic operators in 64 bit mode.
	ALU64Class Class = 0x07
)

// Source of ALU / jump operands.
//
//	msb      lsb
//	+----+-+---+
//	|op  |S|cls|
//	+----+-+---+
type Source uint8

const sourceMask OpCode = 0x08

// Source bitmask
const (
	// ImmSource means the source operand is an immediate value.
	ImmSource Source = 0x00
	// RegSource means the source operand is a register.
	RegSource Source = 0x08
)

// ALUOp are the arithmetic operations.
//
//	msb      lsb
//	+----+-+---+
//	|OP  |s|cls|
//	+----+-+---+
type ALUOp uint8

const aluMask OpCode = 0xf0

const (
	// Add - addition
	Add ALUOp = 0x00
	// Sub - subtraction
	Sub ALUOp = 0x10
	// Mul - multiplication
	Mul ALUOp = 0x20
	// Div - division
	Div ALUOp = 0x30
	// Or - bitwise or
	Or ALUOp = 0x40
	// And - bitwise and
	And ALUOp = 0x50
	// LSh - bitwise shift left
	LSh ALUOp = 0x60
	// RSh - bitwise shift right
	RSh ALUOp = 0x70
	// Neg - sign/unsign signing bit
	Neg ALUOp = 0x80
	// Mod - modulo
	Mod ALUOp = 0x90
	// Xor - bitwise xor
	Xor ALUOp = 0xa0
	// Mov - move value from one place to another
	Mov ALUOp = 0xb0
)

// JumpOp affect control flow.
//
//	msb      lsb
//	+----+-+---+
//	|OP  |s|cls|
//	+----+-+---+
type JumpOp uint8

const jumpMask OpCode = aluMask

const (
	// Ja jumps by offset unconditionally.
	Ja JumpOp = 0x00
	// JEq jumps by offset if r == imm.
	JEq JumpOp = 0x10
	// Call builtin or user defined function from imm.
	Call JumpOp = 0x80
	// Exit ends execution, with value in r0.
	Exit JumpOp = 0x90
)

// OpCode is a packed eBPF opcode.
//
// Its encoding is defined by a Class value:
//
//	msb      lsb
//	+----+-+---+
//	| ???? |CLS|
//	+----+-+---+
type OpCode uint8

// InvalidOpCode is returned by setters on OpCode.
const InvalidOpCode OpCode = 0xff

// Class returns the class of operation.
func (op OpCode) Class() Class {
	return Class(op & classMask)
}

// Mode returns the mode for load and store operations.
func (op OpCode) Mode() Mode {
	switch op.Class() {
	case LdClass, LdXClass, StClass, StXClass:
		return Mode(op & modeMask)
	default:
		return InvalidMode
	}
}

// Size returns the size for load and store operations.
func (op OpCode) Size() Size {
	switch op.Class() {
	case LdClass, LdXClass, StClass, StXClass:
		return Size(op & sizeMask)
	default:
		return InvalidSize
	}
}

// Source returns the source for branch and ALU operations.
func (op OpCode) Source() Source {
	switch op.Class() {
	case ALUClass, ALU64Class, JumpClass:
		return Source(op & sourceMask)
	default:
		return Source(0)
	}
}

// ALUOp returns the ALUOp.
func (op OpCode) ALUOp() ALUOp {
	switch op.Class() {
	case ALUClass, ALU64Class:
		return ALUOp(op & aluMask)
	default:
		return ALUOp(0xff)
	}
}

// JumpOp returns the JumpOp.
func (op OpCode) JumpOp() JumpOp {
	if op.Class() != JumpClass {
		return JumpOp(0xff)
	}
	return JumpOp(op & jumpMask)
}

// SetMode sets the mode on load and store operations.
//
// Returns InvalidOpCode if op is of the wrong class.
func (op OpCode) SetMode(mode Mode) OpCode {
	switch op.Class() {
	case LdClass, LdXClass, StClass, StXClass:
		return (op & ^modeMask) | OpCode(mode)
	default:
		return InvalidOpCode
	}
}

// SetSize sets the size on load and store operations.
//
// Returns InvalidOpCode if op is of the wrong class.
func (op OpCode) SetSize(size Size) OpCode {
	switch op.Class() {
	case LdClass, LdXClass, StClass, StXClass:
		return (op & ^sizeMask) | OpCode(size)
	default:
		return InvalidOpCode
	}
}

// marshalledInstructions returns the number of 8 byte slots
// the operation occupies in the kernel encoding.
func (op OpCode) marshalledInstructions() int {
	if op == LoadImmOp(DWord) {
		// dword loads spread their immediate over two instructions.
		return 2
	}
	return 1
}

func (op OpCode) String() string {
	return fmt.Sprintf("OpCode(%#x)", uint8(op))
}
