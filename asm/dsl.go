package asm

// Imm emits `dst = imm`.
func (op ALUOp) Imm(dst Register, value int32) Instruction {
	return Instruction{
		OpCode:   OpCode(ALU64Class) | OpCode(ImmSource) | OpCode(op),
		Dst:      dst,
		Constant: int64(value),
	}
}

// Reg emits `dst = src`.
func (op ALUOp) Reg(dst, src Register) Instruction {
	return Instruction{
		OpCode: OpCode(ALU64Class) | OpCode(RegSource) | OpCode(op),
		Dst:    dst,
		Src:    src,
	}
}

// Imm32 emits `dst = (u32)imm`.
func (op ALUOp) Imm32(dst Register, value int32) Instruction {
	return Instruction{
		OpCode:   OpCode(ALUClass) | OpCode(ImmSource) | OpCode(op),
		Dst:      dst,
		Constant: int64(value),
	}
}

// Return emits an exit instruction.
//
// Requires a return value in R0.
func Return() Instruction {
	return Instruction{
		OpCode: OpCode(JumpClass) | OpCode(Exit),
	}
}

// FnCall emits a call to the builtin function with the given number.
func FnCall(fn int32) Instruction {
	return Instruction{
		OpCode:   OpCode(JumpClass) | OpCode(Call),
		Constant: int64(fn),
	}
}
