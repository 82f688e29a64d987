package asm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// InstructionSize is the size of a BPF instruction in bytes
const InstructionSize = 8

// Instruction is a single eBPF instruction.
type Instruction struct {
	OpCode   OpCode
	Dst      Register
	Src      Register
	Offset   int16
	Constant int64

	// Reference names a map this instruction loads. It must be resolved
	// to a file descriptor via RewriteMapFD before marshaling.
	Reference string
}

// WithReference returns a copy of ins tagged with a map reference.
func (ins Instruction) WithReference(ref string) Instruction {
	ins.Reference = ref
	return ins
}

// IsLoadFromMap returns true if the instruction loads a map file descriptor.
func (ins Instruction) IsLoadFromMap() bool {
	return ins.OpCode == LoadImmOp(DWord) && ins.Src == PseudoMapFD
}

// RewriteMapFD patches the immediate of a map load with fd.
//
// Returns an error if the instruction is not a map load.
func (ins *Instruction) RewriteMapFD(fd int) error {
	if ins.OpCode != LoadImmOp(DWord) {
		return fmt.Errorf("not a dword load: %v", ins.OpCode)
	}

	ins.Src = PseudoMapFD
	// The kernel expects the fd in the lower 32 bits; the upper half
	// of the immediate must stay zero.
	ins.Constant = int64(uint32(fd))
	return nil
}

func (ins Instruction) String() string {
	s := fmt.Sprintf("%v dst: %s src: %s off: %d imm: %d", ins.OpCode, ins.Dst, ins.Src, ins.Offset, ins.Constant)
	if ins.Reference != "" {
		s += fmt.Sprintf(" <%s>", ins.Reference)
	}
	return s
}

// Instructions is an eBPF program.
type Instructions []Instruction

// ReferenceOffsets returns the set of map references and the raw
// instruction index of each load site.
//
// Indices account for dword loads occupying two instruction slots.
func (insns Instructions) ReferenceOffsets() map[string][]int {
	offsets := make(map[string][]int)

	raw := 0
	for _, ins := range insns {
		if ins.Reference != "" {
			offsets[ins.Reference] = append(offsets[ins.Reference], raw)
		}
		raw += ins.OpCode.marshalledInstructions()
	}

	return offsets
}

// Marshal encodes a BPF program into the kernel format.
func (insns Instructions) Marshal(w io.Writer, bo binary.ByteOrder) error {
	loadImmDW := LoadImmOp(DWord)

	for i, ins := range insns {
		if ins.OpCode == InvalidOpCode {
			return fmt.Errorf("invalid operation at position %d", i)
		}

		isLoadImmDW := ins.OpCode == loadImmDW

		cons := int32(ins.Constant)
		if isLoadImmDW {
			// Encode least significant 32bit first for 64bit operations.
			cons = int32(uint32(ins.Constant))
		}

		bpfi := bpfInstruction{
			ins.OpCode,
			newBPFRegisters(ins.Dst, ins.Src),
			ins.Offset,
			cons,
		}

		if err := binary.Write(w, bo, &bpfi); err != nil {
			return err
		}

		if !isLoadImmDW {
			continue
		}

		bpfi = bpfInstruction{
			Constant: int32(ins.Constant >> 32),
		}

		if err := binary.Write(w, bo, &bpfi); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes a BPF program from the kernel format.
func (insns *Instructions) Unmarshal(r io.Reader, bo binary.ByteOrder) error {
	*insns = nil

	var offset uint64
	for {
		var ins bpfInstruction
		err := binary.Read(r, bo, &ins)

		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("invalid instruction at offset %x", offset)
		}

		requiredInsns := ins.OpCode.marshalledInstructions()
		offset += uint64(requiredInsns) * InstructionSize

		cons := int64(ins.Constant)
		if requiredInsns == 2 {
			var ins2 bpfInstruction
			if err := binary.Read(r, bo, &ins2); err != nil {
				return fmt.Errorf("invalid instruction at offset %x", offset)
			}
			if ins2.OpCode != 0 || ins2.Offset != 0 || ins2.Registers != 0 {
				return fmt.Errorf("instruction at offset %x: 64bit immediate has non-zero fields", offset)
			}
			cons = int64(uint64(uint32(ins2.Constant))<<32 | uint64(uint32(ins.Constant)))
		}

		*insns = append(*insns, Instruction{
			OpCode:   ins.OpCode,
			Dst:      ins.Registers.Dst(),
			Src:      ins.Registers.Src(),
			Offset:   ins.Offset,
			Constant: cons,
		})
	}
}

// Size returns the size of the marshaled instruction stream in bytes.
func (insns Instructions) Size() int {
	slots := 0
	for _, ins := range insns {
		slots += ins.OpCode.marshalledInstructions()
	}
	return slots * InstructionSize
}

type bpfInstruction struct {
	OpCode    OpCode
	Registers bpfRegisters
	Offset    int16
	Constant  int32
}

type bpfRegisters uint8

func newBPFRegisters(dst, src Register) bpfRegisters {
	return bpfRegisters((src << 4) | (dst & 0xf))
}

func (r bpfRegisters) Dst() Register {
	return Register(r & 0xf)
}

func (r bpfRegisters) Src() Register {
	return Register(r >> 4)
}
