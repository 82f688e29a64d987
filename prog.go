package bpf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/arcjustin/bpf-api/asm"
	"github.com/arcjustin/bpf-api/internal/sys"
)

// DefaultVerifierLogSize is the size of the buffer handed to the kernel
// verifier for its log.
const DefaultVerifierLogSize = 1 << 20

// Relocation marks an instruction slot that must receive a map file
// descriptor before the program can be loaded.
type Relocation struct {
	// Insn is the raw instruction slot index, counting each half of a
	// 64-bit immediate load separately.
	Insn int
	// Map is the name the slot refers to.
	Map string
}

// Bytecode is a block of eBPF instructions plus the map references that
// remain to be resolved.
//
// It is immutable once constructed; loading a program patches a copy.
type Bytecode struct {
	insns  []byte
	relocs []Relocation
}

// NewBytecode assembles instructions into loadable bytecode.
//
// Instructions created with asm.LoadMapRef contribute a Relocation per
// referenced name.
func NewBytecode(insns asm.Instructions) (*Bytecode, error) {
	buf := new(bytes.Buffer)
	if err := insns.Marshal(buf, binary.NativeEndian); err != nil {
		return nil, fmt.Errorf("marshal instructions: %w", err)
	}

	var relocs []Relocation
	for name, offsets := range insns.ReferenceOffsets() {
		for _, off := range offsets {
			relocs = append(relocs, Relocation{Insn: off, Map: name})
		}
	}
	sort.Slice(relocs, func(i, j int) bool { return relocs[i].Insn < relocs[j].Insn })

	return &Bytecode{insns: buf.Bytes(), relocs: relocs}, nil
}

// BytecodeFromRaw wraps instructions produced by an external compiler.
//
// raw must be a whole number of 8 byte instruction slots. relocs name the
// slots that hold map references; each referenced slot must be the first
// half of a 64-bit immediate load.
func BytecodeFromRaw(raw []byte, relocs []Relocation) (*Bytecode, error) {
	if len(raw) == 0 || len(raw)%asm.InstructionSize != 0 {
		return nil, fmt.Errorf("bytecode length %d is not a multiple of %d: %w", len(raw), asm.InstructionSize, ErrInvalidSpec)
	}

	numInsns := len(raw) / asm.InstructionSize
	for _, rel := range relocs {
		if rel.Insn < 0 || rel.Insn >= numInsns-1 {
			return nil, fmt.Errorf("relocation for %q at slot %d is out of range: %w", rel.Map, rel.Insn, ErrInvalidSpec)
		}
		if op := asm.OpCode(raw[rel.Insn*asm.InstructionSize]); op != asm.LoadImmOp(asm.DWord) {
			return nil, fmt.Errorf("relocation for %q at slot %d is not a 64-bit immediate load: %w", rel.Map, rel.Insn, ErrInvalidSpec)
		}
	}

	code := &Bytecode{
		insns:  bytes.Clone(raw),
		relocs: make([]Relocation, len(relocs)),
	}
	copy(code.relocs, relocs)
	return code, nil
}

// Size returns the number of instruction slots.
func (bc *Bytecode) Size() int {
	return len(bc.insns) / asm.InstructionSize
}

// Relocations returns the unresolved map references.
func (bc *Bytecode) Relocations() []Relocation {
	out := make([]Relocation, len(bc.relocs))
	copy(out, bc.relocs)
	return out
}

// patch resolves all map references against maps and returns the rewritten
// instruction stream. bc itself is left untouched.
func (bc *Bytecode) patch(maps map[string]*Map) ([]byte, error) {
	insns := bytes.Clone(bc.insns)

	for _, rel := range bc.relocs {
		m := maps[rel.Map]
		if m == nil {
			return nil, &UnresolvedMapError{Name: rel.Map}
		}
		if m.IsClosed() {
			return nil, fmt.Errorf("map %q: %w", rel.Map, ErrClosed)
		}

		slot := insns[rel.Insn*asm.InstructionSize:]
		slot[1] = (slot[1] &^ 0xf0) | uint8(asm.PseudoMapFD)<<4
		binary.NativeEndian.PutUint32(slot[4:8], uint32(m.FD()))
	}

	return insns, nil
}

// ProgramSpec defines a program to be loaded into the kernel.
type ProgramSpec struct {
	// Name is passed to the kernel as the object name. Optional, truncated
	// to 15 characters.
	Name string
	Type ProgramType
	Code *Bytecode
	// Maps resolves the bytecode's relocations by name.
	Maps map[string]*Map
	// License of the program. Defaults to "GPL"; some helpers are only
	// available to GPL-compatible programs.
	License string
	// ExpectedAttachType is required by some program types, zero
	// otherwise.
	ExpectedAttachType uint32
}

func (ps *ProgramSpec) validate() error {
	if ps.Code == nil || len(ps.Code.insns) == 0 {
		return fmt.Errorf("missing bytecode: %w", ErrInvalidSpec)
	}
	if ps.Type == UnspecifiedProgram {
		return fmt.Errorf("program type is unspecified: %w", ErrInvalidSpec)
	}
	return nil
}

// Program owns one loaded program file descriptor.
type Program struct {
	fd   *sys.FD
	name string
	typ  ProgramType
}

// NewProgram resolves the spec's map references, patches the bytecode and
// loads it into the kernel.
//
// Resolution failures are reported before any syscall is made; see
// UnresolvedMapError. A kernel rejection carries the verifier log as a
// *VerifierError.
func NewProgram(spec *ProgramSpec) (*Program, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	insns, err := spec.Code.patch(spec.Maps)
	if err != nil {
		return nil, err
	}

	license := spec.License
	if license == "" {
		license = "GPL"
	}

	logBuf := make([]byte, DefaultVerifierLogSize)
	attr := sys.ProgLoadAttr{
		ProgType:           uint32(spec.Type),
		InsnCnt:            uint32(len(insns) / asm.InstructionSize),
		Insns:              sys.SlicePointer(insns),
		License:            sys.NewStringPointer(license),
		LogLevel:           1,
		LogSize:            uint32(len(logBuf)),
		LogBuf:             sys.SlicePointer(logBuf),
		ProgName:           sys.NewObjName(spec.Name),
		ExpectedAttachType: spec.ExpectedAttachType,
	}

	fd, err := sys.ProgLoad(&attr)
	if err != nil {
		return nil, fmt.Errorf("prog load: %w", &VerifierError{
			Cause: err,
			Log:   cstring(logBuf),
		})
	}

	return &Program{
		fd:   fd,
		name: spec.Name,
		typ:  spec.Type,
	}, nil
}

func (p *Program) String() string {
	if p.name != "" {
		return fmt.Sprintf("%s(%s)#%v", p.typ, p.name, p.fd)
	}
	return fmt.Sprintf("%s#%v", p.typ, p.fd)
}

// Type returns the type the program was loaded with.
func (p *Program) Type() ProgramType {
	return p.typ
}

// FD returns the raw file descriptor of the program.
//
// The descriptor is still owned by the Program; do not close it.
func (p *Program) FD() int {
	return p.fd.Int()
}

// Close releases the program descriptor. It is safe to call multiple
// times.
//
// Attachments made from this program keep the kernel object alive until
// they are closed as well.
func (p *Program) Close() error {
	if p == nil {
		return nil
	}

	return p.fd.Close()
}

// IsClosed reports whether Close has been called.
func (p *Program) IsClosed() bool {
	return p.fd.IsClosed()
}
