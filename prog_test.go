package bpf

import (
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/arcjustin/bpf-api/asm"
	"github.com/arcjustin/bpf-api/internal/testutils"
)

func mustNewBytecode(t *testing.T, insns asm.Instructions) *Bytecode {
	t.Helper()

	code, err := NewBytecode(insns)
	if err != nil {
		t.Fatal("Can't assemble bytecode:", err)
	}
	return code
}

// returnZero is the smallest possible program: set the return value and
// exit.
func returnZero(t *testing.T) *Bytecode {
	t.Helper()

	return mustNewBytecode(t, asm.Instructions{
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})
}

func TestNewBytecodeRelocations(t *testing.T) {
	code := mustNewBytecode(t, asm.Instructions{
		asm.LoadMapRef(asm.R1, "events"),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})

	qt.Assert(t, qt.Equals(code.Size(), 4))
	qt.Assert(t, qt.DeepEquals(code.Relocations(), []Relocation{{Insn: 0, Map: "events"}}))
}

func TestBytecodeFromRaw(t *testing.T) {
	raw := []byte{
		// r1 = map fd placeholder
		0x18, 0x11, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// r0 = 0
		0xb7, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// exit
		0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	code, err := BytecodeFromRaw(raw, []Relocation{{Insn: 0, Map: "events"}})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(code.Size(), 4))

	// Not a whole number of instructions.
	_, err = BytecodeFromRaw(raw[:7], nil)
	qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))

	// Relocation out of range.
	_, err = BytecodeFromRaw(raw, []Relocation{{Insn: 7, Map: "events"}})
	qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))

	// Relocation against an instruction that is not a dword load.
	_, err = BytecodeFromRaw(raw, []Relocation{{Insn: 2, Map: "events"}})
	qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))
}

func TestProgramSpecValidation(t *testing.T) {
	_, err := NewProgram(&ProgramSpec{Type: Kprobe})
	qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))

	_, err = NewProgram(&ProgramSpec{Code: returnZero(t)})
	qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))
}

func TestProgramUnresolvedMap(t *testing.T) {
	code := mustNewBytecode(t, asm.Instructions{
		asm.LoadMapRef(asm.R1, "missing"),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})

	// Resolution fails before any syscall is made.
	_, err := NewProgram(&ProgramSpec{
		Type: Kprobe,
		Code: code,
	})

	var ume *UnresolvedMapError
	qt.Assert(t, qt.ErrorAs(err, &ume))
	qt.Assert(t, qt.Equals(ume.Name, "missing"))
}

func TestProgramLoad(t *testing.T) {
	testutils.MustHaveBPF(t)

	prog, err := NewProgram(&ProgramSpec{
		Name: "test_ret0",
		Type: Kprobe,
		Code: returnZero(t),
	})
	if err != nil {
		t.Fatal("Can't load program:", err)
	}
	defer prog.Close()

	t.Log(prog)

	qt.Assert(t, qt.Equals(prog.Type(), Kprobe))
	qt.Assert(t, qt.IsTrue(prog.FD() >= 0))

	qt.Assert(t, qt.IsNil(prog.Close()))
	qt.Assert(t, qt.IsTrue(prog.IsClosed()))
	qt.Assert(t, qt.IsNil(prog.Close()))
}

func TestProgramLoadWithMap(t *testing.T) {
	m := mustNewMap(t, &MapSpec{
		Name:       "test_events",
		Type:       Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 8,
	})

	code := mustNewBytecode(t, asm.Instructions{
		asm.LoadMapRef(asm.R1, "events"),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})

	prog, err := NewProgram(&ProgramSpec{
		Name: "test_map_ref",
		Type: Kprobe,
		Code: code,
		Maps: map[string]*Map{"events": m},
	})
	if err != nil {
		t.Fatal("Can't load program:", err)
	}
	defer prog.Close()

	// A loaded program keeps the map alive independently.
	qt.Assert(t, qt.IsNil(m.Close()))
	qt.Assert(t, qt.IsTrue(prog.FD() >= 0))
}

func TestProgramLoadClosedMap(t *testing.T) {
	m := mustNewMap(t, &MapSpec{
		Type:       Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 8,
	})
	qt.Assert(t, qt.IsNil(m.Close()))

	code := mustNewBytecode(t, asm.Instructions{
		asm.LoadMapRef(asm.R1, "events"),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})

	_, err := NewProgram(&ProgramSpec{
		Type: Kprobe,
		Code: code,
		Maps: map[string]*Map{"events": m},
	})
	qt.Assert(t, qt.ErrorIs(err, ErrClosed))
}

func TestProgramVerifierError(t *testing.T) {
	testutils.MustHaveBPF(t)

	// Falls off the end of the program without an exit.
	code := mustNewBytecode(t, asm.Instructions{
		asm.Mov.Imm(asm.R0, 0),
	})

	_, err := NewProgram(&ProgramSpec{
		Type: Kprobe,
		Code: code,
	})

	var verr *VerifierError
	qt.Assert(t, qt.ErrorAs(err, &verr))
	qt.Assert(t, qt.IsTrue(len(verr.Log) > 0))
}
