package asm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var test64bitImmProg = []byte{
	// r0 = math.MinInt32 - 1
	0x18, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x7f,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff,
}

func TestRead64bitImmediate(t *testing.T) {
	var insns Instructions
	err := insns.Unmarshal(bytes.NewReader(test64bitImmProg), binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}

	if len(insns) != 1 {
		t.Fatal("Expected one instruction, got", len(insns))
	}

	if c := insns[0].Constant; c != math.MinInt32-1 {
		t.Errorf("Expected immediate to be %v, got %v", int64(math.MinInt32)-1, c)
	}
}

func TestWrite64bitImmediate(t *testing.T) {
	insns := Instructions{
		LoadImm(R0, math.MinInt32-1, DWord),
	}

	var buf bytes.Buffer
	if err := insns.Marshal(&buf, binary.LittleEndian); err != nil {
		t.Fatal(err)
	}

	if prog := buf.Bytes(); !bytes.Equal(prog, test64bitImmProg) {
		t.Errorf("Marshalled program does not match:\n%s", hex.Dump(prog))
	}
}

func TestUnmarshalBadSecondSlot(t *testing.T) {
	prog := append([]byte{}, test64bitImmProg...)
	// Put junk into the opcode of the second slot.
	prog[8] = 0xff

	var insns Instructions
	err := insns.Unmarshal(bytes.NewReader(prog), binary.LittleEndian)
	if err == nil {
		t.Fatal("Expected an error for a non-zero second slot")
	}
}

func TestLoadMapPtrEncoding(t *testing.T) {
	insns := Instructions{
		LoadMapPtr(R1, 5),
	}

	var buf bytes.Buffer
	if err := insns.Marshal(&buf, binary.LittleEndian); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		// dst = r1, src = pseudo map fd marker, imm = 5
		0x18, 0x11, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	if prog := buf.Bytes(); !bytes.Equal(prog, want) {
		t.Errorf("Marshalled program does not match:\n%s", hex.Dump(prog))
	}
}

func TestReferenceOffsets(t *testing.T) {
	insns := Instructions{
		LoadImm(R0, 0, DWord),
		LoadMapRef(R1, "events"),
		Mov.Imm(R0, 0),
		LoadMapRef(R2, "events"),
		Return(),
	}

	offsets := insns.ReferenceOffsets()
	if len(offsets) != 1 {
		t.Fatal("Expected a single reference, got", len(offsets))
	}

	// Dword loads occupy two raw slots each.
	want := []int{2, 5}
	got := offsets["events"]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected offsets %v, got %v", want, got)
	}

	if size := insns.Size(); size != 8*InstructionSize {
		t.Errorf("Expected size %d, got %d", 8*InstructionSize, size)
	}
}

func TestMarshalRoundtrip(t *testing.T) {
	insns := Instructions{
		LoadImm(R0, math.MaxInt64, DWord),
		LoadMem(R1, R10, -8, Word),
		StoreMem(R10, -8, R1, Word),
		Add.Imm(R1, 7),
		Mov.Reg(R0, R1),
		Return(),
	}

	var buf bytes.Buffer
	if err := insns.Marshal(&buf, binary.LittleEndian); err != nil {
		t.Fatal(err)
	}

	var got Instructions
	if err := got.Unmarshal(&buf, binary.LittleEndian); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(insns, got); diff != "" {
		t.Errorf("Roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteMapFD(t *testing.T) {
	ins := LoadMapRef(R1, "events")
	if !ins.IsLoadFromMap() {
		t.Error("LoadMapRef is not a load from a map")
	}

	if err := ins.RewriteMapFD(42); err != nil {
		t.Fatal(err)
	}
	if ins.Constant != 42 {
		t.Errorf("Expected immediate 42, got %d", ins.Constant)
	}

	mov := Mov.Imm(R0, 0)
	if err := mov.RewriteMapFD(42); err == nil {
		t.Error("Expected an error rewriting a non-load instruction")
	}
}
