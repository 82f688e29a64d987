package link

import (
	"os"
	"runtime"
	"testing"

	"github.com/go-quicktest/qt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/asm"
	"github.com/arcjustin/bpf-api/internal/testutils"
)

func mustLoadProgram(t *testing.T, typ bpf.ProgramType) *bpf.Program {
	t.Helper()

	testutils.MustHaveBPF(t)

	code, err := bpf.NewBytecode(asm.Instructions{
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	})
	if err != nil {
		t.Fatal("Can't assemble program:", err)
	}

	prog, err := bpf.NewProgram(&bpf.ProgramSpec{
		Type: typ,
		Code: code,
	})
	if err != nil {
		t.Fatal("Can't load program:", err)
	}
	t.Cleanup(func() { prog.Close() })

	return prog
}

func TestAttachValidation(t *testing.T) {
	prog := mustLoadProgram(t, bpf.Kprobe)

	_, err := Attach(nil, prog)
	qt.Assert(t, qt.IsNotNil(err))

	_, err = Attach(KProbe{Symbol: "vfs_read"}, nil)
	qt.Assert(t, qt.IsNotNil(err))

	// Empty and malformed symbols are rejected before any kernel
	// interaction.
	_, err = Attach(KProbe{}, prog)
	qt.Assert(t, qt.IsNotNil(err))

	_, err = Attach(KProbe{Symbol: "missing space"}, prog)
	qt.Assert(t, qt.IsNotNil(err))

	_, err = Attach(KProbe{Symbol: "vfs_read", Offset: 4, Return: true}, prog)
	qt.Assert(t, qt.IsNotNil(err))

	// Program type must match the hook.
	_, err = Attach(Tracepoint{Group: "sched", Name: "sched_process_exec"}, prog)
	qt.Assert(t, qt.IsNotNil(err))

	_, err = Attach(RawTracepoint{Name: "sched_process_exec"}, prog)
	qt.Assert(t, qt.IsNotNil(err))
}

func TestKprobeAttach(t *testing.T) {
	prog := mustLoadProgram(t, bpf.Kprobe)
	testutils.MustHaveTracefs(t)

	l, err := Attach(KProbe{Symbol: "vfs_read"}, prog)
	if err != nil {
		t.Fatal("Can't attach kprobe:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestKretprobeAttach(t *testing.T) {
	prog := mustLoadProgram(t, bpf.Kprobe)
	testutils.MustHaveTracefs(t)

	l, err := Attach(KProbe{Symbol: "vfs_read", Return: true}, prog)
	if err != nil {
		t.Fatal("Can't attach kretprobe:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestKprobeSyscallPrefix(t *testing.T) {
	prog := mustLoadProgram(t, bpf.Kprobe)
	testutils.MustHaveTracefs(t)

	if _, ok := platformPrefix("sys_getpid"); !ok {
		t.Skip("no syscall prefix for", runtime.GOARCH)
	}

	// Resolved via the arch-specific syscall wrapper prefix.
	l, err := Attach(KProbe{Symbol: "sys_getpid"}, prog)
	if err != nil {
		t.Fatal("Can't attach kprobe to syscall:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestTracepointAttach(t *testing.T) {
	prog := mustLoadProgram(t, bpf.TracePoint)
	testutils.MustHaveTracefs(t)

	l, err := Attach(Tracepoint{Group: "sched", Name: "sched_process_exec"}, prog)
	if err != nil {
		t.Fatal("Can't attach tracepoint:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestTracepointMissing(t *testing.T) {
	prog := mustLoadProgram(t, bpf.TracePoint)
	testutils.MustHaveTracefs(t)

	_, err := Attach(Tracepoint{Group: "totally", Name: "bogus"}, prog)
	qt.Assert(t, qt.ErrorIs(err, os.ErrNotExist))
}

func TestRawTracepointAttach(t *testing.T) {
	prog := mustLoadProgram(t, bpf.RawTracepoint)

	l, err := Attach(RawTracepoint{Name: "sched_process_exec"}, prog)
	if err != nil {
		t.Fatal("Can't attach raw tracepoint:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestUprobeAttach(t *testing.T) {
	prog := mustLoadProgram(t, bpf.Kprobe)
	testutils.MustHaveTracefs(t)

	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	testutils.MustHaveSymbols(t, exe)

	l, err := Attach(UProbe{Path: exe, Symbol: "main.main"}, prog)
	if err != nil {
		t.Fatal("Can't attach uprobe:", err)
	}
	qt.Assert(t, qt.IsNil(l.Close()))
}

func TestExecutable(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	testutils.MustHaveSymbols(t, exe)

	ex, err := OpenExecutable(exe)
	qt.Assert(t, qt.IsNil(err))

	_, err = ex.address("main.main", 0)
	qt.Assert(t, qt.IsNil(err))

	_, err = ex.address("bogus_symbol", 0)
	qt.Assert(t, qt.ErrorIs(err, os.ErrNotExist))

	_, err = OpenExecutable("")
	qt.Assert(t, qt.IsNotNil(err))
}
