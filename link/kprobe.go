package link

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/tracefs"
	"github.com/arcjustin/bpf-api/internal/unix"
)

// attachKProbe opens a perf event for the given kernel symbol and attaches
// prog to it.
//
// If attaching to the symbol fails, automatically retries with the running
// platform's syscall prefix (e.g. __x64_) to support attaching to syscalls
// in a portable fashion.
func attachKProbe(spec KProbe, prog *bpf.Program) (Link, error) {
	if spec.Symbol == "" {
		return nil, fmt.Errorf("symbol name cannot be empty: %w", errInvalidInput)
	}
	if !isValidKprobeSymbol(spec.Symbol) {
		return nil, fmt.Errorf("symbol '%s' must be a valid symbol in /proc/kallsyms: %w", spec.Symbol, errInvalidInput)
	}
	if prog.Type() != bpf.Kprobe {
		return nil, fmt.Errorf("program type %s cannot be attached to a kprobe: %w", prog.Type(), errInvalidInput)
	}
	if spec.Return && spec.Offset != 0 {
		return nil, fmt.Errorf("kretprobes take no offset: %w", errInvalidInput)
	}

	args := tracefs.ProbeArgs{
		Type:   tracefs.KprobeType,
		Symbol: spec.Symbol,
		Offset: spec.Offset,
		Ret:    spec.Return,
	}

	// Use kprobe PMU if the kernel has it available.
	pe, err := pmuProbe(args)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.EINVAL) {
		if prefixed, ok := platformPrefix(spec.Symbol); ok {
			args.Symbol = prefixed
			pe, err = pmuProbe(args)
		}
	}
	if err == nil {
		return attachPerfEvent(pe, prog)
	}
	if !errors.Is(err, ErrNotSupported) {
		return nil, fmt.Errorf("creating perf_kprobe PMU (arch-specific fallback for %q): %w", spec.Symbol, err)
	}

	// Use tracefs if kprobe PMU is missing.
	args.Symbol = spec.Symbol
	pe, err = tracefsProbe(args)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.EINVAL) {
		if prefixed, ok := platformPrefix(spec.Symbol); ok {
			args.Symbol = prefixed
			pe, err = tracefsProbe(args)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("creating tracefs event (arch-specific fallback for %q): %w", spec.Symbol, err)
	}

	return attachPerfEvent(pe, prog)
}

// isValidKprobeSymbol implements the equivalent of a regex match
// against "^[a-zA-Z_][0-9a-zA-Z_.]*$".
func isValidKprobeSymbol(s string) bool {
	if len(s) < 1 {
		return false
	}

	for i, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '_':
		case i > 0 && c >= '0' && c <= '9':

		// Allow `.` in symbol name. GCC-compiled kernel may change symbol
		// name to have a `.isra.$n` suffix, like `udp_send_skb.isra.52`.
		// See: https://gcc.gnu.org/gcc-10/changes.html
		case i > 0 && c == '.':

		default:
			return false
		}
	}

	return true
}

// platformPrefix wraps the given symbol in the architecture specific
// syscall wrapper prefix, e.g. sys_execve becomes __x64_sys_execve on
// amd64.
func platformPrefix(symbol string) (string, bool) {
	var prefix string
	switch runtime.GOARCH {
	case "386":
		prefix = "ia32"
	case "amd64":
		prefix = "x64"
	case "arm", "armbe":
		prefix = "arm"
	case "arm64", "arm64be":
		prefix = "arm64"
	case "mips", "mipsle", "mips64", "mips64le":
		prefix = "mips"
	case "s390x":
		prefix = "s390x"
	case "riscv64":
		prefix = "riscv"
	case "ppc64", "ppc64le":
		prefix = "powerpc64"
	case "loong64":
		prefix = "loongarch"
	default:
		return "", false
	}

	return fmt.Sprintf("__%s_%s", prefix, symbol), true
}

// pmuProbe opens a perf event based on a Performance Monitoring Unit.
//
// Requires at least a 4.17 kernel.
// e12f03d7031a "perf/core: Implement the 'perf_kprobe' PMU"
// 33ea4b24277b "perf/core: Implement the 'perf_uprobe' PMU"
//
// Returns ErrNotSupported if the kernel doesn't support the
// perf_[k,u]probe PMU.
func pmuProbe(args tracefs.ProbeArgs) (*perfEvent, error) {
	// Getting the PMU type will fail if the kernel doesn't support
	// the perf_[k,u]probe PMU.
	et, err := pmuType(args.Type)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", args.Type, ErrNotSupported)
	}
	if err != nil {
		return nil, err
	}

	var config uint64
	if args.Ret {
		bit, err := retprobeBit(args.Type)
		if err != nil {
			return nil, err
		}
		config |= 1 << bit
	}

	var (
		attr  unix.PerfEventAttr
		sp    unsafe.Pointer
		token string
	)
	switch args.Type {
	case tracefs.KprobeType:
		// Create a pointer to a NUL-terminated string for the kernel.
		sp, err = unsafeStringPtr(args.Symbol)
		if err != nil {
			return nil, err
		}

		token = args.Symbol

		attr = unix.PerfEventAttr{
			// The minimum size required for PMU kprobes is
			// PERF_ATTR_SIZE_VER1, since it added the config2 (Ext2) field.
			// Use Ext2 as probe_offset.
			Size:   unix.PERF_ATTR_SIZE_VER1,
			Type:   uint32(et),          // PMU event type read from sysfs
			Ext1:   uint64(uintptr(sp)), // Kernel symbol to trace
			Ext2:   args.Offset,         // Kernel symbol offset
			Config: config,              // Retprobe flag
		}
	case tracefs.UprobeType:
		sp, err = unsafeStringPtr(args.Path)
		if err != nil {
			return nil, err
		}

		token = fmt.Sprintf("%s:%#x", args.Path, args.Offset)

		attr = unix.PerfEventAttr{
			// The minimum size required for PMU uprobes is
			// PERF_ATTR_SIZE_VER1, since it added the config2 (Ext2) field.
			// The Size field controls the size of the internal buffer the
			// kernel allocates for reading the perf_event_attr argument
			// from userspace.
			Size:   unix.PERF_ATTR_SIZE_VER1,
			Type:   uint32(et),          // PMU event type read from sysfs
			Ext1:   uint64(uintptr(sp)), // Uprobe path
			Ext2:   args.Offset,         // Uprobe offset
			Config: config,              // Retprobe flag
		}
	}

	rawFd, err := unix.PerfEventOpen(&attr, perfAllThreads, 0, -1, unix.PERF_FLAG_FD_CLOEXEC)

	// On some old kernels, kprobe PMU doesn't allow `.` in symbol names and
	// returns -EINVAL. Return ErrNotSupported to allow falling back to
	// tracefs. https://github.com/torvalds/linux/blob/94710cac0ef4/kernel/trace/trace_kprobe.c#L340-L343
	if errors.Is(err, unix.EINVAL) && strings.Contains(args.Symbol, ".") {
		return nil, fmt.Errorf("token %s: older kernels don't accept dots: %w", token, ErrNotSupported)
	}
	// Since commit 97c753e62e6c, ENOENT is correctly returned instead of
	// EINVAL when trying to create a retprobe for a missing symbol.
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("token %s: not found: %w", token, err)
	}
	// Since commit ab105a4fb894, EILSEQ is returned when a kprobe
	// sym+offset is resolved to an invalid insn boundary. The exact
	// conditions that trigger this error are arch specific however.
	if errors.Is(err, unix.EILSEQ) {
		return nil, fmt.Errorf("token %s: bad insn boundary: %w", token, os.ErrNotExist)
	}
	// Since at least commit cb9a19fe4aa51, ENOTSUPP is returned when
	// attempting to set a uprobe on a trap instruction.
	if errors.Is(err, sys.ENOTSUPP) {
		return nil, fmt.Errorf("token %s: failed setting uprobe on offset %#x (possible trap insn): %w", token, args.Offset, err)
	}
	if err != nil {
		return nil, fmt.Errorf("token %s: opening perf event: %w", token, err)
	}

	// Ensure the string pointer is not collected before PerfEventOpen
	// returns.
	runtime.KeepAlive(sp)

	fd, err := sys.NewFD(rawFd)
	if err != nil {
		return nil, err
	}

	// Kernel has perf_[k,u]probe PMU available, initialize perf event.
	return &perfEvent{fd: fd}, nil
}

// tracefsProbe creates a trace event by writing an entry to
// <tracefs>/[k,u]probe_events.
//
// A new trace event group name is generated on every call to support
// creating multiple trace events for the same kernel or userspace symbol.
// A perf event is then opened on the newly-created trace event and
// returned to the caller.
func tracefsProbe(args tracefs.ProbeArgs) (*perfEvent, error) {
	// Generate a random string for each trace event we attempt to create.
	// This value is used as the 'group' token in tracefs to allow creating
	// multiple probe trace events with the same name.
	group, err := tracefs.RandomGroup("ebpf")
	if err != nil {
		return nil, fmt.Errorf("randomizing group name: %w", err)
	}
	args.Group = group

	// Create the [k,u]probe trace event using tracefs.
	evt, err := tracefs.NewEvent(args)
	if err != nil {
		return nil, fmt.Errorf("creating probe entry on tracefs: %w", err)
	}

	// Kprobes are ephemeral tracepoints and share the same perf event
	// type.
	fd, err := tracefs.OpenTracepointPerfEvent(evt.ID(), perfAllThreads)
	if err != nil {
		// Make sure we clean up the created tracefs event when we return
		// error. If a livepatch handler is already active on the symbol,
		// the write to tracefs will succeed, a trace event will show up,
		// but creating the perf event will fail with EBUSY.
		_ = evt.Close()
		return nil, err
	}

	return &perfEvent{event: evt, fd: fd}, nil
}

func unsafeStringPtr(str string) (unsafe.Pointer, error) {
	p, err := unix.BytePtrFromString(str)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(p), nil
}

var (
	kprobePMUType = sync.OnceValues(func() (uint64, error) {
		return readUint64FromFile("%d\n", "/sys/bus/event_source/devices/kprobe/type")
	})
	uprobePMUType = sync.OnceValues(func() (uint64, error) {
		return readUint64FromFile("%d\n", "/sys/bus/event_source/devices/uprobe/type")
	})
	kprobeRetprobeBit = sync.OnceValues(func() (uint64, error) {
		return readUint64FromFile("config:%d\n", "/sys/bus/event_source/devices/kprobe/format/retprobe")
	})
	uprobeRetprobeBit = sync.OnceValues(func() (uint64, error) {
		return readUint64FromFile("config:%d\n", "/sys/bus/event_source/devices/uprobe/format/retprobe")
	})
)

// pmuType reads a Performance Monitoring Unit's type (numeric identifier)
// from /sys/bus/event_source/devices/<pmu>/type.
func pmuType(typ tracefs.ProbeType) (uint64, error) {
	if typ == tracefs.KprobeType {
		return kprobePMUType()
	}
	return uprobePMUType()
}

// retprobeBit reads the PMU config bit that flags a probe as a retprobe.
func retprobeBit(typ tracefs.ProbeType) (uint64, error) {
	if typ == tracefs.KprobeType {
		return kprobeRetprobeBit()
	}
	return uprobeRetprobeBit()
}

func readUint64FromFile(format string, path ...string) (uint64, error) {
	filename := filepath.Join(path...)
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}

	var value uint64
	n, err := fmt.Fscanf(bytes.NewReader(data), format, &value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("parsing %s: expected 1 item, got %d", filename, n)
	}

	return value, nil
}
