package link

// ProbeSpec describes a kernel hook a program can be attached to.
//
// It is implemented by Tracepoint, KProbe, UProbe and RawTracepoint.
// There are no implementations outside of this package.
type ProbeSpec interface {
	probe()
}

// Tracepoint is a static trace event, like sched/sched_process_exec.
// Available tracepoints are listed under <tracefs>/events.
//
// Programs attached to a tracepoint must be loaded as TracePoint.
type Tracepoint struct {
	// Group is the event subsystem, e.g. "sched".
	Group string
	// Name is the event name, e.g. "sched_process_exec".
	Name string
}

// KProbe fires when a kernel symbol starts executing, or right before it
// returns if Return is set. See /proc/kallsyms for available symbols.
//
// Programs attached to a kprobe must be loaded as Kprobe.
type KProbe struct {
	// Symbol is the kernel symbol to trace.
	Symbol string
	// Offset into the symbol. Entry probes only.
	Offset uint64
	// Return attaches to the symbol's return instead of its entry.
	Return bool
}

// UProbe fires when a symbol in a userspace binary starts executing, or
// right before it returns if Return is set. The probe is system-wide: it
// observes every process that executes the binary.
//
// Programs attached to a uprobe must be loaded as Kprobe.
type UProbe struct {
	// Path of the binary or shared library on the filesystem.
	Path string
	// Symbol to trace. Resolved against the binary's symbol and dynamic
	// symbol tables.
	Symbol string
	// Offset relative to the symbol.
	Offset uint64
	// Return attaches to the symbol's return instead of its entry.
	Return bool
}

// RawTracepoint attaches to a tracepoint in its raw form, giving the
// program access to the unstable, unprocessed tracepoint arguments.
//
// Programs attached to a raw tracepoint must be loaded as RawTracepoint.
// Requires at least Linux 4.17.
type RawTracepoint struct {
	// Name of the tracepoint, e.g. "sched_process_exec".
	Name string
}

func (Tracepoint) probe()    {}
func (KProbe) probe()        {}
func (UProbe) probe()        {}
func (RawTracepoint) probe() {}
