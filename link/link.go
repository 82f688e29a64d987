// Package link attaches loaded programs to kernel hooks.
package link

import (
	"fmt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/tracefs"
	"github.com/arcjustin/bpf-api/internal/unix"
)

var (
	ErrNotSupported = bpf.ErrNotSupported

	errInvalidInput = tracefs.ErrInvalidInput
)

const perfAllThreads = -1

// A Link attaches a program to a kernel hook.
//
// Closing a Link detaches the program and removes any trace event that was
// created for it. The program itself stays loaded and can be attached
// again.
type Link interface {
	// Close detaches the program from the hook.
	Close() error

	// Prevent implementations outside of this package.
	isLink()
}

// Getting the terminology right is usually the hardest part. For posterity
// and for staying sane during implementation:
//
// - trace event: Entry under <tracefs>/events. Can be tracepoints or
//   kprobes. Cannot be closed, as they are static objects. Can be
//   instantiated into perf events (see below).
// - tracepoint: A predetermined hook point in the kernel. Exposed as trace
//   events in (sub)directories under <tracefs>/events. Cannot be
//   instantiated, closed or removed, it is static.
// - k(ret)probe: Ephemeral trace events based on entry or exit points of
//   arbitrary exported kernel symbols. kprobe-based (tracefs) trace events
//   can be created system-wide by writing to the <tracefs>/kprobe_events
//   file, or they can be scoped to the current process by creating PMU
//   perf events.
// - perf event: An object instantiated based on an existing trace event or
//   kernel symbol. Referred to by fd in userspace.
//   Exactly one eBPF program can be attached to a perf event. Multiple
//   perf events can be created from a single trace event. Closing a perf
//   event stops any further invocations of the attached eBPF program.

// A perfEvent represents a perf event kernel object. Exactly one program
// can be attached to it.
type perfEvent struct {
	// Trace event backing this perfEvent, if the event was created through
	// tracefs. Removed on Close.
	event *tracefs.Event

	fd *sys.FD
}

func (pe *perfEvent) isLink() {}

func (pe *perfEvent) Close() error {
	err := pe.fd.Close()

	if pe.event != nil {
		if eerr := pe.event.Close(); err == nil {
			err = eerr
		}
		pe.event = nil
	}

	return err
}

// attach wires prog to the perf event and enables it. On error the perf
// event is left disabled.
func attachPerfEvent(pe *perfEvent, prog *bpf.Program) (Link, error) {
	if prog.FD() < 0 {
		pe.Close()
		return nil, fmt.Errorf("invalid program: %w", bpf.ErrClosed)
	}

	if err := unix.IoctlSetInt(pe.fd.Int(), unix.PERF_EVENT_IOC_SET_BPF, prog.FD()); err != nil {
		pe.Close()
		return nil, fmt.Errorf("setting perf event bpf program: %w", err)
	}

	// PERF_EVENT_IOC_ENABLE and _DISABLE ignore their given values.
	if err := unix.IoctlSetInt(pe.fd.Int(), unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		pe.Close()
		return nil, fmt.Errorf("enable perf event: %w", err)
	}

	return pe, nil
}

// Attach links prog to the hook described by spec.
//
// The resulting Link must be Closed during program shutdown to avoid
// leaking system resources. Closing the Link does not unload prog.
func Attach(spec ProbeSpec, prog *bpf.Program) (Link, error) {
	if prog == nil {
		return nil, fmt.Errorf("prog cannot be nil: %w", errInvalidInput)
	}
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil: %w", errInvalidInput)
	}

	switch s := spec.(type) {
	case Tracepoint:
		return attachTracepoint(s, prog)
	case KProbe:
		return attachKProbe(s, prog)
	case UProbe:
		return attachUProbe(s, prog)
	case RawTracepoint:
		return attachRawTracepoint(s, prog)
	default:
		return nil, fmt.Errorf("unhandled probe spec %T: %w", spec, errInvalidInput)
	}
}
