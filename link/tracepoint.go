package link

import (
	"fmt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/tracefs"
)

// attachTracepoint opens a perf event for an existing trace event under
// <tracefs>/events and attaches prog to it.
func attachTracepoint(spec Tracepoint, prog *bpf.Program) (Link, error) {
	if spec.Group == "" || spec.Name == "" {
		return nil, fmt.Errorf("group and name cannot be empty: %w", errInvalidInput)
	}
	if !tracefs.IsValidTraceID(spec.Group) || !tracefs.IsValidTraceID(spec.Name) {
		return nil, fmt.Errorf("group and name '%s/%s' must be alphanumeric or underscore: %w", spec.Group, spec.Name, errInvalidInput)
	}
	if prog.Type() != bpf.TracePoint {
		return nil, fmt.Errorf("program type %s cannot be attached to a tracepoint: %w", prog.Type(), errInvalidInput)
	}

	tid, err := tracefs.EventID(spec.Group, spec.Name)
	if err != nil {
		return nil, err
	}

	fd, err := tracefs.OpenTracepointPerfEvent(tid, perfAllThreads)
	if err != nil {
		return nil, err
	}

	// Tracepoints are static trace events: the perf event is torn down on
	// Close, the trace event stays.
	return attachPerfEvent(&perfEvent{fd: fd}, prog)
}
