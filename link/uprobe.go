package link

import (
	"errors"
	"fmt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/tracefs"
)

// attachUProbe opens a perf event for the given binary and symbol and
// attaches prog to it. The probe fires for every process executing the
// binary.
func attachUProbe(spec UProbe, prog *bpf.Program) (Link, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("path cannot be empty: %w", errInvalidInput)
	}
	if spec.Symbol == "" {
		return nil, fmt.Errorf("symbol name cannot be empty: %w", errInvalidInput)
	}
	if prog.Type() != bpf.Kprobe {
		return nil, fmt.Errorf("program type %s cannot be attached to a uprobe: %w", prog.Type(), errInvalidInput)
	}

	ex, err := OpenExecutable(spec.Path)
	if err != nil {
		return nil, err
	}

	offset, err := ex.address(spec.Symbol, spec.Offset)
	if err != nil {
		return nil, fmt.Errorf("symbol '%s' not found in '%s': %w", spec.Symbol, spec.Path, err)
	}

	args := tracefs.ProbeArgs{
		Type:   tracefs.UprobeType,
		Path:   spec.Path,
		Symbol: spec.Symbol,
		Offset: offset,
		Ret:    spec.Return,
	}

	// Use uprobe PMU if the kernel has it available.
	pe, err := pmuProbe(args)
	if err == nil {
		return attachPerfEvent(pe, prog)
	}
	if !errors.Is(err, ErrNotSupported) {
		return nil, fmt.Errorf("creating perf_uprobe PMU: %w", err)
	}

	// Use tracefs if uprobe PMU is missing.
	pe, err = tracefsProbe(args)
	if err != nil {
		return nil, fmt.Errorf("creating trace event '%s:%s' in tracefs: %w", spec.Path, spec.Symbol, err)
	}

	return attachPerfEvent(pe, prog)
}
