package link

import (
	"fmt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/tracefs"
)

// attachRawTracepoint links prog to a raw tracepoint.
//
// Requires at least Linux 4.17.
func attachRawTracepoint(spec RawTracepoint, prog *bpf.Program) (Link, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("name cannot be empty: %w", errInvalidInput)
	}
	if !tracefs.IsValidTraceID(spec.Name) {
		return nil, fmt.Errorf("name '%s' must be alphanumeric or underscore: %w", spec.Name, errInvalidInput)
	}
	if prog.Type() != bpf.RawTracepoint {
		return nil, fmt.Errorf("program type %s cannot be attached to a raw tracepoint: %w", prog.Type(), errInvalidInput)
	}
	if prog.FD() < 0 {
		return nil, fmt.Errorf("invalid program: %w", bpf.ErrClosed)
	}

	fd, err := sys.RawTracepointOpen(&sys.RawTracepointOpenAttr{
		Name:   sys.NewStringPointer(spec.Name),
		ProgFd: uint32(prog.FD()),
	})
	if err != nil {
		return nil, fmt.Errorf("attach raw tracepoint %s: %w", spec.Name, err)
	}

	return &rawTracepoint{fd: fd}, nil
}

// rawTracepoint is a raw tracepoint attachment. Unlike perf event based
// links it is backed by a bpf link fd only.
type rawTracepoint struct {
	fd *sys.FD
}

func (rt *rawTracepoint) isLink() {}

func (rt *rawTracepoint) Close() error {
	return rt.fd.Close()
}
