// Package tracefs creates and removes dynamic trace events through the
// tracefs filesystem.
package tracefs

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/unix"
)

var ErrInvalidInput = errors.New("invalid input")

// Event is a dynamic trace event created by writing to tracefs.
//
// It must be removed with Close once all perf events opened against it
// are gone.
type Event struct {
	typ         ProbeType
	group, name string
	id          uint64
}

// NewEvent creates a new trace event in tracefs.
//
// Returns os.ErrExist if an event with the same group and name already
// exists.
func NewEvent(args ProbeArgs) (*Event, error) {
	// Before attempting to create a trace event through tracefs,
	// check if an event with the same group and name already exists.
	// Kernels 4.x and earlier don't return os.ErrExist on writing a
	// duplicate entry, so we need to rely on reads for detecting
	// uniqueness.
	eventName := SanitizeSymbol(args.Symbol)
	_, err := EventID(args.Group, eventName)
	if err == nil {
		return nil, fmt.Errorf("trace event %s/%s: %w", args.Group, eventName, os.ErrExist)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking trace event %s/%s: %w", args.Group, eventName, err)
	}

	f, err := args.Type.EventsFile()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pe string
	switch args.Type {
	case KprobeType:
		// p:GROUP/EVENT SYM[+offs]
		token := args.Symbol
		if args.Offset != 0 {
			token = fmt.Sprintf("%s+%#x", args.Symbol, args.Offset)
		}
		pe = fmt.Sprintf("%s:%s/%s %s", ProbePrefix(args.Ret), args.Group, eventName, token)

	case UprobeType:
		// p:GROUP/EVENT PATH:OFFSET
		token := fmt.Sprintf("%s:%#x", args.Path, args.Offset)
		pe = fmt.Sprintf("%s:%s/%s %s", ProbePrefix(args.Ret), args.Group, eventName, token)

	default:
		return nil, fmt.Errorf("probe type %d: %w", args.Type, ErrInvalidInput)
	}

	if _, err := f.WriteString(pe); err != nil {
		// Since commit 97c753e62e6c, ENOENT is correctly returned instead
		// of EINVAL when trying to create a retprobe for a missing symbol.
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("token %s: not found: %w", token(args), err)
		}
		// ERANGE is returned when the `SYM[+offs]` token is too big and
		// cannot be resolved.
		if errors.Is(err, unix.ERANGE) {
			return nil, fmt.Errorf("token %s: offset too big: %w", token(args), err)
		}

		return nil, fmt.Errorf("writing '%s' to '%s_events': %w", pe, args.Type, err)
	}

	tid, err := EventID(args.Group, eventName)
	if err != nil {
		// The write succeeded, so the event exists even though its id
		// cannot be read. Remove it again to avoid leaking a
		// kernel-visible trace event from a failed call.
		if rerr := removeEvent(args.Type, fmt.Sprintf("%s/%s", args.Group, eventName)); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, fmt.Errorf("get trace event id: %w", err)
	}

	return &Event{args.Type, args.Group, eventName, tid}, nil
}

func token(args ProbeArgs) string {
	if args.Type == UprobeType {
		return fmt.Sprintf("%s:%#x", args.Path, args.Offset)
	}
	return args.Symbol
}

// Close removes the event from tracefs.
func (evt *Event) Close() error {
	return removeEvent(evt.typ, fmt.Sprintf("%s/%s", evt.group, evt.name))
}

func removeEvent(typ ProbeType, pe string) error {
	f, err := typ.EventsFile()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString("-:" + pe); err != nil {
		return fmt.Errorf("remove event %q from %s: %w", pe, f.Name(), err)
	}

	return nil
}

// ID returns the kernel trace event id.
func (evt *Event) ID() uint64 {
	return evt.id
}

// Group returns the tracefs group used by the event.
func (evt *Event) Group() string {
	return evt.group
}

// RandomGroup generates a pseudorandom string for use as a tracefs group
// name. Returns an error when the output string would exceed 63
// characters (kernel limitation), when rand.Read() fails or when prefix
// contains characters not allowed by IsValidTraceID.
func RandomGroup(prefix string) (string, error) {
	if !IsValidTraceID(prefix) {
		return "", fmt.Errorf("prefix '%s' must be alphanumeric or underscore: %w", prefix, ErrInvalidInput)
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	group := fmt.Sprintf("%s_%x", prefix, b)
	if len(group) > 63 {
		return "", fmt.Errorf("group name '%s' cannot be longer than 63 characters: %w", group, ErrInvalidInput)
	}

	return group, nil
}

// IsValidTraceID implements the equivalent of a regex match
// against "^[a-zA-Z_][0-9a-zA-Z_]*$".
//
// Trace event groups, names and kernel symbols must adhere to this set
// of characters. Non-empty, first character must not be a number, all
// characters must be alphanumeric or underscore.
func IsValidTraceID(s string) bool {
	if len(s) < 1 {
		return false
	}
	for i, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '_':
		case i > 0 && c >= '0' && c <= '9':

		default:
			return false
		}
	}

	return true
}

// SanitizeSymbol replaces every invalid character for the tracefs api
// with an underscore.
//
// It is equivalent to calling regexp.MustCompile("[^a-zA-Z0-9]+").ReplaceAllString("_").
func SanitizeSymbol(s string) string {
	var skip bool
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9':
			skip = false
			return c

		case skip:
			return -1

		default:
			skip = true
			return '_'
		}
	}, s)
}

func sanitizePath(path ...string) (string, error) {
	base, err := mountPoint()
	if err != nil {
		return "", err
	}
	l := filepath.Join(path...)
	p := filepath.Join(base, l)
	if !strings.HasPrefix(p, base) {
		return "", fmt.Errorf("path '%s' attempts to escape base path '%s': %w", l, base, ErrInvalidInput)
	}
	return p, nil
}

// mountPoint returns the tracefs mount point. Since kernel 4.1 tracefs
// should be mounted by default at /sys/kernel/tracing, but may also be
// available at /sys/kernel/debug/tracing if debugfs is mounted. The
// available paths depend on distribution choices.
var mountPoint = sync.OnceValues(func() (string, error) {
	for _, p := range []struct {
		path   string
		fsType int64
	}{
		{"/sys/kernel/tracing", unix.TRACEFS_MAGIC},
		// RHEL/CentOS
		{"/sys/kernel/debug/tracing", unix.TRACEFS_MAGIC},
		{"/sys/kernel/debug/tracing", unix.DEBUGFS_MAGIC},
	} {
		if fsType, err := fsType(p.path); err == nil && fsType == p.fsType {
			return p.path, nil
		}
	}

	return "", errors.New("neither debugfs nor tracefs are mounted")
})

func fsType(path string) (int64, error) {
	var fs unix.Statfs_t
	err := unix.Statfs(path, &fs)
	if err != nil {
		return 0, err
	}

	return int64(fs.Type), nil
}

// EventID reads a trace event's ID from tracefs given its group and name.
// The kernel requires group and name to be alphanumeric or underscore.
//
// name automatically has its invalid symbols converted to underscores so
// the caller can pass a raw symbol name, e.g. a kernel symbol containing
// dots.
func EventID(group, name string) (uint64, error) {
	name = SanitizeSymbol(name)
	path, err := sanitizePath("events", group, name, "id")
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("reading trace event ID of %s/%s: %w", group, name, err)
	}

	tid, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing trace event ID of %s/%s: %w", group, name, err)
	}

	return tid, nil
}

// ProbePrefix returns the kprobe_events command prefix for an entry or
// return probe.
func ProbePrefix(ret bool) string {
	if ret {
		return "r"
	}
	return "p"
}

// OpenTracepointPerfEvent opens a tracepoint-type perf event. System-wide
// [k,u]probes created by writing to <tracefs>/[k,u]probe_events are
// tracepoints behind the scenes, and can be attached to using these perf
// events.
func OpenTracepointPerfEvent(tid uint64, pid int) (*sys.FD, error) {
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_TRACEPOINT,
		Config:      tid,
		Sample_type: unix.PERF_SAMPLE_RAW,
		Sample:      1,
		Wakeup:      1,
	}

	fd, err := unix.PerfEventOpen(&attr, pid, 0, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("opening tracepoint perf event: %w", err)
	}

	return sys.NewFD(fd)
}
