package sys

import (
	"fmt"
	"math"
	"runtime"
	"strconv"

	"github.com/arcjustin/bpf-api/internal/unix"
)

// ErrClosedFd is returned when operating on a closed file descriptor.
var ErrClosedFd = unix.EBADF

// FD wraps a kernel file descriptor with explicit ownership. A finalizer
// closes leaked descriptors, but callers are expected to call Close
// themselves so teardown stays deterministic.
type FD struct {
	raw int
}

func newFD(value int) *FD {
	fd := &FD{value}
	runtime.SetFinalizer(fd, (*FD).Close)
	return fd
}

// NewFD wraps a raw fd.
//
// You must not use the raw fd after calling this function, since the underlying
// file descriptor number may change. This is because the BPF UAPI assumes that
// zero is not a valid fd value.
func NewFD(value int) (*FD, error) {
	if value < 0 {
		return nil, fmt.Errorf("invalid fd %d", value)
	}

	if value == 0 {
		// The kernel guarantees that fd 0 is never returned by BPF syscalls,
		// but dup it out of the way in case the process closed stdin.
		fd, err := unix.FcntlInt(uintptr(value), unix.F_DUPFD_CLOEXEC, 1)
		unix.Close(value)
		if err != nil {
			return nil, fmt.Errorf("dup fd 0: %w", err)
		}
		value = fd
	}

	return newFD(value), nil
}

func (fd *FD) String() string {
	return strconv.FormatInt(int64(fd.raw), 10)
}

func (fd *FD) Int() int {
	return fd.raw
}

func (fd *FD) Uint() uint32 {
	if fd.raw < 0 || int64(fd.raw) > math.MaxUint32 {
		// Best effort: this is the number most likely to be an invalid file
		// descriptor. It is equal to -1 (on two's complement arches).
		return math.MaxUint32
	}
	return uint32(fd.raw)
}

// Close releases the descriptor. It is safe to call multiple times.
func (fd *FD) Close() error {
	if fd.raw < 0 {
		return nil
	}

	return unix.Close(fd.disown())
}

// IsClosed reports whether the descriptor has been released.
func (fd *FD) IsClosed() bool {
	return fd.raw < 0
}

func (fd *FD) disown() int {
	value := fd.raw
	fd.raw = -1

	runtime.SetFinalizer(fd, nil)
	return value
}

// Dup duplicates the descriptor into a new FD.
func (fd *FD) Dup() (*FD, error) {
	if fd.raw < 0 {
		return nil, ErrClosedFd
	}

	// Always require the fd to be larger than zero: the BPF API treats the value
	// as invalid otherwise.
	dup, err := unix.FcntlInt(uintptr(fd.raw), unix.F_DUPFD_CLOEXEC, 1)
	if err != nil {
		return nil, fmt.Errorf("can't dup fd: %v", err)
	}

	return newFD(dup), nil
}
