package sys

import (
	"math"
	"os"
	"syscall"
	"testing"

	"github.com/go-quicktest/qt"
)

// newTestFD returns an FD owning a fresh descriptor for /dev/null.
func newTestFD(t *testing.T) *FD {
	t.Helper()

	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	raw, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		t.Fatal(err)
	}

	fd, err := NewFD(raw)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fd.Close() })

	return fd
}

func TestNewFD(t *testing.T) {
	_, err := NewFD(-1)
	qt.Assert(t, qt.IsNotNil(err))

	fd := newTestFD(t)
	qt.Assert(t, qt.IsTrue(fd.Int() > 0))
	qt.Assert(t, qt.IsFalse(fd.IsClosed()))
}

func TestFDClose(t *testing.T) {
	fd := newTestFD(t)

	qt.Assert(t, qt.IsNil(fd.Close()))
	qt.Assert(t, qt.IsTrue(fd.IsClosed()))

	// Closing twice is allowed.
	qt.Assert(t, qt.IsNil(fd.Close()))

	qt.Assert(t, qt.Equals(fd.Int(), -1))
	qt.Assert(t, qt.Equals(fd.Uint(), uint32(math.MaxUint32)))
}

func TestFDDup(t *testing.T) {
	fd := newTestFD(t)

	dup, err := fd.Dup()
	qt.Assert(t, qt.IsNil(err))
	defer dup.Close()

	qt.Assert(t, qt.Not(qt.Equals(dup.Int(), fd.Int())))

	qt.Assert(t, qt.IsNil(fd.Close()))
	_, err = fd.Dup()
	qt.Assert(t, qt.ErrorIs(err, ErrClosedFd))
}
