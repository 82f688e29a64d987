package bpf

import (
	"errors"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/arcjustin/bpf-api/internal/unix"
)

func TestVerifierError(t *testing.T) {
	verr := &VerifierError{
		Cause: unix.EACCES,
		Log:   "0: (b7) r0 = 0\nR0 leaks addr as return value",
	}

	// The last line of the log is the interesting one.
	qt.Assert(t, qt.StringContains(verr.Error(), "R0 leaks addr"))
	qt.Assert(t, qt.ErrorIs(verr, unix.EACCES))
}

func TestVerifierErrorEmptyLog(t *testing.T) {
	verr := &VerifierError{Cause: unix.EINVAL}
	qt.Assert(t, qt.StringContains(verr.Error(), unix.EINVAL.Error()))
}

func TestSentinelErrors(t *testing.T) {
	// The key sentinels wrap the underlying errnos so callers can use
	// either.
	qt.Assert(t, qt.ErrorIs(ErrKeyNotExist, unix.ENOENT))
	qt.Assert(t, qt.ErrorIs(ErrKeyExist, unix.EEXIST))
}

func TestUnresolvedMapError(t *testing.T) {
	err := error(&UnresolvedMapError{Name: "events"})
	qt.Assert(t, qt.StringContains(err.Error(), "events"))

	var ume *UnresolvedMapError
	qt.Assert(t, qt.IsTrue(errors.As(err, &ume)))
}

func TestCstring(t *testing.T) {
	qt.Assert(t, qt.Equals(cstring([]byte("abc\x00def")), "abc"))
	qt.Assert(t, qt.Equals(cstring([]byte("abc")), "abc"))
	qt.Assert(t, qt.Equals(cstring(nil), ""))
}
