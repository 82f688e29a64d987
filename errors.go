package bpf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/arcjustin/bpf-api/internal/unix"
)

var (
	// ErrInvalidSpec is returned when a MapSpec or ProgramSpec fails
	// validation before any syscall is made.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrClosed is returned when operating on a closed Map or Program.
	ErrClosed = errors.New("handle is closed")

	// ErrKeyNotExist is returned when a key does not exist in a map.
	ErrKeyNotExist = fmt.Errorf("key does not exist: %w", unix.ENOENT)

	// ErrKeyExist is returned when a key already exists in a map and the
	// update requested creation.
	ErrKeyExist = fmt.Errorf("key already exists: %w", unix.EEXIST)

	// ErrKeySize is returned when a key buffer does not match the map's
	// declared key size.
	ErrKeySize = errors.New("key size mismatch")

	// ErrValueSize is returned when a value buffer does not match the
	// map's declared value size.
	ErrValueSize = errors.New("value size mismatch")

	// ErrNotSupported is returned when the kernel lacks a required
	// feature.
	ErrNotSupported = errors.New("not supported")
)

// UnresolvedMapError is returned when loading a program whose bytecode
// references a map that is missing from the supplied mapping. No syscall
// is made when this error is returned.
type UnresolvedMapError struct {
	Name string
}

func (ume *UnresolvedMapError) Error() string {
	return fmt.Sprintf("unresolved map reference %q", ume.Name)
}

// VerifierError is returned when the kernel rejects a program during load.
// Log holds the verifier's diagnostics if a log buffer was supplied.
type VerifierError struct {
	Cause error
	Log   string
}

func (ve *VerifierError) Error() string {
	summary, detail := splitLog(ve.Log)
	if summary == "" {
		return ve.Cause.Error()
	}
	if detail == "" {
		return ve.Cause.Error() + ": " + summary
	}
	return fmt.Sprintf("%s: %s\n%s", ve.Cause, summary, detail)
}

func (ve *VerifierError) Unwrap() error {
	return ve.Cause
}

// splitLog separates the last line of a verifier log from the rest.
// The most specific information is usually at the end of the log, so
// it makes the better one-line summary.
func splitLog(log string) (summary, detail string) {
	detail = strings.TrimRight(log, "\t\r\n ")
	if pos := strings.LastIndexByte(detail, '\n'); pos > 0 {
		return strings.TrimLeft(detail[pos:], "\t\r\n "), detail
	}
	return detail, ""
}

// cstring turns a NUL / zero terminated byte buffer into a string.
func cstring(in []byte) string {
	inLen := bytes.IndexByte(in, 0)
	if inLen == -1 {
		return string(in)
	}
	return string(in[:inLen])
}
