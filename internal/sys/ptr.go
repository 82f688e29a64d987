package sys

import (
	"unsafe"

	"github.com/arcjustin/bpf-api/internal/unix"
)

// UnsafePointer creates a 64-bit pointer from an unsafe Pointer.
func UnsafePointer(ptr unsafe.Pointer) Pointer {
	return Pointer{ptr: ptr}
}

// SlicePointer creates a 64-bit pointer from a slice.
func SlicePointer[E any](slice []E) Pointer {
	if len(slice) == 0 {
		return Pointer{}
	}

	return Pointer{ptr: unsafe.Pointer(&slice[0])}
}

// NewStringPointer allocates a null-terminated backing slice for str and
// returns a pointer to it.
func NewStringPointer(str string) Pointer {
	s, err := unix.ByteSliceFromString(str)
	if err != nil {
		return Pointer{}
	}

	return SlicePointer(s)
}
