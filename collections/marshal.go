// Package collections provides typed wrappers around kernel maps.
//
// Keys and values are fixed-size Go types marshalled with encoding/binary
// in native byte order, which matches what a program compiled for the
// same machine reads and writes on the kernel side.
package collections

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// sizeOf returns the marshalled size of T.
//
// T must be a fixed-size type: integers, arrays and structs of those.
// Types with pointers, slices, maps or strings are rejected.
func sizeOf[T any]() (uint32, error) {
	var t T
	n := binary.Size(t)
	if n < 0 {
		return 0, fmt.Errorf("%T is not a fixed-size type", t)
	}
	return uint32(n), nil
}

func marshal[T any](t T, size uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.NativeEndian, t); err != nil {
		return nil, fmt.Errorf("marshal %T: %w", t, err)
	}
	return buf.Bytes(), nil
}

func unmarshal[T any](t *T, data []byte) error {
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, t); err != nil {
		return fmt.Errorf("unmarshal %T: %w", *t, err)
	}
	return nil
}
