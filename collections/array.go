package collections

import (
	"encoding/binary"

	bpf "github.com/arcjustin/bpf-api"
)

// Array is a typed array shared with programs in the kernel. All slots
// exist from creation and are zero initialized.
type Array[V any] struct {
	m         *bpf.Map
	valueSize uint32
	length    uint32
}

// NewArray creates an array with length slots.
func NewArray[V any](name string, length uint32) (*Array[V], error) {
	valueSize, err := sizeOf[V]()
	if err != nil {
		return nil, err
	}

	m, err := bpf.NewMap(&bpf.MapSpec{
		Name:       name,
		Type:       bpf.Array,
		KeySize:    4,
		ValueSize:  valueSize,
		MaxEntries: length,
	})
	if err != nil {
		return nil, err
	}

	return &Array[V]{m, valueSize, length}, nil
}

// Get returns the value in slot i.
func (a *Array[V]) Get(i uint32) (V, error) {
	var value V

	kb := make([]byte, 4)
	binary.NativeEndian.PutUint32(kb, i)

	vb := make([]byte, a.valueSize)
	if err := a.m.Lookup(kb, vb); err != nil {
		return value, err
	}

	err := unmarshal(&value, vb)
	return value, err
}

// Set stores value in slot i.
func (a *Array[V]) Set(i uint32, value V) error {
	kb := make([]byte, 4)
	binary.NativeEndian.PutUint32(kb, i)

	vb, err := marshal(value, a.valueSize)
	if err != nil {
		return err
	}

	return a.m.Put(kb, vb)
}

// Len returns the number of slots.
func (a *Array[V]) Len() uint32 {
	return a.length
}

// Map exposes the underlying map for program relocation.
func (a *Array[V]) Map() *bpf.Map {
	return a.m
}

// Close releases the underlying map.
func (a *Array[V]) Close() error {
	return a.m.Close()
}
