package collections

import (
	bpf "github.com/arcjustin/bpf-api"
)

// Queue is a typed FIFO queue shared with programs in the kernel.
//
// Requires at least Linux 4.20.
type Queue[V any] struct {
	m         *bpf.Map
	valueSize uint32
}

// NewQueue creates a queue holding up to maxEntries values.
func NewQueue[V any](name string, maxEntries uint32) (*Queue[V], error) {
	valueSize, err := sizeOf[V]()
	if err != nil {
		return nil, err
	}

	m, err := bpf.NewMap(&bpf.MapSpec{
		Name:       name,
		Type:       bpf.Queue,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
	})
	if err != nil {
		return nil, err
	}

	return &Queue[V]{m, valueSize}, nil
}

// Push appends value to the back of the queue.
//
// Returns an error wrapping unix.E2BIG if the queue is full.
func (q *Queue[V]) Push(value V) error {
	vb, err := marshal(value, q.valueSize)
	if err != nil {
		return err
	}

	return q.m.Put(nil, vb)
}

// Pop removes and returns the value at the front of the queue.
//
// Returns bpf.ErrKeyNotExist if the queue is empty.
func (q *Queue[V]) Pop() (V, error) {
	var value V

	vb := make([]byte, q.valueSize)
	if err := q.m.LookupAndDelete(nil, vb); err != nil {
		return value, err
	}

	err := unmarshal(&value, vb)
	return value, err
}

// Peek returns the value at the front of the queue without removing it.
//
// Returns bpf.ErrKeyNotExist if the queue is empty.
func (q *Queue[V]) Peek() (V, error) {
	var value V

	vb := make([]byte, q.valueSize)
	if err := q.m.Lookup(nil, vb); err != nil {
		return value, err
	}

	err := unmarshal(&value, vb)
	return value, err
}

// Map exposes the underlying map for program relocation.
func (q *Queue[V]) Map() *bpf.Map {
	return q.m
}

// Close releases the underlying map.
func (q *Queue[V]) Close() error {
	return q.m.Close()
}
