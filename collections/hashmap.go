package collections

import (
	bpf "github.com/arcjustin/bpf-api"
)

// HashMap is a typed hash map shared with programs in the kernel.
type HashMap[K, V any] struct {
	m         *bpf.Map
	keySize   uint32
	valueSize uint32
}

// NewHashMap creates a hash map holding up to maxEntries pairs.
func NewHashMap[K, V any](name string, maxEntries uint32) (*HashMap[K, V], error) {
	keySize, err := sizeOf[K]()
	if err != nil {
		return nil, err
	}
	valueSize, err := sizeOf[V]()
	if err != nil {
		return nil, err
	}

	m, err := bpf.NewMap(&bpf.MapSpec{
		Name:       name,
		Type:       bpf.Hash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
	})
	if err != nil {
		return nil, err
	}

	return &HashMap[K, V]{m, keySize, valueSize}, nil
}

// Get returns the value stored under key.
//
// Returns bpf.ErrKeyNotExist if the key is absent.
func (h *HashMap[K, V]) Get(key K) (V, error) {
	var value V

	kb, err := marshal(key, h.keySize)
	if err != nil {
		return value, err
	}

	vb := make([]byte, h.valueSize)
	if err := h.m.Lookup(kb, vb); err != nil {
		return value, err
	}

	err = unmarshal(&value, vb)
	return value, err
}

// Put replaces or creates the value stored under key.
func (h *HashMap[K, V]) Put(key K, value V) error {
	kb, err := marshal(key, h.keySize)
	if err != nil {
		return err
	}
	vb, err := marshal(value, h.valueSize)
	if err != nil {
		return err
	}

	return h.m.Put(kb, vb)
}

// Delete removes the value stored under key.
//
// Returns bpf.ErrKeyNotExist if the key is absent.
func (h *HashMap[K, V]) Delete(key K) error {
	kb, err := marshal(key, h.keySize)
	if err != nil {
		return err
	}

	return h.m.Delete(kb)
}

// Iterate calls fn for each pair in the map. Iteration stops early if fn
// returns an error, which is then returned to the caller.
func (h *HashMap[K, V]) Iterate(fn func(K, V) error) error {
	kb := make([]byte, h.keySize)
	vb := make([]byte, h.valueSize)

	iter := h.m.Iterate()
	for iter.Next(kb, vb) {
		var (
			key   K
			value V
		)
		if err := unmarshal(&key, kb); err != nil {
			return err
		}
		if err := unmarshal(&value, vb); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Err()
}

// Map exposes the underlying map for program relocation.
func (h *HashMap[K, V]) Map() *bpf.Map {
	return h.m
}

// Close releases the underlying map.
func (h *HashMap[K, V]) Close() error {
	return h.m.Close()
}
