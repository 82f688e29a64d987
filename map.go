package bpf

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/unix"
)

// MapSpec declares the layout and capacity of a kernel map.
type MapSpec struct {
	// Name is passed to the kernel as the object name. Optional, truncated
	// to 15 characters.
	Name       string
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	Flags      uint32
}

// Copy returns a copy of the spec.
func (ms *MapSpec) Copy() *MapSpec {
	if ms == nil {
		return nil
	}

	cpy := *ms
	return &cpy
}

func (ms *MapSpec) validate() error {
	if ms.MaxEntries == 0 {
		return fmt.Errorf("MaxEntries must be > 0: %w", ErrInvalidSpec)
	}

	switch ms.Type {
	case Queue, Stack:
		if ms.KeySize != 0 {
			return fmt.Errorf("%s maps take no key: %w", ms.Type, ErrInvalidSpec)
		}
		if ms.ValueSize == 0 {
			return fmt.Errorf("%s maps need a ValueSize: %w", ms.Type, ErrInvalidSpec)
		}

	case RingBuf:
		if ms.KeySize != 0 || ms.ValueSize != 0 {
			return fmt.Errorf("ring buffers take neither key nor value: %w", ErrInvalidSpec)
		}
		if bits.OnesCount32(ms.MaxEntries) != 1 {
			return fmt.Errorf("ring buffer size %d is not a power of two: %w", ms.MaxEntries, ErrInvalidSpec)
		}

	default:
		if ms.KeySize == 0 {
			return fmt.Errorf("KeySize must be > 0: %w", ErrInvalidSpec)
		}
		if ms.ValueSize == 0 {
			return fmt.Errorf("ValueSize must be > 0: %w", ErrInvalidSpec)
		}
	}

	return nil
}

// Map owns one kernel map file descriptor.
//
// Element operations are safe for concurrent readers; mutations and Close
// require exclusive ownership. Methods on a closed Map return ErrClosed.
type Map struct {
	fd         *sys.FD
	name       string
	typ        MapType
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	flags      uint32
}

// NewMap creates a new map in the kernel.
//
// The spec is validated locally first; validation failures wrap
// ErrInvalidSpec and make no syscall. Kernel rejections are returned as
// wrapped errnos: use errors.Is against unix.EPERM, unix.EINVAL etc. to
// discriminate.
func NewMap(spec *MapSpec) (*Map, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	attr := sys.MapCreateAttr{
		MapType:    uint32(spec.Type),
		KeySize:    spec.KeySize,
		ValueSize:  spec.ValueSize,
		MaxEntries: spec.MaxEntries,
		MapFlags:   spec.Flags,
		MapName:    sys.NewObjName(spec.Name),
	}

	fd, err := sys.MapCreate(&attr)
	if err != nil {
		return nil, fmt.Errorf("map create: %w", err)
	}

	return &Map{
		fd:         fd,
		name:       spec.Name,
		typ:        spec.Type,
		keySize:    spec.KeySize,
		valueSize:  spec.ValueSize,
		maxEntries: spec.MaxEntries,
		flags:      spec.Flags,
	}, nil
}

func (m *Map) String() string {
	if m.name != "" {
		return fmt.Sprintf("%s(%s)#%v", m.typ, m.name, m.fd)
	}
	return fmt.Sprintf("%s#%v", m.typ, m.fd)
}

// Type returns the type of the map.
func (m *Map) Type() MapType {
	return m.typ
}

// KeySize returns the size of the map key in bytes.
func (m *Map) KeySize() uint32 {
	return m.keySize
}

// ValueSize returns the size of the map value in bytes.
func (m *Map) ValueSize() uint32 {
	return m.valueSize
}

// MaxEntries returns the maximum number of elements the map can hold.
func (m *Map) MaxEntries() uint32 {
	return m.maxEntries
}

// FD returns the raw file descriptor of the map.
//
// The descriptor is still owned by the Map; do not close it.
func (m *Map) FD() int {
	return m.fd.Int()
}

// Lookup retrieves the value for key into valueOut.
//
// Returns ErrKeyNotExist if the key is absent.
func (m *Map) Lookup(key, valueOut []byte) error {
	if err := m.checkBuffers(key, valueOut); err != nil {
		return err
	}

	attr := sys.MapElemAttr{
		MapFd: m.fd.Uint(),
		Key:   sys.SlicePointer(key),
		Value: sys.SlicePointer(valueOut),
	}

	if err := sys.MapLookupElem(&attr); err != nil {
		return wrapMapError("lookup", err)
	}
	return nil
}

// LookupAndDelete retrieves the value for key into valueOut and removes
// it from the map in one operation. For queue and stack maps this pops
// the next element, with a nil key.
func (m *Map) LookupAndDelete(key, valueOut []byte) error {
	if err := m.checkBuffers(key, valueOut); err != nil {
		return err
	}

	attr := sys.MapElemAttr{
		MapFd: m.fd.Uint(),
		Key:   sys.SlicePointer(key),
		Value: sys.SlicePointer(valueOut),
	}

	if err := sys.MapLookupAndDeleteElem(&attr); err != nil {
		return wrapMapError("lookup and delete", err)
	}
	return nil
}

// UpdateFlags control the behavior of Update.
type UpdateFlags uint64

const (
	// UpdateAny creates a new element or updates an existing one.
	UpdateAny UpdateFlags = iota
	// UpdateNoExist creates a new element only if it did not exist.
	UpdateNoExist
	// UpdateExist updates an existing element only.
	UpdateExist
)

// Put replaces or creates the value for key.
func (m *Map) Put(key, value []byte) error {
	return m.Update(key, value, UpdateAny)
}

// Update changes the value for key subject to flags.
//
// Returns ErrKeyExist with UpdateNoExist and ErrKeyNotExist with
// UpdateExist when the precondition fails.
func (m *Map) Update(key, value []byte, flags UpdateFlags) error {
	if err := m.checkBuffers(key, value); err != nil {
		return err
	}

	attr := sys.MapElemAttr{
		MapFd: m.fd.Uint(),
		Key:   sys.SlicePointer(key),
		Value: sys.SlicePointer(value),
		Flags: uint64(flags),
	}

	if err := sys.MapUpdateElem(&attr); err != nil {
		return wrapMapError("update", err)
	}
	return nil
}

// Delete removes the value for key.
//
// Returns ErrKeyNotExist if the key is absent.
func (m *Map) Delete(key []byte) error {
	if err := m.checkKey(key); err != nil {
		return err
	}

	attr := sys.MapElemAttr{
		MapFd: m.fd.Uint(),
		Key:   sys.SlicePointer(key),
	}

	if err := sys.MapDeleteElem(&attr); err != nil {
		return wrapMapError("delete", err)
	}
	return nil
}

// NextKey writes the key following key into nextKeyOut.
//
// Pass a nil key to retrieve the first key. Returns ErrKeyNotExist when
// there are no more keys.
func (m *Map) NextKey(key, nextKeyOut []byte) error {
	if m.fd.IsClosed() {
		return ErrClosed
	}
	if key != nil && uint32(len(key)) != m.keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(key), m.keySize)
	}
	if uint32(len(nextKeyOut)) != m.keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(nextKeyOut), m.keySize)
	}

	attr := sys.MapGetNextKeyAttr{
		MapFd:   m.fd.Uint(),
		Key:     sys.SlicePointer(key),
		NextKey: sys.SlicePointer(nextKeyOut),
	}

	if err := sys.MapGetNextKey(&attr); err != nil {
		return wrapMapError("next key", err)
	}
	return nil
}

// Iterate returns an iterator over all entries of the map.
//
// Starting a new iteration restarts from the first key. Iteration is
// best-effort if the map is mutated concurrently: entries may be skipped
// or repeated.
func (m *Map) Iterate() *MapIterator {
	return &MapIterator{
		target:     m,
		maxEntries: m.maxEntries,
	}
}

// Close releases the map descriptor. It is safe to call multiple times.
//
// Programs loaded against this map keep the kernel object alive until
// they are closed as well.
func (m *Map) Close() error {
	if m == nil {
		return nil
	}

	return m.fd.Close()
}

// IsClosed reports whether Close has been called.
func (m *Map) IsClosed() bool {
	return m.fd.IsClosed()
}

func (m *Map) checkKey(key []byte) error {
	if m.fd.IsClosed() {
		return ErrClosed
	}

	if !m.typ.hasKey() {
		if len(key) != 0 {
			return fmt.Errorf("%s maps take no key: %w", m.typ, ErrKeySize)
		}
		return nil
	}

	if uint32(len(key)) != m.keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(key), m.keySize)
	}
	return nil
}

func (m *Map) checkBuffers(key, value []byte) error {
	if err := m.checkKey(key); err != nil {
		return err
	}

	if uint32(len(value)) != m.valueSize {
		return fmt.Errorf("%w: got %d, want %d", ErrValueSize, len(value), m.valueSize)
	}
	return nil
}

func wrapMapError(op string, err error) error {
	if errors.Is(err, unix.ENOENT) {
		return ErrKeyNotExist
	}
	if errors.Is(err, unix.EEXIST) {
		return ErrKeyExist
	}
	return fmt.Errorf("%s: %w", op, err)
}

// MapIterator iterates a Map using the get-next-key syscall.
type MapIterator struct {
	target     *Map
	prevKey    []byte
	count      uint32
	maxEntries uint32
	done       bool
	err        error
}

// Next decodes the next key and value into keyOut and valueOut.
//
// Returns false if there are no more entries or an error occurred.
// Buffers must match the map's declared key and value sizes.
func (mi *MapIterator) Next(keyOut, valueOut []byte) bool {
	if mi.err != nil || mi.done {
		return false
	}

	for {
		// Some maps accumulate tombstones: allow a generous number of
		// extra iterations before declaring the walk stuck.
		if mi.count > mi.maxEntries*2+1 {
			mi.err = fmt.Errorf("%s: iteration is not progressing", mi.target)
			return false
		}
		mi.count++

		err := mi.target.NextKey(mi.prevKey, keyOut)
		if errors.Is(err, ErrKeyNotExist) {
			mi.done = true
			return false
		}
		if err != nil {
			mi.err = err
			return false
		}

		mi.prevKey = append(mi.prevKey[:0], keyOut...)

		err = mi.target.Lookup(keyOut, valueOut)
		if errors.Is(err, ErrKeyNotExist) {
			// The key was deleted since NextKey returned it. Move on.
			continue
		}
		if err != nil {
			mi.err = err
			return false
		}

		return true
	}
}

// Err returns the error that stopped the iteration, if any.
func (mi *MapIterator) Err() error {
	return mi.err
}
