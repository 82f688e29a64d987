package bpf

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/arcjustin/bpf-api/internal/testutils"
	"github.com/arcjustin/bpf-api/internal/unix"
)

func TestMapSpecValidation(t *testing.T) {
	specs := []struct {
		name string
		spec MapSpec
	}{
		{"zero max entries", MapSpec{Type: Hash, KeySize: 4, ValueSize: 4}},
		{"zero key size", MapSpec{Type: Hash, ValueSize: 4, MaxEntries: 1}},
		{"zero value size", MapSpec{Type: Hash, KeySize: 4, MaxEntries: 1}},
		{"queue with key", MapSpec{Type: Queue, KeySize: 4, ValueSize: 4, MaxEntries: 1}},
		{"queue without value", MapSpec{Type: Queue, MaxEntries: 1}},
		{"ringbuf with value", MapSpec{Type: RingBuf, ValueSize: 4, MaxEntries: 4096}},
		{"ringbuf odd size", MapSpec{Type: RingBuf, MaxEntries: 4095}},
	}

	for _, tc := range specs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMap(&tc.spec)
			qt.Assert(t, qt.ErrorIs(err, ErrInvalidSpec))
		})
	}
}

func mustNewMap(t *testing.T, spec *MapSpec) *Map {
	t.Helper()

	testutils.MustHaveBPF(t)

	m, err := NewMap(spec)
	if err != nil {
		t.Fatal("Can't create map:", err)
	}
	t.Cleanup(func() { m.Close() })

	return m
}

func newHash(t *testing.T) *Map {
	t.Helper()

	return mustNewMap(t, &MapSpec{
		Name:       "test_hash",
		Type:       Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 8,
	})
}

func u32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func TestMap(t *testing.T) {
	m := newHash(t)
	t.Log(m)

	qt.Assert(t, qt.IsNil(m.Put(u32(1), u64(42))))
	qt.Assert(t, qt.IsNil(m.Put(u32(2), u64(4242))))

	value := make([]byte, 8)
	qt.Assert(t, qt.IsNil(m.Lookup(u32(1), value)))
	qt.Assert(t, qt.DeepEquals(value, u64(42)))

	qt.Assert(t, qt.IsNil(m.Delete(u32(1))))
	qt.Assert(t, qt.ErrorIs(m.Lookup(u32(1), value), ErrKeyNotExist))
	qt.Assert(t, qt.ErrorIs(m.Delete(u32(1)), ErrKeyNotExist))
}

func TestMapUpdateFlags(t *testing.T) {
	m := newHash(t)

	qt.Assert(t, qt.IsNil(m.Update(u32(1), u64(1), UpdateNoExist)))
	qt.Assert(t, qt.ErrorIs(m.Update(u32(1), u64(2), UpdateNoExist), ErrKeyExist))
	qt.Assert(t, qt.IsNil(m.Update(u32(1), u64(2), UpdateExist)))
	qt.Assert(t, qt.ErrorIs(m.Update(u32(2), u64(1), UpdateExist), ErrKeyNotExist))
}

func TestMapBufferSizes(t *testing.T) {
	m := newHash(t)

	value := make([]byte, 8)
	qt.Assert(t, qt.ErrorIs(m.Lookup(u32(1)[:2], value), ErrKeySize))
	qt.Assert(t, qt.ErrorIs(m.Lookup(u32(1), value[:3]), ErrValueSize))
	qt.Assert(t, qt.ErrorIs(m.Put(u32(1), value[:3]), ErrValueSize))
	qt.Assert(t, qt.ErrorIs(m.Delete(nil), ErrKeySize))
}

func TestMapNextKey(t *testing.T) {
	m := newHash(t)

	qt.Assert(t, qt.IsNil(m.Put(u32(1), u64(42))))

	next := make([]byte, 4)
	qt.Assert(t, qt.IsNil(m.NextKey(nil, next)))
	qt.Assert(t, qt.DeepEquals(next, u32(1)))

	qt.Assert(t, qt.ErrorIs(m.NextKey(next, next), ErrKeyNotExist))
}

func TestMapIterate(t *testing.T) {
	m := newHash(t)

	want := map[uint32]uint64{1: 100, 2: 200, 3: 300}
	for k, v := range want {
		qt.Assert(t, qt.IsNil(m.Put(u32(k), u64(v))))
	}

	got := make(map[uint32]uint64)
	key := make([]byte, 4)
	value := make([]byte, 8)

	iter := m.Iterate()
	for iter.Next(key, value) {
		k := uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(value[i])
		}
		got[k] = v
	}
	qt.Assert(t, qt.IsNil(iter.Err()))
	qt.Assert(t, qt.DeepEquals(got, want))
}

func TestMapQueue(t *testing.T) {
	m := mustNewMap(t, &MapSpec{
		Name:       "test_queue",
		Type:       Queue,
		ValueSize:  8,
		MaxEntries: 4,
	})

	qt.Assert(t, qt.IsNil(m.Put(nil, u64(1))))
	qt.Assert(t, qt.IsNil(m.Put(nil, u64(2))))

	value := make([]byte, 8)
	qt.Assert(t, qt.IsNil(m.LookupAndDelete(nil, value)))
	qt.Assert(t, qt.DeepEquals(value, u64(1)))
	qt.Assert(t, qt.IsNil(m.LookupAndDelete(nil, value)))
	qt.Assert(t, qt.DeepEquals(value, u64(2)))
	qt.Assert(t, qt.ErrorIs(m.LookupAndDelete(nil, value), ErrKeyNotExist))
}

func TestMapClose(t *testing.T) {
	m := newHash(t)

	qt.Assert(t, qt.IsNil(m.Close()))
	qt.Assert(t, qt.IsTrue(m.IsClosed()))

	// Closing twice is allowed.
	qt.Assert(t, qt.IsNil(m.Close()))

	value := make([]byte, 8)
	qt.Assert(t, qt.ErrorIs(m.Lookup(u32(1), value), ErrClosed))
	qt.Assert(t, qt.ErrorIs(m.Put(u32(1), value), ErrClosed))
}

func TestMapPin(t *testing.T) {
	m := newHash(t)

	var fs unix.Statfs_t
	if err := unix.Statfs("/sys/fs/bpf", &fs); err != nil || fs.Type != unix.BPF_FS_MAGIC {
		t.Skip("/sys/fs/bpf is not a bpf filesystem")
	}

	path := fmt.Sprintf("/sys/fs/bpf/bpfapi_test_%x", rand.Uint32())
	if err := m.Pin(path); err != nil {
		if errors.Is(err, unix.EPERM) {
			t.Skip("pinning requires privileges:", err)
		}
		t.Fatal("Can't pin map:", err)
	}
	defer os.Remove(path)

	// Pinning the same path twice fails.
	qt.Assert(t, qt.ErrorIs(m.Pin(path), unix.EEXIST))

	qt.Assert(t, qt.IsNil(m.Put(u32(1), u64(42))))

	pinned, err := LoadPinnedMap(path)
	qt.Assert(t, qt.IsNil(err))
	defer pinned.Close()

	qt.Assert(t, qt.Equals(pinned.Type(), Hash))
	qt.Assert(t, qt.Equals(pinned.KeySize(), uint32(4)))
	qt.Assert(t, qt.Equals(pinned.ValueSize(), uint32(8)))

	value := make([]byte, 8)
	qt.Assert(t, qt.IsNil(pinned.Lookup(u32(1), value)))
	qt.Assert(t, qt.DeepEquals(value, u64(42)))
}

func TestMapPinBadPath(t *testing.T) {
	m := newHash(t)

	// Not on a bpf filesystem.
	err := m.Pin("/tmp/bpfapi_test_pin")
	qt.Assert(t, qt.IsNotNil(err))
}
