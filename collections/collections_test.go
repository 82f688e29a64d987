package collections

import (
	"errors"
	"testing"

	"github.com/go-quicktest/qt"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/internal/testutils"
)

type flowKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
}

type flowStats struct {
	Packets uint64
	Bytes   uint64
}

func TestSizeOf(t *testing.T) {
	n, err := sizeOf[flowKey]()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, uint32(12)))

	// Strings have no fixed marshalled size.
	_, err = sizeOf[string]()
	qt.Assert(t, qt.IsNotNil(err))

	type bad struct{ P *int }
	_, err = sizeOf[bad]()
	qt.Assert(t, qt.IsNotNil(err))
}

func TestHashMap(t *testing.T) {
	testutils.MustHaveBPF(t)

	h, err := NewHashMap[flowKey, flowStats]("test_flows", 16)
	if err != nil {
		t.Fatal("Can't create hash map:", err)
	}
	defer h.Close()

	key := flowKey{SrcIP: 1, DstIP: 2, SrcPort: 80, DstPort: 443}
	stats := flowStats{Packets: 10, Bytes: 1500}

	qt.Assert(t, qt.IsNil(h.Put(key, stats)))

	got, err := h.Get(key)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, stats))

	_, err = h.Get(flowKey{SrcIP: 99})
	qt.Assert(t, qt.ErrorIs(err, bpf.ErrKeyNotExist))

	qt.Assert(t, qt.IsNil(h.Delete(key)))
	qt.Assert(t, qt.ErrorIs(h.Delete(key), bpf.ErrKeyNotExist))
}

func TestHashMapIterate(t *testing.T) {
	testutils.MustHaveBPF(t)

	h, err := NewHashMap[uint32, uint64]("test_iter", 16)
	if err != nil {
		t.Fatal("Can't create hash map:", err)
	}
	defer h.Close()

	want := map[uint32]uint64{1: 100, 2: 200, 3: 300}
	for k, v := range want {
		qt.Assert(t, qt.IsNil(h.Put(k, v)))
	}

	got := make(map[uint32]uint64)
	err = h.Iterate(func(k uint32, v uint64) error {
		got[k] = v
		return nil
	})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(got, want))

	// Errors from the callback stop the iteration.
	sentinel := errors.New("stop")
	err = h.Iterate(func(uint32, uint64) error { return sentinel })
	qt.Assert(t, qt.ErrorIs(err, sentinel))
}

func TestArray(t *testing.T) {
	testutils.MustHaveBPF(t)

	a, err := NewArray[uint64]("test_counters", 4)
	if err != nil {
		t.Fatal("Can't create array:", err)
	}
	defer a.Close()

	qt.Assert(t, qt.Equals(a.Len(), uint32(4)))

	// Slots exist from creation and start zeroed.
	v, err := a.Get(0)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(v, uint64(0)))

	qt.Assert(t, qt.IsNil(a.Set(3, 42)))
	v, err = a.Get(3)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(v, uint64(42)))

	// Out of bounds.
	_, err = a.Get(4)
	qt.Assert(t, qt.IsNotNil(err))
}

func TestQueue(t *testing.T) {
	testutils.MustHaveBPF(t)

	q, err := NewQueue[uint64]("test_queue", 4)
	if err != nil {
		t.Fatal("Can't create queue:", err)
	}
	defer q.Close()

	qt.Assert(t, qt.IsNil(q.Push(1)))
	qt.Assert(t, qt.IsNil(q.Push(2)))

	v, err := q.Peek()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(v, uint64(1)))

	v, err = q.Pop()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(v, uint64(1)))

	v, err = q.Pop()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(v, uint64(2)))

	_, err = q.Pop()
	qt.Assert(t, qt.ErrorIs(err, bpf.ErrKeyNotExist))
}
