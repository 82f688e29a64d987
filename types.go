package bpf

import "fmt"

// MapType indicates the type map structure
// that will be initialized in the kernel.
type MapType uint32

// All the various map types that can be created
const (
	UnspecifiedMap MapType = iota
	// Hash is a hash map
	Hash
	// Array is an array map
	Array
	// ProgramArray - A program array map is a special kind of array map whose
	// map values contain only file descriptors referring to other eBPF
	// programs. Both the key_size and value_size must be exactly four bytes.
	ProgramArray
	// PerfEventArray maps CPU ids to perf event buffers.
	PerfEventArray
	// PerCPUHash gives each CPU its own copy of the hash.
	PerCPUHash
	// PerCPUArray gives each CPU its own copy of the array.
	PerCPUArray
	// StackTrace holds whole user and kernel stack traces.
	StackTrace
	// CGroupArray holds cgroup fds for cgroup checks.
	CGroupArray
	// LRUHash purges the least recently used items when full.
	LRUHash
	// LRUCPUHash is an LRU hash with per-CPU usage weighting.
	LRUCPUHash
	// LPMTrie is a longest-prefix-match trie.
	LPMTrie
	// ArrayOfMaps - each item in the array is another map.
	ArrayOfMaps
	// HashOfMaps - each item in the hash map is another map.
	HashOfMaps
	// DevMap holds network device ifindexes.
	DevMap
	// SockMap holds socket references.
	SockMap
	// CPUMap maps to CPUs for redirection.
	CPUMap
	// XSKMap holds AF_XDP socket references.
	XSKMap
	// SockHash is a hash of socket references.
	SockHash
	// CGroupStorage is per-cgroup storage.
	CGroupStorage
	// ReusePortSockArray holds SO_REUSEPORT socket references.
	ReusePortSockArray
	// PerCPUCGroupStorage is per-cgroup, per-CPU storage.
	PerCPUCGroupStorage
	// Queue is a FIFO with zero-sized keys.
	Queue
	// Stack is a LIFO with zero-sized keys.
	Stack
	// SkStorage is per-socket storage.
	SkStorage
	// DevMapHash is a hash-indexed DevMap.
	DevMapHash
	// StructOpsMap holds kernel struct_ops.
	StructOpsMap
	// RingBuf is a MPSC ring buffer shared with programs. Zero-sized keys
	// and values; max_entries sets the buffer size and must be a power of
	// two multiple of the page size.
	RingBuf
)

// hasKey returns true if the map kind addresses elements by key.
//
// Queues, stacks and ring buffers take no key on element operations.
func (mt MapType) hasKey() bool {
	switch mt {
	case Queue, Stack, RingBuf:
		return false
	default:
		return true
	}
}

func (mt MapType) String() string {
	switch mt {
	case UnspecifiedMap:
		return "Unspecified"
	case Hash:
		return "Hash"
	case Array:
		return "Array"
	case ProgramArray:
		return "ProgramArray"
	case PerfEventArray:
		return "PerfEventArray"
	case PerCPUHash:
		return "PerCPUHash"
	case PerCPUArray:
		return "PerCPUArray"
	case StackTrace:
		return "StackTrace"
	case CGroupArray:
		return "CGroupArray"
	case LRUHash:
		return "LRUHash"
	case LRUCPUHash:
		return "LRUCPUHash"
	case LPMTrie:
		return "LPMTrie"
	case ArrayOfMaps:
		return "ArrayOfMaps"
	case HashOfMaps:
		return "HashOfMaps"
	case Queue:
		return "Queue"
	case Stack:
		return "Stack"
	case RingBuf:
		return "RingBuf"
	default:
		return fmt.Sprintf("MapType(%d)", uint32(mt))
	}
}

// ProgramType of the eBPF program, determining the context the program
// runs in and the helpers it may call.
type ProgramType uint32

// eBPF program types
const (
	UnspecifiedProgram ProgramType = iota
	// SocketFilter socket or seccomp filter
	SocketFilter
	// Kprobe program
	Kprobe
	// SchedCLS traffic control shaper
	SchedCLS
	// SchedACT routing control shaper
	SchedACT
	// TracePoint program
	TracePoint
	// XDP program
	XDP
	// PerfEvent program
	PerfEvent
	// CGroupSKB program
	CGroupSKB
	// CGroupSock program
	CGroupSock
	// LWTIn program
	LWTIn
	// LWTOut program
	LWTOut
	// LWTXmit program
	LWTXmit
	// SockOps program
	SockOps
	// SkSKB program
	SkSKB
	// CGroupDevice program
	CGroupDevice
	// SkMsg program
	SkMsg
	// RawTracepoint program
	RawTracepoint
	// CGroupSockAddr program
	CGroupSockAddr
	// LWTSeg6Local program
	LWTSeg6Local
	// LircMode2 program
	LircMode2
	// SkReuseport program
	SkReuseport
	// FlowDissector program
	FlowDissector
	// CGroupSysctl program
	CGroupSysctl
	// RawTracepointWritable program
	RawTracepointWritable
	// CGroupSockopt program
	CGroupSockopt
	// Tracing program
	Tracing
)

func (pt ProgramType) String() string {
	switch pt {
	case UnspecifiedProgram:
		return "Unspecified"
	case SocketFilter:
		return "SocketFilter"
	case Kprobe:
		return "Kprobe"
	case TracePoint:
		return "TracePoint"
	case XDP:
		return "XDP"
	case PerfEvent:
		return "PerfEvent"
	case RawTracepoint:
		return "RawTracepoint"
	case Tracing:
		return "Tracing"
	default:
		return fmt.Sprintf("ProgramType(%d)", uint32(pt))
	}
}
