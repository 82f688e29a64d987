package sys

// Attributes for the BPF syscall, mirroring union bpf_attr from the kernel
// UAPI. Field order, width and padding must match the kernel bit for bit:
// the kernel rejects attrs whose trailing bytes are non-zero, and reads
// pointers from fixed offsets.

// Cmd identifies a command of the BPF syscall.
type Cmd uint32

const (
	BPF_MAP_CREATE                 Cmd = 0
	BPF_MAP_LOOKUP_ELEM            Cmd = 1
	BPF_MAP_UPDATE_ELEM            Cmd = 2
	BPF_MAP_DELETE_ELEM            Cmd = 3
	BPF_MAP_GET_NEXT_KEY           Cmd = 4
	BPF_PROG_LOAD                  Cmd = 5
	BPF_OBJ_PIN                    Cmd = 6
	BPF_OBJ_GET                    Cmd = 7
	BPF_OBJ_GET_INFO_BY_FD         Cmd = 15
	BPF_RAW_TRACEPOINT_OPEN        Cmd = 17
	BPF_MAP_LOOKUP_AND_DELETE_ELEM Cmd = 21
)

// Flags for map element updates.
const (
	BPF_ANY     uint64 = 0
	BPF_NOEXIST uint64 = 1
	BPF_EXIST   uint64 = 2
)

const objNameLen = 16

// ObjName is a null-terminated string made up of 'A-Za-z0-9_' characters.
type ObjName [objNameLen]byte

// NewObjName truncates the result if it is too long.
func NewObjName(name string) ObjName {
	var result ObjName
	copy(result[:objNameLen-1], name)
	return result
}

// MapCreateAttr is the attr for BPF_MAP_CREATE.
type MapCreateAttr struct {
	MapType        uint32
	KeySize        uint32
	ValueSize      uint32
	MaxEntries     uint32
	MapFlags       uint32
	InnerMapFd     uint32
	NumaNode       uint32
	MapName        ObjName
	MapIfindex     uint32
	BtfFd          uint32
	BtfKeyTypeId   uint32
	BtfValueTypeId uint32
}

// MapElemAttr is the attr for BPF_MAP_{LOOKUP,UPDATE,DELETE}_ELEM and
// BPF_MAP_LOOKUP_AND_DELETE_ELEM.
type MapElemAttr struct {
	MapFd uint32
	_     [4]byte
	Key   Pointer
	Value Pointer
	Flags uint64
}

// MapGetNextKeyAttr is the attr for BPF_MAP_GET_NEXT_KEY.
type MapGetNextKeyAttr struct {
	MapFd   uint32
	_       [4]byte
	Key     Pointer
	NextKey Pointer
}

// ProgLoadAttr is the attr for BPF_PROG_LOAD.
type ProgLoadAttr struct {
	ProgType           uint32
	InsnCnt            uint32
	Insns              Pointer
	License            Pointer
	LogLevel           uint32
	LogSize            uint32
	LogBuf             Pointer
	KernVersion        uint32  // since 4.1  2541517c32be
	ProgFlags          uint32  // since 4.11 e07b98d9bffe
	ProgName           ObjName // since 4.15 067cae47771c
	ProgIfindex        uint32  // since 4.15 1f6f4cb7ba21
	ExpectedAttachType uint32  // since 4.17 5e43f899b03a
}

// ObjPinAttr is the attr for BPF_OBJ_PIN and BPF_OBJ_GET.
type ObjPinAttr struct {
	Pathname  Pointer
	BpfFd     uint32
	FileFlags uint32
}

// ObjGetInfoByFdAttr is the attr for BPF_OBJ_GET_INFO_BY_FD.
type ObjGetInfoByFdAttr struct {
	BpfFd   uint32
	InfoLen uint32
	Info    Pointer
}

// MapInfo mirrors struct bpf_map_info, truncated to the fields present
// since 4.15.
type MapInfo struct {
	Type       uint32
	Id         uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	MapFlags   uint32
	Name       ObjName
}

// ProgInfo mirrors struct bpf_prog_info, truncated to the fields present
// since 4.15.
type ProgInfo struct {
	Type            uint32
	Id              uint32
	Tag             [8]byte
	JitedProgLen    uint32
	XlatedProgLen   uint32
	JitedProgInsns  Pointer
	XlatedProgInsns Pointer
	LoadTime        uint64
	CreatedByUid    uint32
	NrMapIds        uint32
	MapIds          Pointer
	Name            ObjName
}

// RawTracepointOpenAttr is the attr for BPF_RAW_TRACEPOINT_OPEN.
type RawTracepointOpenAttr struct {
	Name   Pointer
	ProgFd uint32
}
