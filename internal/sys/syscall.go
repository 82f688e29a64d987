package sys

import (
	"errors"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/arcjustin/bpf-api/internal/unix"
)

// ENOTSUPP is a Linux internal error code that has leaked into UAPI.
const ENOTSUPP = syscall.Errno(524)

// BPF wraps SYS_BPF.
//
// Any pointers contained in attr must use the Pointer type from this package.
func BPF(cmd Cmd, attr unsafe.Pointer, size uintptr) (uintptr, error) {
	r1, _, errNo := unix.Syscall(unix.SYS_BPF, uintptr(cmd), uintptr(attr), size)
	runtime.KeepAlive(attr)

	var err error
	if errNo != 0 {
		err = wrappedErrno{errNo}
	}

	return r1, err
}

// MapCreate wraps BPF_MAP_CREATE.
func MapCreate(attr *MapCreateAttr) (*FD, error) {
	fd, err := BPF(BPF_MAP_CREATE, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	if err != nil {
		return nil, err
	}

	return NewFD(int(fd))
}

// MapLookupElem wraps BPF_MAP_LOOKUP_ELEM.
func MapLookupElem(attr *MapElemAttr) error {
	_, err := BPF(BPF_MAP_LOOKUP_ELEM, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// MapUpdateElem wraps BPF_MAP_UPDATE_ELEM.
func MapUpdateElem(attr *MapElemAttr) error {
	_, err := BPF(BPF_MAP_UPDATE_ELEM, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// MapDeleteElem wraps BPF_MAP_DELETE_ELEM.
func MapDeleteElem(attr *MapElemAttr) error {
	_, err := BPF(BPF_MAP_DELETE_ELEM, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// MapLookupAndDeleteElem wraps BPF_MAP_LOOKUP_AND_DELETE_ELEM.
//
// Available from 4.20 for queue and stack maps.
func MapLookupAndDeleteElem(attr *MapElemAttr) error {
	_, err := BPF(BPF_MAP_LOOKUP_AND_DELETE_ELEM, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// MapGetNextKey wraps BPF_MAP_GET_NEXT_KEY.
func MapGetNextKey(attr *MapGetNextKeyAttr) error {
	_, err := BPF(BPF_MAP_GET_NEXT_KEY, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// ProgLoad wraps BPF_PROG_LOAD.
func ProgLoad(attr *ProgLoadAttr) (*FD, error) {
	for {
		fd, err := BPF(BPF_PROG_LOAD, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
		// As of ~4.20 the verifier can be interrupted by a signal,
		// and returns EAGAIN in that case.
		if errors.Is(err, unix.EAGAIN) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return NewFD(int(fd))
	}
}

// ObjPin wraps BPF_OBJ_PIN.
func ObjPin(attr *ObjPinAttr) error {
	_, err := BPF(BPF_OBJ_PIN, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// ObjGet wraps BPF_OBJ_GET.
func ObjGet(attr *ObjPinAttr) (*FD, error) {
	fd, err := BPF(BPF_OBJ_GET, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	if err != nil {
		return nil, err
	}

	return NewFD(int(fd))
}

// ObjGetInfoByFD wraps BPF_OBJ_GET_INFO_BY_FD.
//
// Available from 4.13.
func ObjGetInfoByFD(attr *ObjGetInfoByFdAttr) error {
	_, err := BPF(BPF_OBJ_GET_INFO_BY_FD, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	return err
}

// RawTracepointOpen wraps BPF_RAW_TRACEPOINT_OPEN.
//
// Available from 4.17.
func RawTracepointOpen(attr *RawTracepointOpenAttr) (*FD, error) {
	fd, err := BPF(BPF_RAW_TRACEPOINT_OPEN, unsafe.Pointer(attr), unsafe.Sizeof(*attr))
	if err != nil {
		return nil, err
	}

	return NewFD(int(fd))
}

// wrappedErrno wraps syscall.Errno to prevent direct comparisons with
// syscall.E* or unix.E* constants.
//
// You should never export an error of this type.
type wrappedErrno struct {
	syscall.Errno
}

func (we wrappedErrno) Unwrap() error {
	return we.Errno
}

func (we wrappedErrno) Error() string {
	if we.Errno == ENOTSUPP {
		return "operation not supported"
	}
	return we.Errno.Error()
}
