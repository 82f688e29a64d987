package bpf

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/unix"
)

// checkPinPath verifies that path lives on a BPF filesystem.
//
// Pinning to any other filesystem fails in the kernel with EPERM and a
// less than helpful message, so catch it early.
func checkPinPath(path string) error {
	var fs unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &fs); err != nil {
		return fmt.Errorf("statfs %s: %w", filepath.Dir(path), err)
	}

	if fs.Type != unix.BPF_FS_MAGIC {
		return fmt.Errorf("%s is not on a bpf filesystem", path)
	}
	return nil
}

func pinObject(path string, fd *sys.FD) error {
	if err := checkPinPath(path); err != nil {
		return err
	}

	attr := sys.ObjPinAttr{
		Pathname: sys.NewStringPointer(path),
		BpfFd:    fd.Uint(),
	}
	if err := sys.ObjPin(&attr); err != nil {
		return fmt.Errorf("pin object %s: %w", path, err)
	}
	return nil
}

func objGet(path string) (*sys.FD, error) {
	attr := sys.ObjPinAttr{
		Pathname: sys.NewStringPointer(path),
	}
	fd, err := sys.ObjGet(&attr)
	if err != nil {
		return nil, fmt.Errorf("get pinned object %s: %w", path, err)
	}
	return fd, nil
}

// Pin persists the map past the lifetime of the process at the given
// path, which must live on a bpf filesystem.
//
// Returns an error wrapping unix.EEXIST if the path already exists.
func (m *Map) Pin(path string) error {
	if m.fd.IsClosed() {
		return ErrClosed
	}
	return pinObject(path, m.fd)
}

// Pin persists the program past the lifetime of the process at the given
// path, which must live on a bpf filesystem.
//
// Returns an error wrapping unix.EEXIST if the path already exists.
func (p *Program) Pin(path string) error {
	if p.fd.IsClosed() {
		return ErrClosed
	}
	return pinObject(path, p.fd)
}

// LoadPinnedMap opens a map pinned at the given path.
//
// The returned Map owns a new file descriptor for the same kernel object;
// its layout is recovered from the kernel.
func LoadPinnedMap(path string) (*Map, error) {
	fd, err := objGet(path)
	if err != nil {
		return nil, err
	}

	var info sys.MapInfo
	attr := sys.ObjGetInfoByFdAttr{
		BpfFd:   fd.Uint(),
		InfoLen: uint32(unsafe.Sizeof(info)),
		Info:    sys.UnsafePointer(unsafe.Pointer(&info)),
	}
	if err := sys.ObjGetInfoByFD(&attr); err != nil {
		fd.Close()
		return nil, fmt.Errorf("get map info: %w", err)
	}

	return &Map{
		fd:         fd,
		name:       cstring(info.Name[:]),
		typ:        MapType(info.Type),
		keySize:    info.KeySize,
		valueSize:  info.ValueSize,
		maxEntries: info.MaxEntries,
		flags:      info.MapFlags,
	}, nil
}

// LoadPinnedProgram opens a program pinned at the given path.
func LoadPinnedProgram(path string) (*Program, error) {
	fd, err := objGet(path)
	if err != nil {
		return nil, err
	}

	var info sys.ProgInfo
	attr := sys.ObjGetInfoByFdAttr{
		BpfFd:   fd.Uint(),
		InfoLen: uint32(unsafe.Sizeof(info)),
		Info:    sys.UnsafePointer(unsafe.Pointer(&info)),
	}
	if err := sys.ObjGetInfoByFD(&attr); err != nil {
		fd.Close()
		return nil, fmt.Errorf("get program info: %w", err)
	}

	return &Program{
		fd:   fd,
		name: cstring(info.Name[:]),
		typ:  ProgramType(info.Type),
	}, nil
}
