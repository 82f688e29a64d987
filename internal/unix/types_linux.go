//go:build linux

package unix

import (
	"syscall"

	linux "golang.org/x/sys/unix"
)

const (
	ENOENT     = linux.ENOENT
	EEXIST     = linux.EEXIST
	EAGAIN     = linux.EAGAIN
	ENOSPC     = linux.ENOSPC
	EINVAL     = linux.EINVAL
	EINTR      = linux.EINTR
	EPERM      = linux.EPERM
	EACCES     = linux.EACCES
	ESRCH      = linux.ESRCH
	ENODEV     = linux.ENODEV
	EBADF      = linux.EBADF
	E2BIG      = linux.E2BIG
	ENOMEM     = linux.ENOMEM
	EFAULT     = linux.EFAULT
	EILSEQ     = linux.EILSEQ
	ERANGE     = linux.ERANGE
	EOPNOTSUPP = linux.EOPNOTSUPP

	SYS_BPF             = linux.SYS_BPF
	SYS_PERF_EVENT_OPEN = linux.SYS_PERF_EVENT_OPEN

	BPF_F_RDONLY_PROG = linux.BPF_F_RDONLY_PROG
	BPF_F_WRONLY_PROG = linux.BPF_F_WRONLY_PROG
	BPF_F_NO_PREALLOC = linux.BPF_F_NO_PREALLOC
	BPF_OBJ_NAME_LEN  = linux.BPF_OBJ_NAME_LEN
	BPF_FS_MAGIC      = linux.BPF_FS_MAGIC
	TRACEFS_MAGIC     = linux.TRACEFS_MAGIC
	DEBUGFS_MAGIC     = linux.DEBUGFS_MAGIC

	PERF_TYPE_TRACEPOINT   = linux.PERF_TYPE_TRACEPOINT
	PERF_SAMPLE_RAW        = linux.PERF_SAMPLE_RAW
	PERF_ATTR_SIZE_VER1    = linux.PERF_ATTR_SIZE_VER1
	PERF_FLAG_FD_CLOEXEC   = linux.PERF_FLAG_FD_CLOEXEC
	PERF_EVENT_IOC_ENABLE  = linux.PERF_EVENT_IOC_ENABLE
	PERF_EVENT_IOC_DISABLE = linux.PERF_EVENT_IOC_DISABLE
	PERF_EVENT_IOC_SET_BPF = linux.PERF_EVENT_IOC_SET_BPF

	O_CLOEXEC       = linux.O_CLOEXEC
	F_DUPFD_CLOEXEC = linux.F_DUPFD_CLOEXEC

	RLIM_INFINITY  = linux.RLIM_INFINITY
	RLIMIT_MEMLOCK = linux.RLIMIT_MEMLOCK
)

type Errno = syscall.Errno

type Statfs_t = linux.Statfs_t
type Rlimit = linux.Rlimit
type PerfEventAttr = linux.PerfEventAttr

func Syscall(trap, a1, a2, a3 uintptr) (r1, r2 uintptr, err syscall.Errno) {
	return linux.Syscall(trap, a1, a2, a3)
}

func PerfEventOpen(attr *PerfEventAttr, pid int, cpu int, groupFd int, flags int) (int, error) {
	return linux.PerfEventOpen(attr, pid, cpu, groupFd, flags)
}

func IoctlSetInt(fd int, req uint, value int) error {
	return linux.IoctlSetInt(fd, req, value)
}

func Close(fd int) error {
	return linux.Close(fd)
}

func FcntlInt(fd uintptr, cmd, arg int) (int, error) {
	return linux.FcntlInt(fd, cmd, arg)
}

func Statfs(path string, buf *Statfs_t) error {
	return linux.Statfs(path, buf)
}

func Prlimit(pid, resource int, new, old *Rlimit) error {
	return linux.Prlimit(pid, resource, new, old)
}

func BytePtrFromString(s string) (*byte, error) {
	return linux.BytePtrFromString(s)
}

func ByteSliceFromString(s string) ([]byte, error) {
	return linux.ByteSliceFromString(s)
}
