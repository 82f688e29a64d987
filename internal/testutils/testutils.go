// Package testutils holds helpers shared by tests that talk to the
// kernel.
package testutils

import (
	"debug/elf"
	"errors"
	"os"
	"testing"

	"github.com/arcjustin/bpf-api/internal/sys"
	"github.com/arcjustin/bpf-api/internal/unix"
)

// MustHaveBPF skips the test if the kernel denies creating BPF objects to
// the current process.
func MustHaveBPF(tb testing.TB) {
	tb.Helper()

	fd, err := sys.MapCreate(&sys.MapCreateAttr{
		MapType:    1, /* Hash */
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 1,
	})
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		tb.Skip("creating BPF objects requires CAP_BPF:", err)
	}
	if err != nil {
		tb.Fatal("probing BPF support:", err)
	}
	fd.Close()
}

// MustHaveTracefs skips the test if tracefs is not mounted or not
// accessible to the current process.
func MustHaveTracefs(tb testing.TB) {
	tb.Helper()

	for _, p := range []string{
		"/sys/kernel/tracing",
		"/sys/kernel/debug/tracing",
	} {
		if _, err := os.Stat(p + "/events"); err == nil {
			return
		}
	}

	tb.Skip("tracefs is not mounted or not accessible")
}

// MustHaveFile skips the test if path cannot be read, e.g. when the
// test binary runs in a stripped-down container.
func MustHaveFile(tb testing.TB, path string) {
	tb.Helper()

	if _, err := os.Stat(path); err != nil {
		tb.Skipf("missing %s: %s", path, err)
	}
}

// MustHaveSymbols skips the test if the ELF at path carries neither a
// symbol table nor dynamic symbols. Test binaries end up like this when
// they are linked with -s or -w.
func MustHaveSymbols(tb testing.TB, path string) {
	tb.Helper()

	f, err := elf.Open(path)
	if err != nil {
		tb.Skipf("parsing %s: %s", path, err)
	}
	defer f.Close()

	if _, err := f.Symbols(); err == nil {
		return
	}
	if _, err := f.DynamicSymbols(); err == nil {
		return
	}

	tb.Skipf("%s carries no symbols", path)
}
