// Package bpf loads eBPF programs and maps into the Linux kernel and
// attaches them to tracepoints, kprobes and uprobes, using only raw
// syscalls. It does not depend on libbpf or cgo.
//
// The package expects bytecode from an external compiler as a flat
// instruction buffer plus relocation metadata. Maps referenced by the
// bytecode are created first, then patched into the instruction stream
// during load. See the link package for attaching loaded programs to
// kernel instrumentation points.
//
// All returned handles own exactly one kernel file descriptor and must be
// closed by the caller. Close attachments before programs, and programs
// before maps; the kernel reference-counts the underlying objects, so a
// different order leaks descriptors in this process but never corrupts
// kernel state.
package bpf
