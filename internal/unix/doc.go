// Package unix is a thin wrapper around golang.org/x/sys/unix.
//
// It collects the subset of syscall plumbing the library depends on in a
// single place, so the rest of the module never imports the x/sys package
// directly.
package unix
