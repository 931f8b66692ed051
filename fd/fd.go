// Package fd implements the per-process descriptor table entry and
// current-working-directory handle, grounded closely on
// biscuit/src/fd/fd.go — one of the least-changed packages since the
// teacher's Fd_t is already domain-neutral (an fd is just a permission
// mask plus a pointer to the real object).
package fd

import (
	"sync"

	"file"
	"fs"
	"proc"
	"ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents an open file descriptor: a file table handle plus
// the permission bits open() established for it.
type Fd_t struct {
	File  file.File
	Perms int
}

// Copyfd duplicates an open file descriptor by bumping the
// underlying file table entry's refcount.
func Copyfd(fd *Fd_t) *Fd_t {
	nfd := &Fd_t{}
	*nfd = *fd
	nfd.File = fd.File.Dup()
	return nfd
}

// Close closes the descriptor's file table entry.
func (fd *Fd_t) Close(p *proc.Proc, beginOp, endOp func()) {
	fd.File.Close(p, beginOp, endOp)
}

// Cwd_t tracks the current working directory for a process: per
// spec.md's fork ("dup ... cwd inode") and exit ("release cwd within a
// log op"), cwd is an inode held exactly like an open file's, not a
// file-table handle -- there is no fd behind "."  Path is bookkeeping
// only (no syscall in spec.md §4.L exposes it back to user space; diag
// prints it alongside a faulting process's other state).
type Cwd_t struct {
	sync.Mutex // serializes concurrent chdirs
	Ip   *fs.Inode
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// MkRootCwd constructs a Cwd_t rooted at "/" over the given root inode.
func MkRootCwd(root *fs.Inode) *Cwd_t {
	return &Cwd_t{Ip: root, Path: ustr.MkUstrRoot()}
}

// Dup bumps the cwd inode's refcount, for fork's "dup ... cwd inode."
func (cwd *Cwd_t) Dup() *Cwd_t {
	return &Cwd_t{Ip: cwd.Ip.Dup(), Path: cwd.Path}
}
