// Package syscall is the trap-frame decoder and dispatcher (component
// L): it owns the one piece of per-process state proc deliberately
// does not know about (the page table, user address space, trapframe,
// fd table, and cwd inode), fetches a0-a5 off the trapframe the way
// original_source/src/proc.rs's TrapFrame lays them out, routes to the
// 21 handlers below, and negates a defs.Err_t into the raw return
// value user space expects, per spec.md §4.L.
package syscall

import (
	"defs"
	"fd"
	"fs"
	"mem"
	"proc"
	"trap"
	"ustr"
	"vm"
)

// MAXPATH bounds a single path argument copied in from user memory,
// matching the xv6/original_source convention spec.md §4.L inherits.
const MAXPATH = 128

// procState is the per-process state syscall owns on proc's behalf,
// stored in p.Data.UserData and recovered by a type assertion: proc
// must not import vm/fs/fd/trap (see proc's package doc), so this is
// the one place all four come together.
type procState struct {
	pt  *vm.PageTable
	uvm *vm.Uvm
	tf  *trap.Trapframe
	fds [proc.NOFILE]*fd.Fd_t
	cwd *fd.Cwd_t
}

var fsys *fs.FS
var memAlloc *mem.Allocator

// Init wires the mounted filesystem and physical allocator this
// package's handlers operate against. Called once at boot by the host
// simulator before any process runs.
func Init(f *fs.FS, a *mem.Allocator) {
	fsys = f
	memAlloc = a
}

func state(p *proc.Proc) *procState {
	return p.Data.UserData.(*procState)
}

// NewProcState builds a fresh process's address space: an empty page
// table, the caller-supplied root inode for cwd, a zeroed trapframe,
// and an empty fd table. Used by the host simulator to build each
// process it drives (firstCode, when non-nil, is installed at VA 0).
// sys_exec does not use it; exec builds its new image through elf.Load.
func NewProcState(rootIp *fs.Inode, firstCode []byte) (*procState, error) {
	pt, err := vm.New(memAlloc)
	if err != nil {
		return nil, err
	}
	uv := vm.NewUvm(pt)
	if firstCode != nil {
		if err := uv.First(firstCode); err != nil {
			return nil, err
		}
	}
	return &procState{
		pt:  pt,
		uvm: uv,
		tf:  &trap.Trapframe{},
		cwd: fd.MkRootCwd(rootIp),
	}, nil
}

// Install points p.Data.UserData at st and syncs p.Data.Size to the
// address space's current high-water mark.
func Install(p *proc.Proc, st *procState) {
	p.Data.UserData = st
	p.Data.Size = int(st.uvm.Size)
}

// Trapframe exposes the process's trapframe to the host simulator's
// trampoline glue, which must read/write a0-a7 directly on trap
// entry/exit.
func Trapframe(p *proc.Proc) *trap.Trapframe { return state(p).tf }

// PageTable exposes the process's root page table for satp setup.
func PageTable(p *proc.Proc) *vm.PageTable { return state(p).pt }

// Uvm exposes a process's user address space, for a host simulator
// that needs to grow it to stage syscall pointer arguments before a
// real user program's sbrk would ever do so.
func Uvm(p *proc.Proc) *vm.Uvm { return state(p).uvm }

// CwdPath exposes a process's current working directory path, for
// diag to print alongside a faulting process's other state.
func CwdPath(p *proc.Proc) string { return state(p).cwd.Path.String() }

// logOps returns the beginOp/endOp closures file.File.Close and similar
// callback-taking APIs expect, bound to p's log transaction.
func logOps(p *proc.Proc) (func(), func()) {
	return func() { fsys.Log.BeginOp(p) }, func() { fsys.Log.EndOp(p) }
}

// argInt reads the n'th syscall argument as a signed 32-bit value, per
// spec.md §4.L's argument-fetch helpers (xv6's argint).
func argInt(p *proc.Proc, n int) int {
	return int(int32(state(p).tf.Arg(n)))
}

func argAddr(p *proc.Proc, n int) vm.VA_t {
	return vm.VA_t(state(p).tf.Arg(n))
}

// argPath copies a NUL-terminated path argument out of user memory,
// per spec.md §4.L (xv6's argstr), bounded to MAXPATH. Component
// length is not checked here; path lookup reports an over-long
// component as ENAMETOOLONG.
func argPath(p *proc.Proc, n int) (ustr.Ustr, defs.Err_t) {
	s, err := state(p).pt.CopyInString(argAddr(p, n), MAXPATH)
	if err != nil {
		return nil, defs.EFAULT
	}
	us := ustr.Ustr(s)
	return us, 0
}

// argFd validates the n'th argument as an open file descriptor and
// returns both its number and the Fd_t it names, per spec.md §4.L
// (xv6's argfd).
func argFd(p *proc.Proc, n int) (int, *fd.Fd_t, defs.Err_t) {
	num := argInt(p, n)
	if num < 0 || num >= proc.NOFILE {
		return 0, nil, defs.EBADF
	}
	f := state(p).fds[num]
	if f == nil {
		return 0, nil, defs.EBADF
	}
	return num, f, 0
}

// allocFdSlot finds an unused descriptor number and installs f into
// it, per spec.md §4.L (xv6's fdalloc).
func allocFdSlot(p *proc.Proc, f *fd.Fd_t) (int, defs.Err_t) {
	st := state(p)
	for i, cur := range st.fds {
		if cur == nil {
			st.fds[i] = f
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

// handler is one syscall's implementation: fetch its own arguments off
// the trapframe, do the work, and return (value, errno).
type handler func(p *proc.Proc) (uint64, defs.Err_t)

var table = map[uint64]handler{
	defs.SYS_FORK:   sysFork,
	defs.SYS_EXIT:   sysExit,
	defs.SYS_WAIT:   sysWait,
	defs.SYS_PIPE:   sysPipe,
	defs.SYS_READ:   sysRead,
	defs.SYS_KILL:   sysKill,
	defs.SYS_EXEC:   sysExec,
	defs.SYS_FSTAT:  sysFstat,
	defs.SYS_CHDIR:  sysChdir,
	defs.SYS_DUP:    sysDup,
	defs.SYS_GETPID: sysGetpid,
	defs.SYS_SBRK:   sysSbrk,
	defs.SYS_SLEEP:  sysSleep,
	defs.SYS_UPTIME: sysUptime,
	defs.SYS_OPEN:   sysOpen,
	defs.SYS_WRITE:  sysWrite,
	defs.SYS_MKNOD:  sysMknod,
	defs.SYS_UNLINK: sysUnlink,
	defs.SYS_LINK:   sysLink,
	defs.SYS_MKDIR:  sysMkdir,
	defs.SYS_CLOSE:  sysClose,
}

// Dispatch is the trap.Handlers.Syscall callback: look up a7, run the
// handler, and write its result (or its negated errno on failure) to
// a0, per spec.md §4.L/§4.G. A process found killed mid-syscall still
// runs its handler to completion (so any locks it took get released)
// before the trap-return path observes p.Killed() and calls exit, per
// spec.md §4.G's note.
func Dispatch(p *proc.Proc) {
	tf := state(p).tf
	h, ok := table[tf.SyscallNum()]
	if !ok {
		tf.SetReturn(uint64(-int64(defs.ENOSYS)))
		return
	}
	ret, err := h(p)
	if err != 0 {
		tf.SetReturn(uint64(-int64(err)))
		return
	}
	tf.SetReturn(ret)
}
