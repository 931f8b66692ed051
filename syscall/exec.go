package syscall

import (
	"strings"

	"defs"
	"elf"
	"fs"
	"proc"
	"vm"
)

// maxArg bounds the argv array fetched from user memory, matching
// elf.Load's own ceiling on pushed arguments.
const maxArg = 32

// sysExec implements spec.md §4.M's exec(path, argv): resolve path,
// build a brand new address space via elf.Load, and only on success
// replace the process's current one -- a failure at any point leaves
// the caller's existing address space untouched.
func sysExec(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	argv, aerr := fetchArgv(p, argAddr(p, 1))
	if aerr != 0 {
		return 0, aerr
	}

	st := state(p)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Namei(path.String(), st.cwd.Ip, p)
	if err != nil {
		fsys.Log.EndOp(p)
		return 0, errno(err)
	}

	fs.SetCallerProc(p)
	newUvm, entry, sp, lerr := elf.Load(ip, memAlloc, argv)
	ip.Unlock()
	ip.Put(p)
	fsys.Log.EndOp(p)
	if lerr != nil {
		return 0, defs.ENOEXEC
	}

	oldUvm := st.uvm
	st.uvm = newUvm
	st.pt = newUvm.PT
	st.tf.Epc = entry
	st.tf.Sp = sp
	st.tf.A1 = sp
	p.Data.Name = basename(path.String())
	p.Data.Size = int(newUvm.Size)
	oldUvm.ProcFree(vm.TRAMPOLINE, vm.TRAPFRAME)

	return uint64(len(argv)), 0
}

// fetchArgv copies an argv vector out of user memory: addr points to a
// NUL-terminated array of pointers, each pointing to a NUL-terminated
// string, per spec.md §4.L's argument-fetch helpers (xv6's fetchstr
// applied across an argv array).
func fetchArgv(p *proc.Proc, addr vm.VA_t) ([]string, defs.Err_t) {
	pt := state(p).pt
	var argv []string
	for i := 0; i < maxArg; i++ {
		ptrBuf := make([]byte, 8)
		if err := pt.CopyIn(addr+vm.VA_t(i*8), ptrBuf); err != nil {
			return nil, defs.EFAULT
		}
		uptr := vm.VA_t(le64(ptrBuf))
		if uptr == 0 {
			return argv, 0
		}
		s, err := pt.CopyInString(uptr, MAXPATH)
		if err != nil {
			return nil, defs.EFAULT
		}
		argv = append(argv, s)
	}
	return nil, defs.EINVAL
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// basename returns the final path component, matching exec's "set the
// process name to the file's basename".
func basename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
