package syscall

import (
	"encoding/binary"

	"defs"
	"fd"
	"proc"
	"trap"
	"vm"
)

// sysFork implements spec.md §4.F's fork: deep-copy the parent's
// address space and trapframe, zero the child's return register, and
// dup every open fd and the cwd inode.
func sysFork(p *proc.Proc) (uint64, defs.Err_t) {
	pst := state(p)
	child, err := p.Fork(func(c *proc.Proc) defs.Err_t {
		cpt, merr := vm.New(memAlloc)
		if merr != nil {
			return defs.ENOMEM
		}
		cuvm := vm.NewUvm(cpt)
		if err := pst.uvm.Copy(cuvm); err != nil {
			return defs.ENOMEM
		}
		ctf := *pst.tf
		ctf.A0 = 0 // fork returns 0 in the child

		cst := &procState{pt: cpt, uvm: cuvm, tf: &ctf}
		for i, f := range pst.fds {
			if f != nil {
				cst.fds[i] = fd.Copyfd(f)
			}
		}
		cst.cwd = pst.cwd.Dup()
		Install(c, cst)
		return 0
	})
	if err != 0 {
		return 0, err
	}
	return uint64(child.Pid()), 0
}

// sysExit implements spec.md §4.F's exit(status): close every fd,
// release the cwd inode within a log op, then switch out forever.
func sysExit(p *proc.Proc) (uint64, defs.Err_t) {
	status := argInt(p, 0)
	st := state(p)
	p.Exit(status, func() {
		begin, end := logOps(p)
		for i, f := range st.fds {
			if f != nil {
				f.Close(p, begin, end)
				st.fds[i] = nil
			}
		}
	}, func() {
		fsys.Log.BeginOp(p)
		st.cwd.Ip.Put(p)
		fsys.Log.EndOp(p)
	})
	return 0, 0 // unreachable: p.Exit never returns
}

// sysWait implements spec.md §4.F's wait: block for a zombie child,
// optionally copy out its exit status, and tear down its address
// space via vm.Uvm.ProcFree.
func sysWait(p *proc.Proc) (uint64, defs.Err_t) {
	addr := argAddr(p, 0)
	childPid, xstate, err := p.Wait(func(child *proc.Proc) {
		cst := child.Data.UserData.(*procState)
		cst.uvm.ProcFree(vm.TRAMPOLINE, vm.TRAPFRAME)
	})
	if err != 0 {
		return 0, err
	}
	if addr != 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(xstate))
		if err := state(p).pt.CopyOut(addr, buf); err != nil {
			return 0, defs.EFAULT
		}
	}
	return uint64(childPid), 0
}

// sysKill implements spec.md §4.F's kill(pid).
func sysKill(p *proc.Proc) (uint64, defs.Err_t) {
	return 0, proc.Kill(defs.Pid_t(argInt(p, 0)))
}

// sysGetpid implements spec.md §4.F's getpid().
func sysGetpid(p *proc.Proc) (uint64, defs.Err_t) {
	return uint64(p.Pid()), 0
}

// sysSbrk implements spec.md §4.E/§4.L's sbrk(n): grow or shrink the
// user heap by n bytes, returning the address it used to end at.
func sysSbrk(p *proc.Proc) (uint64, defs.Err_t) {
	n := argInt(p, 0)
	st := state(p)
	old := st.uvm.Size
	if n >= 0 {
		if err := st.uvm.Grow(old+vm.VA_t(n), vm.PTE_W); err != nil {
			return 0, defs.ENOMEM
		}
	} else {
		st.uvm.Shrink(old - vm.VA_t(-n))
	}
	p.Data.Size = int(st.uvm.Size)
	return uint64(old), 0
}

// sysSleep implements spec.md §4.G's sleep(ticks): block until Ticks
// has advanced by n, checking-then-sleeping under trap.LockTicks so a
// timer interrupt between the check and the park can't be missed.
func sysSleep(p *proc.Proc) (uint64, defs.Err_t) {
	n := int64(argInt(p, 0))
	if n <= 0 {
		return 0, 0
	}
	g := trap.LockTicks()
	target := trap.Ticks + n
	for trap.Ticks < target {
		if p.Killed() {
			g.Release()
			return 0, defs.EINTR
		}
		p.Sleep(trap.ChanTicks(), g.Release, func() { g = trap.LockTicks() })
	}
	g.Release()
	return 0, 0
}

// sysUptime implements spec.md §4.G's uptime(): the current tick count.
func sysUptime(p *proc.Proc) (uint64, defs.Err_t) {
	g := trap.LockTicks()
	defer g.Release()
	return uint64(trap.Ticks), 0
}
