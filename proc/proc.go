// Package proc is the process/CPU model and scheduler (component F):
// the process table, per-hart state, sleep/wakeup, and fork/exec/exit/
// wait/kill, per spec.md §4.F.
//
// The real kernel's context switch is a callee-saved register swap via
// a small assembly helper (explicitly external to this project per
// spec.md §1). This package's Go-native equivalent is a goroutine per
// process: "switching into p.data.context" becomes handing a baton
// channel to that process's goroutine and waiting for it to hand
// control back (on yield, sleep, or exit). This preserves the
// observable contract spec.md asks for -- exactly one hart ever has a
// given Proc Running, sleepers are parked off the run queue, wakeup
// moves them back to Runnable -- without pretending Go can do a
// register-level context switch.
package proc

import (
	"fmt"
	"sync"

	"defs"
	"limits"
	"spinlock"
)

const NPROC = 64
const NOFILE = 16
const NCPU = 8

// State is a Proc's run state.
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	}
	return "?"
}

// Channel is the opaque sleep/wakeup rendezvous tag from spec.md §3.
// Any comparable value works; helpers below construct the common ones.
type Channel any

type chanLog struct{}
type chanProc defs.Pid_t
type chanBuffer uintptr
type chanPipeRead uintptr
type chanPipeWrite uintptr

func ChanLog() Channel             { return chanLog{} }
func ChanProc(pid defs.Pid_t) Channel { return chanProc(pid) }
func ChanBuffer(addr uintptr) Channel { return chanBuffer(addr) }
func ChanPipeRead(id uintptr) Channel  { return chanPipeRead(id) }
func ChanPipeWrite(id uintptr) Channel { return chanPipeWrite(id) }

// Inner is the lock-protected part of a Proc, per spec.md §3.
type Inner struct {
	State   State
	Channel Channel
	Killed  bool
	Xstate  int
	Pid     defs.Pid_t
}

// Data is exclusively accessed by the hart currently running this Proc
// (or during construction/teardown), per spec.md §3. The open-file
// table, cwd inode, page table, and trapframe all live in UserData
// instead of typed fields: proc must not import fs/file/vm (see the
// package doc), so the syscall layer — which does import them — keeps
// its own per-process state there and type-asserts it back out.
type Data struct {
	Size     int
	Name     string
	UserData any
	Accnt    limits.Accnt
}

// Proc is one process control block.
type Proc struct {
	lock   *spinlock.Lock
	hart   *spinlock.Hart
	Inner  Inner
	Data   Data
	baton  chan struct{}
	yielded chan struct{}
	started bool
}

// Table is the global process table and its guarding lock (spec.md
// §5: "all mutable kernel tables ... are guarded by named spin locks").
type procTable struct {
	lock  *spinlock.Lock
	hart  *spinlock.Hart
	slots [NPROC]*Proc
	// parents maps child pid -> parent pid, stored outside Proc per
	// spec.md §3's "separate table indexed by child slot".
	parents map[defs.Pid_t]defs.Pid_t
	nextPid defs.Pid_t
}

// Each named table/proc lock here is given its own synthetic Hart for
// interrupt-nesting bookkeeping rather than sharing the real per-hart
// Hart from spinlock.ForHart(hartID): outside the scheduler loop itself
// a goroutine has no stable hart identity to nest against, since any
// goroutine may call into proc from any OS thread. The one true
// invariant this relaxes is cross-lock nesting depth on one physical
// hart; the single-lock acquire/release and sleep-never-with-a-spinlock
// contracts this kernel actually relies on are unaffected.
var Table = &procTable{
	lock:    spinlock.New("proc_table"),
	hart:    spinlock.ForHart(-1),
	parents: map[defs.Pid_t]defs.Pid_t{},
	nextPid: 1,
}

const InitPid defs.Pid_t = 1

// Cpu is per-hart scheduler state, per spec.md §3.
type Cpu struct {
	ID      int
	Proc    *Proc
	hart    *spinlock.Hart
}

var cpusMu sync.Mutex
var cpus = map[int]*Cpu{}

// CpuFor returns (creating if needed) hart id's Cpu record.
func CpuFor(id int) *Cpu {
	cpusMu.Lock()
	defer cpusMu.Unlock()
	c, ok := cpus[id]
	if !ok {
		c = &Cpu{ID: id, hart: spinlock.ForHart(id)}
		cpus[id] = c
	}
	return c
}

// Alloc finds an Unused slot, assigns a PID, and returns a new Proc in
// state Used. Returns nil if the table is full ("out of proc").
func Alloc(name string) *Proc {
	Table.lock.Acquire(Table.hart, -1).Release()
	for i, p := range Table.slots {
		if p == nil {
			p = &Proc{
				lock:    spinlock.New(fmt.Sprintf("proc[%d]", i)),
				hart:    spinlock.ForHart(-2 - i),
				baton:   make(chan struct{}),
				yielded: make(chan struct{}),
			}
			g := Table.lock.Acquire(Table.hart, -1)
			pid := Table.nextPid
			Table.nextPid++
			Table.slots[i] = p
			g.Release()

			p.Inner = Inner{State: Used, Pid: pid}
			p.Data.Name = name
			return p
		}
	}
	return nil
}

// Pid returns p's process id (read without the lock: Pid is set once
// at Alloc and never mutated again).
func (p *Proc) Pid() defs.Pid_t { return p.Inner.Pid }

// Start launches p's goroutine body; body must call p.Yield, p.Sleep,
// or p.Exit to ever give control back to a scheduler, exactly as real
// kernel code never "returns" out of a running process except via one
// of those.
func (p *Proc) Start(body func(p *Proc)) {
	g := p.lock.Acquire(p.hart, 0)
	p.Inner.State = Runnable
	g.Release()
	go func() {
		<-p.baton
		body(p)
	}()
}

// Yield transitions Running -> Runnable and hands control back to the
// scheduler loop that scheduled this Proc.
func (p *Proc) Yield() {
	g := p.lock.Acquire(p.hart, 0)
	if p.Inner.State != Running {
		panic("proc: Yield called while not Running")
	}
	p.Inner.State = Runnable
	g.Release()
	p.yielded <- struct{}{}
	<-p.baton
}

// Sleep atomically releases the caller-supplied condition lock while
// holding p's inner lock, parks on channel c, and on wakeup reacquires
// the condition lock before returning -- per spec.md §4.F / §5's "close
// the wake-up window" requirement.
func (p *Proc) Sleep(c Channel, unlockCond func(), relockCond func()) {
	g := p.lock.Acquire(p.hart, 0)
	unlockCond()
	p.Inner.State = Sleeping
	p.Inner.Channel = c
	g.Release()
	p.yielded <- struct{}{}
	<-p.baton
	relockCond()
}

// Wakeup scans the process table and moves every Sleeping proc waiting
// on channel c to Runnable. Must not be called with any proc's inner
// lock held (spec.md §4.F).
func Wakeup(c Channel) {
	for _, p := range Table.slots {
		if p == nil {
			continue
		}
		g := p.lock.Acquire(p.hart, 0)
		if p.Inner.State == Sleeping && p.Inner.Channel == c {
			p.Inner.State = Runnable
			p.Inner.Channel = nil
		}
		g.Release()
	}
}

// Kill flips killed and, if the target is sleeping, wakes it so it can
// observe the kill at the next syscall-return or sleep-loop boundary.
func Kill(pid defs.Pid_t) defs.Err_t {
	for _, p := range Table.slots {
		if p == nil || p.Inner.Pid != pid {
			continue
		}
		g := p.lock.Acquire(p.hart, 0)
		p.Inner.Killed = true
		wake := p.Inner.State == Sleeping
		var ch Channel
		if wake {
			ch = p.Inner.Channel
			p.Inner.State = Runnable
			p.Inner.Channel = nil
		}
		g.Release()
		_ = wake
		_ = ch
		return 0
	}
	return defs.ESRCH
}

// Lookup finds the proc with the given pid, for a host simulator that
// needs to start a forked child's goroutine by the pid fork() returned
// to its parent (Fork marks a child Runnable but never calls Start
// on its behalf -- proc does not decide what a process's body is).
func Lookup(pid defs.Pid_t) (*Proc, bool) {
	for _, p := range Table.slots {
		if p != nil && p.Inner.Pid == pid {
			return p, true
		}
	}
	return nil, false
}

// Killed reports p's killed flag.
func (p *Proc) Killed() bool {
	g := p.lock.Acquire(p.hart, 0)
	defer g.Release()
	return p.Inner.Killed
}

// Scheduler is the per-hart scheduler loop body, per spec.md §4.F:
// scan the table for a Runnable slot, switch into it, and if a full
// pass finds nothing, idle. stop is closed by the caller (octosim) to
// end the loop during shutdown; in the absence of a real wfi
// instruction, idling yields the Go scheduler with runtime.Gosched-style
// backoff via a short channel receive timeout left to the caller.
func Scheduler(hartID int, idle func(), stop <-chan struct{}) {
	cpu := CpuFor(hartID)
	for {
		select {
		case <-stop:
			return
		default:
		}
		found := false
		for _, p := range Table.slots {
			if p == nil {
				continue
			}
			g := p.lock.Acquire(p.hart, hartID)
			if p.Inner.State != Runnable {
				g.Release()
				continue
			}
			p.Inner.State = Running
			cpu.Proc = p
			g.Release()
			found = true

			p.baton <- struct{}{}
			<-p.yielded

			cpu.Proc = nil
		}
		if !found {
			idle()
		}
	}
}

// Exit implements spec.md §4.F's exit(status): close files, reparent
// children to init, wake the parent, and become a Zombie forever.
// closeFiles and releaseCwd are supplied by callers (syscall layer)
// since proc does not import file/fs to avoid a cycle.
func (p *Proc) Exit(status int, closeFiles func(), releaseCwd func()) {
	closeFiles()
	releaseCwd()

	myPid := p.Inner.Pid
	g := Table.lock.Acquire(Table.hart, -1)
	for child, parent := range Table.parents {
		if parent == myPid {
			Table.parents[child] = InitPid
		}
	}
	parent, hasParent := Table.parents[myPid]
	g.Release()

	if hasParent {
		Wakeup(ChanProc(parent))
	}
	Wakeup(ChanProc(InitPid))

	pg := p.lock.Acquire(p.hart, 0)
	p.Inner.State = Zombie
	p.Inner.Xstate = status
	pg.Release()

	p.yielded <- struct{}{}
	// Never receives from p.baton again: the goroutine ends here,
	// matching "switch out forever (must not return)".
}

// Fork implements spec.md §4.F's fork: allocates a child Proc, records
// the parent relation, and marks it Runnable. The caller supplies
// copyUser (deep-copies the address space + trapframe into the child
// and installs the configured child Data) because proc does not
// import vm. If copyUser reports a failure (e.g. out of memory
// mid-copy), the child slot is freed before anyone else can observe
// it and the error propagates to the caller, matching xv6's fork()
// freeproc-on-failure path.
func (p *Proc) Fork(copyUser func(child *Proc) defs.Err_t) (*Proc, defs.Err_t) {
	child := Alloc(p.Data.Name)
	if child == nil {
		return nil, defs.EAGAIN
	}
	if err := copyUser(child); err != 0 {
		g := Table.lock.Acquire(Table.hart, -1)
		Table.slots[indexOf(child)] = nil
		g.Release()
		return nil, err
	}

	g := Table.lock.Acquire(Table.hart, -1)
	Table.parents[child.Inner.Pid] = p.Inner.Pid
	g.Release()

	cg := child.lock.Acquire(child.hart, 0)
	child.Inner.State = Runnable
	cg.Release()

	return child, 0
}

// Wait implements spec.md §4.F's wait: loop scanning children; a
// Zombie child yields its status and is freed. free is supplied by the
// caller to tear down the child's address space (proc doesn't import
// vm/fs).
func (p *Proc) Wait(free func(child *Proc)) (defs.Pid_t, int, defs.Err_t) {
	myPid := p.Inner.Pid
	for {
		g := Table.lock.Acquire(Table.hart, -1)
		havekids := false
		for childPid, parent := range Table.parents {
			if parent != myPid {
				continue
			}
			havekids = true
			for _, c := range Table.slots {
				if c == nil || c.Inner.Pid != childPid {
					continue
				}
				cg := c.lock.Acquire(c.hart, 0)
				if c.Inner.State == Zombie {
					xstate := c.Inner.Xstate
					cg.Release()
					delete(Table.parents, childPid)
					Table.slots[indexOf(c)] = nil
					g.Release()
					free(c)
					return childPid, xstate, 0
				}
				cg.Release()
			}
		}
		if !havekids {
			g.Release()
			return 0, 0, defs.ECHILD
		}
		p.Sleep(ChanProc(myPid), func() { g.Release() }, func() {})
	}
}

func indexOf(p *Proc) int {
	for i, s := range Table.slots {
		if s == p {
			return i
		}
	}
	return -1
}
