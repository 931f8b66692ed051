package trap

import (
	"time"

	"proc"
	"spinlock"
)

// Cause enumerates the trap causes a host simulator decodes from
// scause before calling Dispatch, per spec.md §4.G.
type Cause int

const (
	CauseEnvCallU Cause = iota // environment-call-from-U: a syscall
	CauseTimer
	CauseExternal
	CauseUnknown
)

// Ticks is the global tick counter, incremented on hart 0's timer
// interrupt and wired to Channel Ticks's wakeup, per spec.md §4.G/§1.
// ticksMu guards it so sys_sleep can check-then-sleep atomically
// instead of racing the timer interrupt's increment (the same
// "close the wake-up window" requirement spec.md §4.F/§5 applies to
// every other condition variable in this kernel).
var Ticks int64
var ticksMu = spinlock.New("ticks")
var ticksHart = spinlock.ForHart(-1040)

// LockTicks acquires the lock guarding Ticks.
func LockTicks() *spinlock.Guard { return ticksMu.Acquire(ticksHart, 0) }

// ChanTicks identifies the wait channel sleep(uptime) blocks on.
type chanTicks struct{}

func ChanTicks() proc.Channel { return chanTicks{} }

// Handlers bundles the callbacks Dispatch routes a decoded cause into.
// The host simulator supplies these; this package only encodes the
// policy of which one fires for which cause.
type Handlers struct {
	Syscall     func(p *proc.Proc)
	ExternalIRQ func()
	RearmTimer  func()
}

// Dispatch implements the "user trap" decision tree from spec.md §4.G:
// ecall advances epc by 4 and invokes the syscall dispatcher; a timer
// interrupt on hart 0 bumps Ticks and wakes waiters; an external
// interrupt runs the PLIC claim/ISR/complete cycle (the PLIC itself is
// external per spec.md §1, so this only calls the supplied hook).
// Killed processes still run Handlers so any held locks are released
// through the normal call path, then the caller must exit(-1) per the
// spec's "if killed, call exit" note.
func Dispatch(cause Cause, hartID int, tf *Trapframe, p *proc.Proc, h Handlers) {
	switch cause {
	case CauseEnvCallU:
		tf.Epc += 4
		if h.Syscall != nil {
			start := time.Now()
			h.Syscall(p)
			p.Data.Accnt.Systadd(int64(time.Since(start)))
		}
	case CauseTimer:
		if hartID == 0 {
			g := LockTicks()
			Ticks++
			g.Release()
			proc.Wakeup(ChanTicks())
		}
		if h.RearmTimer != nil {
			h.RearmTimer()
		}
	case CauseExternal:
		if h.ExternalIRQ != nil {
			h.ExternalIRQ()
		}
	default:
		panic("trap: kernel trap: unknown scause")
	}
}

// KernelDispatch implements "kernel trap": spec.md §4.G requires this
// path never observes an ecall, only the IRQ/timer categories.
func KernelDispatch(cause Cause, hartID int, h Handlers) {
	switch cause {
	case CauseTimer:
		if hartID == 0 {
			g := LockTicks()
			Ticks++
			g.Release()
			proc.Wakeup(ChanTicks())
		}
	case CauseExternal:
		if h.ExternalIRQ != nil {
			h.ExternalIRQ()
		}
	default:
		panic("trap: kernel trap: ecall or unknown scause from supervisor mode")
	}
}
