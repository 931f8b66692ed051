// Package spinlock implements the interrupt-aware spin lock (component
// B): mutual exclusion with per-hart disable-interrupt nesting, as
// specified in spec.md §4.B. A real rv64 hart disables/enables
// interrupts with sstatus.SIE; this simulation models the same nesting
// discipline over a per-hart interrupt-enable flag so the rest of the
// kernel (proc's sleep/wakeup, the scheduler loop) observes the same
// "never sleep while holding a spin lock" contract the real kernel does.
package spinlock

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Hart models the per-hart state a real kernel keeps in its Cpu_t:
// an interrupt-enable flag and a nesting depth, pushed/popped by
// spinlock acquire/release exactly like biscuit's (and xv6's)
// push_off/pop_off.
type Hart struct {
	mu                sync.Mutex
	numOff            int
	interruptsEnabled bool
	intrEnabledAtEntry bool
}

// hartOf maps a goroutine-local hart id to its Hart record. Real xv6
// reads tp/mhartid; this simulation is given the hart id explicitly by
// whoever is driving it (cmd/octosim's hart pool), since Go has no
// per-goroutine hart register.
var (
	hartsMu sync.Mutex
	harts   = map[int]*Hart{}
)

// ForHart returns (creating if needed) the Hart record for id.
func ForHart(id int) *Hart {
	hartsMu.Lock()
	defer hartsMu.Unlock()
	h, ok := harts[id]
	if !ok {
		h = &Hart{interruptsEnabled: true}
		harts[id] = h
	}
	return h
}

// Go has no per-goroutine hart register, so unlike real xv6 (which reads
// tp/mhartid), every call here takes its Hart and hart id explicitly;
// proc's scheduler loop is the one place that knows which hart it is.

// Lock is the interrupt-aware spin lock itself. Holder records the
// hart currently holding it (for panic diagnostics on re-entrant
// acquisition, which is forbidden); Name is used in diagnostics.
type Lock struct {
	state  int32 // 0 = free, 1 = held
	Name   string
	holder int32 // hart id + 1; 0 = unheld, or held by a caller with id -1
}

// New creates a named lock, matching the teacher's convention that
// every kernel lock is constructed with a diagnostic name.
func New(name string) *Lock {
	return &Lock{Name: name, holder: 0}
}

// Guard is returned by Acquire; releasing it is the only sanctioned
// way to unlock, so a caller can never forget to restore the hart's
// interrupt state.
type Guard struct {
	l    *Lock
	hart *Hart
	id   int
}

// Acquire disables interrupts on hart h (nesting-aware: only the
// outermost acquire actually records the prior enabled state), then
// spins until the lock is free, then takes it.
func (l *Lock) Acquire(h *Hart, id int) *Guard {
	pushOff(h)
	if cur := atomic.LoadInt32(&l.holder); cur != 0 && cur == int32(id+1) {
		panic(fmt.Sprintf("spinlock %q: re-entrant acquire by hart %d", l.Name, id))
	}
	for !atomic.CompareAndSwapInt32(&l.state, 0, 1) {
		runtime.Gosched() // the pause-like spin hint; fairness is not required
	}
	atomic.StoreInt32(&l.holder, int32(id+1))
	return &Guard{l: l, hart: h, id: id}
}

// Release drops the lock and restores the hart's interrupt-enable
// nesting. Prefer calling through Guard.Release in new code; this is
// kept for the scheduler's "force unlock on context switch out"
// return path, which must release without having retained a Guard
// across the switch.
func (l *Lock) Release(h *Hart) {
	atomic.StoreInt32(&l.holder, 0)
	if !atomic.CompareAndSwapInt32(&l.state, 1, 0) {
		panic(fmt.Sprintf("spinlock %q: release of unheld lock", l.Name))
	}
	popOff(h)
}

// Release unlocks the guarded lock, the drop-a-guard analogue of a
// language with RAII: the guard cannot outlive the call, and nothing
// else in this package exposes a way to touch Lock.state directly.
func (g *Guard) Release() {
	g.l.Release(g.hart)
}

// Held reports whether the lock is currently held by any hart, used
// by a few call sites (sleep's "must not hold any lock but this one")
// as a cheap assertion.
func (l *Lock) Held() bool {
	return atomic.LoadInt32(&l.state) == 1
}

func pushOff(h *Hart) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.numOff == 0 {
		h.intrEnabledAtEntry = h.interruptsEnabled
		h.interruptsEnabled = false
	}
	h.numOff++
}

func popOff(h *Hart) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.numOff == 0 {
		panic("spinlock: popOff without matching pushOff")
	}
	h.numOff--
	if h.numOff == 0 {
		h.interruptsEnabled = h.intrEnabledAtEntry
	}
}

// InterruptsEnabled reports h's current interrupt-enable state, used
// by proc's sleep to assert it is never called with interrupts
// already forced off by an unrelated held lock.
func (h *Hart) InterruptsEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numOff == 0 && h.interruptsEnabled
}
