// Package sleeplock implements the sleep lock (component D): a
// long-held mutex whose waiter parks on a channel instead of spinning,
// per spec.md §4.D. Used by the buffer cache (one per cached block) and
// the inode cache (one per cached inode) to guard content that may
// require blocking disk I/O while held.
package sleeplock

import (
	"defs"
	"proc"
	"spinlock"
)

// Lock is a sleep lock. The embedded spin lock protects only Held/Pid;
// the protected content itself is the caller's responsibility once
// Acquire returns.
type Lock struct {
	spin *spinlock.Lock
	hart *spinlock.Hart
	Name string

	held bool
	pid  defs.Pid_t
}

// New constructs a named, initially-unheld sleep lock.
func New(name string) *Lock {
	return &Lock{
		spin: spinlock.New(name + ".spin"),
		hart: spinlock.ForHart(-1003),
		Name: name,
	}
}

// Acquire blocks the calling process (identified by p, needed so the
// lock can record the holder and so Sleep has a Proc to park) until the
// lock is free, then takes it.
func (l *Lock) Acquire(p *proc.Proc) {
	g := l.spin.Acquire(l.hart, 0)
	for l.held {
		p.Sleep(l, func() { g.Release() }, func() { g = l.spin.Acquire(l.hart, 0) })
	}
	l.held = true
	l.pid = p.Pid()
	g.Release()
}

// Release drops the lock and wakes every waiter; per spec.md §4.D,
// release wakes all waiters on the lock's channel (its own address
// serves as the Channel, since *Lock is comparable by identity).
func (l *Lock) Release() {
	g := l.spin.Acquire(l.hart, 0)
	l.held = false
	l.pid = 0
	g.Release()
	proc.Wakeup(l)
}

// Holder reports the pid currently holding the lock, or 0 if free.
func (l *Lock) Holder() defs.Pid_t {
	g := l.spin.Acquire(l.hart, 0)
	defer g.Release()
	return l.pid
}

// Held reports whether the lock is currently held, used by a few
// assertions (e.g. "must not double-acquire from the same proc").
func (l *Lock) Held() bool {
	g := l.spin.Acquire(l.hart, 0)
	defer g.Release()
	return l.held
}
