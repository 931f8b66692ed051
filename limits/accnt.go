package limits

import "sync/atomic"

// Accnt accumulates a process's user/system time, in nanoseconds.
// Adapted from biscuit/src/accnt/accnt.go's Accnt_t, trimmed to the
// two counters cmd/octosim's profile subcommand actually reports (no
// getrusage-style syscall exists in this kernel's syscall table, so
// the rusage byte encoding is dropped).
type Accnt struct {
	Userns int64
	Sysns  int64
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt) Utadd(delta int64) { atomic.AddInt64(&a.Userns, delta) }

// Systadd adds delta nanoseconds of system time.
func (a *Accnt) Systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

// Add merges n's counters into a. proc.Wait does not call it, so a
// reaped child's usage is not folded into its parent.
func (a *Accnt) Add(n *Accnt) {
	atomic.AddInt64(&a.Userns, atomic.LoadInt64(&n.Userns))
	atomic.AddInt64(&a.Sysns, atomic.LoadInt64(&n.Sysns))
}

// Snapshot returns a consistent (userns, sysns) pair.
func (a *Accnt) Snapshot() (int64, int64) {
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}
