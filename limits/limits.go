// Package limits tracks system-wide resource accounting (processes,
// open files, pipes, cached buffers), a supplemented feature beyond
// spec.md's per-scenario checks: original_source's kernel enforced no
// such ceilings, but a teaching kernel that runs untrusted user
// programs needs them to fail predictably instead of exhausting host
// memory. Grounded on biscuit's limits/limits.go, scoped down to the
// resources this kernel actually has (no network/futex accounting).
package limits

import (
	"sync/atomic"
	"unsafe"
)

// Lhits counts limit hits. Nothing outside this package reads it.
var Lhits int64

// Sysatomic_t is a numeric limit that can be atomically given/taken.
type Sysatomic_t int64

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by n, e.g. when a resource is freed.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by n; reports whether it succeeded.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	atomic.AddInt64(&Lhits, 1)
	return false
}

// Take decrements the limit by one and reports success.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Syslimit_t is the configured set of system-wide ceilings.
type Syslimit_t struct {
	Procs   Sysatomic_t // NPROC slots, see proc.NPROC
	Files   Sysatomic_t // global open-file-table entries
	Pipes   Sysatomic_t
	Blocks  Sysatomic_t // buffer cache + bitmap-backed blocks in flight
}

// Syslimit holds the process-wide limit set.
var Syslimit = MkSysLimit()

// MkSysLimit returns the default limit set.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Procs:  64,
		Files:  1024,
		Pipes:  256,
		Blocks: 100000,
	}
}
