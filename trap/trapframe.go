// Package trap is the Go side of component G, the trap dispatch
// interface described in spec.md §4.G. The assembly trampoline that
// actually saves/restores user registers on trap entry/exit, and the
// CSR reads (scause/sepc/sstatus) that drive it, are external per
// spec.md §1 — this package only defines the trapframe's ABI-visible
// layout and the dispatch policy a host simulator invokes once it has
// decoded a trap cause.
package trap

// Trapframe is a fixed byte-offset record matching spec.md §3's
// description exactly, grounded field-for-field on
// original_source/src/proc.rs's TrapFrame so a future trampoline
// written in assembly or C can target this layout unmodified.
type Trapframe struct {
	KernelSatp  uint64 // 0: kernel page table
	KernelSp    uint64 // 8: top of process's kernel stack
	KernelTrap  uint64 // 16: usertrap entry point
	Epc         uint64 // 24: saved user program counter
	KernelHartid uint64 // 32: saved kernel tp
	Ra, Sp, Gp, Tp                     uint64
	T0, T1, T2                         uint64
	S0, S1                             uint64
	A0, A1, A2, A3, A4, A5, A6, A7      uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6                     uint64
}

// SyscallNum reads a7, the xv6/RISC-V convention for which register
// selects the syscall; a0-a5 carry its arguments and a0 is overwritten
// with the return value.
func (tf *Trapframe) SyscallNum() uint64 { return tf.A7 }

func (tf *Trapframe) Arg(i int) uint64 {
	switch i {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	default:
		panic("trap: arg: index out of range")
	}
}

// SetReturn stores a syscall's result into a0, the only register the
// trampoline's user-return path restores from a kernel write.
func (tf *Trapframe) SetReturn(v uint64) { tf.A0 = v }
