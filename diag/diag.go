// Package diag renders crash/fault diagnostics for a killed or trapped
// process: its register file, a best-effort disassembly of the
// faulting instruction, and whether this exact (pid, pc) fault site
// has been seen before. The dedup idiom is grounded on
// biscuit/src/caller/caller.go's Distinct_caller_t, keyed here on a
// simulated user fault site instead of a Go runtime call chain;
// disassembly uses golang.org/x/arch/riscv64asm, the same module the
// teacher already depends on for tooling elsewhere in its pack.
package diag

import (
	"fmt"
	"sync"

	"golang.org/x/arch/riscv64asm"

	"defs"
	"proc"
	"syscall"
	"vm"
)

// Dump renders a one-paragraph report for p: pid, name, cwd, the
// trapframe's program counter and link/stack registers, and the
// decoded instruction at epc if that page is still mapped and
// readable.
func Dump(p *proc.Proc) string {
	tf := syscall.Trapframe(p)
	pt := syscall.PageTable(p)

	s := fmt.Sprintf("pid=%d name=%q cwd=%q killed=%v\n", p.Pid(), p.Data.Name, syscall.CwdPath(p), p.Killed())
	s += fmt.Sprintf("epc=%#x ra=%#x sp=%#x a0=%#x a7=%#x\n", tf.Epc, tf.Ra, tf.Sp, tf.A0, tf.A7)

	insn, err := decodeAt(pt, vm.VA_t(tf.Epc))
	if err != nil {
		s += fmt.Sprintf("faulting insn: <unreadable: %v>\n", err)
	} else {
		s += fmt.Sprintf("faulting insn: %s\n", insn.String())
	}

	if first, trace := seen.distinct(p.Pid(), tf.Epc); first {
		s += trace
	}
	return s
}

// decodeAt copies the 4 bytes at va out of the process's address space
// and decodes them as a single RISC-V instruction. RVC (compressed,
// 2-byte) instructions decode fine from the same 4-byte window since
// riscv64asm only consumes the bytes an instruction actually needs.
func decodeAt(pt *vm.PageTable, va vm.VA_t) (riscv64asm.Inst, error) {
	var buf [4]byte
	if err := pt.CopyIn(va, buf[:]); err != nil {
		return riscv64asm.Inst{}, err
	}
	return riscv64asm.Decode(buf[:])
}

type faultSet struct {
	sync.Mutex
	did map[uint64]bool
}

var seen faultSet

// distinct reports whether this is the first dump of this (pid, epc)
// pair, so a process spinning on the same fault doesn't flood the
// log with identical reports.
func (f *faultSet) distinct(pid defs.Pid_t, epc uint64) (bool, string) {
	f.Lock()
	defer f.Unlock()
	if f.did == nil {
		f.did = make(map[uint64]bool)
	}
	key := uint64(pid)<<32 ^ epc
	if f.did[key] {
		return false, ""
	}
	f.did[key] = true
	return true, fmt.Sprintf("first occurrence of this fault site for pid=%d\n", pid)
}
