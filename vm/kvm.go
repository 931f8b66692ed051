package vm

import (
	"fmt"

	"mem"
)

// Memory layout constants for the kernel address space, per spec.md
// §4.E: direct-mapped MMIO, kernel text/data, and a trampoline page at
// the very top of the address space.
const (
	UART0      VA_t = 0x10000000
	VIRTIO0    VA_t = 0x10001000
	PLIC       VA_t = 0x0c000000
	PLICSize        = 0x400000
	KERNBASE   VA_t = 0x80000000
	TRAMPOLINE      = MAXVA - VA_t(PGSIZE)
	TRAPFRAME       = TRAMPOLINE - VA_t(PGSIZE)

	// USERSTACK is the page count of a process's user stack, not
	// counting the guard page below it, per spec.md §4.M.
	USERSTACK = 1
)

// PageRoundUp rounds va up to the next page boundary, exported for the
// elf loader's post-segment size bookkeeping.
func PageRoundUp(va VA_t) VA_t { return pgRoundUp(va) }

// kvmMake builds the kernel page table described above.
func kvmMake(pt *PageTable, etext, physTop, trampoline Pa_t) error {
	maps := []struct {
		va   VA_t
		pa   Pa_t
		size int
		perm uint64
	}{
		{UART0, Pa_t(UART0), PGSIZE, PTE_R | PTE_W},
		{VIRTIO0, Pa_t(VIRTIO0), PGSIZE, PTE_R | PTE_W},
		{PLIC, Pa_t(PLIC), PLICSize, PTE_R | PTE_W},
		{KERNBASE, Pa_t(KERNBASE), int(etext - Pa_t(KERNBASE)), PTE_R | PTE_X},
		{VA_t(etext), etext, int(physTop - etext), PTE_R | PTE_W},
		{TRAMPOLINE, trampoline, PGSIZE, PTE_R | PTE_X},
	}
	for _, m := range maps {
		if m.size <= 0 {
			continue
		}
		if err := pt.Map(m.va, m.pa, m.size, m.perm); err != nil {
			return fmt.Errorf("vm: kvm_make: %w", err)
		}
	}
	return nil
}

// NewKernelPageTable constructs and maps the kernel address space: UART,
// PLIC, and virtio0 direct-mapped; kernel text R|X; kernel data and RAM
// up to physTop R|W; the trampoline page R|X at the top VA.
func NewKernelPageTable(a *mem.Allocator, etext, physTop, trampoline Pa_t) (*PageTable, error) {
	pt, err := New(a)
	if err != nil {
		return nil, err
	}
	if err := kvmMake(pt, etext, physTop, trampoline); err != nil {
		return nil, err
	}
	return pt, nil
}

// Install writes this page table's SATP on the current hart and emits
// the TLB fences spec.md §4.E requires bracketing the write.
func (pt *PageTable) Install() {
	sfence()
	writeSatp(pt.Satp())
	sfence()
}

// sfence/writeSatp are the only two points that would, on real
// hardware, be single inline RISC-V instructions (sfence.vma zero,
// zero / csrw satp). This simulation has no CSRs to write; they are
// kept as named no-op hooks so callers read identically to a real
// kernel's boot sequence and so cmd/octosim can intercept them for
// diagnostics.
func sfence()               {}
func writeSatp(_ uint64)    {}
