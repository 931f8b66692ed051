// Package vm is the Sv39 page-table engine (component E): walk/map/
// unmap, the kernel address space (KVM), and per-process user address
// spaces (UVM), per spec.md §4.E. Bit layout and the walk algorithm are
// grounded on original_source/src/riscv.rs and src/vm.rs; the exported
// API shape (Lock_pmap-style guard naming, user-copy helpers) follows
// the teacher's biscuit/src/vm/as.go idiom, adapted from x86 COW
// addressing to Sv39's three-level scheme.
package vm

import (
	"fmt"
	"unsafe"

	"mem"
)

// Pa_t and VA_t are transparent 64-bit addresses per spec.md §3.
type Pa_t = mem.Pa_t
type VA_t uintptr

const PGSIZE = mem.PGSIZE

// PTE bit layout, grounded on original_source/src/riscv.rs.
const (
	PTE_V = 1 << 0
	PTE_R = 1 << 1
	PTE_W = 1 << 2
	PTE_X = 1 << 3
	PTE_U = 1 << 4
)

// MAXVA is one bit less than Sv39's true 39-bit limit, avoiding the
// need to sign-extend virtual addresses whose top bit is set -- per
// the glossary and original_source/src/riscv.rs's comment.
const MAXVA = VA_t(1) << (9 + 9 + 9 + 12 - 1)

const pxMask = 0x1ff

func pxShift(level int) uint {
	return 12 + uint(9*level)
}

// px extracts the level-th 9-bit page table index from a virtual
// address (level 2 is the root).
func px(level int, va VA_t) int {
	return int(va>>pxShift(level)) & pxMask
}

func paToPTE(pa Pa_t) uint64 {
	return (uint64(pa) >> 12) << 10
}

func pteToPA(pte uint64) Pa_t {
	return Pa_t((pte >> 10) << 12)
}

// PageTable is one Sv39 address space's root. alloc is the physical
// allocator backing every page-table page and leaf this tree maps.
type PageTable struct {
	root  Pa_t
	alloc *mem.Allocator
}

func entries(pg *mem.Bytepg_t) *[512]uint64 {
	return (*[512]uint64)(unsafe.Pointer(pg))
}

// New allocates a fresh, zeroed page table.
func New(a *mem.Allocator) (*PageTable, error) {
	pa, _, ok := a.Alloc()
	if !ok {
		return nil, fmt.Errorf("vm: out of memory allocating page table")
	}
	return &PageTable{root: pa, alloc: a}, nil
}

// Root returns the physical address of the root page-table page, used
// to build a SATP value.
func (pt *PageTable) Root() Pa_t { return pt.root }

// Satp builds the Sv39-mode SATP register value for this page table,
// per original_source/src/riscv.rs's satp::make.
func (pt *PageTable) Satp() uint64 {
	const sv39 = uint64(8) << 60
	return sv39 | (uint64(pt.root) >> 12)
}

// Walk returns a pointer to the leaf-level PTE for va, allocating
// intermediate page-table pages on demand if alloc is true. Per
// spec.md §4.E, callers must never call Walk with an unaligned va;
// that is enforced by Map/Unmap, not here.
func (pt *PageTable) Walk(va VA_t, alloc bool) (*uint64, error) {
	if va >= MAXVA {
		return nil, fmt.Errorf("vm: walk: va %#x exceeds MAXVA", va)
	}
	pagetable := pt.root
	for level := 2; level > 0; level-- {
		pte := &entries(pt.alloc.Bytes(pagetable))[px(level, va)]
		if *pte&PTE_V != 0 {
			pagetable = pteToPA(*pte)
			continue
		}
		if !alloc {
			return nil, nil
		}
		child, _, ok := pt.alloc.Alloc()
		if !ok {
			return nil, fmt.Errorf("vm: walk: out of memory")
		}
		*pte = paToPTE(child) | PTE_V
		pagetable = child
	}
	return &entries(pt.alloc.Bytes(pagetable))[px(0, va)], nil
}

// WalkAddr resolves a user VA to its PA, requiring the mapping be
// valid and user-accessible (V ∧ U), per spec.md §4.E.
func (pt *PageTable) WalkAddr(va VA_t) (Pa_t, error) {
	pte, err := pt.Walk(pgRoundDown(va), false)
	if err != nil || pte == nil || *pte&PTE_V == 0 || *pte&PTE_U == 0 {
		return 0, fmt.Errorf("vm: walk_addr: no user mapping for %#x", va)
	}
	return pteToPA(*pte) + Pa_t(va&VA_t(PGSIZE-1)), nil
}

func pgRoundDown(va VA_t) VA_t { return va &^ VA_t(PGSIZE-1) }
func pgRoundUp(va VA_t) VA_t   { return (va + VA_t(PGSIZE-1)) &^ VA_t(PGSIZE-1) }

// Map installs size bytes of mapping starting at page-aligned va to
// page-aligned pa with the given permission bits. Rejects remapping an
// already-valid leaf, per spec.md §4.E's invariants.
func (pt *PageTable) Map(va VA_t, pa Pa_t, size int, perm uint64) error {
	if va%VA_t(PGSIZE) != 0 {
		return fmt.Errorf("vm: map: va %#x not page aligned", va)
	}
	if size <= 0 {
		return fmt.Errorf("vm: map: size must be > 0")
	}
	last := pgRoundDown(va + VA_t(size) - 1)
	for a := pgRoundDown(va); ; a += VA_t(PGSIZE) {
		pte, err := pt.Walk(a, true)
		if err != nil {
			return err
		}
		if *pte&PTE_V != 0 {
			panic("vm: map: remap of an existing page")
		}
		*pte = paToPTE(pa) | perm | PTE_V
		if a == last {
			break
		}
		pa += Pa_t(PGSIZE)
	}
	return nil
}

// Unmap removes npages leaf mappings starting at page-aligned va,
// optionally freeing the underlying physical pages.
func (pt *PageTable) Unmap(va VA_t, npages int, free bool) error {
	if va%VA_t(PGSIZE) != 0 {
		return fmt.Errorf("vm: unmap: va %#x not page aligned", va)
	}
	for i := 0; i < npages; i++ {
		a := va + VA_t(i*PGSIZE)
		pte, err := pt.Walk(a, false)
		if err != nil || pte == nil || *pte&PTE_V == 0 {
			return fmt.Errorf("vm: unmap: no mapping at %#x", a)
		}
		if *pte&(PTE_R|PTE_W|PTE_X) == 0 {
			return fmt.Errorf("vm: unmap: %#x is not a leaf", a)
		}
		if free {
			pt.alloc.Free(pteToPA(*pte))
		}
		*pte = 0
	}
	return nil
}

// FreeWalk recursively frees intermediate page-table pages, panicking
// if it encounters a leaf -- leaves must already have been released by
// Unmap(..., free=true), per spec.md §4.E.
func (pt *PageTable) FreeWalk() {
	pt.freeWalkLevel(pt.root, 2)
	pt.alloc.Free(pt.root)
}

func (pt *PageTable) freeWalkLevel(table Pa_t, level int) {
	ents := entries(pt.alloc.Bytes(table))
	for i := 0; i < 512; i++ {
		pte := ents[i]
		if pte&PTE_V == 0 {
			continue
		}
		if pte&(PTE_R|PTE_W|PTE_X) != 0 {
			panic("vm: free_walk: encountered a leaf")
		}
		child := pteToPA(pte)
		if level > 1 {
			pt.freeWalkLevel(child, level-1)
		}
		pt.alloc.Free(child)
	}
}

// CopyOut copies bytes from the kernel into user memory at va,
// translating page by page via Walk and rejecting mappings that
// lack V|U|W, per spec.md §4.E.
func (pt *PageTable) CopyOut(va VA_t, data []byte) error {
	for len(data) > 0 {
		base := pgRoundDown(va)
		pte, err := pt.Walk(base, false)
		if err != nil || pte == nil || *pte&(PTE_V|PTE_U|PTE_W) != (PTE_V|PTE_U|PTE_W) {
			return fmt.Errorf("vm: copy_out: bad mapping at %#x", va)
		}
		pa := pteToPA(*pte)
		off := int(va - base)
		n := PGSIZE - off
		if n > len(data) {
			n = len(data)
		}
		copy(pt.alloc.Bytes(pa)[off:off+n], data[:n])
		data = data[n:]
		va = base + VA_t(PGSIZE)
	}
	return nil
}

// CopyIn copies bytes from user memory at va into dst, requiring V|U
// (write not required), per spec.md §4.E.
func (pt *PageTable) CopyIn(va VA_t, dst []byte) error {
	for len(dst) > 0 {
		base := pgRoundDown(va)
		pte, err := pt.Walk(base, false)
		if err != nil || pte == nil || *pte&(PTE_V|PTE_U) != (PTE_V|PTE_U) {
			return fmt.Errorf("vm: copy_in: bad mapping at %#x", va)
		}
		pa := pteToPA(*pte)
		off := int(va - base)
		n := PGSIZE - off
		if n > len(dst) {
			n = len(dst)
		}
		copy(dst[:n], pt.alloc.Bytes(pa)[off:off+n])
		dst = dst[n:]
		va = base + VA_t(PGSIZE)
	}
	return nil
}

// CopyInString copies a NUL-terminated string from user memory,
// bounded by max bytes (MAXPATH or PGSIZE at call sites), per
// spec.md §4.L's argument-fetch helpers.
func (pt *PageTable) CopyInString(va VA_t, max int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		var b [1]byte
		if err := pt.CopyIn(va+VA_t(i), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", fmt.Errorf("vm: copy_in_string: name too long")
}
