package vm

import "fmt"

// Uvm is a process's user address space: a page table plus the
// high-water mark of mapped user memory, matching the "size" field
// spec.md §3 keeps in Proc.data. Named distinctly from the bare
// PageTable so callers reading "vm.Uvm" know they hold a full user
// address space, not an arbitrary table (the kernel page table is
// built directly on PageTable instead, see kvm.go).
type Uvm struct {
	PT   *PageTable
	Size VA_t
}

// NewUvm allocates an empty user address space.
func NewUvm(pt *PageTable) *Uvm {
	return &Uvm{PT: pt, Size: 0}
}

// First installs a single page of initial user code at VA 0, used only
// by user_init for the very first process -- spec.md §4.E's
// "first-page install".
func (u *Uvm) First(code []byte) error {
	if len(code) > PGSIZE {
		return fmt.Errorf("vm: first: image larger than one page")
	}
	pa, _, ok := u.PT.alloc.Alloc()
	if !ok {
		return fmt.Errorf("vm: first: out of memory")
	}
	copy(u.PT.alloc.Bytes(pa)[:], code)
	if err := u.PT.Map(0, pa, PGSIZE, PTE_R|PTE_W|PTE_X|PTE_U); err != nil {
		return err
	}
	u.Size = VA_t(PGSIZE)
	return nil
}

// Grow extends user memory from its current size to newSize, mapping
// freshly allocated pages with R|U plus any extra permission bits the
// caller requests (e.g. W for a data segment, X for a text segment).
func (u *Uvm) Grow(newSize VA_t, extraPerm uint64) error {
	if newSize <= u.Size {
		return nil
	}
	if newSize >= MAXVA {
		return fmt.Errorf("vm: grow: new size exceeds MAXVA")
	}
	for a := pgRoundUp(u.Size); a < newSize; a += VA_t(PGSIZE) {
		pa, _, ok := u.PT.alloc.Alloc()
		if !ok {
			u.Shrink(a) // release any pages this call already mapped
			return fmt.Errorf("vm: grow: out of memory")
		}
		if err := u.PT.Map(a, pa, PGSIZE, PTE_R|PTE_U|extraPerm); err != nil {
			u.PT.alloc.Free(pa)
			u.Shrink(a)
			return err
		}
	}
	u.Size = newSize
	return nil
}

// Shrink unmaps and frees pages between newSize and the current size.
func (u *Uvm) Shrink(newSize VA_t) {
	if newSize >= u.Size {
		return
	}
	oldTop := pgRoundUp(u.Size)
	newTop := pgRoundUp(newSize)
	if newTop < oldTop {
		npages := int((oldTop - newTop) / VA_t(PGSIZE))
		_ = u.PT.Unmap(newTop, npages, true)
	}
	u.Size = newSize
}

// Copy deep-copies every mapped page's content into a fresh Uvm, used
// by fork per spec.md §4.F ("copy user pages (deep copy of mapped
// content) into the child UVM").
func (u *Uvm) Copy(child *Uvm) error {
	for a := VA_t(0); a < u.Size; a += VA_t(PGSIZE) {
		pte, err := u.PT.Walk(a, false)
		if err != nil || pte == nil || *pte&PTE_V == 0 {
			return fmt.Errorf("vm: copy: missing mapping at %#x", a)
		}
		perm := *pte & 0x3ff
		srcPA := pteToPA(*pte)
		dstPA, _, ok := child.PT.alloc.Alloc()
		if !ok {
			child.Shrink(0)
			return fmt.Errorf("vm: copy: out of memory")
		}
		copy(child.PT.alloc.Bytes(dstPA)[:], u.PT.alloc.Bytes(srcPA)[:])
		if err := child.PT.Map(a, dstPA, PGSIZE, perm); err != nil {
			child.PT.alloc.Free(dstPA)
			return err
		}
	}
	child.Size = u.Size
	return nil
}

// ProcFree unmaps the trampoline and trapframe mappings (which this
// Uvm does not own the backing pages for -- the trampoline is a shared
// global page, the trapframe is owned by Proc.Data) without freeing
// them, then tears down the rest of user memory. Matches spec.md
// §4.E's "proc_free".
func (u *Uvm) ProcFree(trampolineVA, trapframeVA VA_t) {
	_ = u.PT.Unmap(trampolineVA, 1, false)
	_ = u.PT.Unmap(trapframeVA, 1, false)
	u.Shrink(0)
	u.PT.FreeWalk()
}
