// Package mem is the physical-page allocator (component A). The real
// rv64 physical-page allocator is an external black box per the project
// scope: callers only depend on page-granularity allocate/free returning
// zeroed, page-aligned frames. This package plays that role for a
// simulated machine by carving page-sized slices out of one large
// byte arena and tracking them with a free list.
package mem

import (
	"fmt"
	"sync"
	"unsafe"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

// PGMASK masks the page-aligned part of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pa_t is a physical address. Transparent per spec.md §3.
type Pa_t uintptr

// Bytepg_t is one page addressed as bytes.
type Bytepg_t [PGSIZE]byte

// Page_i abstracts page-granularity allocation so higher layers (vm,
// fs's buffer cache) don't depend on this package's simulated-arena
// implementation directly.
type Page_i interface {
	// Alloc returns a zeroed page and its physical address.
	Alloc() (Pa_t, *Bytepg_t, bool)
	// Free returns a page to the allocator.
	Free(Pa_t)
	// Refup/Refdown track sharing; this kernel doesn't implement COW
	// (non-goal) but fork's eager copy still wants a uniform interface
	// with the buffer cache's pinning, so refcounts are kept minimal.
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type page struct {
	refcnt int32
	nexti  uint32
}

const nilIdx = ^uint32(0)

// Allocator is a simple thread-safe free-list allocator over one
// contiguous simulated RAM arena. Grounded on biscuit's Physmem_t, with
// the per-CPU free-list sharding dropped: that sharding exists in the
// teacher to avoid cross-CPU lock contention on real hardware, which a
// goroutine-scheduled simulation has no analogous need for.
type Allocator struct {
	mu    sync.Mutex
	ram   []byte
	pages []page
	base  Pa_t
	freei uint32
	nfree int
}

// NewAllocator reserves npages pages of simulated physical memory.
func NewAllocator(npages int) *Allocator {
	a := &Allocator{
		ram:   make([]byte, npages*PGSIZE),
		pages: make([]page, npages),
		base:  0x1000, // pretend RAM starts just past address 0, like real PHYSTOP layouts
		freei: 0,
	}
	for i := range a.pages {
		if i == len(a.pages)-1 {
			a.pages[i].nexti = nilIdx
		} else {
			a.pages[i].nexti = uint32(i + 1)
		}
	}
	a.nfree = npages
	fmt.Printf("mem: reserved %v pages (%vKB)\n", npages, npages*PGSIZE/1024)
	return a
}

func (a *Allocator) idxToPa(idx uint32) Pa_t {
	return a.base + Pa_t(idx)*Pa_t(PGSIZE)
}

func (a *Allocator) paToIdx(pa Pa_t) uint32 {
	off := pa - a.base
	if off < 0 || int(off)%PGSIZE != 0 {
		panic("mem: misaligned physical address")
	}
	return uint32(int(off) / PGSIZE)
}

func (a *Allocator) bytes(idx uint32) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(&a.ram[int(idx)*PGSIZE]))
}

// Alloc returns a zeroed page, or ok=false on out-of-memory.
func (a *Allocator) Alloc() (Pa_t, *Bytepg_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freei == nilIdx {
		return 0, nil, false
	}
	idx := a.freei
	a.freei = a.pages[idx].nexti
	a.nfree--
	a.pages[idx].refcnt = 1
	pg := a.bytes(idx)
	for i := range pg {
		pg[i] = 0
	}
	return a.idxToPa(idx), pg, true
}

// Free unconditionally returns a page to the free list, ignoring
// refcount: used for the once-only teardown paths (vm's page-table
// and user-memory teardown) that own the page outright.
func (a *Allocator) Free(pa Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.paToIdx(pa)
	if a.pages[idx].refcnt <= 0 {
		panic("mem: freeing unreferenced page")
	}
	a.pages[idx].refcnt = 0
	a.pages[idx].nexti = a.freei
	a.freei = idx
	a.nfree++
}

// Refup bumps a page's reference count.
func (a *Allocator) Refup(pa Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.paToIdx(pa)
	if a.pages[idx].refcnt <= 0 {
		panic("mem: refup on free page")
	}
	a.pages[idx].refcnt++
}

// Refdown drops a page's reference count, freeing it at zero. Returns
// true if the page was freed.
func (a *Allocator) Refdown(pa Pa_t) bool {
	a.mu.Lock()
	idx := a.paToIdx(pa)
	if a.pages[idx].refcnt <= 0 {
		a.mu.Unlock()
		panic("mem: refdown on free page")
	}
	a.pages[idx].refcnt--
	freed := a.pages[idx].refcnt == 0
	if freed {
		a.pages[idx].nexti = a.freei
		a.freei = idx
		a.nfree++
	}
	a.mu.Unlock()
	return freed
}

// Bytes returns the byte view backing pa without allocating, used by
// vm's walk routines which already know the page is live.
func (a *Allocator) Bytes(pa Pa_t) *Bytepg_t {
	a.mu.Lock()
	idx := a.paToIdx(pa)
	a.mu.Unlock()
	return a.bytes(idx)
}

// FreeCount returns the count of unallocated pages, for diagnostics.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nfree
}
