package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"console"
	"defs"
	"fs"
	"limits"
	"mem"
	"proc"
	"syscall"
	"vm"
)

// npages is the simulated physical memory size, in pages, handed to
// mem.NewAllocator at boot. Generous enough for a handful of synthetic
// processes' address spaces plus the buffer cache's backing pages.
const npages = 4096

// fileDisk implements fs.Disk over a host file via positioned
// pread/pwrite, the same shape cmd/mkfs's fileDisk uses, so opening an
// image built by mkfs needs no translation step.
type fileDisk struct {
	f *os.File
}

func (d *fileDisk) ReadBlock(block uint32, dst []byte) error {
	_, err := unix.Pread(int(d.f.Fd()), dst, int64(block)*fs.BSIZE)
	return err
}

func (d *fileDisk) WriteBlock(block uint32, src []byte) error {
	_, err := unix.Pwrite(int(d.f.Fd()), src, int64(block)*fs.BSIZE)
	return err
}

// Sim holds everything a booted simulation needs to run scenarios:
// the mounted filesystem, the root process's cwd inode, and the
// accounting/log handles cmd/octosim's other files read back out of
// it once scenarios finish.
type Sim struct {
	disk   *fileDisk
	fsys   *fs.FS
	root   *proc.Proc
	rootP  *Process
	rootIp *fs.Inode
	log    *slog.Logger
	runID  string
}

// Boot opens image, mounts its filesystem, wires up the console and
// syscall layers, and builds the first process -- the host-simulator
// equivalent of original_source's kernel_main/user_init sequence,
// minus the parts spec.md §1 marks external (trap trampoline, PLIC,
// timer hardware).
//
// root is proc.Alloc'd before anything else Boot does, so it is the
// very first process this run ever allocates and lands on
// proc.InitPid (pid 1), matching spec.md §4.F's re-parenting target
// and SPEC_FULL.md §11's S7 scenario, which forks from it directly
// rather than from a throwaway scratch process.
func Boot(image string, runID string, logger *slog.Logger) (*Sim, error) {
	f, err := os.OpenFile(image, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", image, err)
	}

	disk := &fileDisk{f: f}
	alloc := mem.NewAllocator(npages)
	cache := fs.NewCache(disk)

	root := proc.Alloc("init")
	if root == nil {
		f.Close()
		return nil, fmt.Errorf("out of procs")
	}

	fsys, err := fs.NewFS(cache, 0, root)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mount %s: %w", image, err)
	}

	rootIp, err := fsys.Namei("/", nil, root)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("namei /: %w", err)
	}
	rootIp.Unlock()

	console.Init(os.Stdout)
	syscall.Init(fsys, alloc)

	if err := ensureConsoleDevice(fsys, rootIp, root); err != nil {
		f.Close()
		return nil, fmt.Errorf("ensure /console: %w", err)
	}

	if err := finishProc(root, rootIp); err != nil {
		f.Close()
		return nil, err
	}

	logger.Info("booted", "image", image, "run", runID, "mem_pages", npages, "syslimits_nproc", limits.Syslimit.Procs)

	return &Sim{disk: disk, fsys: fsys, root: root, rootP: spawn(root), rootIp: rootIp, log: logger, runID: runID}, nil
}

// Shutdown flushes the disk image back to the host file.
func (s *Sim) Shutdown() error {
	if err := s.disk.f.Sync(); err != nil {
		return err
	}
	return s.disk.f.Close()
}

// NewProcess builds and spawns a fresh synthetic process sharing the
// mounted filesystem's root as its cwd, for scenario code that needs
// its own isolated fd table and address space rather than reusing
// another scenario's exited process.
func (s *Sim) NewProcess(name string) (*Process, error) {
	p, err := newProc(s.fsys, s.rootIp, name)
	if err != nil {
		return nil, err
	}
	return spawn(p), nil
}

// ensureConsoleDevice creates /console as a T_DEVICE inode (major
// D_CONSOLE, minor 0) the first time a scenario runs against a fresh
// image, and tolerates it already existing on a reused one -- mkfs
// itself never creates device nodes, only plain files and
// directories, so this is the boot-time step that makes "open
// /console" meaningful at all.
func ensureConsoleDevice(fsys *fs.FS, rootIp *fs.Inode, p *proc.Proc) error {
	fsys.Log.BeginOp(p)
	defer fsys.Log.EndOp(p)

	ip, err := fsys.Create("/console", defs.T_DEVICE, defs.D_CONSOLE, 0, rootIp, p)
	if err == nil {
		ip.Unlock()
		ip.Put(p)
		return nil
	}
	existing, nerr := fsys.Namei("/console", rootIp, p)
	if nerr != nil {
		return err
	}
	existing.Unlock()
	existing.Put(p)
	return nil
}

// newProc allocates a fresh process and wires its address space via
// finishProc, for scenario code that needs its own scratch process
// rather than driving init (pid 1) directly.
func newProc(fsys *fs.FS, rootIp *fs.Inode, name string) (*proc.Proc, error) {
	p := proc.Alloc(name)
	if p == nil {
		return nil, fmt.Errorf("out of procs")
	}
	if err := finishProc(p, rootIp); err != nil {
		return nil, err
	}
	return p, nil
}

// finishProc builds p's address space and a scratch page for staging
// syscall pointer arguments. The fd table starts empty: no descriptor,
// /console included, is opened here, so p's first open gets fd 0. Split out
// of newProc so Boot can finish wiring init's own process (already
// allocated before the filesystem even mounts, so it lands on pid 1)
// through the same path every later synthetic process uses.
func finishProc(p *proc.Proc, rootIp *fs.Inode) error {
	st, err := syscall.NewProcState(rootIp, nil)
	if err != nil {
		return fmt.Errorf("new address space: %w", err)
	}
	syscall.Install(p, st)

	return growScratch(p)
}

// scratchVA is where every synthetic process's one scratch page lands:
// NewProcState with firstCode=nil leaves Size 0, so this is always the
// first (and only) page Grow maps.
const scratchVA = vm.VA_t(0)

// growScratch maps one writable page at the bottom of the address
// space for staging path strings and argv pointers before a syscall
// that reads them out of "user" memory, since no real user program
// ever ran sbrk to get one.
func growScratch(p *proc.Proc) error {
	uv := syscall.Uvm(p)
	if err := uv.Grow(scratchVA+vm.VA_t(vm.PGSIZE), vm.PTE_W); err != nil {
		return err
	}
	p.Data.Size = int(uv.Size)
	return nil
}
