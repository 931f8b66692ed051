package fs

import (
	"encoding/binary"
	"fmt"

	"defs"
	"proc"
	"sleeplock"
	"spinlock"
	"stat"
)

// FS ties the buffer cache, log, and superblock together and owns the
// inode cache (component J), per spec.md §4.J.
type FS struct {
	Cache *Cache
	Log   *Log
	Sb    *Superblock
	dev   int

	itbl   *spinlock.Lock
	ihart   *spinlock.Hart
	inodes [NINODE]*Inode

	bmu   *spinlock.Lock
	bhart *spinlock.Hart
}

// NewFS reads the superblock and wires up the log and inode cache. p is
// the bootstrapping process context (fsinit per spec.md §4.F: "the
// call must run in a process context because it may sleep").
func NewFS(cache *Cache, dev int, p *proc.Proc) (*FS, error) {
	sbBuf, err := cache.Read(dev, 1, p)
	if err != nil {
		return nil, err
	}
	sb := decodeSuperblock(sbBuf.Data()[:])
	sbBuf.Release(p)
	if sb.Magic != FSMAGIC {
		return nil, fmt.Errorf("fs: bad superblock magic %#x", sb.Magic)
	}

	fsys := &FS{
		Cache: cache,
		Sb:    &sb,
		dev:   dev,
		itbl:  spinlock.New("itable"),
		ihart: spinlock.ForHart(-1012),
		bmu:   spinlock.New("bitmap"),
		bhart: spinlock.ForHart(-1013),
	}
	fsys.Log = NewLog(cache, dev, sb.LogStart, sb.NLog, p)
	for i := range fsys.inodes {
		fsys.inodes[i] = &Inode{lock: sleeplock.New(fmt.Sprintf("inode[%d]", i))}
	}
	return fsys, nil
}

func decodeSuperblock(b []byte) Superblock {
	var sb Superblock
	sb.Magic = binary.LittleEndian.Uint32(b[0:4])
	sb.Size = binary.LittleEndian.Uint32(b[4:8])
	sb.NBlocks = binary.LittleEndian.Uint32(b[8:12])
	sb.NInodes = binary.LittleEndian.Uint32(b[12:16])
	sb.NLog = binary.LittleEndian.Uint32(b[16:20])
	sb.LogStart = binary.LittleEndian.Uint32(b[20:24])
	sb.InodeStart = binary.LittleEndian.Uint32(b[24:28])
	sb.BmapStart = binary.LittleEndian.Uint32(b[28:32])
	return sb
}

func encodeSuperblock(sb *Superblock) []byte {
	b := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(b[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:8], sb.Size)
	binary.LittleEndian.PutUint32(b[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(b[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(b[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(b[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(b[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(b[28:32], sb.BmapStart)
	return b
}

// Inode is the in-memory inode cache entry, per spec.md §3.
type Inode struct {
	fsys   *FS
	dev    int
	Inum   uint32
	refcnt int
	valid  bool
	lock   *sleeplock.Lock

	Type  uint16
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func encodeDinode(d *Dinode) []byte {
	b := make([]byte, 64)
	binary.LittleEndian.PutUint16(b[0:2], d.Type)
	binary.LittleEndian.PutUint16(b[2:4], d.Major)
	binary.LittleEndian.PutUint16(b[4:6], d.Minor)
	binary.LittleEndian.PutUint16(b[6:8], d.Nlink)
	binary.LittleEndian.PutUint32(b[8:12], d.Size)
	for i, a := range d.Addrs {
		binary.LittleEndian.PutUint32(b[12+4*i:16+4*i], a)
	}
	return b
}

func decodeDinode(b []byte) Dinode {
	var d Dinode
	d.Type = binary.LittleEndian.Uint16(b[0:2])
	d.Major = binary.LittleEndian.Uint16(b[2:4])
	d.Minor = binary.LittleEndian.Uint16(b[4:6])
	d.Nlink = binary.LittleEndian.Uint16(b[6:8])
	d.Size = binary.LittleEndian.Uint32(b[8:12])
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(b[12+4*i : 16+4*i])
	}
	return d
}

// Get finds or allocates a cache slot for (dev, inum), bumping refcnt.
// Does not load content from disk; call Lock for that.
func (fsys *FS) Get(inum uint32) *Inode {
	g := fsys.itbl.Acquire(fsys.ihart, 0)
	defer g.Release()

	var free *Inode
	for _, ip := range fsys.inodes {
		if ip.refcnt > 0 && ip.dev == fsys.dev && ip.Inum == inum {
			ip.refcnt++
			return ip
		}
		if free == nil && ip.refcnt == 0 {
			free = ip
		}
	}
	if free == nil {
		panic("fs: inode cache: no free slot")
	}
	free.dev = fsys.dev
	free.Inum = inum
	free.refcnt = 1
	free.valid = false
	free.fsys = fsys
	return free
}

// Lock loads ip's content from disk (if not already valid) under its
// sleep lock.
func (ip *Inode) Lock(p *proc.Proc) {
	ip.lock.Acquire(p)
	if !ip.valid {
		blk := ip.fsys.Sb.IBlock(ip.Inum)
		b, err := ip.fsys.Cache.Read(ip.dev, blk, p)
		if err != nil {
			panic(fmt.Sprintf("fs: inode: load: %v", err))
		}
		off := (ip.Inum % IPB) * 64
		d := decodeDinode(b.Data()[off : off+64])
		b.Release(p)
		ip.Type, ip.Major, ip.Minor, ip.Nlink, ip.Size, ip.Addrs = d.Type, d.Major, d.Minor, d.Nlink, d.Size, d.Addrs
		ip.valid = true
		if ip.Type == defs.T_FREE {
			panic("fs: inode: load: no content on disk")
		}
	}
}

func (ip *Inode) Unlock() {
	ip.lock.Release()
}

// Update writes ip's in-memory content back to disk within the
// caller's log operation.
func (ip *Inode) Update(p *proc.Proc) {
	b, err := ip.fsys.Cache.Read(ip.dev, ip.fsys.Sb.IBlock(ip.Inum), p)
	if err != nil {
		panic(fmt.Sprintf("fs: inode: update: %v", err))
	}
	off := (ip.Inum % IPB) * 64
	d := Dinode{Type: ip.Type, Major: ip.Major, Minor: ip.Minor, Nlink: ip.Nlink, Size: ip.Size, Addrs: ip.Addrs}
	copy(b.Data()[off:off+64], encodeDinode(&d))
	ip.fsys.Log.LogWrite(b)
	b.Release(p)
}

// Put decrements refcnt; if it reaches zero and nlink==0, truncates,
// frees the inode's blocks, and zeroes its on-disk entry.
func (ip *Inode) Put(p *proc.Proc) {
	ip.lock.Acquire(p)
	if ip.valid && ip.Nlink == 0 {
		g := ip.fsys.itbl.Acquire(ip.fsys.ihart, 0)
		r := ip.refcnt
		g.Release()
		if r == 1 {
			ip.truncate(p)
			ip.Type = defs.T_FREE
			ip.Update(p)
			ip.valid = false
		}
	}
	ip.lock.Release()

	g := ip.fsys.itbl.Acquire(ip.fsys.ihart, 0)
	ip.refcnt--
	g.Release()
}

// Dup bumps refcnt without locking content, for dup()/fork() file
// handle sharing.
func (ip *Inode) Dup() *Inode {
	g := ip.fsys.itbl.Acquire(ip.fsys.ihart, 0)
	ip.refcnt++
	g.Release()
	return ip
}

// blockMap returns the physical block number for the bn'th block of
// ip's content, allocating it (via the bitmap allocator) if it does
// not exist yet.
func (ip *Inode) blockMap(bn int, p *proc.Proc) (uint32, error) {
	if bn < NDIRECT {
		if ip.Addrs[bn] == 0 {
			b, err := ip.fsys.allocBlock(p)
			if err != nil {
				return 0, err
			}
			ip.Addrs[bn] = b
		}
		return ip.Addrs[bn], nil
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		return 0, fmt.Errorf("fs: block_map: offset out of range")
	}
	if ip.Addrs[NDIRECT] == 0 {
		b, err := ip.fsys.allocBlock(p)
		if err != nil {
			return 0, err
		}
		ip.Addrs[NDIRECT] = b
	}
	ib, err := ip.fsys.Cache.Read(ip.dev, ip.Addrs[NDIRECT], p)
	if err != nil {
		return 0, err
	}
	addr := binary.LittleEndian.Uint32(ib.Data()[4*bn : 4*bn+4])
	if addr == 0 {
		var err2 error
		addr, err2 = ip.fsys.allocBlock(p)
		if err2 != nil {
			ib.Release(p)
			return 0, err2
		}
		binary.LittleEndian.PutUint32(ib.Data()[4*bn:4*bn+4], addr)
		ip.fsys.Log.LogWrite(ib)
	}
	ib.Release(p)
	return addr, nil
}

// Truncate frees every block ip owns and resets its size to 0, for
// open(O_TRUNC). The caller must hold ip's lock and be inside a log op.
func (ip *Inode) Truncate(p *proc.Proc) { ip.truncate(p) }

// truncate frees every block ip owns and resets its size to 0.
func (ip *Inode) truncate(p *proc.Proc) {
	for i := 0; i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ip.fsys.freeBlock(ip.Addrs[i], p)
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDIRECT] != 0 {
		ib, err := ip.fsys.Cache.Read(ip.dev, ip.Addrs[NDIRECT], p)
		if err == nil {
			for i := 0; i < NINDIRECT; i++ {
				a := binary.LittleEndian.Uint32(ib.Data()[4*i : 4*i+4])
				if a != 0 {
					ip.fsys.freeBlock(a, p)
				}
			}
			ib.Release(p)
		}
		ip.fsys.freeBlock(ip.Addrs[NDIRECT], p)
		ip.Addrs[NDIRECT] = 0
	}
	ip.Size = 0
	ip.Update(p)
}

// ReadAt satisfies vm.InodeReader for the ELF loader, which cannot pass
// a *proc.Proc (the interface is fixed). It runs under the process
// installed by SetCallerProc, which the exec syscall sets for the
// duration of the load.
func (ip *Inode) ReadAt(dst []byte, off int) (int, error) {
	if currentCallerProc == nil {
		panic("fs: inode: read_at: no caller process installed")
	}
	return ip.readAt(dst, off, currentCallerProc)
}

// currentCallerProc is set by the syscall layer around exec so the ELF
// loader's fixed-signature vm.InodeReader.ReadAt can still route
// through the buffer cache's sleep locks correctly.
var currentCallerProc *proc.Proc

// SetCallerProc installs the process context the ELF loader runs
// under, mirroring the real kernel's implicit "current process" register.
func SetCallerProc(p *proc.Proc) { currentCallerProc = p }

// readAt reads len(dst) bytes starting at off, implementing the
// inode-read half of spec.md §4.J. Every fs-internal caller (dir
// lookup, path resolution) already has a *proc.Proc in hand and calls
// this directly instead of going through ReadAt.
func (ip *Inode) readAt(dst []byte, off int, p *proc.Proc) (int, error) {
	if off < 0 || uint32(off) > ip.Size {
		return 0, fmt.Errorf("fs: inode: read: offset out of range")
	}
	n := len(dst)
	if uint32(off+n) > ip.Size {
		n = int(ip.Size) - off
	}
	if n <= 0 {
		return 0, nil
	}
	total := 0
	for total < n {
		bn, err := ip.blockMapReadOnly((off+total)/BSIZE, p)
		if err != nil {
			return total, err
		}
		boff := (off + total) % BSIZE
		b, err := ip.fsys.Cache.Read(ip.dev, bn, p)
		if err != nil {
			return total, err
		}
		m := BSIZE - boff
		if n-total < m {
			m = n - total
		}
		copy(dst[total:total+m], b.Data()[boff:boff+m])
		b.Release(p)
		total += m
	}
	return total, nil
}

func (ip *Inode) blockMapReadOnly(bn int, p *proc.Proc) (uint32, error) {
	if bn < NDIRECT {
		return ip.Addrs[bn], nil
	}
	bn -= NDIRECT
	if bn >= NINDIRECT || ip.Addrs[NDIRECT] == 0 {
		return 0, nil
	}
	ib, err := ip.fsys.Cache.Read(ip.dev, ip.Addrs[NDIRECT], p)
	if err != nil {
		return 0, err
	}
	defer ib.Release(p)
	return binary.LittleEndian.Uint32(ib.Data()[4*bn : 4*bn+4]), nil
}

// WriteAt writes len(src) bytes at off, extending Size and allocating
// blocks lazily, chunked by the caller at the log-op boundary the
// syscall layer enforces. Returns bytes written; on ENOSPC the count
// of bytes already written comes back together with the ENOSPC error,
// and the write syscall reports that partial count to the caller.
func (ip *Inode) WriteAt(src []byte, off int, p *proc.Proc) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("fs: inode: write: negative offset")
	}
	total := 0
	for total < len(src) {
		bn, err := ip.blockMap((off+total)/BSIZE, p)
		if err != nil {
			break // out of space: return partial progress
		}
		boff := (off + total) % BSIZE
		b, err := ip.fsys.Cache.Read(ip.dev, bn, p)
		if err != nil {
			break
		}
		m := BSIZE - boff
		if len(src)-total < m {
			m = len(src) - total
		}
		copy(b.Data()[boff:boff+m], src[total:total+m])
		ip.fsys.Log.LogWrite(b)
		b.Release(p)
		total += m
	}
	if uint32(off+total) > ip.Size {
		ip.Size = uint32(off + total)
	}
	ip.Update(p)
	if total < len(src) {
		return total, defs.ENOSPC
	}
	return total, nil
}

// Stat fills st from ip's cached fields, satisfying file.InodeHandle
// for fstat, per spec.md §4.L's "{dev, ino, type, nlink, size}".
func (ip *Inode) Stat(st *stat.Stat_t) {
	st.Wdev(uint(ip.dev))
	st.Wino(uint(ip.Inum))
	st.Wtype(uint(ip.Type))
	st.Wnlink(uint(ip.Nlink))
	st.Wsize(uint(ip.Size))
}

// ReadLocked and WriteLocked satisfy file.InodeHandle: the caller must
// already hold ip's sleep lock (via Lock).
func (ip *Inode) ReadLocked(dst []byte, off int, p *proc.Proc) (int, error) {
	return ip.readAt(dst, off, p)
}

func (ip *Inode) WriteLocked(src []byte, off int, p *proc.Proc) (int, error) {
	return ip.WriteAt(src, off, p)
}
