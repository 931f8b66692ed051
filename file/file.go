// Package file implements the polymorphic file table, pipes, and
// device switch (component K), per spec.md §4.K. Grounded on
// original_source/src/file.rs for the table/refcount shape (several of
// its methods are `unimplemented!()` stubs in the Rust draft; this
// package implements all of them) and biscuit/src/fd/fd.go for the
// Go-side struct/lock idiom.
package file

import (
	"fmt"

	"defs"
	"proc"
	"sleeplock"
	"spinlock"
	"stat"
)

const NFILE = 128

// Kind tags which variant of the file union a slot currently holds.
type Kind int

const (
	KindNone Kind = iota
	KindPipe
	KindInode
	KindDevice
)

// InodeHandle is the minimal inode surface the file layer needs,
// satisfied by *fs.Inode. Declared locally to keep file below fs in
// the dependency order spec.md §2 lists (file must not import fs).
type InodeHandle interface {
	Stat(st *stat.Stat_t)
	ReadLocked(dst []byte, off int, p *proc.Proc) (int, error)
	WriteLocked(src []byte, off int, p *proc.Proc) (int, error)
	Lock(p *proc.Proc)
	Unlock()
	Put(p *proc.Proc)
}

// DevOps is a device's read/write entry points, indexed by major
// number in the device switch table.
type DevOps struct {
	Read  func(dst []byte, p *proc.Proc) (int, error)
	Write func(src []byte, p *proc.Proc) (int, error)
}

var devSwitch = map[int]DevOps{}

// RegisterDevice installs the read/write entry points for a device
// major number. Called once at boot by console.Init and similar.
func RegisterDevice(major int, ops DevOps) {
	devSwitch[major] = ops
}

type fileMeta struct {
	refcnt int
}

type fileInner struct {
	readable  bool
	writeable bool
	kind      Kind
	ip        InodeHandle
	major     int
	pipe      *pipe
	offset    uint32
	lock      *sleeplock.Lock
}

// Table is the global, fixed-size file table.
type Table struct {
	mu    *spinlock.Lock
	hart  *spinlock.Hart
	meta  [NFILE]fileMeta
	inner [NFILE]*fileInner
}

var Global = newTable()

func newTable() *Table {
	t := &Table{mu: spinlock.New("filetable"), hart: spinlock.ForHart(-1020)}
	for i := range t.inner {
		t.inner[i] = &fileInner{lock: sleeplock.New(fmt.Sprintf("file[%d]", i))}
	}
	return t
}

// File is a handle into the global table: just an index, copyable by
// value, per spec.md §3's "File (kernel handle)".
type File struct {
	id int
}

// Alloc finds a free table slot and returns a handle to it.
func Alloc() (File, defs.Err_t) {
	g := Global.mu.Acquire(Global.hart, 0)
	defer g.Release()
	for i := range Global.meta {
		if Global.meta[i].refcnt == 0 {
			Global.meta[i].refcnt = 1
			return File{id: i}, 0
		}
	}
	return File{}, defs.ENFILE
}

// NewInodeFile allocates a slot backed by ip. It does not lock or
// unlock ip; a caller holding ip's lock releases it itself.
func NewInodeFile(ip InodeHandle, readable, writeable bool) (File, defs.Err_t) {
	f, err := Alloc()
	if err != 0 {
		return File{}, err
	}
	in := Global.inner[f.id]
	in.kind = KindInode
	in.ip = ip
	in.readable = readable
	in.writeable = writeable
	in.offset = 0
	return f, 0
}

// NewDeviceFile allocates a slot backed by a device inode + major.
func NewDeviceFile(ip InodeHandle, major int, readable, writeable bool) (File, defs.Err_t) {
	f, err := Alloc()
	if err != 0 {
		return File{}, err
	}
	in := Global.inner[f.id]
	in.kind = KindDevice
	in.ip = ip
	in.major = major
	in.readable = readable
	in.writeable = writeable
	in.offset = 0
	return f, 0
}

// Dup increments the slot's refcount.
func (f File) Dup() File {
	g := Global.mu.Acquire(Global.hart, 0)
	defer g.Release()
	m := &Global.meta[f.id]
	if m.refcnt < 1 {
		panic("file: dup of closed file")
	}
	m.refcnt++
	return f
}

// Close decrements refcount and, on last close, tears down the inner
// value outside the table lock: inodes are put() inside a log op,
// pipes close their end.
func (f File) Close(p *proc.Proc, beginOp, endOp func()) {
	g := Global.mu.Acquire(Global.hart, 0)
	m := &Global.meta[f.id]
	if m.refcnt < 1 {
		panic("file: close of closed file")
	}
	m.refcnt--
	if m.refcnt > 0 {
		g.Release()
		return
	}

	in := Global.inner[f.id]
	in.lock.Acquire(p)
	kind, ip, pp := in.kind, in.ip, in.pipe
	in.kind = KindNone
	in.ip = nil
	in.pipe = nil
	in.lock.Release()
	g.Release()

	switch kind {
	case KindNone:
	case KindPipe:
		pp.closeEnd(f.isWriteEnd(in), p)
	case KindInode, KindDevice:
		beginOp()
		ip.Lock(p)
		ip.Unlock()
		ip.Put(p)
		endOp()
	}
}

// isWriteEnd is a private marker set at pipe-open time via writeable.
func (f File) isWriteEnd(in *fileInner) bool { return in.writeable && !in.readable }

// Stat fills st with the underlying inode's metadata; devices and
// pipes have no inode-shaped stat info.
func (f File) Stat(st *stat.Stat_t, p *proc.Proc) defs.Err_t {
	in := Global.inner[f.id]
	in.lock.Acquire(p)
	defer in.lock.Release()

	switch in.kind {
	case KindInode, KindDevice:
		in.ip.Lock(p)
		in.ip.Stat(st)
		in.ip.Unlock()
		return 0
	default:
		return defs.EINVAL
	}
}

// Read dispatches to the pipe, inode, or device read path.
func (f File) Read(dst []byte, p *proc.Proc) (int, defs.Err_t) {
	in := Global.inner[f.id]
	in.lock.Acquire(p)
	defer in.lock.Release()

	if !in.readable {
		return 0, defs.EBADF
	}
	switch in.kind {
	case KindNone:
		panic("file: read: none")
	case KindPipe:
		n, err := in.pipe.read(dst, p)
		return n, err
	case KindInode:
		in.ip.Lock(p)
		n, err := in.ip.ReadLocked(dst, int(in.offset), p)
		in.ip.Unlock()
		if err != nil {
			return n, devErr(err)
		}
		in.offset += uint32(n)
		return n, 0
	case KindDevice:
		ops, ok := devSwitch[in.major]
		if !ok || ops.Read == nil {
			return 0, defs.EINVAL
		}
		n, err := ops.Read(dst, p)
		if err != nil {
			return n, devErr(err)
		}
		return n, 0
	}
	return 0, defs.EINVAL
}

// devErr unwraps a defs.Err_t boxed as error (the convention every
// blocking read/write path in this kernel uses at its boundary, per
// fs's own errno returns), defaulting to EIO for anything else.
func devErr(err error) defs.Err_t {
	if err == nil {
		return 0
	}
	if e, ok := err.(defs.Err_t); ok {
		return e
	}
	return defs.EIO
}

// Write dispatches to the pipe, inode, or device write path. Inode
// writes are chunked at a log-transaction-sized boundary so no single
// write() call can overrun the log, per spec.md §4.K/original_source's
// file.rs comment on MAXOPBLOCKS slop.
func (f File) Write(src []byte, p *proc.Proc, beginOp, endOp func()) (int, defs.Err_t) {
	in := Global.inner[f.id]
	in.lock.Acquire(p)
	defer in.lock.Release()

	if !in.writeable {
		return 0, defs.EBADF
	}
	switch in.kind {
	case KindNone:
		panic("file: write: none")
	case KindPipe:
		n, err := in.pipe.write(src, p)
		return n, err
	case KindInode:
		const maxPerOp = ((10 - 1 - 1 - 2) / 2) * 1024 // MAXOPBLOCKS/BSIZE mirrored from fs, kept local to avoid an fs import
		total := 0
		for total < len(src) {
			n1 := len(src) - total
			if n1 > maxPerOp {
				n1 = maxPerOp
			}
			beginOp()
			in.ip.Lock(p)
			w, err := in.ip.WriteLocked(src[total:total+n1], int(in.offset), p)
			in.ip.Unlock()
			endOp()
			if w > 0 {
				in.offset += uint32(w)
				total += w
			}
			if err != nil {
				if total == len(src) {
					return total, 0
				}
				return total, devErr(err)
			}
			if w < n1 {
				break
			}
		}
		if total != len(src) {
			return total, defs.EIO
		}
		return total, 0
	case KindDevice:
		ops, ok := devSwitch[in.major]
		if !ok || ops.Write == nil {
			return 0, defs.EINVAL
		}
		n, err := ops.Write(src, p)
		if err != nil {
			return n, devErr(err)
		}
		return n, 0
	}
	return 0, defs.EINVAL
}
