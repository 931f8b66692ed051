package file

import (
	"defs"
	"proc"
	"spinlock"
)

const pipeSize = 512

// pipe is a fixed-capacity byte ring shared by a read and a write file
// handle, per spec.md §4.K. Destroyed (by the garbage collector, once
// both handles drop their reference) when both ends have closed —
// there is no explicit free since Go pipes are heap objects, not a
// static table slot.
type pipe struct {
	mu        *spinlock.Lock
	hart      *spinlock.Hart
	data      [pipeSize]byte
	numRead   uint32
	numWrite  uint32
	readOpen  bool
	writeOpen bool
	id        uintptr // distinct identity for the two wait channels
}

var pipeIDs uintptr

// NewPipe allocates a pipe and wraps its two ends in file table slots,
// returning (readFile, writeFile).
func NewPipe() (File, File, defs.Err_t) {
	pipeIDs++
	pp := &pipe{
		mu:        spinlock.New("pipe"),
		hart:      spinlock.ForHart(-1030),
		readOpen:  true,
		writeOpen: true,
		id:        pipeIDs,
	}

	rf, err := Alloc()
	if err != 0 {
		return File{}, File{}, err
	}
	wf, err := Alloc()
	if err != 0 {
		Global.meta[rf.id].refcnt = 0
		return File{}, File{}, err
	}

	rin := Global.inner[rf.id]
	rin.kind, rin.pipe, rin.readable, rin.writeable = KindPipe, pp, true, false
	win := Global.inner[wf.id]
	win.kind, win.pipe, win.readable, win.writeable = KindPipe, pp, false, true

	return rf, wf, 0
}

func (pp *pipe) chanRead() proc.Channel  { return proc.ChanPipeRead(pp.id) }
func (pp *pipe) chanWrite() proc.Channel { return proc.ChanPipeWrite(pp.id) }

// write blocks while the ring is full, waking readers as bytes land;
// short-returns EPIPE if every reader has closed or the caller was
// killed, per spec.md §4.K.
func (pp *pipe) write(src []byte, p *proc.Proc) (int, defs.Err_t) {
	g := pp.mu.Acquire(pp.hart, 0)
	i := 0
	for i < len(src) {
		if !pp.readOpen || p.Killed() {
			g.Release()
			return i, defs.EPIPE
		}
		if pp.numWrite-pp.numRead == pipeSize {
			proc.Wakeup(pp.chanRead())
			p.Sleep(pp.chanWrite(), func() { g.Release() }, func() { g = pp.mu.Acquire(pp.hart, 0) })
			continue
		}
		pp.data[pp.numWrite%pipeSize] = src[i]
		pp.numWrite++
		i++
	}
	proc.Wakeup(pp.chanRead())
	g.Release()
	return i, 0
}

// read sleeps while the ring is empty and a writer remains open;
// returns 0 once every writer has closed and the ring has drained, per
// spec.md §4.K ("drain, then EOF").
func (pp *pipe) read(dst []byte, p *proc.Proc) (int, defs.Err_t) {
	g := pp.mu.Acquire(pp.hart, 0)
	for pp.numRead == pp.numWrite && pp.writeOpen {
		if p.Killed() {
			g.Release()
			return 0, defs.EINTR
		}
		p.Sleep(pp.chanRead(), func() { g.Release() }, func() { g = pp.mu.Acquire(pp.hart, 0) })
	}
	n := 0
	for n < len(dst) && pp.numRead < pp.numWrite {
		dst[n] = pp.data[pp.numRead%pipeSize]
		pp.numRead++
		n++
	}
	proc.Wakeup(pp.chanWrite())
	g.Release()
	return n, 0
}

// closeEnd flips the read or write open flag and wakes the other end.
func (pp *pipe) closeEnd(isWriteEnd bool, p *proc.Proc) {
	g := pp.mu.Acquire(pp.hart, 0)
	if isWriteEnd {
		pp.writeOpen = false
		proc.Wakeup(pp.chanRead())
	} else {
		pp.readOpen = false
		proc.Wakeup(pp.chanWrite())
	}
	g.Release()
}
