package fs

import (
	"encoding/binary"
	"fmt"

	"proc"
	"spinlock"
)

// logHeader mirrors the on-disk header block: {n, blocks[LOGSIZE]},
// per spec.md §4.I/§6.
type logHeader struct {
	n      uint32
	blocks [LOGSIZE]uint32
}

func (h *logHeader) encode() []byte {
	b := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(b[0:4], h.n)
	for i := uint32(0); i < h.n; i++ {
		binary.LittleEndian.PutUint32(b[4+4*i:8+4*i], h.blocks[i])
	}
	return b
}

func decodeHeader(b []byte) logHeader {
	var h logHeader
	h.n = binary.LittleEndian.Uint32(b[0:4])
	for i := uint32(0); i < h.n && i < LOGSIZE; i++ {
		h.blocks[i] = binary.LittleEndian.Uint32(b[4+4*i : 8+4*i])
	}
	return h
}

// Log is the write-ahead redo log (component I), grounded directly on
// original_source/src/log.rs: the commit ordering below is copied
// exactly (write_log -> write_head(commit) -> install_trans ->
// n=0 -> write_head(erase)).
type Log struct {
	mu          *spinlock.Lock
	hart        *spinlock.Hart
	cache       *Cache
	dev         int
	start       uint32
	size        uint32
	outstanding int
	committing  bool
	header      logHeader
}

// NewLog constructs the log over [start, start+size) and recovers any
// committed-but-uninstalled transaction left from a prior crash.
func NewLog(cache *Cache, dev int, start, size uint32, p *proc.Proc) *Log {
	l := &Log{
		mu:    spinlock.New("log"),
		hart:  spinlock.ForHart(-1011),
		cache: cache,
		dev:   dev,
		start: start,
		size:  size,
	}
	l.recover(p)
	return l
}

func (l *Log) readHead(p *proc.Proc) {
	b, err := l.cache.Read(l.dev, l.start, p)
	if err != nil {
		panic(fmt.Sprintf("fs: log: read_head: %v", err))
	}
	l.header = decodeHeader(b.Data()[:])
	b.Release(p)
}

func (l *Log) writeHead(p *proc.Proc) {
	b, err := l.cache.Read(l.dev, l.start, p)
	if err != nil {
		panic(fmt.Sprintf("fs: log: write_head: %v", err))
	}
	copy(b.Data()[:], l.header.encode())
	if err := l.cache.Write(b); err != nil {
		panic(fmt.Sprintf("fs: log: write_head: %v", err))
	}
	b.Release(p)
}

// installTrans copies committed log blocks to their home location.
// When recovering is false it unpins each block once installed (the
// normal post-commit path); during boot recovery refcounts were lost
// on reboot so there is nothing to unpin.
func (l *Log) installTrans(recovering bool, p *proc.Proc) {
	for tail := uint32(0); tail < l.header.n; tail++ {
		lbuf, err := l.cache.Read(l.dev, l.start+tail+1, p)
		if err != nil {
			panic(fmt.Sprintf("fs: log: install: %v", err))
		}
		dbuf, err := l.cache.Read(l.dev, l.header.blocks[tail], p)
		if err != nil {
			panic(fmt.Sprintf("fs: log: install: %v", err))
		}
		*dbuf.Data() = *lbuf.Data()
		if err := l.cache.Write(dbuf); err != nil {
			panic(fmt.Sprintf("fs: log: install: %v", err))
		}
		if !recovering {
			l.cache.Unpin(dbuf)
		}
		lbuf.Release(p)
		dbuf.Release(p)
	}
}

func (l *Log) writeLog(p *proc.Proc) {
	for tail := uint32(0); tail < l.header.n; tail++ {
		to, err := l.cache.Read(l.dev, l.start+tail+1, p)
		if err != nil {
			panic(fmt.Sprintf("fs: log: write_log: %v", err))
		}
		from, err := l.cache.Read(l.dev, l.header.blocks[tail], p)
		if err != nil {
			panic(fmt.Sprintf("fs: log: write_log: %v", err))
		}
		*to.Data() = *from.Data()
		if err := l.cache.Write(to); err != nil {
			panic(fmt.Sprintf("fs: log: write_log: %v", err))
		}
		to.Release(p)
		from.Release(p)
	}
}

// BeginOp must be called at the start of every FS system call, per
// spec.md §4.I.
func (l *Log) BeginOp(p *proc.Proc) {
	g := l.mu.Acquire(l.hart, 0)
	for {
		if l.committing {
			p.Sleep(proc.ChanLog(), func() { g.Release() }, func() { g = l.mu.Acquire(l.hart, 0) })
			continue
		}
		if int(l.header.n)+(l.outstanding+1)*MAXOPBLOCKS > LOGSIZE {
			p.Sleep(proc.ChanLog(), func() { g.Release() }, func() { g = l.mu.Acquire(l.hart, 0) })
			continue
		}
		l.outstanding++
		g.Release()
		return
	}
}

// EndOp must be called at the end of every FS system call; commits if
// this was the last outstanding operation.
func (l *Log) EndOp(p *proc.Proc) {
	g := l.mu.Acquire(l.hart, 0)
	l.outstanding--
	doCommit := false
	if l.committing {
		panic("fs: log: end_op: committing already true")
	}
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		proc.Wakeup(proc.ChanLog())
	}
	g.Release()

	if doCommit {
		l.commit(p)
		g = l.mu.Acquire(l.hart, 0)
		l.committing = false
		g.Release()
		proc.Wakeup(proc.ChanLog())
	}
}

func (l *Log) commit(p *proc.Proc) {
	if l.header.n == 0 {
		return
	}
	l.writeLog(p)       // (1) copy modified blocks from cache to log
	l.writeHead(p)      // (2) the commit point
	l.installTrans(false, p) // (3) install to home location
	l.header.n = 0           // (4) reset
	l.writeHead(p)            // (5) erase the log
}

// LogWrite replaces a direct Cache.Write for any block modified within
// a transaction: absorbs repeats (a block logged at most once per
// transaction) and pins the buffer so commit can find it.
func (l *Log) LogWrite(b *Buf) {
	g := l.mu.Acquire(l.hart, 0)
	defer g.Release()

	if l.header.n >= LOGSIZE || l.header.n >= l.size-1 {
		panic("fs: log_write: transaction too big")
	}
	if l.outstanding < 1 {
		panic("fs: log_write: outside of trans")
	}
	i := uint32(0)
	for ; i < l.header.n; i++ {
		if l.header.blocks[i] == b.Blockno {
			break // absorption
		}
	}
	l.header.blocks[i] = b.Blockno
	if i == l.header.n {
		l.cache.Pin(b)
		l.header.n++
	}
}

// recover runs at FS init: install any committed transaction left on
// disk, then clear the log.
func (l *Log) recover(p *proc.Proc) {
	l.readHead(p)
	l.installTrans(true, p)
	l.header.n = 0
	l.writeHead(p)
}
