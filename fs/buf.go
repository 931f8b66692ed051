package fs

import (
	"fmt"

	"proc"
	"sleeplock"
	"spinlock"
)

// Disk is the block device interface, grounded on biscuit's Disk_i in
// blk.go. The rv64 virtio-mmio driver is external per spec.md §1; this
// is the interface this package depends on instead.
type Disk interface {
	ReadBlock(block uint32, dst []byte) error
	WriteBlock(block uint32, src []byte) error
}

// buf is one cache slot: metadata guarded by the cache spin lock, 1024
// bytes of data guarded by a per-buf sleep lock, per spec.md §3/§4.H.
type buf struct {
	valid   bool
	dev     int
	blockno uint32
	refcnt  int
	pinned  bool
	prev    *buf
	next    *buf
	lock    *sleeplock.Lock
	Data    [BSIZE]byte
}

// Cache is the fixed-size LRU block buffer cache (component H).
type Cache struct {
	mu    *spinlock.Lock
	hart  *spinlock.Hart
	bufs  [NBUF]*buf
	head  *buf // MRU sentinel.next is MRU, sentinel.prev is LRU
	disk  Disk
}

// NewCache builds an empty cache backed by disk.
func NewCache(disk Disk) *Cache {
	c := &Cache{
		mu:   spinlock.New("bcache"),
		hart: spinlock.ForHart(-1010),
		disk: disk,
	}
	head := &buf{}
	c.head = head
	head.next = head
	head.prev = head
	for i := range c.bufs {
		b := &buf{lock: sleeplock.New(fmt.Sprintf("buf[%d]", i))}
		c.bufs[i] = b
		c.pushFront(b)
	}
	return c
}

func (c *Cache) pushFront(b *buf) {
	b.next = c.head.next
	b.prev = c.head
	c.head.next.prev = b
	c.head.next = b
}

func (c *Cache) unlink(b *buf) {
	b.prev.next = b.next
	b.next.prev = b.prev
}

// Buf is a handle to a locked, cached block returned to callers.
type Buf struct {
	c       *Cache
	b       *buf
	Dev     int
	Blockno uint32
}

// Data returns the block's content for reading/writing in place.
func (buf *Buf) Data() *[BSIZE]byte { return &buf.b.Data }

// get finds or evicts a slot for (dev, blockno) and returns it locked
// under its sleep lock, per spec.md §4.H.
func (c *Cache) get(dev int, blockno uint32, p *proc.Proc) *Buf {
	g := c.mu.Acquire(c.hart, 0)
	for b := c.head.next; b != c.head; b = b.next {
		if b.valid && b.dev == dev && b.blockno == blockno {
			b.refcnt++
			g.Release()
			b.lock.Acquire(p)
			return &Buf{c: c, b: b, Dev: dev, Blockno: blockno}
		}
	}
	// miss: walk from the LRU tail for the first refcnt==0 slot.
	for b := c.head.prev; b != c.head; b = b.prev {
		if b.refcnt == 0 {
			b.dev = dev
			b.blockno = blockno
			b.valid = false
			b.refcnt = 1
			g.Release()
			b.lock.Acquire(p)
			return &Buf{c: c, b: b, Dev: dev, Blockno: blockno}
		}
	}
	panic("fs: bcache: no free buffer")
}

// Read returns the block read (synchronously loading from disk on a
// cache miss), per spec.md §4.H.
func (c *Cache) Read(dev int, blockno uint32, p *proc.Proc) (*Buf, error) {
	buf := c.get(dev, blockno, p)
	if !buf.b.valid {
		if err := c.disk.ReadBlock(blockno, buf.b.Data[:]); err != nil {
			buf.Release(p)
			return nil, fmt.Errorf("fs: bcache: read block %d: %w", blockno, err)
		}
		buf.b.valid = true
	}
	return buf, nil
}

// Write issues a synchronous write of buf's content to disk.
func (c *Cache) Write(buf *Buf) error {
	return c.disk.WriteBlock(buf.Blockno, buf.b.Data[:])
}

// Release drops the sleep lock, decrements refcount, and moves a
// zero-refcount slot to the MRU head.
func (buf *Buf) Release(p *proc.Proc) {
	if !buf.b.lock.Held() {
		panic("fs: bcache: release of unlocked buffer")
	}
	buf.b.lock.Release()

	g := buf.c.mu.Acquire(buf.c.hart, 0)
	buf.b.refcnt--
	if buf.b.refcnt == 0 {
		buf.c.unlink(buf.b)
		buf.c.pushFront(buf.b)
	}
	g.Release()
}

// Pin/Unpin artificially adjust refcount so log commit can hold a
// buffer alive across the commit window, per spec.md §4.H/§4.I.
func (c *Cache) Pin(buf *Buf) {
	g := c.mu.Acquire(c.hart, 0)
	buf.b.pinned = true
	buf.b.refcnt++
	g.Release()
}

func (c *Cache) Unpin(buf *Buf) {
	g := c.mu.Acquire(c.hart, 0)
	buf.b.pinned = false
	buf.b.refcnt--
	g.Release()
}
