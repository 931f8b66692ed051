package fs

import "proc"

// allocBlock finds the first free bit in the free-block bitmap, marks
// it used, zeroes the block, and logs both writes, per spec.md §4.J.
func (fsys *FS) allocBlock(p *proc.Proc) (uint32, error) {
	g := fsys.bmu.Acquire(fsys.bhart, 0)
	defer g.Release()

	for b := uint32(0); b < fsys.Sb.Size; b += BPB {
		bb, err := fsys.Cache.Read(fsys.dev, fsys.Sb.BBlock(b), p)
		if err != nil {
			return 0, err
		}
		for bi := uint32(0); bi < BPB && b+bi < fsys.Sb.Size; bi++ {
			m := byte(1) << (bi % 8)
			if bb.Data()[bi/8]&m == 0 {
				bb.Data()[bi/8] |= m
				fsys.Log.LogWrite(bb)
				bb.Release(p)
				fsys.zeroBlock(b+bi, p)
				return b + bi, nil
			}
		}
		bb.Release(p)
	}
	return 0, errNoSpace
}

// freeBlock clears the bitmap bit for block b.
func (fsys *FS) freeBlock(b uint32, p *proc.Proc) {
	g := fsys.bmu.Acquire(fsys.bhart, 0)
	defer g.Release()

	bb, err := fsys.Cache.Read(fsys.dev, fsys.Sb.BBlock(b), p)
	if err != nil {
		panic("fs: free_block: " + err.Error())
	}
	bi := b % BPB
	m := byte(1) << (bi % 8)
	if bb.Data()[bi/8]&m == 0 {
		panic("fs: free_block: freeing free block")
	}
	bb.Data()[bi/8] &^= m
	fsys.Log.LogWrite(bb)
	bb.Release(p)
}

func (fsys *FS) zeroBlock(b uint32, p *proc.Proc) {
	buf, err := fsys.Cache.Read(fsys.dev, b, p)
	if err != nil {
		panic("fs: zero_block: " + err.Error())
	}
	*buf.Data() = [BSIZE]byte{}
	fsys.Log.LogWrite(buf)
	buf.Release(p)
}

type fsErr string

func (e fsErr) Error() string { return string(e) }

const errNoSpace fsErr = "fs: out of disk blocks"
