package fd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"file"
	"fs"
	"proc"
	"stat"
	"ustr"
)

// memDisk is a minimal in-memory fs.Disk, just enough to stand up a
// one-directory filesystem for exercising Cwd_t/Fd_t against a real
// *fs.Inode.
type memDisk struct{ blocks [][]byte }

func (d *memDisk) ReadBlock(block uint32, dst []byte) error {
	copy(dst, d.blocks[block])
	return nil
}

func (d *memDisk) WriteBlock(block uint32, src []byte) error {
	copy(d.blocks[block], src)
	return nil
}

// newTestFS formats a small disk by hand (the superblock byte layout
// fs.decodeSuperblock expects, since that codec is unexported) and
// returns a live *fs.FS plus a locked root inode.
func newTestFS(t *testing.T) (*fs.FS, *proc.Proc, *fs.Inode) {
	t.Helper()
	const (
		size       = 64
		ninodes    = 16
		logStart   = 2
		nLog       = fs.LOGSIZE + 1
		inodeStart = logStart + nLog
		bmapStart  = inodeStart + 1
		dataStart  = bmapStart + 1
	)

	blocks := make([][]byte, size)
	for i := range blocks {
		blocks[i] = make([]byte, fs.BSIZE)
	}

	sbBytes := blocks[1]
	binary.LittleEndian.PutUint32(sbBytes[0:4], fs.FSMAGIC)
	binary.LittleEndian.PutUint32(sbBytes[4:8], size)
	binary.LittleEndian.PutUint32(sbBytes[8:12], size-dataStart)
	binary.LittleEndian.PutUint32(sbBytes[12:16], ninodes)
	binary.LittleEndian.PutUint32(sbBytes[16:20], nLog)
	binary.LittleEndian.PutUint32(sbBytes[20:24], logStart)
	binary.LittleEndian.PutUint32(sbBytes[24:28], inodeStart)
	binary.LittleEndian.PutUint32(sbBytes[28:32], bmapStart)

	for bi := uint32(0); bi < dataStart; bi++ {
		blocks[bmapStart][bi/8] |= 1 << (bi % 8)
	}

	disk := &memDisk{blocks: blocks}
	p := proc.Alloc("fd-test")
	require.NotNil(t, p)

	cache := fs.NewCache(disk)
	fsys, err := fs.NewFS(cache, 0, p)
	require.NoError(t, err)

	fsys.Log.BeginOp(p)
	err = fsys.MkRootDir(p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	root, err := fsys.Namei("/", nil, p)
	require.NoError(t, err)
	return fsys, p, root
}

func TestMkRootCwdRootsAtSlash(t *testing.T) {
	_, _, root := newTestFS(t)
	root.Unlock()

	cwd := MkRootCwd(root)
	assert.Equal(t, "/", cwd.Path.String())
	assert.Same(t, root, cwd.Ip)
}

func TestCwdDupSharesPathAndKeepsInodeAlive(t *testing.T) {
	_, p, root := newTestFS(t)
	root.Unlock()
	cwd := MkRootCwd(root)

	dup := cwd.Dup()
	assert.True(t, dup.Path.Eq(cwd.Path))
	assert.Equal(t, cwd.Ip.Inum, dup.Ip.Inum)

	dup.Ip.Put(p) // drop the duplicated reference

	// cwd's own reference must still be live.
	cwd.Ip.Lock(p)
	self, _, err := cwd.Ip.DirLookup(".", p)
	require.NoError(t, err)
	cwd.Ip.Unlock()
	self.Put(p)
}

func TestFullpathJoinsRelativeAgainstCwdAndLeavesAbsoluteAlone(t *testing.T) {
	_, _, root := newTestFS(t)
	root.Unlock()
	cwd := MkRootCwd(root)

	rel := cwd.Fullpath(ustr.Ustr("foo"))
	assert.Equal(t, "/foo", rel.String())

	abs := cwd.Fullpath(ustr.Ustr("/bar"))
	assert.Equal(t, "/bar", abs.String())
}

func TestCopyfdDuplicateSurvivesOriginalsClose(t *testing.T) {
	_, p, root := newTestFS(t)
	root.Unlock()

	f, ferr := file.NewInodeFile(root, true, true)
	require.Equal(t, 0, int(ferr))

	orig := &Fd_t{File: f, Perms: FD_READ}
	dup := Copyfd(orig)

	var st stat.Stat_t
	noop := func() {}
	dup.Close(p, noop, noop)

	serr := orig.File.Stat(&st, p)
	assert.Equal(t, 0, int(serr), "the original descriptor's file must survive the duplicate's close")

	orig.Close(p, noop, noop)
}
