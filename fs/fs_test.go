package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"proc"
)

// memDisk is an in-memory fs.Disk, standing in for cmd/mkfs's fileDisk
// so these tests never touch the host filesystem.
type memDisk struct {
	blocks [][]byte
}

func newMemDisk(nblocks uint32) *memDisk {
	d := &memDisk{blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, BSIZE)
	}
	return d
}

func (d *memDisk) ReadBlock(block uint32, dst []byte) error {
	copy(dst, d.blocks[block])
	return nil
}

func (d *memDisk) WriteBlock(block uint32, src []byte) error {
	copy(d.blocks[block], src)
	return nil
}

func testCeilDiv(a, b uint32) uint32 { return (a + b - 1) / b }

// formatDisk lays out a disk the way cmd/mkfs's computeLayout/
// writeSuperblock/markMetaBlocks do, directly against the package's
// own (unexported) superblock codec instead of re-deriving the
// on-disk byte layout a second time.
func formatDisk(t *testing.T, size, ninodes uint32) *memDisk {
	t.Helper()
	const logStart = 2
	nLog := uint32(LOGSIZE + 1)
	inodeStart := logStart + nLog
	nInodeBlocks := testCeilDiv(ninodes, IPB)
	bmapStart := inodeStart + nInodeBlocks
	nBitmapBlocks := testCeilDiv(size, BPB)
	dataStart := bmapStart + nBitmapBlocks
	require.Less(t, dataStart, size, "disk too small for the requested inode count")

	sb := Superblock{
		Magic:      FSMAGIC,
		Size:       size,
		NBlocks:    size - dataStart,
		NInodes:    ninodes,
		NLog:       nLog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}

	d := newMemDisk(size)
	copy(d.blocks[1], encodeSuperblock(&sb))

	for bb := uint32(0); bb < nBitmapBlocks; bb++ {
		base := bb * BPB
		for bi := uint32(0); bi < BPB && base+bi < dataStart; bi++ {
			d.blocks[bmapStart+bb][bi/8] |= 1 << (bi % 8)
		}
	}
	return d
}

// newTestFS formats a fresh disk with size data+meta blocks (total)
// and ninodes inode slots, builds the root directory, and returns the
// live FS plus the bootstrapping process.
func newTestFS(t *testing.T, size, ninodes uint32) (*FS, *proc.Proc) {
	t.Helper()
	disk := formatDisk(t, size, ninodes)
	p := proc.Alloc("fs-test")
	require.NotNil(t, p)

	cache := NewCache(disk)
	fsys, err := NewFS(cache, 0, p)
	require.NoError(t, err)

	fsys.Log.BeginOp(p)
	err = fsys.MkRootDir(p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	return fsys, p
}

func TestMkRootDirCreatesSelfReferencingRoot(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	root, err := fsys.Namei("/", nil, p)
	require.NoError(t, err)
	defer func() { root.Unlock(); root.Put(p) }()

	assert.Equal(t, uint16(defs.T_DIR), root.Type)

	dot, _, err := root.DirLookup(".", p)
	require.NoError(t, err)
	assert.Equal(t, root.Inum, dot.Inum)
	dot.Put(p)

	dotdot, _, err := root.DirLookup("..", p)
	require.NoError(t, err)
	assert.Equal(t, root.Inum, dotdot.Inum)
	dotdot.Put(p)
}

func TestCreateThenWriteThenReadRoundTrips(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create("/hello.txt", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	fsys.Log.BeginOp(p)
	n, werr := ip.WriteAt([]byte("hello, fs"), 0, p)
	fsys.Log.EndOp(p)
	require.NoError(t, werr)
	assert.Equal(t, 9, n)
	ip.Unlock()
	ip.Put(p)

	found, err := fsys.Namei("/hello.txt", nil, p)
	require.NoError(t, err)
	defer func() { found.Unlock(); found.Put(p) }()

	got := make([]byte, 9)
	n, rerr := found.ReadLocked(got, 0, p)
	require.NoError(t, rerr)
	assert.Equal(t, 9, n)
	assert.Equal(t, "hello, fs", string(got))
}

func TestCreateIsIdempotentForPlainFiles(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	first, err := fsys.Create("/a", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	firstInum := first.Inum
	first.Unlock()
	first.Put(p)

	fsys.Log.BeginOp(p)
	second, err := fsys.Create("/a", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err, "re-creating an existing plain file returns the same inode")
	assert.Equal(t, firstInum, second.Inum)
	second.Unlock()
	second.Put(p)
}

func TestMkdirThenNestedCreateResolves(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	dir, err := fsys.Create("/sub", defs.T_DIR, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	dir.Unlock()
	dir.Put(p)

	fsys.Log.BeginOp(p)
	child, err := fsys.Create("/sub/leaf", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	child.Unlock()
	child.Put(p)

	resolved, err := fsys.Namei("/sub/leaf", nil, p)
	require.NoError(t, err)
	assert.Equal(t, uint16(defs.T_FILE), resolved.Type)
	resolved.Unlock()
	resolved.Put(p)
}

func TestUnlinkRemovesEntryAndFreesInode(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create("/gone", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	goneInum := ip.Inum
	ip.Unlock()
	ip.Put(p)

	fsys.Log.BeginOp(p)
	err = fsys.Unlink("/gone", nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	_, err = fsys.Namei("/gone", nil, p)
	assert.Equal(t, defs.ENOENT, err)

	fsys.Log.BeginOp(p)
	again, err := fsys.Create("/again", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	assert.Equal(t, goneInum, again.Inum, "the unlinked inode is free and is handed out again")
	again.Unlock()
	again.Put(p)
}

func TestUnlinkNonEmptyDirectoryFails(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	dir, err := fsys.Create("/full", defs.T_DIR, 0, 0, nil, p)
	require.NoError(t, err)
	_, err = fsys.Create("/full/f", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	dir.Unlock()
	dir.Put(p)

	fsys.Log.BeginOp(p)
	err = fsys.Unlink("/full", nil, p)
	fsys.Log.EndOp(p)
	assert.Equal(t, defs.ENOTEMPTY, err)
}

func TestLinkAddsSecondNameForSameInode(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create("/orig", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	origInum := ip.Inum
	ip.Unlock()
	ip.Put(p)

	fsys.Log.BeginOp(p)
	err = fsys.Link("/orig", "/alias", nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	aliased, err := fsys.Namei("/alias", nil, p)
	require.NoError(t, err)
	assert.Equal(t, origInum, aliased.Inum)
	assert.Equal(t, uint16(2), aliased.Nlink)
	aliased.Unlock()
	aliased.Put(p)
}

func TestLinkRefusesDirectories(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)

	fsys.Log.BeginOp(p)
	dir, err := fsys.Create("/adir", defs.T_DIR, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)
	dir.Unlock()
	dir.Put(p)

	fsys.Log.BeginOp(p)
	err = fsys.Link("/adir", "/adir2", nil, p)
	fsys.Log.EndOp(p)
	assert.Equal(t, defs.EPERM, err)
}

// TestWriteAtExhaustsFreeBlocksReturnsPartialENOSPC formats a disk with
// only two free data blocks: MkRootDir's own directory data consumes
// one, leaving a single block for the test file, so a write spanning
// two blocks must return a short write plus ENOSPC rather than lose
// data silently.
func TestWriteAtExhaustsFreeBlocksReturnsPartialENOSPC(t *testing.T) {
	fsys, p := newTestFS(t, 37, 16)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create("/big", defs.T_FILE, 0, 0, nil, p)
	fsys.Log.EndOp(p)
	require.NoError(t, err)

	payload := make([]byte, BSIZE+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	fsys.Log.BeginOp(p)
	n, werr := ip.WriteAt(payload, 0, p)
	fsys.Log.EndOp(p)

	assert.Equal(t, defs.ENOSPC, werr)
	assert.Equal(t, BSIZE, n, "exactly the one remaining free block's worth was written")
	ip.Unlock()
	ip.Put(p)
}

func TestNameiMissingPathReturnsENOENT(t *testing.T) {
	fsys, p := newTestFS(t, 64, 16)
	_, err := fsys.Namei("/nope", nil, p)
	assert.Equal(t, defs.ENOENT, err)
}
