package elf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem"
	"vm"
)

// memInode is a minimal vm.InodeReader backed by an in-memory byte
// slice, standing in for a real *fs.Inode so Load can be tested
// without a live filesystem.
type memInode struct{ b []byte }

func (m *memInode) ReadAt(dst []byte, off int) (int, error) {
	if off >= len(m.b) {
		return 0, nil
	}
	n := copy(dst, m.b[off:])
	return n, nil
}

// buildELF assembles a minimal ELF64 image with one PT_LOAD segment
// containing code, per the field layout elf.go's decodeFileHeader/
// decodeProgHeader expect.
func buildELF(t *testing.T, entry uint64, code []byte) []byte {
	t.Helper()
	const ehsize = fileHeaderSize
	const phsize = progHeaderSize
	img := make([]byte, ehsize+phsize+len(code))

	binary.LittleEndian.PutUint32(img[0:4], magic)
	binary.LittleEndian.PutUint16(img[16:18], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(img[18:20], 0xf3) // EM_RISCV
	binary.LittleEndian.PutUint64(img[24:32], entry)
	binary.LittleEndian.PutUint64(img[32:40], uint64(ehsize)) // phoff
	binary.LittleEndian.PutUint16(img[56:58], 1)              // phnum

	ph := img[ehsize : ehsize+phsize]
	binary.LittleEndian.PutUint32(ph[0:4], progLoad)
	binary.LittleEndian.PutUint32(ph[4:8], 0x5) // R|X
	binary.LittleEndian.PutUint64(ph[8:16], uint64(ehsize+phsize))
	binary.LittleEndian.PutUint64(ph[16:24], 0) // vaddr
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(code)))

	copy(img[ehsize+phsize:], code)
	return img
}

func TestLoadMapsSegmentAndReturnsEntry(t *testing.T) {
	code := make([]byte, 32)
	for i := range code {
		code[i] = byte(i + 1)
	}
	img := buildELF(t, 0x1000, code)
	ip := &memInode{b: img}
	a := mem.NewAllocator(16)

	uv, entry, sp, err := Load(ip, a, []string{"init"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), entry)
	assert.Greater(t, sp, uint64(0))

	got := make([]byte, len(code))
	require.NoError(t, uv.PT.CopyIn(0, got))
	assert.Equal(t, code, got)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	img := buildELF(t, 0, make([]byte, 8))
	img[0] = 0 // corrupt the magic
	ip := &memInode{b: img}
	a := mem.NewAllocator(16)

	_, _, _, err := Load(ip, a, nil)
	assert.Error(t, err)
}

func TestLoadPushesArgvOntoStack(t *testing.T) {
	img := buildELF(t, 0, make([]byte, 16))
	ip := &memInode{b: img}
	a := mem.NewAllocator(16)

	uv, _, sp, err := Load(ip, a, []string{"hello"})
	require.NoError(t, err)

	ptrBytes := make([]byte, 8)
	require.NoError(t, uv.PT.CopyIn(vm.VA_t(sp), ptrBytes))
	argvPtr := binary.LittleEndian.Uint64(ptrBytes)

	got, rerr := uv.PT.CopyInString(vm.VA_t(argvPtr), 32)
	require.NoError(t, rerr)
	assert.Equal(t, "hello", got)
}

func TestLoadTooManyArgsFails(t *testing.T) {
	img := buildELF(t, 0, make([]byte, 16))
	ip := &memInode{b: img}
	a := mem.NewAllocator(16)

	args := make([]string, maxArg+1)
	for i := range args {
		args[i] = "x"
	}
	_, _, _, err := Load(ip, a, args)
	assert.Error(t, err)
}
