package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem"
	"proc"
	"syscall"
	"vm"
)

func newTestProc(t *testing.T) *proc.Proc {
	t.Helper()
	alloc := mem.NewAllocator(8)
	syscall.Init(nil, alloc)

	p := proc.Alloc("diag-test")
	require.NotNil(t, p)

	st, err := syscall.NewProcState(nil, nil)
	require.NoError(t, err)
	syscall.Install(p, st)
	return p
}

func TestDumpIncludesPidAndRegisters(t *testing.T) {
	p := newTestProc(t)
	tf := syscall.Trapframe(p)
	tf.Epc = 0x4000
	tf.Ra = 0x4100
	tf.A7 = 5

	s := Dump(p)
	assert.Contains(t, s, "diag-test")
	assert.Contains(t, s, "epc=0x4000")
	assert.Contains(t, s, "a7=0x5")
}

func TestDumpReportsUnreadableFaultInsn(t *testing.T) {
	p := newTestProc(t)
	tf := syscall.Trapframe(p)
	tf.Epc = 0x8000 // never mapped

	s := Dump(p)
	assert.Contains(t, s, "unreadable")
}

func TestDumpDecodesMappedInstruction(t *testing.T) {
	p := newTestProc(t)
	uv := syscall.Uvm(p)
	require.NoError(t, uv.Grow(vm.VA_t(vm.PGSIZE), vm.PTE_W|vm.PTE_X))

	// addi x0, x0, 0 (nop), little-endian.
	nop := []byte{0x13, 0x00, 0x00, 0x00}
	require.NoError(t, syscall.PageTable(p).CopyOut(0, nop))

	tf := syscall.Trapframe(p)
	tf.Epc = 0

	s := Dump(p)
	assert.NotContains(t, s, "unreadable")
	assert.Contains(t, s, "faulting insn:")
}

func TestDumpDedupsRepeatedFaultSite(t *testing.T) {
	p := newTestProc(t)
	tf := syscall.Trapframe(p)
	tf.Epc = 0x9000

	first := Dump(p)
	second := Dump(p)
	assert.Contains(t, first, "first occurrence")
	assert.NotContains(t, second, "first occurrence")
}
