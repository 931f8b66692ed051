package defs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrTError(t *testing.T) {
	assert.Equal(t, "success", Err_t(0).Error())
	assert.Equal(t, "no such file or directory", ENOENT.Error())
	assert.Equal(t, "directory not empty", ENOTEMPTY.Error())
	assert.Equal(t, "errno 1000", Err_t(1000).Error())
}

func TestMkdevRoundTrips(t *testing.T) {
	dev := Mkdev(D_CONSOLE, 0)
	maj, min := Unmkdev(dev)
	assert.Equal(t, D_CONSOLE, maj)
	assert.Equal(t, 0, min)

	dev = Mkdev(7, 3)
	maj, min = Unmkdev(dev)
	assert.Equal(t, 7, maj)
	assert.Equal(t, 3, min)
}

func TestSyscallNumbersAreDistinct(t *testing.T) {
	nums := []int{SYS_FORK, SYS_EXIT, SYS_WAIT, SYS_PIPE, SYS_READ, SYS_KILL,
		SYS_EXEC, SYS_FSTAT, SYS_CHDIR, SYS_DUP, SYS_GETPID, SYS_SBRK,
		SYS_SLEEP, SYS_UPTIME, SYS_OPEN, SYS_WRITE, SYS_MKNOD, SYS_UNLINK,
		SYS_LINK, SYS_MKDIR, SYS_CLOSE}
	seen := map[int]bool{}
	for _, n := range nums {
		assert.False(t, seen[n], "duplicate syscall number %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, len(nums))
}
