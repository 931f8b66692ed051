package spinlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseBasic(t *testing.T) {
	h := ForHart(1)
	l := New("test")

	assert.False(t, l.Held())
	g := l.Acquire(h, 1)
	assert.True(t, l.Held())
	g.Release()
	assert.False(t, l.Held())
}

func TestInterruptsDisabledWhileHeld(t *testing.T) {
	h := ForHart(2)
	require.True(t, h.InterruptsEnabled())

	l := New("test")
	g := l.Acquire(h, 2)
	assert.False(t, h.InterruptsEnabled(), "acquiring a spinlock must disable interrupts")
	g.Release()
	assert.True(t, h.InterruptsEnabled(), "releasing the outermost lock restores interrupts")
}

func TestNestedAcquireKeepsInterruptsDisabledUntilOutermostRelease(t *testing.T) {
	h := ForHart(3)
	outer := New("outer")
	inner := New("inner")

	og := outer.Acquire(h, 3)
	ig := inner.Acquire(h, 3)
	assert.False(t, h.InterruptsEnabled())

	ig.Release()
	assert.False(t, h.InterruptsEnabled(), "interrupts stay off until the outermost lock releases")

	og.Release()
	assert.True(t, h.InterruptsEnabled())
}

func TestReleaseUnheldPanics(t *testing.T) {
	h := ForHart(4)
	l := New("test")
	assert.Panics(t, func() { l.Release(h) })
}

func TestReacquireSameHartPanics(t *testing.T) {
	h := ForHart(5)
	l := New("test")
	l.Acquire(h, 5)
	assert.Panics(t, func() { l.Acquire(h, 5) }, "re-entrant acquire by the same hart must panic")
}
