package ustr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsdotIsdotdot(t *testing.T) {
	assert.True(t, Ustr(".").Isdot())
	assert.False(t, Ustr("..").Isdot())
	assert.True(t, Ustr("..").Isdotdot())
	assert.False(t, Ustr(".").Isdotdot())
	assert.False(t, Ustr("a").Isdot())
}

func TestEq(t *testing.T) {
	assert.True(t, Ustr("foo").Eq(Ustr("foo")))
	assert.False(t, Ustr("foo").Eq(Ustr("bar")))
	assert.False(t, Ustr("foo").Eq(Ustr("fo")))
}

func TestMkUstrSliceStopsAtNUL(t *testing.T) {
	buf := []uint8{'a', 'b', 'c', 0, 'd', 'e'}
	got := MkUstrSlice(buf)
	assert.Equal(t, "abc", got.String())
}

func TestMkUstrSliceNoNUL(t *testing.T) {
	buf := []uint8{'x', 'y', 'z'}
	got := MkUstrSlice(buf)
	assert.Equal(t, "xyz", got.String())
}

func TestExtend(t *testing.T) {
	base := Ustr("/a")
	got := base.Extend(Ustr("b"))
	assert.Equal(t, "/a/b", got.String())
	// base must be untouched
	assert.Equal(t, "/a", base.String())
}

func TestExtendStr(t *testing.T) {
	got := Ustr("/a").ExtendStr("b")
	assert.Equal(t, "/a/b", got.String())
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, Ustr("/a").IsAbsolute())
	assert.False(t, Ustr("a").IsAbsolute())
	assert.False(t, MkUstr().IsAbsolute())
}

func TestIndexByte(t *testing.T) {
	assert.Equal(t, 2, Ustr("ab/cd").IndexByte('/'))
	assert.Equal(t, -1, Ustr("abcd").IndexByte('/'))
}

func TestTooLong(t *testing.T) {
	assert.False(t, Ustr("short").TooLong())
	long := Ustr("012345678901234") // 15 bytes, MaxNameLen is 14
	assert.True(t, long.TooLong())
}

func TestMkUstrRootAndDot(t *testing.T) {
	assert.Equal(t, "/", MkUstrRoot().String())
	assert.Equal(t, ".", MkUstrDot().String())
	assert.True(t, DotDot.Isdotdot())
}
