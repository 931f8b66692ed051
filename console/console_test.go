package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proc"
)

func resetRing() {
	g := mu.Acquire(hart, 0)
	r, w, e = 0, 0, 0
	g.Release()
}

func TestInterruptEchoesAndBuffersUntilNewline(t *testing.T) {
	resetRing()
	var out bytes.Buffer
	Init(&out)

	Interrupt('h')
	Interrupt('i')
	Interrupt('\n')
	assert.Equal(t, "hi\n", out.String(), "each byte is echoed as it arrives")

	p := proc.Alloc("reader")
	require.NotNil(t, p)

	dst := make([]byte, 8)
	n, err := Read(dst, p)
	assert.NoError(t, err)
	assert.Equal(t, "hi\n", string(dst[:n]))
}

func TestInterruptBackspaceErasesLastByte(t *testing.T) {
	resetRing()
	var out bytes.Buffer
	Init(&out)

	Interrupt('a')
	Interrupt('b')
	Interrupt(0x7f) // backspace
	Interrupt('\n')

	p := proc.Alloc("reader2")
	require.NotNil(t, p)
	dst := make([]byte, 8)
	n, err := Read(dst, p)
	assert.NoError(t, err)
	assert.Equal(t, "a\n", string(dst[:n]))
}

func TestWriteEchoesAllBytes(t *testing.T) {
	var out bytes.Buffer
	Init(&out)

	p := proc.Alloc("writer")
	require.NotNil(t, p)
	n, err := Write([]byte("hello"), p)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", out.String())
}

func TestCtrlDReturnsPartialThenEOF(t *testing.T) {
	resetRing()
	var out bytes.Buffer
	Init(&out)

	Interrupt('x')
	Interrupt(ctrl('D'))

	p := proc.Alloc("eofreader")
	require.NotNil(t, p)
	dst := make([]byte, 8)
	n, err := Read(dst, p)
	assert.NoError(t, err)
	assert.Equal(t, "x", string(dst[:n]))

	n, err = Read(dst, p)
	assert.NoError(t, err)
	assert.Equal(t, 0, n, "the Ctrl-D marker itself yields a subsequent zero-byte read")
}
