// Package console implements the line-discipline input ring and
// output sink for the teletype device (component N), registered as
// device major 1 in the file table's device switch. The ring's
// r/w/e indices, backspace/EOF handling, and echo-then-wake protocol
// are grounded directly on original_source/kernel/console.rs's Console
// struct; the modulo-indexed ring itself follows the
// head/tail-modulo-bufsz idiom the teacher's biscuit/src/circbuf/circbuf.go
// uses for its own ring, adapted down from circbuf's byte-slice/page
//-backed general buffer to console's fixed single array, per
// spec.md §4.N.
package console

import (
	"io"

	"defs"
	"file"
	"proc"
	"spinlock"
)

const bufSize = 128

// chanBuffer is the wakeup channel Read blocks on and Interrupt wakes,
// keyed by type rather than by &r's address the way the Rust original
// does (Channel is just proc.Channel = any here).
type chanBuffer struct{}

func ctrl(c byte) byte { return c - '@' }

var (
	mu   = spinlock.New("console")
	hart = spinlock.ForHart(-1050)

	buf     [bufSize]byte
	r, w, e uint

	out io.Writer
)

// Init wires the host writer console output is echoed/written to and
// registers device major 1. Called once at boot by the host simulator.
func Init(w io.Writer) {
	out = w
	file.RegisterDevice(1, file.DevOps{Read: Read, Write: Write})
}

func putc(c byte) {
	if out != nil {
		out.Write([]byte{c})
	}
}

func putBackspace() {
	putc('\x08')
	putc(' ')
	putc('\x08')
}

// Interrupt feeds one input byte through the line discipline: backspace
// erases the last unconsumed character, '\r' folds to '\n', and a
// newline, Ctrl-D, or a full buffer hands the pending line to any
// blocked reader. Stands in for the real UART receive interrupt, which
// this simulation has no hardware to raise; the host simulator's
// stdin-reader goroutine calls this once per byte instead.
func Interrupt(c byte) {
	g := mu.Acquire(hart, 0)
	defer g.Release()

	switch {
	case c == ctrl('H') || c == 0x7f:
		if e != w {
			e--
			putBackspace()
		}
	case c != 0:
		if c == '\r' {
			c = '\n'
		}
		if e-r < bufSize {
			putc(c)
			buf[e%bufSize] = c
			e++
			if c == '\n' || c == ctrl('D') || e-r == bufSize {
				w = e
				proc.Wakeup(chanBuffer{})
			}
		}
	}
}

// Read implements file.DevOps.Read: block until input is available,
// then copy bytes to dst one at a time, stopping at a newline or once
// dst is full. Ctrl-D ends the read: if bytes were already copied they
// are returned and the marker stays in the ring, so the next call
// returns zero bytes; a read that meets the marker first consumes it
// and returns zero.
func Read(dst []byte, p *proc.Proc) (int, error) {
	g := mu.Acquire(hart, 0)
	got := 0
	for len(dst) > 0 {
		for r == w {
			if p.Killed() {
				g.Release()
				return got, defs.EINTR
			}
			p.Sleep(chanBuffer{}, g.Release, func() { g = mu.Acquire(hart, 0) })
		}
		c := buf[r%bufSize]
		r++
		if c == ctrl('D') {
			if got > 0 {
				r-- // save the EOF marker for the next read
			}
			break
		}
		dst[0] = c
		dst = dst[1:]
		got++
		if c == '\n' {
			break
		}
	}
	g.Release()
	return got, nil
}

// Write implements file.DevOps.Write: echo every byte to the host
// console, per spec.md §4.N.
func Write(src []byte, p *proc.Proc) (int, error) {
	for _, c := range src {
		putc(c)
	}
	return len(src), nil
}
