// Package stat defines the wire-format record fstat exposes to user
// space, per spec.md §4.L: "{dev, ino, type, nlink, size}".
package stat

import "unsafe"

// Stat_t mirrors a file's stat information, laid out so its bytes can
// be copied straight into a user buffer.
type Stat_t struct {
	_dev   uint
	_ino   uint
	_type  uint
	_nlink uint
	_size  uint
}

func (st *Stat_t) Wdev(v uint)   { st._dev = v }
func (st *Stat_t) Wino(v uint)   { st._ino = v }
func (st *Stat_t) Wtype(v uint)  { st._type = v }
func (st *Stat_t) Wnlink(v uint) { st._nlink = v }
func (st *Stat_t) Wsize(v uint)  { st._size = v }

func (st *Stat_t) Dev() uint   { return st._dev }
func (st *Stat_t) Ino() uint   { return st._ino }
func (st *Stat_t) Type() uint  { return st._type }
func (st *Stat_t) Nlink() uint { return st._nlink }
func (st *Stat_t) Size() uint  { return st._size }

// Bytes exposes the raw bytes of the structure for copy_out to user
// space, grounded on biscuit's stat.Stat_t.Bytes.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
