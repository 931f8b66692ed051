// Package ustr provides Ustr, the immutable byte-string type the
// kernel uses for paths and directory-entry names. A distinct type
// rather than a plain string keeps the on-disk NUL-terminated dirent
// encoding (see fs.DirentSize) separate from Go string semantics.
package ustr

// Ustr is an immutable path or path component, stored as raw bytes
// rather than a Go string so MkUstrSlice can carve one straight out of
// a directory-entry buffer without a copy-and-validate-UTF8 pass.
type Ustr []uint8

// Isdot reports whether us is exactly ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether us is exactly "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq reports whether us and s hold identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr returns the empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr for ".".
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for "/".
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a shared Ustr holding "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice wraps buf as a Ustr, truncated at the first NUL byte --
// the shape every on-disk directory-entry name comes in.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Extend returns a new Ustr with '/' and p appended, leaving us
// untouched.
func (us Ustr) Extend(p Ustr) Ustr {
	r := make(Ustr, len(us), len(us)+1+len(p))
	copy(r, us)
	r = append(r, '/')
	return append(r, p...)
}

// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of the first occurrence of b in us, or
// -1 if b is absent.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts us to a Go string, for error messages and tests.
func (us Ustr) String() string {
	return string(us)
}

// MaxNameLen is the longest single path component the on-disk
// directory entry format can hold, per spec.md §3's Dirent.
const MaxNameLen = 14

// TooLong reports whether us exceeds a single directory entry's name
// field.
func (us Ustr) TooLong() bool {
	return len(us) > MaxNameLen
}
