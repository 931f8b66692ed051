package vm

import "fmt"

// InodeReader is the minimal inode-read surface vm needs to pull ELF
// segments in directly; satisfied by *fs.Inode. Declared here (rather
// than importing fs) to keep vm below fs in the dependency order spec.md
// §2 lists.
type InodeReader interface {
	ReadAt(dst []byte, off int) (int, error)
}

// LoadSegment copies filesz bytes starting at fileOffset in ip directly
// into the user pages mapped at va, per spec.md §4.E's
// "load_elf_segment". va must already be page-aligned and mapped by a
// prior Grow call.
func (u *Uvm) LoadSegment(ip InodeReader, va VA_t, fileOffset, filesz int) error {
	if va%VA_t(PGSIZE) != 0 {
		return fmt.Errorf("vm: load_segment: va %#x not page aligned", va)
	}
	for i := 0; i < filesz; i += PGSIZE {
		pa, err := u.PT.WalkAddr(va + VA_t(i))
		if err != nil {
			return fmt.Errorf("vm: load_segment: %w", err)
		}
		n := PGSIZE
		if filesz-i < n {
			n = filesz - i
		}
		if _, err := ip.ReadAt(u.PT.alloc.Bytes(pa)[:n], fileOffset+i); err != nil {
			return fmt.Errorf("vm: load_segment: %w", err)
		}
	}
	return nil
}
