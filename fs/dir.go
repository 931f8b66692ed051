package fs

import (
	"bytes"
	"encoding/binary"

	"defs"
	"proc"
)

// AllocInode finds a free on-disk inode slot, marks it with the given
// type, and returns a locked, loaded in-memory handle for it. Grounded
// on spec.md §4.J's "ialloc" paragraph.
func (fsys *FS) AllocInode(typ uint16, p *proc.Proc) (*Inode, error) {
	for inum := uint32(1); inum < fsys.Sb.NInodes; inum++ {
		b, err := fsys.Cache.Read(fsys.dev, fsys.Sb.IBlock(inum), p)
		if err != nil {
			return nil, err
		}
		off := (inum % IPB) * 64
		d := decodeDinode(b.Data()[off : off+64])
		if d.Type == defs.T_FREE {
			d.Type = typ
			copy(b.Data()[off:off+64], encodeDinode(&d))
			fsys.Log.LogWrite(b)
			b.Release(p)
			ip := fsys.Get(inum)
			ip.Lock(p)
			return ip, nil
		}
		b.Release(p)
	}
	return nil, defs.ENOSPC
}

func nameBytes(name string) [14]byte {
	var b [14]byte
	copy(b[:], name)
	return b
}

func nameString(b [14]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// DirLookup scans a directory inode for name, returning the child
// inode (unlocked, refcnt bumped) and the byte offset of its dirent.
func (dp *Inode) DirLookup(name string, p *proc.Proc) (*Inode, int, error) {
	if dp.Type != defs.T_DIR {
		return nil, 0, defs.ENOTDIR
	}
	var de Dirent
	buf := make([]byte, DirentSize)
	for off := 0; off < int(dp.Size); off += DirentSize {
		n, err := dp.readAt(buf, off, p)
		if err != nil || n != DirentSize {
			return nil, 0, defs.EIO
		}
		de.Inum = binary.LittleEndian.Uint16(buf[0:2])
		copy(de.Name[:], buf[2:16])
		if de.Inum == 0 {
			continue
		}
		if nameString(de.Name) == name {
			return dp.fsys.Get(uint32(de.Inum)), off, nil
		}
	}
	return nil, 0, defs.ENOENT
}

// DirLink adds a (name, inum) entry to directory dp, reusing a free
// slot if one exists, per spec.md §4.J's "dirlink".
func (dp *Inode) DirLink(name string, inum uint32, p *proc.Proc) error {
	if existing, _, err := dp.DirLookup(name, p); err == nil {
		existing.Put(p)
		return defs.EEXIST
	}

	buf := make([]byte, DirentSize)
	off := 0
	for ; off < int(dp.Size); off += DirentSize {
		n, err := dp.readAt(buf, off, p)
		if err != nil || n != DirentSize {
			return defs.EIO
		}
		if binary.LittleEndian.Uint16(buf[0:2]) == 0 {
			break
		}
	}

	de := Dirent{Inum: uint16(inum), Name: nameBytes(name)}
	out := make([]byte, DirentSize)
	binary.LittleEndian.PutUint16(out[0:2], de.Inum)
	copy(out[2:16], de.Name[:])
	_, err := dp.WriteAt(out, off, p)
	return err
}

// IsDirEmpty reports whether dp (a directory) contains only "." and "..".
func (dp *Inode) IsDirEmpty(p *proc.Proc) bool {
	buf := make([]byte, DirentSize)
	for off := 2 * DirentSize; off < int(dp.Size); off += DirentSize {
		n, err := dp.readAt(buf, off, p)
		if err != nil || n != DirentSize {
			return false
		}
		if binary.LittleEndian.Uint16(buf[0:2]) != 0 {
			return false
		}
	}
	return true
}

// MkRootDir creates the root directory inode (inum ROOTINO) with "."
// and ".." both pointing at itself. Called once at mkfs time.
func (fsys *FS) MkRootDir(p *proc.Proc) error {
	root, err := fsys.AllocInode(defs.T_DIR, p)
	if err != nil {
		return err
	}
	root.Nlink = 1
	root.Update(p)
	if err := root.DirLink(".", root.Inum, p); err != nil {
		root.Unlock()
		root.Put(p)
		return err
	}
	if err := root.DirLink("..", root.Inum, p); err != nil {
		root.Unlock()
		root.Put(p)
		return err
	}
	root.Unlock()
	root.Put(p)
	return nil
}
