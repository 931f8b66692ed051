package fs

import (
	"strings"

	"defs"
	"proc"
)

const maxPathElem = 14 // matches Dirent.Name

// skipElem splits the first path element off path, returning it and
// the remainder, per spec.md §4.J's "skipelem".
func skipElem(path string) (elem, rest string) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	return path[:i], strings.TrimLeft(path[i:], "/")
}

// namex walks path, returning the resolved inode, locked, or the
// parent directory (locked) and the final element's name when
// nameiparent is true. Grounded on spec.md §4.J's "namex"/"namei"/
// "nameiparent" trio and original_source/src/fs.rs.
func (fsys *FS) namex(path string, nameiparent bool, cwd *Inode, p *proc.Proc) (*Inode, string, error) {
	var ip *Inode
	if strings.HasPrefix(path, "/") {
		ip = fsys.Get(ROOTINO)
	} else {
		if cwd == nil {
			ip = fsys.Get(ROOTINO)
		} else {
			ip = cwd.Dup()
		}
	}

	elem, rest := skipElem(path)
	for elem != "" {
		if len(elem) > maxPathElem {
			ip.Put(p)
			return nil, "", defs.ENAMETOOLONG
		}
		ip.Lock(p)
		if ip.Type != defs.T_DIR {
			ip.Unlock()
			ip.Put(p)
			return nil, "", defs.ENOTDIR
		}
		if nameiparent && rest == "" {
			// Stop before resolving the final element; caller wants
			// the parent directory, still locked.
			return ip, elem, nil
		}
		next, _, err := ip.DirLookup(elem, p)
		ip.Unlock()
		if err != nil {
			ip.Put(p)
			return nil, "", err
		}
		ip.Put(p)
		ip = next
		elem, rest = skipElem(rest)
	}
	if nameiparent {
		ip.Put(p)
		return nil, "", defs.ENOENT
	}
	ip.Lock(p)
	return ip, "", nil
}

// Namei resolves path to a locked inode.
func (fsys *FS) Namei(path string, cwd *Inode, p *proc.Proc) (*Inode, error) {
	ip, _, err := fsys.namex(path, false, cwd, p)
	return ip, err
}

// NameiParent resolves path's parent directory (locked) and returns the
// final path element's name alongside it.
func (fsys *FS) NameiParent(path string, cwd *Inode, p *proc.Proc) (*Inode, string, error) {
	return fsys.namex(path, true, cwd, p)
}

// Create implements the shared core of open(O_CREATE)/mkdir/mknod: it
// resolves path's parent, returning an existing inode if path already
// exists and matches typ, or creating+linking a fresh one otherwise.
// Grounded on spec.md §4.J's "create" and xv6's sys_open -> create.
func (fsys *FS) Create(path string, typ, major, minor uint16, cwd *Inode, p *proc.Proc) (*Inode, error) {
	dp, name, err := fsys.NameiParent(path, cwd, p)
	if err != nil {
		return nil, err
	}
	defer func() {
		dp.Unlock()
		dp.Put(p)
	}()

	if ip, _, err := dp.DirLookup(name, p); err == nil {
		ip.Lock(p)
		if typ == defs.T_FILE && (ip.Type == defs.T_FILE || ip.Type == defs.T_DEVICE) {
			return ip, nil
		}
		ip.Unlock()
		ip.Put(p)
		return nil, defs.EEXIST
	}

	ip, err := fsys.AllocInode(typ, p)
	if err != nil {
		return nil, err
	}
	ip.Major, ip.Minor, ip.Nlink = major, minor, 1
	ip.Update(p)

	if typ == defs.T_DIR {
		dp.Nlink++
		dp.Update(p)
		if err := ip.DirLink(".", ip.Inum, p); err != nil {
			return nil, err
		}
		if err := ip.DirLink("..", dp.Inum, p); err != nil {
			return nil, err
		}
	}
	if err := dp.DirLink(name, ip.Inum, p); err != nil {
		return nil, err
	}
	return ip, nil
}

// Unlink removes the directory entry for path's final element, per
// spec.md §4.J's "unlink": refuses to remove non-empty directories or
// "." / "..".
func (fsys *FS) Unlink(path string, cwd *Inode, p *proc.Proc) error {
	dp, name, err := fsys.NameiParent(path, cwd, p)
	if err != nil {
		return err
	}
	defer func() {
		dp.Unlock()
		dp.Put(p)
	}()

	if name == "." || name == ".." {
		return defs.EPERM
	}

	ip, off, err := dp.DirLookup(name, p)
	if err != nil {
		return defs.ENOENT
	}
	ip.Lock(p)
	defer func() {
		ip.Unlock()
		ip.Put(p)
	}()

	if ip.Nlink < 1 {
		panic("fs: unlink: nlink < 1")
	}
	if ip.Type == defs.T_DIR && !ip.IsDirEmpty(p) {
		return defs.ENOTEMPTY
	}

	clear := make([]byte, DirentSize)
	if _, err := dp.WriteAt(clear, off, p); err != nil {
		return err
	}
	if ip.Type == defs.T_DIR {
		dp.Nlink--
		dp.Update(p)
	}
	ip.Nlink--
	ip.Update(p)
	return nil
}

// Link adds a new name for an existing file, per spec.md §4.J's "link".
// Directories cannot be hard-linked.
func (fsys *FS) Link(oldpath, newpath string, cwd *Inode, p *proc.Proc) error {
	ip, err := fsys.Namei(oldpath, cwd, p)
	if err != nil {
		return err
	}
	if ip.Type == defs.T_DIR {
		ip.Unlock()
		ip.Put(p)
		return defs.EPERM
	}
	ip.Nlink++
	ip.Update(p)
	ip.Unlock()

	dp, name, err := fsys.NameiParent(newpath, cwd, p)
	if err != nil {
		ip.Lock(p)
		ip.Nlink--
		ip.Update(p)
		ip.Unlock()
		ip.Put(p)
		return err
	}
	linkErr := dp.DirLink(name, ip.Inum, p)
	dp.Unlock()
	dp.Put(p)
	if linkErr != nil {
		ip.Lock(p)
		ip.Nlink--
		ip.Update(p)
		ip.Unlock()
		ip.Put(p)
		return linkErr
	}
	ip.Put(p)
	return nil
}
