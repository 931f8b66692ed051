package syscall

import (
	"encoding/binary"

	"defs"
	"fd"
	"file"
	"fs"
	"stat"

	"proc"
)

// errno unwraps an fs error (always a boxed defs.Err_t at this layer's
// call sites, per fs's own error returns) back into a plain Err_t.
func errno(err error) defs.Err_t {
	if err == nil {
		return 0
	}
	if e, ok := err.(defs.Err_t); ok {
		return e
	}
	return defs.EIO
}

// sysOpen implements spec.md §4.L's open(path, flags): resolve or
// create path depending on O_CREATE, reject writable opens of a
// directory, truncate on O_TRUNC, and install a file-table handle
// into a free descriptor.
func sysOpen(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	omode := argInt(p, 1)
	st := state(p)

	fsys.Log.BeginOp(p)
	var ip *fs.Inode
	if omode&defs.O_CREATE != 0 {
		nip, err := fsys.Create(path.String(), defs.T_FILE, 0, 0, st.cwd.Ip, p)
		if err != nil {
			fsys.Log.EndOp(p)
			return 0, errno(err)
		}
		ip = nip
	} else {
		nip, err := fsys.Namei(path.String(), st.cwd.Ip, p)
		if err != nil {
			fsys.Log.EndOp(p)
			return 0, errno(err)
		}
		ip = nip
	}

	readable := omode&3 != defs.O_WRONLY
	writeable := omode&3 == defs.O_WRONLY || omode&3 == defs.O_RDWR

	if ip.Type == defs.T_DIR && omode != defs.O_RDONLY {
		ip.Unlock()
		ip.Put(p)
		fsys.Log.EndOp(p)
		return 0, defs.EISDIR
	}
	if ip.Type == defs.T_FILE && omode&defs.O_TRUNC != 0 {
		ip.Truncate(p)
	}

	var f file.File
	var ferr defs.Err_t
	if ip.Type == defs.T_DEVICE {
		f, ferr = file.NewDeviceFile(ip, int(ip.Major), readable, writeable)
	} else {
		f, ferr = file.NewInodeFile(ip, readable, writeable)
	}
	ip.Unlock()
	if ferr != 0 {
		ip.Put(p)
		fsys.Log.EndOp(p)
		return 0, ferr
	}

	perms := 0
	if readable {
		perms |= fd.FD_READ
	}
	if writeable {
		perms |= fd.FD_WRITE
	}
	fdnum, aerr := allocFdSlot(p, &fd.Fd_t{File: f, Perms: perms})
	if aerr != 0 {
		f.Close(p, func() { fsys.Log.BeginOp(p) }, func() { fsys.Log.EndOp(p) })
		fsys.Log.EndOp(p)
		return 0, aerr
	}
	fsys.Log.EndOp(p)
	return uint64(fdnum), 0
}

// sysRead implements spec.md §4.L's read(fd, buf, n).
func sysRead(p *proc.Proc) (uint64, defs.Err_t) {
	_, fdv, err := argFd(p, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(p, 1)
	n := argInt(p, 2)
	if n < 0 {
		return 0, defs.EINVAL
	}
	buf := make([]byte, n)
	got, rerr := fdv.File.Read(buf, p)
	if rerr != 0 {
		return 0, rerr
	}
	if err := state(p).pt.CopyOut(addr, buf[:got]); err != nil {
		return 0, defs.EFAULT
	}
	return uint64(got), 0
}

// sysWrite implements spec.md §4.L's write(fd, buf, n).
func sysWrite(p *proc.Proc) (uint64, defs.Err_t) {
	_, fdv, err := argFd(p, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(p, 1)
	n := argInt(p, 2)
	if n < 0 {
		return 0, defs.EINVAL
	}
	buf := make([]byte, n)
	if err := state(p).pt.CopyIn(addr, buf); err != nil {
		return 0, defs.EFAULT
	}
	begin, end := logOps(p)
	got, werr := fdv.File.Write(buf, p, begin, end)
	if werr != 0 && got == 0 {
		return 0, werr
	}
	return uint64(got), 0
}

// sysClose implements spec.md §4.L's close(fd).
func sysClose(p *proc.Proc) (uint64, defs.Err_t) {
	num, fdv, err := argFd(p, 0)
	if err != 0 {
		return 0, err
	}
	begin, end := logOps(p)
	fdv.File.Close(p, begin, end)
	state(p).fds[num] = nil
	return 0, 0
}

// sysDup implements spec.md §4.L's dup(fd).
func sysDup(p *proc.Proc) (uint64, defs.Err_t) {
	_, fdv, err := argFd(p, 0)
	if err != 0 {
		return 0, err
	}
	n, aerr := allocFdSlot(p, fd.Copyfd(fdv))
	if aerr != 0 {
		return 0, aerr
	}
	return uint64(n), 0
}

// sysFstat implements spec.md §4.L's fstat(fd, addr).
func sysFstat(p *proc.Proc) (uint64, defs.Err_t) {
	_, fdv, err := argFd(p, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(p, 1)
	var sst stat.Stat_t
	if serr := fdv.File.Stat(&sst, p); serr != 0 {
		return 0, serr
	}
	if err := state(p).pt.CopyOut(addr, sst.Bytes()); err != nil {
		return 0, defs.EFAULT
	}
	return 0, 0
}

// sysChdir implements spec.md §4.J's chdir: resolve path to a
// directory inode, swap it in as cwd, and release the old one.
func sysChdir(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	st := state(p)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Namei(path.String(), st.cwd.Ip, p)
	if err != nil {
		fsys.Log.EndOp(p)
		return 0, errno(err)
	}
	if ip.Type != defs.T_DIR {
		ip.Unlock()
		ip.Put(p)
		fsys.Log.EndOp(p)
		return 0, defs.ENOTDIR
	}
	ip.Unlock()

	newPath := st.cwd.Fullpath(path)
	st.cwd.Ip.Put(p)
	st.cwd = &fd.Cwd_t{Ip: ip, Path: newPath}
	fsys.Log.EndOp(p)
	return 0, 0
}

// sysMknod implements spec.md §4.J's mknod(path, major, minor).
func sysMknod(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	major := argInt(p, 1)
	minor := argInt(p, 2)
	st := state(p)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create(path.String(), defs.T_DEVICE, uint16(major), uint16(minor), st.cwd.Ip, p)
	if err != nil {
		fsys.Log.EndOp(p)
		return 0, errno(err)
	}
	ip.Unlock()
	ip.Put(p)
	fsys.Log.EndOp(p)
	return 0, 0
}

// sysMkdir implements spec.md §4.J's mkdir(path).
func sysMkdir(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	st := state(p)

	fsys.Log.BeginOp(p)
	ip, err := fsys.Create(path.String(), defs.T_DIR, 0, 0, st.cwd.Ip, p)
	if err != nil {
		fsys.Log.EndOp(p)
		return 0, errno(err)
	}
	ip.Unlock()
	ip.Put(p)
	fsys.Log.EndOp(p)
	return 0, 0
}

// sysUnlink implements spec.md §4.J's unlink(path).
func sysUnlink(p *proc.Proc) (uint64, defs.Err_t) {
	path, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	st := state(p)

	fsys.Log.BeginOp(p)
	err := fsys.Unlink(path.String(), st.cwd.Ip, p)
	fsys.Log.EndOp(p)
	return 0, errno(err)
}

// sysLink implements spec.md §4.J's link(old, new).
func sysLink(p *proc.Proc) (uint64, defs.Err_t) {
	oldPath, perr := argPath(p, 0)
	if perr != 0 {
		return 0, perr
	}
	newPath, perr2 := argPath(p, 1)
	if perr2 != 0 {
		return 0, perr2
	}
	st := state(p)

	fsys.Log.BeginOp(p)
	err := fsys.Link(oldPath.String(), newPath.String(), st.cwd.Ip, p)
	fsys.Log.EndOp(p)
	return 0, errno(err)
}

// sysPipe implements spec.md §4.K's pipe(addr): allocate a pipe and
// write its two fd numbers back to user memory as a pair of ints.
func sysPipe(p *proc.Proc) (uint64, defs.Err_t) {
	addr := argAddr(p, 0)
	rf, wf, err := file.NewPipe()
	if err != 0 {
		return 0, err
	}
	rfd, aerr := allocFdSlot(p, &fd.Fd_t{File: rf, Perms: fd.FD_READ})
	if aerr != 0 {
		rf.Close(p, func() {}, func() {})
		wf.Close(p, func() {}, func() {})
		return 0, aerr
	}
	wfd, aerr2 := allocFdSlot(p, &fd.Fd_t{File: wf, Perms: fd.FD_WRITE})
	if aerr2 != 0 {
		state(p).fds[rfd] = nil
		rf.Close(p, func() {}, func() {})
		wf.Close(p, func() {}, func() {})
		return 0, aerr2
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfd))
	if err := state(p).pt.CopyOut(addr, buf); err != nil {
		return 0, defs.EFAULT
	}
	return 0, 0
}
