package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	"defs"
	"fs"
	"proc"
)

// octoposRoot is the shared state every node in the mounted tree reads
// from: the live filesystem, a dedicated bootstrap process context for
// fs calls (this kernel has no per-FUSE-request process of its own),
// and a mutex serializing access to that one context -- FUSE dispatches
// requests from several goroutines at once, but this kernel's inode
// locks assume one caller's *proc.Proc per logged-in operation, so
// mount.go collapses the whole mount to a single logical caller rather
// than fabricate one synthetic process per in-flight FUSE request.
// Grounded on hanwen-go-fuse/fs/loopback.go's InodeEmbedder shape,
// adapted from delegating to the host POSIX filesystem to delegating
// to this kernel's own fs.FS instead.
type octoposRoot struct {
	fsys *fs.FS
	proc *proc.Proc
	mu   sync.Mutex
}

type octoposNode struct {
	gofs.Inode
	root *octoposRoot
	ip   *fs.Inode
}

var _ = (gofs.NodeGetattrer)((*octoposNode)(nil))
var _ = (gofs.NodeLookuper)((*octoposNode)(nil))
var _ = (gofs.NodeReaddirer)((*octoposNode)(nil))
var _ = (gofs.NodeOpener)((*octoposNode)(nil))
var _ = (gofs.NodeReader)((*octoposNode)(nil))

func (n *octoposNode) Getattr(ctx context.Context, fh gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.ip.Lock(n.root.proc)
	defer n.ip.Unlock()

	fillAttr(n.ip, &out.Attr)
	return 0
}

func (n *octoposNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()

	n.ip.Lock(n.root.proc)
	child, _, err := n.ip.DirLookup(name, n.root.proc)
	n.ip.Unlock()
	if err != nil {
		return nil, syscall.ENOENT
	}

	child.Lock(n.root.proc)
	fillAttr(child, &out.Attr)
	child.Unlock()

	stable := gofs.StableAttr{Mode: modeFor(child), Ino: uint64(child.Inum)}
	node := &octoposNode{root: n.root, ip: child}
	return n.NewInode(ctx, node, stable), 0
}

func (n *octoposNode) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()

	n.ip.Lock(n.root.proc)
	entries, err := readDirents(n.ip, n.root.proc)
	n.ip.Unlock()
	if err != nil {
		return nil, syscall.EIO
	}
	return gofs.NewListDirStream(entries), 0
}

func (n *octoposNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *octoposNode) Read(ctx context.Context, fh gofs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()

	n.ip.Lock(n.root.proc)
	nread, err := n.ip.ReadLocked(dest, int(off), n.root.proc)
	n.ip.Unlock()
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:nread]), 0
}

// readDirents parses dp's raw directory bytes into go-fuse dir
// entries; fs.FS exposes single-name lookup (DirLookup) but no bulk
// iterator, so this reads fs.DirentSize-sized records directly the
// way fs/dir.go's own DirLookup does internally.
func readDirents(dp *fs.Inode, p *proc.Proc) ([]fuse.DirEntry, error) {
	var out []fuse.DirEntry
	buf := make([]byte, fs.DirentSize)
	for off := 0; off < int(dp.Size); off += fs.DirentSize {
		n, err := dp.ReadLocked(buf, off, p)
		if err != nil || n != fs.DirentSize {
			return nil, fmt.Errorf("octosim: readdir at %d: %w", off, err)
		}
		inum := binary.LittleEndian.Uint16(buf[0:2])
		if inum == 0 {
			continue
		}
		name := nameFromBytes(buf[2:16])
		if name == "." || name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{Ino: uint64(inum), Name: name})
	}
	return out, nil
}

func nameFromBytes(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func modeFor(ip *fs.Inode) uint32 {
	if ip.Type == defs.T_DIR {
		return fuse.S_IFDIR | 0755
	}
	return fuse.S_IFREG | 0644
}

func fillAttr(ip *fs.Inode, out *fuse.Attr) {
	out.Mode = modeFor(ip)
	out.Size = uint64(ip.Size)
	out.Ino = uint64(ip.Inum)
	out.Nlink = uint32(ip.Nlink)
	if out.Nlink == 0 {
		out.Nlink = 1
	}
}

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <image> <mountpoint>",
		Short: "Read-only FUSE mount of an octopos disk image, for debugging",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(args[0], args[1])
		},
	}
	return cmd
}

func runMount(image, mountpoint string) error {
	runID := "mount"
	log := newLogger(runID)
	sim, err := Boot(image, runID, log)
	if err != nil {
		return err
	}
	defer sim.Shutdown()

	bootstrap := proc.Alloc("fuse")
	if bootstrap == nil {
		return fmt.Errorf("out of procs")
	}

	root := &octoposRoot{fsys: sim.fsys, proc: bootstrap}
	rootNode := &octoposNode{root: root, ip: sim.rootIp}

	server, err := gofs.Mount(mountpoint, rootNode, &gofs.Options{})
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	log.Info("mounted", "image", image, "at", mountpoint)
	server.Wait()
	return nil
}
