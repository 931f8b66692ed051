package main

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"fs"
	"proc"
)

// buildTestImage formats a small on-disk image the same way cmd/mkfs
// would, writing directly to a temp file so Boot can open it with its
// own fileDisk the same as any image mkfs produced.
func buildTestImage(t *testing.T) string {
	t.Helper()
	const (
		size       = 256
		ninodes    = 64
		logStart   = 2
		nLog       = fs.LOGSIZE + 1
		inodeStart = logStart + nLog
		bmapStart  = inodeStart + 4
		dataStart  = bmapStart + 1
	)

	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(size)*fs.BSIZE))

	sb := make([]byte, fs.BSIZE)
	binary.LittleEndian.PutUint32(sb[0:4], fs.FSMAGIC)
	binary.LittleEndian.PutUint32(sb[4:8], size)
	binary.LittleEndian.PutUint32(sb[8:12], size-dataStart)
	binary.LittleEndian.PutUint32(sb[12:16], ninodes)
	binary.LittleEndian.PutUint32(sb[16:20], nLog)
	binary.LittleEndian.PutUint32(sb[20:24], logStart)
	binary.LittleEndian.PutUint32(sb[24:28], inodeStart)
	binary.LittleEndian.PutUint32(sb[28:32], bmapStart)
	_, err = f.WriteAt(sb, int64(1)*fs.BSIZE)
	require.NoError(t, err)

	bmap := make([]byte, fs.BSIZE)
	for bi := uint32(0); bi < dataStart; bi++ {
		bmap[bi/8] |= 1 << (bi % 8)
	}
	_, err = f.WriteAt(bmap, int64(bmapStart)*fs.BSIZE)
	require.NoError(t, err)

	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bootTestSim boots a fresh image, formats its root directory (mkfs's
// job in production, done here by hand since these tests don't shell
// out to the mkfs binary), and returns a ready-to-use Sim.
func bootTestSim(t *testing.T) *Sim {
	t.Helper()
	image := buildTestImage(t)

	f, err := os.OpenFile(image, os.O_RDWR, 0644)
	require.NoError(t, err)
	disk := &fileDisk{f: f}
	cache := fs.NewCache(disk)
	boot := proc.Alloc("mkroot")
	require.NotNil(t, boot)
	fsys, err := fs.NewFS(cache, 0, boot)
	require.NoError(t, err)
	fsys.Log.BeginOp(boot)
	err = fsys.MkRootDir(boot)
	fsys.Log.EndOp(boot)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sim, err := Boot(image, "test-run", discardLogger())
	require.NoError(t, err)
	return sim
}

func TestBootMountsFilesystemAndCreatesConsoleDevice(t *testing.T) {
	sim := bootTestSim(t)
	defer sim.Shutdown()

	ip, err := sim.fsys.Namei("/console", sim.rootIp, sim.root)
	require.NoError(t, err)
	assert.Equal(t, uint16(defs.T_DEVICE), ip.Type)
	ip.Unlock()
	ip.Put(sim.root)
}

func TestBootOnAlreadyBootedImageToleratesExistingConsole(t *testing.T) {
	image := buildTestImage(t)
	f, err := os.OpenFile(image, os.O_RDWR, 0644)
	require.NoError(t, err)
	disk := &fileDisk{f: f}
	cache := fs.NewCache(disk)
	boot := proc.Alloc("mkroot")
	require.NotNil(t, boot)
	fsys, err := fs.NewFS(cache, 0, boot)
	require.NoError(t, err)
	fsys.Log.BeginOp(boot)
	err = fsys.MkRootDir(boot)
	fsys.Log.EndOp(boot)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sim1, err := Boot(image, "run-1", discardLogger())
	require.NoError(t, err)
	require.NoError(t, sim1.Shutdown())

	sim2, err := Boot(image, "run-2", discardLogger())
	require.NoError(t, err)
	defer sim2.Shutdown()
}

func runHartsFor(t *testing.T, n int, body func()) {
	t.Helper()
	pool := StartHartPool(n)
	done := make(chan struct{})
	go func() {
		body()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("scenario run timed out")
	}
	require.NoError(t, pool.Stop())
}

func TestHartPoolRunsBuiltinScenarios(t *testing.T) {
	sim := bootTestSim(t)
	defer sim.Shutdown()

	runHartsFor(t, 2, func() {
		for _, sc := range builtinScenarios {
			_, err := sc.Run(sim)
			assert.NoErrorf(t, err, "scenario %s", sc.Name)
		}
	})
}

func TestScriptRunReplaysYAMLSteps(t *testing.T) {
	sim := bootTestSim(t)
	defer sim.Shutdown()

	scriptPath := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(`
name: script-test
steps:
  - op: open
    path: /greeting
    mode: "wronly|create"
    fd: 0
  - op: write
    fd: 0
    data: "hi there"
  - op: close
    fd: 0
`), 0644))

	sc, err := LoadScript(scriptPath)
	require.NoError(t, err)
	assert.Equal(t, "script-test", sc.Name)
	require.Len(t, sc.Steps, 3)

	runHartsFor(t, 1, func() {
		err := sc.Run(sim, discardLogger())
		assert.NoError(t, err)
	})

	p, err := sim.NewProcess("verify")
	require.NoError(t, err)
	runHartsFor(t, 1, func() {
		fdNum, ferr := p.Open("/greeting", defs.O_RDONLY)
		require.Zero(t, ferr)
		got, ferr := p.Read(fdNum, len("hi there"))
		require.Zero(t, ferr)
		assert.Equal(t, "hi there", string(got))
		p.Exit(0)
	})
}

func TestNameFromBytesStopsAtFirstNUL(t *testing.T) {
	buf := make([]byte, 14)
	copy(buf, "readme")
	assert.Equal(t, "readme", nameFromBytes(buf))
}

func TestModeForAndFillAttrReflectInodeFields(t *testing.T) {
	sim := bootTestSim(t)
	defer sim.Shutdown()

	sim.rootIp.Lock(sim.root)
	defer sim.rootIp.Unlock()

	assert.Equal(t, fuse.S_IFDIR|0755, modeFor(sim.rootIp))

	var out fuse.Attr
	fillAttr(sim.rootIp, &out)
	assert.Equal(t, uint64(sim.rootIp.Inum), out.Ino)
	assert.Equal(t, uint64(sim.rootIp.Size), out.Size)
	assert.Equal(t, fuse.S_IFDIR|0755, out.Mode)
}

func TestReadDirentsListsConsoleButSkipsDotEntries(t *testing.T) {
	sim := bootTestSim(t)
	defer sim.Shutdown()

	sim.rootIp.Lock(sim.root)
	entries, err := readDirents(sim.rootIp, sim.root)
	sim.rootIp.Unlock()
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "console")
	assert.NotContains(t, names, ".")
	assert.NotContains(t, names, "..")
}

func TestServeMetricsStartsAndStops(t *testing.T) {
	stop, err := ServeMetrics("127.0.0.1:0", discardLogger())
	require.NoError(t, err)
	stop()
}
