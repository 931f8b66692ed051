package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
)

// drive steps p past its baton/yielded handshake exactly as cmd/octosim's
// hart pool does, without a full Scheduler loop.
func drive(p *Proc) {
	g := p.lock.Acquire(p.hart, 0)
	p.Inner.State = Running
	g.Release()
	p.baton <- struct{}{}
	<-p.yielded
}

func noopClose()    {}
func noopCwd()      {}
func alwaysOk(*Proc) defs.Err_t { return 0 }

func TestAllocAssignsDistinctPids(t *testing.T) {
	a := Alloc("a")
	b := Alloc("b")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.Pid(), b.Pid())
	assert.Equal(t, Used, a.Inner.State)
}

func TestStartYieldExit(t *testing.T) {
	p := Alloc("yielder")
	require.NotNil(t, p)

	yields := 0
	p.Start(func(p *Proc) {
		yields++
		p.Yield()
		yields++
		p.Exit(7, noopClose, noopCwd)
	})

	drive(p) // runs up to the first Yield
	assert.Equal(t, 1, yields)
	assert.Equal(t, Runnable, p.Inner.State)

	drive(p) // runs from Yield's resume through Exit
	assert.Equal(t, 2, yields)
	assert.Equal(t, Zombie, p.Inner.State)
	assert.Equal(t, 7, p.Inner.Xstate)
}

func TestForkRecordsParentAndWaitReaps(t *testing.T) {
	parent := Alloc("parent")
	require.NotNil(t, parent)

	child, err := parent.Fork(alwaysOk)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, child)
	assert.Equal(t, Runnable, child.Inner.State)
	assert.Equal(t, parent.Pid(), Table.parents[child.Pid()])

	child.Start(func(c *Proc) {
		c.Exit(3, noopClose, noopCwd)
	})
	drive(child)
	assert.Equal(t, Zombie, child.Inner.State)

	var gotPid defs.Pid_t
	var gotStatus int
	var waitErr defs.Err_t
	done := make(chan struct{})
	go func() {
		gotPid, gotStatus, waitErr = parent.Wait(func(*Proc) {})
		close(done)
	}()
	<-done

	assert.Equal(t, child.Pid(), gotPid)
	assert.Equal(t, 3, gotStatus)
	assert.Equal(t, defs.Err_t(0), waitErr)
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	p := Alloc("childless")
	require.NotNil(t, p)
	_, _, err := p.Wait(func(*Proc) {})
	assert.Equal(t, defs.ECHILD, err)
}

func TestKillUnknownPidReturnsESRCH(t *testing.T) {
	assert.Equal(t, defs.ESRCH, Kill(defs.Pid_t(999999)))
}

func TestLookupFindsAllocatedProc(t *testing.T) {
	p := Alloc("findme")
	require.NotNil(t, p)

	found, ok := Lookup(p.Pid())
	assert.True(t, ok)
	assert.Same(t, p, found)

	_, ok = Lookup(defs.Pid_t(999999))
	assert.False(t, ok)
}

func TestKillSleepingProcessWakesIt(t *testing.T) {
	p := Alloc("sleeper")
	require.NotNil(t, p)

	woke := make(chan struct{})
	p.Start(func(p *Proc) {
		p.Sleep(ChanProc(p.Pid()), func() {}, func() {})
		close(woke)
		p.Exit(0, noopClose, noopCwd)
	})
	drive(p) // runs into Sleep
	assert.Equal(t, Sleeping, p.Inner.State)

	assert.Equal(t, defs.Err_t(0), Kill(p.Pid()))
	assert.Equal(t, Runnable, p.Inner.State)
	assert.True(t, p.Killed())

	drive(p)
	select {
	case <-woke:
	default:
		t.Fatal("process did not resume past Sleep after Kill")
	}
}
