package main

import (
	"fmt"

	"defs"
)

// Scenario is one built-in choreography from spec.md §8 (S1-S6) or
// SPEC_FULL.md's supplemented S7. Unlike the YAML Script format, these
// involve branching or multi-process coordination that doesn't map
// onto a flat list of steps, so they're written directly in Go. Run
// returns the scenario's primary process alongside any error so a
// caller (cmd/octosim's profile subcommand) can read its accumulated
// limits.Accnt after the scenario finishes.
type Scenario struct {
	Name string
	Run  func(sim *Sim) (*Process, error)
}

var builtinScenarios = []Scenario{
	{"S1-open-write-read", scenarioS1},
	{"S2-dup", scenarioS2},
	{"S4-pipe", scenarioS4},
	{"S5-directory-ops", scenarioS5},
	{"S6-link-semantics", scenarioS6},
	{"S7-orphan-reparent", scenarioS7},
}

// scenarioS1 is spec.md §8 S1: write "hello\n" to /t, reopen
// read-only, read 6 bytes back, then confirm a 7th read is EOF (0).
func scenarioS1(sim *Sim) (*Process, error) {
	sp, err := sim.NewProcess("s1")
	if err != nil {
		return nil, err
	}
	defer sp.Exit(0)

	wfd, ferr := sp.Open("/t", defs.O_CREATE|defs.O_WRONLY)
	if ferr != 0 {
		return sp, fmt.Errorf("s1: open /t for write: errno %d", ferr)
	}
	if _, ferr := sp.Write(wfd, []byte("hello\n")); ferr != 0 {
		return sp, fmt.Errorf("s1: write: errno %d", ferr)
	}
	if ferr := sp.Close(wfd); ferr != 0 {
		return sp, fmt.Errorf("s1: close write fd: errno %d", ferr)
	}
	sp.Reset()

	rfd, ferr := sp.Open("/t", defs.O_RDONLY)
	if ferr != 0 {
		return sp, fmt.Errorf("s1: reopen /t: errno %d", ferr)
	}
	got, ferr := sp.Read(rfd, 6)
	if ferr != 0 {
		return sp, fmt.Errorf("s1: read: errno %d", ferr)
	}
	if string(got) != "hello\n" {
		return sp, fmt.Errorf("s1: read back %q, want %q", got, "hello\n")
	}
	tail, ferr := sp.Read(rfd, 1)
	if ferr != 0 {
		return sp, fmt.Errorf("s1: eof read: errno %d", ferr)
	}
	if len(tail) != 0 {
		return sp, fmt.Errorf("s1: expected EOF, got %d bytes", len(tail))
	}
	if ferr := sp.Close(rfd); ferr != 0 {
		return sp, fmt.Errorf("s1: close read fd: errno %d", ferr)
	}
	return sp, nil
}

// scenarioS2 is spec.md §8 S2: open /t read-only as fd f, dup to g≠f,
// close f, and confirm reading from g still yields the file's bytes.
func scenarioS2(sim *Sim) (*Process, error) {
	sp, err := sim.NewProcess("s2")
	if err != nil {
		return nil, err
	}
	defer sp.Exit(0)

	f, ferr := sp.Open("/t", defs.O_RDONLY)
	if ferr != 0 {
		return sp, fmt.Errorf("s2: open /t: errno %d", ferr)
	}
	g, ferr := sp.Dup(f)
	if ferr != 0 {
		return sp, fmt.Errorf("s2: dup: errno %d", ferr)
	}
	if g == f {
		return sp, fmt.Errorf("s2: dup returned the same fd")
	}
	if ferr := sp.Close(f); ferr != 0 {
		return sp, fmt.Errorf("s2: close f: errno %d", ferr)
	}
	got, ferr := sp.Read(g, 6)
	if ferr != 0 {
		return sp, fmt.Errorf("s2: read via g: errno %d", ferr)
	}
	if string(got) != "hello\n" {
		return sp, fmt.Errorf("s2: read via g = %q, want %q", got, "hello\n")
	}
	sp.Close(g)
	return sp, nil
}

// scenarioS4 is spec.md §8 S4: pipe IPC between a parent and a forked
// child -- child writes one byte and closes its write end; parent's
// first read returns 1 byte, its second returns 0 (EOF).
func scenarioS4(sim *Sim) (*Process, error) {
	sp, err := sim.NewProcess("s4")
	if err != nil {
		return nil, err
	}
	defer sp.Exit(0)

	r, w, ferr := sp.Pipe()
	if ferr != 0 {
		return sp, fmt.Errorf("s4: pipe: errno %d", ferr)
	}

	child, ferr := sp.Fork()
	if ferr != 0 {
		return sp, fmt.Errorf("s4: fork: errno %d", ferr)
	}

	if _, ferr := child.Write(w, []byte("X")); ferr != 0 {
		return sp, fmt.Errorf("s4: child write: errno %d", ferr)
	}
	if ferr := child.Close(w); ferr != 0 {
		return sp, fmt.Errorf("s4: child close w: errno %d", ferr)
	}
	child.Exit(0)

	sp.Close(w)
	got, ferr := sp.Read(r, 1)
	if ferr != 0 {
		return sp, fmt.Errorf("s4: parent read: errno %d", ferr)
	}
	if string(got) != "X" {
		return sp, fmt.Errorf("s4: parent read %q, want %q", got, "X")
	}
	tail, ferr := sp.Read(r, 1)
	if ferr != 0 {
		return sp, fmt.Errorf("s4: parent eof read: errno %d", ferr)
	}
	if len(tail) != 0 {
		return sp, fmt.Errorf("s4: expected EOF after write end closed, got %d bytes", len(tail))
	}
	sp.Close(r)

	if _, _, werr := sp.Wait(); werr != 0 {
		return sp, fmt.Errorf("s4: wait: errno %d", werr)
	}
	return sp, nil
}

// scenarioS5 is spec.md §8 S5: mkdir /d, chdir into it, create a file
// there, confirm rmdir-by-unlink fails with ENOTEMPTY while non-empty,
// then succeeds once the file is gone.
func scenarioS5(sim *Sim) (*Process, error) {
	sp, err := sim.NewProcess("s5")
	if err != nil {
		return nil, err
	}
	defer sp.Exit(0)

	if ferr := sp.Mkdir("/d"); ferr != 0 {
		return sp, fmt.Errorf("s5: mkdir /d: errno %d", ferr)
	}
	if ferr := sp.Chdir("/d"); ferr != 0 {
		return sp, fmt.Errorf("s5: chdir /d: errno %d", ferr)
	}
	sp.Reset()
	fdNum, ferr := sp.Open("a", defs.O_CREATE|defs.O_WRONLY)
	if ferr != 0 {
		return sp, fmt.Errorf("s5: create a: errno %d", ferr)
	}
	sp.Close(fdNum)
	sp.Reset()

	if ferr := sp.Unlink("/d"); ferr != defs.ENOTEMPTY {
		return sp, fmt.Errorf("s5: unlink non-empty /d: errno %d, want ENOTEMPTY", ferr)
	}
	sp.Reset()
	if ferr := sp.Unlink("/d/a"); ferr != 0 {
		return sp, fmt.Errorf("s5: unlink /d/a: errno %d", ferr)
	}
	sp.Reset()
	if ferr := sp.Unlink("/d"); ferr != 0 {
		return sp, fmt.Errorf("s5: unlink empty /d: errno %d", ferr)
	}
	return sp, nil
}

// scenarioS6 is spec.md §8 S6: link /t to /u, unlink /t (leaving /u
// readable), then unlink /u and check that the unlink succeeds; whether
// the inode itself was freed is not checked here.
func scenarioS6(sim *Sim) (*Process, error) {
	sp, err := sim.NewProcess("s6")
	if err != nil {
		return nil, err
	}
	defer sp.Exit(0)

	if ferr := sp.Link("/t", "/u"); ferr != 0 {
		return sp, fmt.Errorf("s6: link /t /u: errno %d", ferr)
	}
	sp.Reset()
	if ferr := sp.Unlink("/t"); ferr != 0 {
		return sp, fmt.Errorf("s6: unlink /t: errno %d", ferr)
	}
	sp.Reset()
	ufd, ferr := sp.Open("/u", defs.O_RDONLY)
	if ferr != 0 {
		return sp, fmt.Errorf("s6: open /u after unlinking /t: errno %d", ferr)
	}
	if _, ferr := sp.Read(ufd, 6); ferr != 0 {
		return sp, fmt.Errorf("s6: read /u: errno %d", ferr)
	}
	sp.Close(ufd)
	sp.Reset()
	if ferr := sp.Unlink("/u"); ferr != 0 {
		return sp, fmt.Errorf("s6: unlink /u: errno %d", ferr)
	}
	return sp, nil
}

// scenarioS7 is SPEC_FULL.md's supplemented orphan-reparenting
// scenario: fork twice so the grandchild outlives its immediate
// parent. P must be pid 1 -- proc.Exit reparents a dying process's
// children to proc.InitPid unconditionally, not to the exiting
// process's actual parent, so this only exercises spec.md §4.F's
// re-parenting invariant if P is the real init process (sim.rootP),
// not a freshly allocated scratch process that happens to be playing
// init's role. P forks child C; C forks grandchild G; C exits before
// G does; G's eventual exit is still reaped by P because it was
// reparented to pid 1 when C exited.
func scenarioS7(sim *Sim) (*Process, error) {
	p := sim.rootP

	c, ferr := p.Fork()
	if ferr != 0 {
		return p, fmt.Errorf("s7: P fork C: errno %d", ferr)
	}

	g, ferr := c.Fork()
	if ferr != 0 {
		return p, fmt.Errorf("s7: C fork G: errno %d", ferr)
	}
	gPid := g.P.Pid()

	c.Exit(0)
	pid, _, werr := p.Wait()
	if werr != 0 {
		return p, fmt.Errorf("s7: P wait for C: errno %d", werr)
	}
	if pid == 0 {
		return p, fmt.Errorf("s7: P wait returned pid 0 reaping C")
	}

	g.Exit(0)
	gotPid, _, werr := p.Wait()
	if werr != 0 {
		return p, fmt.Errorf("s7: P wait for reparented G: errno %d", werr)
	}
	if gotPid != gPid {
		return p, fmt.Errorf("s7: P reaped pid %d, want orphaned grandchild %d", gotPid, gPid)
	}
	return p, nil
}
