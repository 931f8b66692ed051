package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSysatomicTakeGive(t *testing.T) {
	var s Sysatomic_t = 2

	assert.True(t, s.Take())
	assert.True(t, s.Take())
	assert.False(t, s.Take(), "limit should be exhausted")

	s.Give()
	assert.True(t, s.Take())
}

func TestSysatomicTakenRestoresOnFailure(t *testing.T) {
	var s Sysatomic_t = 1

	before := atomicLhits()
	assert.False(t, s.Taken(5))
	assert.Equal(t, Sysatomic_t(1), s, "failed Taken must not leave the counter decremented")
	assert.Equal(t, before+1, atomicLhits())
}

func atomicLhits() int64 { return Lhits }

func TestMkSysLimitDefaults(t *testing.T) {
	l := MkSysLimit()
	assert.Equal(t, Sysatomic_t(64), l.Procs)
	assert.Equal(t, Sysatomic_t(1024), l.Files)
	assert.True(t, l.Pipes.Take())
}

func TestAccntSnapshotAndAdd(t *testing.T) {
	var a, b Accnt
	a.Utadd(10)
	a.Systadd(5)
	b.Utadd(100)
	b.Systadd(50)

	a.Add(&b)
	u, s := a.Snapshot()
	assert.Equal(t, int64(110), u)
	assert.Equal(t, int64(55), s)
}
