package nbtls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeReactorTimerFiresOnlyOnDemand(t *testing.T) {
	r := NewFakeReactor()
	fired := false
	id := r.Once(1000, func() { fired = true })

	require.False(t, fired)
	require.True(t, r.FireTimer(id))
	require.True(t, fired)

	// firing again is a no-op: already fired.
	require.False(t, r.FireTimer(id))
}

func TestFakeReactorDisableSuppressesFire(t *testing.T) {
	r := NewFakeReactor()
	fired := false
	id := r.Once(1000, func() { fired = true })

	r.Disable(id)
	require.False(t, r.FireTimer(id))
	require.False(t, fired)

	r.Enable(id)
	require.True(t, r.FireTimer(id))
	require.True(t, fired)
}

func TestFakeReactorCancelAfterFireIsNoOp(t *testing.T) {
	r := NewFakeReactor()
	calls := 0
	id := r.Once(1000, func() { calls++ })

	require.True(t, r.FireTimer(id))
	r.Cancel(id) // cancelling after fire must not double-invoke or panic
	require.Equal(t, 1, calls)
}

func TestFakeReactorCancelBeforeFirePreventsIt(t *testing.T) {
	r := NewFakeReactor()
	fired := false
	id := r.Once(1000, func() { fired = true })

	r.Cancel(id)
	require.False(t, r.FireTimer(id))
	require.False(t, fired)
}

func TestFakeReactorPendingCountsArmedTimers(t *testing.T) {
	r := NewFakeReactor()
	id1 := r.Once(1000, func() {})
	_ = r.Once(1000, func() {})
	require.Equal(t, 2, r.Pending())

	r.Cancel(id1)
	require.Equal(t, 1, r.Pending())
}
