package shadow_test

import (
	"testing"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
	"github.com/ja7ad/stacksample/pkg/shadow"
	"github.com/stretchr/testify/require"
)

func TestAcquireAllocatesAndCaches(t *testing.T) {
	table := shadow.NewTable(4)

	s1, err := table.Acquire(runtimeiface.ThreadID(1))
	require.NoError(t, err)
	require.NotNil(t, s1)

	s2, err := table.Acquire(runtimeiface.ThreadID(1))
	require.NoError(t, err)
	require.Same(t, s1, s2)

	require.Equal(t, 1, table.Len())
}

func TestAcquireFailsPastLimit(t *testing.T) {
	table := shadow.NewTable(2)

	_, err := table.Acquire(runtimeiface.ThreadID(1))
	require.NoError(t, err)
	_, err = table.Acquire(runtimeiface.ThreadID(2))
	require.NoError(t, err)

	_, err = table.Acquire(runtimeiface.ThreadID(3))
	require.ErrorIs(t, err, shadow.ErrTooManyThreads)
}

func TestSlotPushPopLIFO(t *testing.T) {
	var s shadow.Slot
	s.Push(shadow.NativeCallFrame{Call: runtimeiface.NativeCall{ID: 1}, EnterCPUNS: 100})
	s.Push(shadow.NativeCallFrame{Call: runtimeiface.NativeCall{ID: 2}, EnterCPUNS: 200})

	require.Equal(t, 2, s.Depth())

	top, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, uint64(2), top.Call.ID)

	top, ok = s.Pop()
	require.True(t, ok)
	require.Equal(t, uint64(1), top.Call.ID)

	_, ok = s.Pop()
	require.False(t, ok)
}

func TestResetClearsTable(t *testing.T) {
	table := shadow.NewTable(4)
	_, err := table.Acquire(runtimeiface.ThreadID(1))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	table.Reset()
	require.Equal(t, 0, table.Len())
}

func TestCCallWeightMatchesBridgeScenario(t *testing.T) {
	// Enter at t=0ns, return at t=2_000_000ns, sampling_interval=1000us.
	durationUS := uint64(2_000_000 / 1000)
	weight := shadow.CCallWeight(durationUS, 1000, shadow.DefaultCCallDiscount)
	require.Equal(t, uint64(1), weight)
}

func TestCCallWeightZeroInterval(t *testing.T) {
	require.Equal(t, uint64(0), shadow.CCallWeight(2000, 0, shadow.DefaultCCallDiscount))
}

func TestCCallWeightSubOneDiscountTruncates(t *testing.T) {
	// 500us / 1000us * 0.8 = 0.4 -> truncates to 0.
	require.Equal(t, uint64(0), shadow.CCallWeight(500, 1000, shadow.DefaultCCallDiscount))
}
