package fifo

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

func alloc(t *testing.T, h *HAL, cb hal.CompletionFunc) *Transfer {
	t.Helper()
	if cb == nil {
		cb = func(hal.IsoTransfer, uintptr) {}
	}
	x, err := h.AllocIsoTransfer(0x04, 8, 4, cb)
	require.NoError(t, err)
	return x.(*Transfer)
}

func TestAllocIsoTransfer(t *testing.T) {
	h := New()
	x := alloc(t, h, nil)

	require.Len(t, x.Buffer(), 32)
	require.Equal(t, 4, x.NumPackets())
	require.Equal(t, hal.EndpointAddress(0x04), x.Endpoint())
	require.Equal(t, uint32(8), x.Packet(0).Length)
	require.Equal(t, 1, h.Allocs())

	_, err := h.AllocIsoTransfer(0x04, 0, 4, func(hal.IsoTransfer, uintptr) {})
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestAllocHook(t *testing.T) {
	boom := errors.New("no memory")
	h := New(WithAllocHook(func(n int) error {
		if n == 2 {
			return boom
		}
		return nil
	}))

	_, err := h.AllocIsoTransfer(0x04, 8, 4, func(hal.IsoTransfer, uintptr) {})
	require.NoError(t, err)
	_, err = h.AllocIsoTransfer(0x04, 8, 4, func(hal.IsoTransfer, uintptr) {})
	require.ErrorIs(t, err, boom)
}

func TestSubmitComplete(t *testing.T) {
	var got []int32
	h := New()
	x := alloc(t, h, func(x hal.IsoTransfer, _ uintptr) { got = append(got, x.Status()) })
	x.SetUserData(42)

	require.NoError(t, x.Submit())
	require.True(t, x.Submitted())
	require.Len(t, h.Pending(), 1)

	require.True(t, h.CompleteNext(0))
	require.False(t, h.CompleteNext(0))
	require.Equal(t, []int32{0}, got)
	require.Equal(t, 32, x.ActualLength())
	require.Equal(t, 0, x.ErrorCount())
	require.Equal(t, uintptr(42), x.UserData())
	require.False(t, x.Submitted())
}

func TestCompleteWithError(t *testing.T) {
	h := New()
	x := alloc(t, h, nil)
	require.NoError(t, x.Submit())
	require.NoError(t, h.Complete(x, -32))

	require.Equal(t, int32(-32), x.Status())
	require.Equal(t, 0, x.ActualLength())
	require.Equal(t, 4, x.ErrorCount())
	require.Equal(t, int32(-32), x.Packet(3).Status)

	require.ErrorIs(t, h.Complete(x, 0), pkg.ErrInvalidParameter)
}

func TestCompleteOutOfOrder(t *testing.T) {
	var order []int
	h := New()
	cb := func(x hal.IsoTransfer, _ uintptr) { order = append(order, x.(*Transfer).ID()) }
	a, b, c := alloc(t, h, cb), alloc(t, h, cb), alloc(t, h, cb)
	for _, x := range []*Transfer{a, b, c} {
		require.NoError(t, x.Submit())
	}

	require.NoError(t, h.Complete(b, 0))
	require.NoError(t, h.Complete(c, 0))
	require.NoError(t, h.Complete(a, 0))
	require.Equal(t, []int{1, 2, 0}, order)
}

func TestDoubleSubmit(t *testing.T) {
	h := New()
	x := alloc(t, h, nil)
	require.NoError(t, x.Submit())
	require.ErrorIs(t, x.Submit(), pkg.ErrProtocolViolation)
	require.Equal(t, 1, h.Submits())
}

func TestSubmitHook(t *testing.T) {
	boom := errors.New("rejected")
	h := New(WithSubmitHook(func(_ *Transfer, n int) error {
		if n <= 2 {
			return boom
		}
		return nil
	}))
	x := alloc(t, h, nil)

	require.ErrorIs(t, x.Submit(), boom)
	require.ErrorIs(t, x.Submit(), boom)
	require.False(t, x.Submitted())
	require.NoError(t, x.Submit())
	require.Equal(t, 3, h.Submits())
}

func TestFree(t *testing.T) {
	h := New()
	x := alloc(t, h, nil)
	require.NoError(t, x.Submit())
	require.ErrorIs(t, x.Free(), pkg.ErrProtocolViolation)

	require.True(t, h.CompleteNext(0))
	require.NoError(t, x.Free())
	require.NoError(t, x.Free())
	require.Equal(t, 1, h.Freed())
	require.ErrorIs(t, x.Submit(), pkg.ErrProtocolViolation)
}

func TestRecording(t *testing.T) {
	h := New(WithRecording())
	x := alloc(t, h, nil)
	x.Buffer()[0] = 0xAB
	require.NoError(t, x.Submit())
	x.Buffer()[0] = 0xCD

	rec := h.Records()
	require.Len(t, rec, 1)
	require.Equal(t, 0, rec[0].Transfer)
	require.Equal(t, byte(0xAB), rec[0].Data[0])
}

func TestRedeliver(t *testing.T) {
	var tokens []uintptr
	h := New()
	x := alloc(t, h, func(_ hal.IsoTransfer, token uintptr) { tokens = append(tokens, token) })

	x.SetUserData(1)
	require.NoError(t, x.Submit())
	require.True(t, h.CompleteNext(0))

	// Resubmitted with new user data; a late duplicate still carries the old.
	x.SetUserData(2)
	require.NoError(t, x.Submit())
	h.Redeliver(x)
	require.True(t, x.Submitted(), "redelivery changes no state")

	require.True(t, h.CompleteNext(0))
	require.Equal(t, []uintptr{1, 1, 2}, tokens)
}

func TestHandleEvents(t *testing.T) {
	var calls atomic.Int32
	h := New(WithLatency(5 * time.Millisecond))
	x := alloc(t, h, func(hal.IsoTransfer, uintptr) { calls.Add(1) })

	// Nothing pending: returns after the timeout.
	start := time.Now()
	require.NoError(t, h.HandleEvents(10*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	require.Zero(t, calls.Load())

	require.NoError(t, x.Submit())
	require.NoError(t, h.HandleEvents(time.Second))
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, h.Pending())
}

func TestHandleEventsWakesOnSubmit(t *testing.T) {
	done := make(chan struct{})
	h := New()
	x := alloc(t, h, func(hal.IsoTransfer, uintptr) { close(done) })

	go func() { _ = h.HandleEvents(time.Second) }()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, x.Submit())

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("HandleEvents did not complete the transfer")
	}
}

func TestDeviceControl(t *testing.T) {
	h := New(WithKernelDriver(1))

	active, err := h.KernelDriverActive(1)
	require.NoError(t, err)
	require.True(t, active)
	require.Error(t, h.ClaimInterface(1))

	require.NoError(t, h.DetachKernelDriver(1))
	require.Error(t, h.DetachKernelDriver(1))
	require.NoError(t, h.ClaimInterface(1))
	require.True(t, h.Claimed(1))
	require.Equal(t, []uint8{1}, h.Detached())

	require.NoError(t, h.SetAlternateSetting(1, 0))
	require.NoError(t, h.SetAlternateSetting(1, 2))
	require.Equal(t, []AltChange{{1, 0}, {1, 2}}, h.AltChanges())
}

func TestAltSettingHook(t *testing.T) {
	boom := errors.New("stall")
	h := New(WithAltSettingHook(func(_, alt uint8) error {
		if alt == 0 {
			return boom
		}
		return nil
	}))

	require.ErrorIs(t, h.SetAlternateSetting(1, 0), boom)
	require.NoError(t, h.SetAlternateSetting(1, 2))
	require.Equal(t, []AltChange{{1, 2}}, h.AltChanges())
}
