package iso

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/isostream/host/hal/fifo"
	"github.com/ardnew/isostream/pkg"
	"github.com/ardnew/isostream/pkg/metrics"
	"github.com/ardnew/isostream/pkg/tone"
)

// testConfig is the 192-byte, 10-packet, depth-3 stream.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VendorID = 0x0d8c
	cfg.ProductID = 0x0014
	return cfg
}

type fill struct {
	slot    int
	start   uint64
	samples int
}

// recorder collects fill observations.
type recorder struct{ fills []fill }

func (r *recorder) hook(slot int, start uint64, samples int) {
	r.fills = append(r.fills, fill{slot, start, samples})
}

func (r *recorder) slots() []int {
	out := make([]int, len(r.fills))
	for i, f := range r.fills {
		out[i] = f.slot
	}
	return out
}

// newTestRing builds a started ring over h with alt-setting recovery on h.
func newTestRing(t *testing.T, cfg Config, h *fifo.HAL, rec *recorder) *Ring {
	t.Helper()
	r, err := NewRing(cfg, h, NewAltToggler(h, cfg), WithFillHook(rec.hook))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	return r
}

// transferOf returns the pending transfer of slot. Transfers are allocated in
// slot order, so the allocation index is the slot.
func transferOf(t *testing.T, h *fifo.HAL, slot int) *fifo.Transfer {
	t.Helper()
	for _, x := range h.Pending() {
		if x.ID() == slot {
			return x
		}
	}
	t.Fatalf("slot %d not pending", slot)
	return nil
}

func TestNewRing_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RingDepth = 0
	_, err := NewRing(cfg, fifo.New(), nil)
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestNewRing_AllocationFailureReleases(t *testing.T) {
	boom := errors.New("no memory")
	h := fifo.New(fifo.WithAllocHook(func(n int) error {
		if n == 3 {
			return boom
		}
		return nil
	}))

	_, err := NewRing(testConfig(), h, nil)
	require.ErrorIs(t, err, pkg.ErrAllocationFailed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, h.Freed(), "buffers created before the failure are released")
}

func TestRing_Start(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	require.Len(t, h.Pending(), 3)
	require.Equal(t, 3, h.Submits())
	require.Equal(t, []int{0, 1, 2}, rec.slots())
	for slot := 0; slot < 3; slot++ {
		require.Equal(t, StateSubmitted, r.State(slot))
	}
	require.ErrorIs(t, r.Start(), pkg.ErrAlreadyRunning)

	st := r.Stats()
	require.Equal(t, 3, st.Outstanding)
	require.Equal(t, uint64(3*960), st.Samples)
}

func TestRing_StepBeforeStart(t *testing.T) {
	r, err := NewRing(testConfig(), fifo.New(), nil)
	require.NoError(t, err)
	require.ErrorIs(t, r.Step(context.Background()), pkg.ErrInvalidParameter)
}

func TestRing_SteadyState(t *testing.T) {
	cfg := testConfig()
	h := fifo.New(fifo.WithRecording())
	rec := &recorder{}
	r := newTestRing(t, cfg, h, rec)
	rng := rand.New(rand.NewSource(1))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		pending := h.Pending()
		require.Len(t, pending, 3)
		require.NoError(t, h.Complete(pending[rng.Intn(len(pending))], 0))
		require.NoError(t, r.Step(ctx))
	}

	require.Equal(t, 103, h.Submits())
	st := r.Stats()
	require.Equal(t, uint64(103), st.Submits)
	require.Equal(t, uint64(100), st.Completions)
	require.Zero(t, st.Errors)
	require.Equal(t, 3, st.Outstanding)

	// Sample ranges, in submission order, tile [0, 103*960) exactly.
	require.Len(t, rec.fills, 103)
	for i, f := range rec.fills {
		require.Equal(t, uint64(i*960), f.start, "fill %d", i)
		require.Equal(t, 960, f.samples)
	}

	// The bytes handed to the native layer are the continuous waveform.
	gen := cfg.Tone
	records := h.Records()
	require.Len(t, records, 103)
	var next uint64
	for _, rc := range records {
		for _, s := range samplesOf(rc.Data) {
			require.Equal(t, gen.Sample(next), s, "sample %d", next)
			next++
		}
	}
}

func TestRing_SelectiveResubmission(t *testing.T) {
	h := fifo.New(fifo.WithRecording())
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	x0, x2 := transferOf(t, h, 0), transferOf(t, h, 2)
	require.NoError(t, h.Complete(transferOf(t, h, 1), 0))
	require.NoError(t, r.Step(context.Background()))

	require.Equal(t, []int{0, 1, 2, 1}, rec.slots())
	require.Equal(t, 4, h.Submits())
	require.Equal(t, StateSubmitted, r.State(0))
	require.Equal(t, StateSubmitted, r.State(1))
	require.Equal(t, StateSubmitted, r.State(2))
	require.True(t, x0.Submitted())
	require.True(t, x2.Submitted())

	records := h.Records()
	require.Equal(t, 1, records[3].Transfer)
}

func TestRing_LowestSlotFirst(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)
	ctx := context.Background()

	require.NoError(t, h.Complete(transferOf(t, h, 2), 0))
	require.NoError(t, h.Complete(transferOf(t, h, 0), 0))

	require.NoError(t, r.Step(ctx))
	require.NoError(t, r.Step(ctx))
	require.Equal(t, []int{0, 1, 2, 0, 2}, rec.slots())
}

func TestRing_SubmitFailsTwiceThenSucceeds(t *testing.T) {
	boom := errors.New("submit rejected")
	h := fifo.New(fifo.WithSubmitHook(func(_ *fifo.Transfer, n int) error {
		if n <= 2 {
			return boom
		}
		return nil
	}))
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	require.Equal(t, 5, h.Submits(), "slot 0 took three attempts")
	require.Equal(t, []int{0, 1, 2}, rec.slots(), "retries resubmit without refilling")
	require.Equal(t, []fifo.AltChange{
		{Interface: 1, Alt: 0}, {Interface: 1, Alt: 2},
		{Interface: 1, Alt: 0}, {Interface: 1, Alt: 2},
	}, h.AltChanges())

	st := r.Stats()
	require.Equal(t, uint64(2), st.Recoveries)
	require.Equal(t, uint64(2), st.Errors)

	require.NoError(t, h.Complete(transferOf(t, h, 0), 0))
	require.NoError(t, r.Step(context.Background()))
	require.Zero(t, r.failures[0], "success resets the recovery count")
}

func TestRing_SubmitAlwaysFails(t *testing.T) {
	boom := errors.New("submit rejected")
	h := fifo.New(fifo.WithSubmitHook(func(*fifo.Transfer, int) error { return boom }))
	cfg := testConfig()

	r, err := NewRing(cfg, h, NewAltToggler(h, cfg))
	require.NoError(t, err)

	err = r.Start()
	require.ErrorIs(t, err, pkg.ErrRingHalted)
	require.ErrorIs(t, err, pkg.ErrSubmitFailed)
	require.ErrorIs(t, err, boom)

	require.Len(t, h.AltChanges(), 4, "exactly two recoveries")
	require.Equal(t, uint64(2), r.Stats().Recoveries)
	require.Equal(t, 3, h.Submits())

	// Halted for good.
	require.ErrorIs(t, r.Step(context.Background()), pkg.ErrRingHalted)
	require.ErrorIs(t, r.Start(), pkg.ErrRingHalted)
	require.NoError(t, r.Release())
}

func TestRing_RecoveryBoundIsConfigurable(t *testing.T) {
	h := fifo.New(fifo.WithSubmitHook(func(*fifo.Transfer, int) error { return errors.New("no") }))
	cfg := testConfig()
	cfg.MaxRecoveries = 5

	r, err := NewRing(cfg, h, NewAltToggler(h, cfg))
	require.NoError(t, err)
	require.ErrorIs(t, r.Start(), pkg.ErrRingHalted)
	require.Equal(t, uint64(5), r.Stats().Recoveries)
	require.Equal(t, 6, h.Submits())
}

func TestRing_ErrorStatusRecovers(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)
	ctx := context.Background()

	require.NoError(t, h.Complete(transferOf(t, h, 1), -71))
	require.NoError(t, r.Step(ctx))

	require.Equal(t, []int{0, 1, 2, 1}, rec.slots(), "error completions refill")
	require.Equal(t, []fifo.AltChange{{Interface: 1, Alt: 0}, {Interface: 1, Alt: 2}}, h.AltChanges())
	st := r.Stats()
	require.Equal(t, uint64(1), st.Errors)
	require.Equal(t, uint64(1), st.Recoveries)
	require.Zero(t, st.Completions)
	require.Len(t, h.Pending(), 3)

	// A success resets the slot's budget.
	require.NoError(t, h.Complete(transferOf(t, h, 1), 0))
	require.NoError(t, r.Step(ctx))
	for i := 0; i < 2; i++ {
		require.NoError(t, h.Complete(transferOf(t, h, 1), -71))
		require.NoError(t, r.Step(ctx))
	}

	require.NoError(t, h.Complete(transferOf(t, h, 1), -71))
	err := r.Step(ctx)
	require.ErrorIs(t, err, pkg.ErrRingHalted)
	require.ErrorIs(t, err, pkg.ErrTransferStatus)

	// The other slots are still in flight, so nothing may be released.
	require.ErrorIs(t, r.Release(), pkg.ErrProtocolViolation)
	require.Zero(t, h.Freed())
}

func TestRing_RecoveryToggleFailureContinues(t *testing.T) {
	h := fifo.New(fifo.WithAltSettingHook(func(uint8, uint8) error {
		return errors.New("stall")
	}))
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	require.NoError(t, h.Complete(transferOf(t, h, 0), -32))
	require.NoError(t, r.Step(context.Background()))
	require.Equal(t, uint64(1), r.Stats().Recoveries)
	require.Len(t, h.Pending(), 3)
}

func TestRing_DuplicateCompletionHalts(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	x := transferOf(t, h, 0)
	require.NoError(t, h.Complete(x, 0))
	h.Redeliver(x)

	err := r.Step(context.Background())
	require.ErrorIs(t, err, pkg.ErrProtocolViolation)
	require.Equal(t, uint64(1), r.Stats().Violations)
	require.Equal(t, []int{0, 1, 2}, rec.slots(), "nothing refilled after the violation")
}

func TestRing_DuplicateAfterResubmitHalts(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	x := transferOf(t, h, 0)
	require.NoError(t, h.Complete(x, 0))
	require.NoError(t, r.Step(context.Background()))
	require.True(t, x.Submitted(), "slot 0 resubmitted")

	// The stale completion must not be mistaken for the new submission.
	h.Redeliver(x)

	err := r.Step(context.Background())
	require.ErrorIs(t, err, pkg.ErrProtocolViolation)
	require.Equal(t, uint64(1), r.Stats().Violations)
	require.True(t, x.Submitted())
	require.Equal(t, StateSubmitted, r.State(0))
	require.Equal(t, []int{0, 1, 2, 0}, rec.slots())
}

func TestRing_NativeMisuseHalts(t *testing.T) {
	h := fifo.New()
	cfg := testConfig()
	r, err := NewRing(cfg, h, NewAltToggler(h, cfg))
	require.NoError(t, err)

	require.NoError(t, r.buffers[0].Transfer().Free())

	err = r.Start()
	require.ErrorIs(t, err, pkg.ErrProtocolViolation)
	require.NotErrorIs(t, err, pkg.ErrSubmitFailed)
	require.Empty(t, h.AltChanges(), "no recovery attempted")
	require.Zero(t, r.Stats().Recoveries)
	require.ErrorIs(t, r.Step(context.Background()), pkg.ErrProtocolViolation)
}

func TestRing_StepHonorsContext(t *testing.T) {
	h := fifo.New()
	r := newTestRing(t, testConfig(), h, &recorder{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Step(ctx), context.DeadlineExceeded)

	// Transfers stay in flight.
	require.Len(t, h.Pending(), 3)
	require.Equal(t, 3, r.Stats().Outstanding)

	// The ring is still usable.
	require.True(t, h.CompleteNext(0))
	require.NoError(t, r.Step(context.Background()))
}

func TestRing_StepWakesOnCompletion(t *testing.T) {
	h := fifo.New()
	rec := &recorder{}
	r := newTestRing(t, testConfig(), h, rec)

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.CompleteNext(0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Step(ctx))
	require.Len(t, rec.fills, 4)
}

func TestRing_RunWithPump(t *testing.T) {
	h := fifo.New(fifo.WithLatency(time.Millisecond))
	cfg := testConfig()
	cfg.EventTimeout = 5 * time.Millisecond

	var clock tone.Clock
	rec := &recorder{}
	r, err := NewRing(cfg, h, NewAltToggler(h, cfg), WithClock(&clock), WithFillHook(rec.hook))
	require.NoError(t, err)

	p := NewPump(h, cfg.EventTimeout)
	require.NoError(t, p.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)

	st := r.Stats()
	require.NotZero(t, st.Completions)
	require.Equal(t, st.Submits, uint64(len(rec.fills)))
	require.Equal(t, clock.Now(), st.Samples)
	for i, f := range rec.fills {
		require.Equal(t, uint64(i*960), f.start)
	}
}

func TestRing_Metrics(t *testing.T) {
	h := fifo.New()
	r := newTestRing(t, testConfig(), h, &recorder{})
	require.True(t, h.CompleteNext(0))
	require.NoError(t, r.Step(context.Background()))

	p := NewPump(h, 0)
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg, "isostream", "ring", r.Metrics()...))
	require.NoError(t, metrics.Register(reg, "isostream", "pump", p.Metrics()...))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 9, count)

	expected := `
# HELP isostream_ring_outstanding Submissions awaiting their completion callback.
# TYPE isostream_ring_outstanding gauge
isostream_ring_outstanding 3
# HELP isostream_ring_samples_total Samples generated.
# TYPE isostream_ring_samples_total counter
isostream_ring_samples_total 3840
# HELP isostream_ring_submits_total Native submit calls, including rejected ones.
# TYPE isostream_ring_submits_total counter
isostream_ring_submits_total 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"isostream_ring_outstanding", "isostream_ring_samples_total", "isostream_ring_submits_total"))
}
