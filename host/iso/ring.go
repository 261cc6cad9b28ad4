package iso

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
	"github.com/ardnew/isostream/pkg/metrics"
	"github.com/ardnew/isostream/pkg/tone"
)

// Recoverer resets the bus path of the stream after a transfer error.
type Recoverer interface {
	Recover() error
}

// FillFunc observes every buffer fill: the slot, the absolute index of its
// first sample and the sample count.
type FillFunc func(slot int, start uint64, samples int)

// RingOption configures a Ring.
type RingOption func(*Ring)

// WithClock makes the ring draw sample indices from clock.
func WithClock(clock *tone.Clock) RingOption {
	return func(r *Ring) { r.clock = clock }
}

// WithFillHook installs fn as the fill observer.
func WithFillHook(fn FillFunc) RingOption {
	return func(r *Ring) { r.onFill = fn }
}

var _ metrics.Provider = (*Ring)(nil)

// Stats is a snapshot of ring counters.
type Stats struct {
	Submits     uint64 // Native submit calls, including rejected ones
	Completions uint64 // Completions with success status
	Errors      uint64 // Rejected submits and error completions
	Recoveries  uint64 // Alternate setting toggles
	Violations  uint64 // Duplicate completions detected
	Outstanding int    // Submissions awaiting their callback
	Samples     uint64 // Samples generated so far
}

// Ring keeps RingDepth transfers in flight, refilling and resubmitting each
// one as soon as it completes.
//
// Start, Step, Run and Release must be called from one goroutine; the
// completion callbacks run on the event pump and only hand results over.
// Stats may be called from anywhere.
type Ring struct {
	cfg       Config
	clock     *tone.Clock
	bridge    *Bridge
	recoverer Recoverer
	onFill    FillFunc

	buffers  []*TransferBuffer
	subs     []*Submission
	failures []int // Consecutive recoveries per slot

	wake    chan struct{}
	fault   atomic.Pointer[error]
	started bool
	halted  error

	submits     atomic.Uint64
	completions atomic.Uint64
	errCount    atomic.Uint64
	recoveries  atomic.Uint64
}

// NewRing allocates cfg.RingDepth transfer buffers on h. rec is invoked for
// every recovery and may be nil.
func NewRing(cfg Config, h hal.IsoHAL, rec Recoverer, opts ...RingOption) (*Ring, error) {
	if err := cfg.validateStream(); err != nil {
		return nil, err
	}

	r := &Ring{
		cfg:       cfg,
		clock:     new(tone.Clock),
		recoverer: rec,
		buffers:   make([]*TransferBuffer, 0, cfg.RingDepth),
		subs:      make([]*Submission, cfg.RingDepth),
		failures:  make([]int, cfg.RingDepth),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bridge = NewBridge(r.violation)

	for slot := 0; slot < cfg.RingDepth; slot++ {
		buf, err := NewTransferBuffer(slot, h, cfg.Endpoint, cfg.PacketSize, cfg.PacketsPerTransfer, r.bridge.Complete)
		if err != nil {
			errs := []error{err}
			for _, b := range r.buffers {
				errs = append(errs, b.Release())
			}
			return nil, errors.Join(errs...)
		}
		r.buffers = append(r.buffers, buf)
	}

	pkg.LogDebug(pkg.ComponentRing, "ring created",
		"depth", cfg.RingDepth,
		"packetSize", cfg.PacketSize,
		"packets", cfg.PacketsPerTransfer,
		"samples", cfg.SamplesPerTransfer())
	return r, nil
}

// Start fills and submits every buffer.
func (r *Ring) Start() error {
	if r.halted != nil {
		return r.halted
	}
	if r.started {
		return pkg.ErrAlreadyRunning
	}
	r.started = true

	for slot := range r.buffers {
		if err := r.refill(slot); err != nil {
			return err
		}
	}

	pkg.LogInfo(pkg.ComponentRing, "ring started", "inFlight", r.bridge.Outstanding())
	return nil
}

// Step waits for one submission to resolve and handles it. When several have
// resolved, the lowest slot goes first. A halted ring returns its fatal error.
// Cancelling ctx stops the wait only; transfers stay in flight.
func (r *Ring) Step(ctx context.Context) error {
	if r.halted != nil {
		return r.halted
	}
	if !r.started {
		return fmt.Errorf("%w: ring not started", pkg.ErrInvalidParameter)
	}

	for {
		if p := r.fault.Load(); p != nil {
			return r.halt(*p)
		}

		for slot, sub := range r.subs {
			if sub != nil && sub.Poll().Resolved() {
				return r.handle(slot)
			}
		}

		// Nothing resolved: either no wake yet or a spurious one.
		select {
		case <-r.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run starts the ring if needed and steps until an error occurs.
func (r *Ring) Run(ctx context.Context) error {
	if !r.started {
		if err := r.Start(); err != nil {
			return err
		}
	}
	for {
		if err := r.Step(ctx); err != nil {
			return err
		}
	}
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Submits:     r.submits.Load(),
		Completions: r.completions.Load(),
		Errors:      r.errCount.Load(),
		Recoveries:  r.recoveries.Load(),
		Violations:  r.bridge.Violations(),
		Outstanding: r.bridge.Outstanding(),
		Samples:     r.clock.Now(),
	}
}

// State returns the state of the current submission of slot.
func (r *Ring) State(slot int) SubmissionState {
	if sub := r.subs[slot]; sub != nil {
		return sub.Poll()
	}
	return StateIdle
}

// Release frees every transfer buffer. It refuses to free anything while a
// transfer is still in flight.
func (r *Ring) Release() error {
	busy := 0
	for _, sub := range r.subs {
		if sub != nil && sub.Poll() == StateSubmitted {
			busy++
		}
	}
	if busy > 0 {
		return fmt.Errorf("%w: %d transfers in flight", pkg.ErrProtocolViolation, busy)
	}

	var errs []error
	for _, b := range r.buffers {
		errs = append(errs, b.Release())
	}
	return errors.Join(errs...)
}

// handle processes the resolved submission of slot.
func (r *Ring) handle(slot int) error {
	res, err := r.subs[slot].Result()
	if err == nil {
		r.completions.Add(1)
		r.failures[slot] = 0
		pkg.LogDebug(pkg.ComponentRing, "transfer complete",
			"slot", slot, "actual", res.ActualLength)
		return r.refill(slot)
	}

	r.errCount.Add(1)
	pkg.LogWarn(pkg.ComponentRing, "transfer failed",
		"slot", slot,
		"status", res.Status,
		"packetErrors", res.ErrorCount,
		"error", err)
	if err := r.recoverSlot(slot, err); err != nil {
		return r.halt(err)
	}
	return r.refill(slot)
}

// refill writes the next samples into slot and submits it.
func (r *Ring) refill(slot int) error {
	buf := r.buffers[slot]
	start, err := buf.Fill(r.clock, r.cfg.Tone)
	if err != nil {
		return r.halt(err)
	}
	if r.onFill != nil {
		r.onFill(slot, start, buf.Samples())
	}
	return r.submit(slot)
}

// submit submits the current contents of slot. A rejected submit is
// recovered and retried without refilling.
func (r *Ring) submit(slot int) error {
	for {
		sub := r.bridge.NewSubmission(r.buffers[slot])
		r.subs[slot] = sub
		r.submits.Add(1)

		err := sub.Submit(r.signal)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pkg.ErrSubmitFailed) {
			return r.halt(err)
		}

		r.errCount.Add(1)
		pkg.LogWarn(pkg.ComponentRing, "submit rejected", "slot", slot, "error", err)
		if err := r.recoverSlot(slot, err); err != nil {
			return r.halt(err)
		}
	}
}

// recoverSlot runs one recovery for slot, or fails once the slot has used up
// its consecutive recoveries.
func (r *Ring) recoverSlot(slot int, cause error) error {
	if r.failures[slot] >= r.cfg.MaxRecoveries {
		return fmt.Errorf("%w: slot %d failed after %d recoveries: %w",
			pkg.ErrRingHalted, slot, r.failures[slot], cause)
	}
	r.failures[slot]++
	r.recoveries.Add(1)

	pkg.LogInfo(pkg.ComponentRing, "recovering",
		"slot", slot, "attempt", r.failures[slot], "max", r.cfg.MaxRecoveries)
	if r.recoverer != nil {
		if err := r.recoverer.Recover(); err != nil {
			pkg.LogWarn(pkg.ComponentRing, "recovery toggle failed", "slot", slot, "error", err)
		}
	}
	return nil
}

// halt records a fatal error. The ring never leaves the halted state.
func (r *Ring) halt(err error) error {
	if r.halted == nil {
		r.halted = err
		pkg.LogError(pkg.ComponentRing, "ring halted",
			"error", err,
			"inFlight", r.bridge.Outstanding())
	}
	return r.halted
}

// signal wakes Step. Called from completion callbacks.
func (r *Ring) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// violation records a duplicate completion and wakes Step, which halts.
func (r *Ring) violation(err error) {
	r.fault.CompareAndSwap(nil, &err)
	r.signal()
}

// Metrics returns the ring counters as metric sources.
func (r *Ring) Metrics() []metrics.Source {
	return []metrics.Source{
		metrics.Counter("submits_total", "Native submit calls, including rejected ones.",
			func() float64 { return float64(r.submits.Load()) }),
		metrics.Counter("completions_total", "Transfers completed with success status.",
			func() float64 { return float64(r.completions.Load()) }),
		metrics.Counter("errors_total", "Rejected submits and error completions.",
			func() float64 { return float64(r.errCount.Load()) }),
		metrics.Counter("recoveries_total", "Alternate setting toggles.",
			func() float64 { return float64(r.recoveries.Load()) }),
		metrics.Counter("violations_total", "Duplicate completions detected.",
			func() float64 { return float64(r.bridge.Violations()) }),
		metrics.Counter("samples_total", "Samples generated.",
			func() float64 { return float64(r.clock.Now()) }),
		metrics.Gauge("outstanding", "Submissions awaiting their completion callback.",
			func() float64 { return float64(r.bridge.Outstanding()) }),
	}
}
