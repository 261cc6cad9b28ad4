package iso

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

// TransferResult is what the completion callback reports for one submission.
type TransferResult struct {
	Slot         int   // Ring slot of the transfer
	Status       int32 // Native status, 0 on success
	ActualLength int   // Bytes transferred
	ErrorCount   int   // Packets that failed
}

// Err returns nil for a successful transfer, otherwise an error wrapping
// [pkg.ErrTransferStatus] and the mapped status error.
func (r TransferResult) Err() error {
	if r.Status == 0 {
		return nil
	}
	status := pkg.StatusFromNative(r.Status)
	return fmt.Errorf("%w: slot %d: %s (%d): %w",
		pkg.ErrTransferStatus, r.Slot, status, r.Status, status.Error())
}

// completion is the context that travels through the native transfer's
// user data while it is in flight.
type completion struct {
	slot   int
	result chan<- TransferResult
	wake   func()
}

// Bridge carries completions from the goroutine running the native event
// loop back to the submitter.
//
// Each submission registers one completion context and receives a token
// that is stored as the native transfer's user data. The callback reclaims
// the context with that token; a token can be reclaimed exactly once.
type Bridge struct {
	mu      sync.Mutex
	next    uintptr
	pending map[uintptr]*completion

	violations  atomic.Uint64
	onViolation func(error)
}

// NewBridge creates a bridge. onViolation, if not nil, is called on the
// callback's goroutine whenever a completion arrives for a token that is not
// outstanding.
func NewBridge(onViolation func(error)) *Bridge {
	return &Bridge{
		pending:     make(map[uintptr]*completion),
		onViolation: onViolation,
	}
}

// register stores c and returns its token. Tokens are never zero.
func (b *Bridge) register(c *completion) uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.pending[b.next] = c
	return b.next
}

// take removes and returns the context of token.
func (b *Bridge) take(token uintptr) (*completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.pending[token]
	if !ok {
		return nil, fmt.Errorf("%w: completion token %d not outstanding", pkg.ErrProtocolViolation, token)
	}
	delete(b.pending, token)
	return c, nil
}

// Complete is the [hal.CompletionFunc] of every transfer created through the
// bridge. It runs on the event pump goroutine. token is the user data the
// transfer carried when it was submitted, not whatever it carries now.
func (b *Bridge) Complete(x hal.IsoTransfer, token uintptr) {
	c, err := b.take(token)
	if err != nil {
		b.violations.Add(1)
		pkg.LogError(pkg.ComponentBridge, "duplicate completion",
			"token", token,
			"status", x.Status(),
			"error", err)
		if b.onViolation != nil {
			b.onViolation(err)
		}
		return
	}

	r := TransferResult{
		Slot:         c.slot,
		Status:       x.Status(),
		ActualLength: x.ActualLength(),
		ErrorCount:   x.ErrorCount(),
	}
	// The channel is fresh per submission with room for one result.
	c.result <- r
	c.wake()
}

// Outstanding returns the number of registered contexts not yet reclaimed.
func (b *Bridge) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Violations returns the number of completions that arrived for a token
// that was not outstanding.
func (b *Bridge) Violations() uint64 {
	return b.violations.Load()
}

// =============================================================================
// Submission
// =============================================================================

// SubmissionState is the lifecycle position of a [Submission].
type SubmissionState uint8

// Submission states. Completed and Failed are terminal.
const (
	StateIdle SubmissionState = iota
	StateSubmitted
	StateCompleted
	StateFailed
)

// String returns a human-readable state name.
func (s SubmissionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resolved reports whether the state is terminal.
func (s SubmissionState) Resolved() bool {
	return s == StateCompleted || s == StateFailed
}

// Submission is one in-flight request over a [TransferBuffer]. A new one is
// created for every submit cycle. All methods must be called from the
// goroutine that owns the buffer.
type Submission struct {
	bridge *Bridge
	buf    *TransferBuffer
	state  SubmissionState
	result chan TransferResult
	res    TransferResult
	err    error
}

// NewSubmission creates an idle submission over buf.
func (b *Bridge) NewSubmission(buf *TransferBuffer) *Submission {
	return &Submission{
		bridge: b,
		buf:    buf,
		result: make(chan TransferResult, 1),
		res:    TransferResult{Slot: buf.slot},
	}
}

// Slot returns the ring slot of the submission's buffer.
func (s *Submission) Slot() int { return s.buf.slot }

// State returns the state as of the last Submit or Poll.
func (s *Submission) State() SubmissionState { return s.state }

// Result returns the outcome of a resolved submission. The error is nil only
// for a completion with success status.
func (s *Submission) Result() (TransferResult, error) { return s.res, s.err }

// Submit hands the buffer to the native layer. wake is called from the
// completion callback once the result is available.
//
// A synchronous rejection moves the submission to Failed with an error
// wrapping [pkg.ErrSubmitFailed] and leaves the buffer idle. A rejection
// caused by misuse of the transfer keeps wrapping [pkg.ErrProtocolViolation]
// instead, since no recovery can fix it.
func (s *Submission) Submit(wake func()) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: submit slot %d in state %s", pkg.ErrProtocolViolation, s.buf.slot, s.state)
	}
	if !s.buf.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: submit slot %d", pkg.ErrBufferBusy, s.buf.slot)
	}

	token := s.bridge.register(&completion{
		slot:   s.buf.slot,
		result: s.result,
		wake:   wake,
	})
	s.buf.xfer.SetUserData(token)

	if err := s.buf.xfer.Submit(); err != nil {
		// The callback never runs for a rejected transfer.
		_, _ = s.bridge.take(token)
		s.buf.inFlight.Store(false)
		s.state = StateFailed
		if errors.Is(err, pkg.ErrProtocolViolation) {
			s.err = fmt.Errorf("slot %d: %w", s.buf.slot, err)
		} else {
			s.err = fmt.Errorf("%w: slot %d: %w", pkg.ErrSubmitFailed, s.buf.slot, err)
		}
		pkg.LogDebug(pkg.ComponentTransfer, "submit rejected",
			"slot", s.buf.slot, "error", err)
		return s.err
	}

	s.state = StateSubmitted
	return nil
}

// Poll checks the result slot once. An empty slot leaves the submission
// Submitted; a populated one resolves it and returns the buffer to its owner.
func (s *Submission) Poll() SubmissionState {
	if s.state != StateSubmitted {
		return s.state
	}

	select {
	case r := <-s.result:
		s.res = r
		s.buf.inFlight.Store(false)
		if s.err = r.Err(); s.err != nil {
			s.state = StateFailed
		} else {
			s.state = StateCompleted
		}
	default:
	}
	return s.state
}
