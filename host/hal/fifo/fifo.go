package fifo

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

// Option configures a HAL.
type Option func(*HAL)

// WithLatency sets how long a submitted transfer stays pending before
// HandleEvents completes it.
func WithLatency(d time.Duration) Option {
	return func(h *HAL) { h.latency = d }
}

// WithSubmitHook installs a hook consulted on every Submit. A non-nil
// return rejects the submission synchronously. n is the 1-based count of
// Submit calls so far, including this one.
func WithSubmitHook(fn func(x *Transfer, n int) error) Option {
	return func(h *HAL) { h.submitHook = fn }
}

// WithAllocHook installs a hook consulted on every allocation. A non-nil
// return makes AllocIsoTransfer fail.
func WithAllocHook(fn func(n int) error) Option {
	return func(h *HAL) { h.allocHook = fn }
}

// WithAltSettingHook installs a hook consulted on every alternate setting
// change. A non-nil return makes SetAlternateSetting fail.
func WithAltSettingHook(fn func(iface, alt uint8) error) Option {
	return func(h *HAL) { h.altHook = fn }
}

// WithKernelDriver marks iface as having a kernel driver bound.
func WithKernelDriver(iface uint8) Option {
	return func(h *HAL) { h.drivers[iface] = true }
}

// WithRecording keeps a copy of every submitted buffer.
func WithRecording() Option {
	return func(h *HAL) { h.record = true }
}

// AltChange records one SetAlternateSetting call.
type AltChange struct {
	Interface uint8
	Alt       uint8
}

// Record is a copy of a buffer taken at submit time.
type Record struct {
	Transfer int    // Allocation index of the transfer
	Data     []byte // Buffer contents when submitted
}

// HAL is an in-memory host controller. Submitted transfers wait in a FIFO
// until a test completes them explicitly or HandleEvents finds them due.
type HAL struct {
	mu      sync.Mutex
	pending []*Transfer
	kick    chan struct{}

	allocs   int
	submits  int
	freed    int
	records  []Record
	alts     []AltChange
	claimed  map[uint8]bool
	drivers  map[uint8]bool
	detached []uint8

	latency    time.Duration
	record     bool
	submitHook func(x *Transfer, n int) error
	allocHook  func(n int) error
	altHook    func(iface, alt uint8) error
}

// New creates an in-memory HAL.
func New(opts ...Option) *HAL {
	h := &HAL{
		kick:    make(chan struct{}, 1),
		claimed: make(map[uint8]bool),
		drivers: make(map[uint8]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// IsoHAL
// =============================================================================

// AllocIsoTransfer allocates an in-memory transfer.
func (h *HAL) AllocIsoTransfer(endpoint hal.EndpointAddress, packetSize, numPackets int, cb hal.CompletionFunc) (hal.IsoTransfer, error) {
	if packetSize <= 0 || numPackets <= 0 || cb == nil {
		return nil, pkg.ErrInvalidParameter
	}

	h.mu.Lock()
	h.allocs++
	n := h.allocs
	hook := h.allocHook
	h.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return nil, err
		}
	}

	x := &Transfer{
		hal:      h,
		id:       n - 1,
		endpoint: endpoint,
		buf:      make([]byte, packetSize*numPackets),
		packets:  make([]hal.IsoPacket, numPackets),
		cb:       cb,
	}
	for i := range x.packets {
		x.packets[i].Length = uint32(packetSize)
	}
	return x, nil
}

// =============================================================================
// EventHandler
// =============================================================================

// HandleEvents completes, with success status, every pending transfer whose
// latency has elapsed. It waits at most timeout for the first one.
func (h *HAL) HandleEvents(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	done := 0
	for {
		x, wait := h.nextDue()
		if x != nil {
			h.finish(x, 0)
			done++
			continue
		}
		if done > 0 {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if wait < 0 || wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-h.kick:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// nextDue removes and returns the oldest pending transfer if it is due.
// Otherwise it returns how long until it will be, or -1 if nothing pends.
func (h *HAL) nextDue() (*Transfer, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.pending) == 0 {
		return nil, -1
	}
	x := h.pending[0]
	if wait := time.Until(x.submittedAt.Add(h.latency)); wait > 0 {
		return nil, wait
	}
	h.pending = h.pending[1:]
	return x, 0
}

// =============================================================================
// Test Controls
// =============================================================================

// Pending returns the submitted, not yet completed transfers in FIFO order.
func (h *HAL) Pending() []*Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Transfer(nil), h.pending...)
}

// CompleteNext completes the oldest pending transfer with status.
// Returns false if nothing is pending.
func (h *HAL) CompleteNext(status int32) bool {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return false
	}
	x := h.pending[0]
	h.pending = h.pending[1:]
	h.mu.Unlock()

	h.finish(x, status)
	return true
}

// Complete completes a specific pending transfer with status.
func (h *HAL) Complete(x *Transfer, status int32) error {
	h.mu.Lock()
	idx := -1
	for i, p := range h.pending {
		if p == x {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return fmt.Errorf("%w: transfer %d not pending", pkg.ErrInvalidParameter, x.id)
	}
	h.pending = append(h.pending[:idx], h.pending[idx+1:]...)
	h.mu.Unlock()

	h.finish(x, status)
	return nil
}

// Redeliver invokes the completion callback of x again with the user data of
// its last completion and without changing any state, as a misbehaving
// native layer would.
func (h *HAL) Redeliver(x *Transfer) {
	h.mu.Lock()
	token := x.delivered
	h.mu.Unlock()
	x.cb(x, token)
}

// finish records the outcome and invokes the callback outside the lock.
func (h *HAL) finish(x *Transfer, status int32) {
	h.mu.Lock()
	x.submitted = false
	x.delivered = x.inflight
	token := x.delivered
	x.status = status
	x.actual = 0
	x.errors = 0
	for i := range x.packets {
		p := &x.packets[i]
		if status == 0 {
			p.ActualLength = p.Length
			p.Status = 0
			x.actual += int(p.Length)
		} else {
			p.ActualLength = 0
			p.Status = status
			x.errors++
		}
	}
	h.mu.Unlock()

	x.cb(x, token)
}

// Submits returns the number of Submit calls, including rejected ones.
func (h *HAL) Submits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.submits
}

// Allocs returns the number of allocation attempts.
func (h *HAL) Allocs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs
}

// Freed returns the number of transfers freed.
func (h *HAL) Freed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freed
}

// Records returns copies of submitted buffers if recording is enabled.
func (h *HAL) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// AltChanges returns every SetAlternateSetting call in order.
func (h *HAL) AltChanges() []AltChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]AltChange(nil), h.alts...)
}

// Claimed reports whether iface was claimed.
func (h *HAL) Claimed(iface uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.claimed[iface]
}

// Detached returns the interfaces whose kernel driver was detached.
func (h *HAL) Detached() []uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint8(nil), h.detached...)
}

// =============================================================================
// DeviceControl
// =============================================================================

// KernelDriverActive reports whether a driver was configured on iface.
func (h *HAL) KernelDriverActive(iface uint8) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drivers[iface], nil
}

// DetachKernelDriver unbinds the simulated driver.
func (h *HAL) DetachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.drivers[iface] {
		return fmt.Errorf("%w: no driver on interface %d", pkg.ErrInvalidParameter, iface)
	}
	delete(h.drivers, iface)
	h.detached = append(h.detached, iface)
	return nil
}

// ClaimInterface claims iface. Claiming an interface with a bound driver
// fails, as it does on a real device.
func (h *HAL) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drivers[iface] {
		return fmt.Errorf("interface %d busy", iface)
	}
	h.claimed[iface] = true
	return nil
}

// SetAlternateSetting records the change.
func (h *HAL) SetAlternateSetting(iface, alt uint8) error {
	h.mu.Lock()
	hook := h.altHook
	h.mu.Unlock()

	if hook != nil {
		if err := hook(iface, alt); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.alts = append(h.alts, AltChange{Interface: iface, Alt: alt})
	h.mu.Unlock()
	return nil
}

// =============================================================================
// Transfer
// =============================================================================

// Transfer is an in-memory isochronous transfer.
type Transfer struct {
	hal      *HAL
	id       int
	endpoint hal.EndpointAddress
	buf      []byte
	packets  []hal.IsoPacket
	cb       hal.CompletionFunc
	user     uintptr

	inflight    uintptr // User data captured by Submit
	delivered   uintptr // User data passed to the last completion
	submitted   bool
	submittedAt time.Time
	freed       bool
	status      int32
	actual      int
	errors      int
}

// ID returns the allocation index of the transfer.
func (x *Transfer) ID() int { return x.id }

// Endpoint returns the bound endpoint.
func (x *Transfer) Endpoint() hal.EndpointAddress { return x.endpoint }

// Buffer returns the data region.
func (x *Transfer) Buffer() []byte { return x.buf }

// NumPackets returns the packet count.
func (x *Transfer) NumPackets() int { return len(x.packets) }

// Packet returns packet descriptor i.
func (x *Transfer) Packet(i int) hal.IsoPacket {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.packets[i]
}

// Status returns the completion status.
func (x *Transfer) Status() int32 {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.status
}

// ActualLength returns the bytes transferred.
func (x *Transfer) ActualLength() int {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.actual
}

// ErrorCount returns the number of failed packets.
func (x *Transfer) ErrorCount() int {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.errors
}

// SetUserData stores the opaque completion context of the next submission.
func (x *Transfer) SetUserData(v uintptr) {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	x.user = v
}

// UserData returns the opaque completion context.
func (x *Transfer) UserData() uintptr {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.user
}

// Submitted reports whether the transfer is pending.
func (x *Transfer) Submitted() bool {
	x.hal.mu.Lock()
	defer x.hal.mu.Unlock()
	return x.submitted
}

// Submit queues the transfer. Submitting a transfer that is already pending
// is a protocol violation.
func (x *Transfer) Submit() error {
	h := x.hal
	h.mu.Lock()
	if x.freed {
		h.mu.Unlock()
		return fmt.Errorf("%w: transfer %d freed", pkg.ErrProtocolViolation, x.id)
	}
	if x.submitted {
		h.mu.Unlock()
		return fmt.Errorf("%w: transfer %d already submitted", pkg.ErrProtocolViolation, x.id)
	}
	h.submits++
	n := h.submits
	hook := h.submitHook
	h.mu.Unlock()

	if hook != nil {
		if err := hook(x, n); err != nil {
			return err
		}
	}

	h.mu.Lock()
	x.submitted = true
	x.inflight = x.user
	x.submittedAt = time.Now()
	x.status = 0
	x.actual = 0
	h.pending = append(h.pending, x)
	if h.record {
		h.records = append(h.records, Record{
			Transfer: x.id,
			Data:     append([]byte(nil), x.buf...),
		})
	}
	h.mu.Unlock()

	select {
	case h.kick <- struct{}{}:
	default:
	}
	return nil
}

// Free releases the transfer. Freeing a pending transfer is refused.
func (x *Transfer) Free() error {
	h := x.hal
	h.mu.Lock()
	defer h.mu.Unlock()
	if x.submitted {
		return fmt.Errorf("%w: transfer %d still submitted", pkg.ErrProtocolViolation, x.id)
	}
	if x.freed {
		return nil
	}
	x.freed = true
	h.freed++
	return nil
}

// Ensure HAL implements the HAL interfaces.
var (
	_ hal.IsoHAL        = (*HAL)(nil)
	_ hal.EventHandler  = (*HAL)(nil)
	_ hal.DeviceControl = (*HAL)(nil)
	_ hal.IsoTransfer   = (*Transfer)(nil)
)
