package hal

import (
	"time"
)

// EndpointAddress is a USB endpoint address including the direction bit.
type EndpointAddress uint8

// Number returns the endpoint number (0-15).
func (e EndpointAddress) Number() uint8 {
	return uint8(e) & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e EndpointAddress) IsIn() bool {
	return e&0x80 != 0
}

// IsoPacket describes one packet of an isochronous transfer.
type IsoPacket struct {
	Length       uint32 // Requested length
	ActualLength uint32 // Bytes actually moved
	Status       int32  // Native packet status (0 on success)
}

// CompletionFunc is invoked by the native layer exactly once for every
// transfer it accepted. It runs on whichever goroutine is inside
// [EventHandler.HandleEvents], never on the submitting goroutine.
//
// userData is the value the transfer carried when it was submitted. It can
// differ from x.UserData() once x has been submitted again.
type CompletionFunc func(x IsoTransfer, userData uintptr)

// IsoTransfer is a native isochronous transfer descriptor bound to one
// fixed-size buffer and one endpoint.
//
// The descriptor must not be freed while submitted. Buffer memory belongs to
// the native layer between Submit and the completion callback.
type IsoTransfer interface {
	// Endpoint returns the endpoint the transfer is bound to.
	Endpoint() EndpointAddress

	// Buffer returns the transfer's data region. Its length is
	// NumPackets() * packet size and never changes.
	Buffer() []byte

	// NumPackets returns the number of isochronous packets.
	NumPackets() int

	// Packet returns the descriptor of packet i after completion.
	Packet(i int) IsoPacket

	// Status returns the native completion status (0 on success).
	Status() int32

	// ActualLength returns the number of bytes transferred.
	ActualLength() int

	// ErrorCount returns the number of packets that failed.
	ErrorCount() int

	// SetUserData stores the opaque value handed to the callback of the
	// next submission.
	SetUserData(v uintptr)

	// UserData returns the opaque value set before Submit.
	UserData() uintptr

	// Submit hands the transfer to the native layer. A nil return
	// guarantees exactly one later call of the completion callback.
	Submit() error

	// Free releases the descriptor and its buffer.
	Free() error
}

// IsoHAL allocates isochronous transfers on an opened device.
type IsoHAL interface {
	// AllocIsoTransfer allocates a descriptor with numPackets packets of
	// packetSize bytes each, bound to endpoint. cb is called on completion.
	AllocIsoTransfer(endpoint EndpointAddress, packetSize, numPackets int, cb CompletionFunc) (IsoTransfer, error)
}

// EventHandler drives completion processing.
type EventHandler interface {
	// HandleEvents waits at most timeout for pending completions and
	// invokes their callbacks synchronously before returning.
	HandleEvents(timeout time.Duration) error
}

// DeviceControl is the set of control operations needed to bring an
// audio streaming interface up and to reset it after errors.
type DeviceControl interface {
	// KernelDriverActive reports whether a kernel driver is bound to iface.
	KernelDriverActive(iface uint8) (bool, error)

	// DetachKernelDriver unbinds the kernel driver from iface.
	DetachKernelDriver(iface uint8) error

	// ClaimInterface claims exclusive access to iface.
	ClaimInterface(iface uint8) error

	// SetAlternateSetting selects an alternate setting of iface.
	SetAlternateSetting(iface, alt uint8) error
}
