//go:build linux

package linux

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

// Sizes of the kernel structures that make up an iso URB region.
var (
	sizeofURB        = int(unsafe.Sizeof(urb{}))
	sizeofPacketDesc = int(unsafe.Sizeof(isoPacketDesc{}))
)

// isoTransfer is an isochronous URB together with its packet descriptors
// and data buffer, all in one anonymous mapping. The kernel holds raw
// pointers into the mapping while the URB is submitted, so it must live
// outside the Go heap.
type isoTransfer struct {
	dev        *Device
	mem        []byte          // Entire mapping
	urb        *urb            // Start of mem
	descs      []isoPacketDesc // Follows the URB
	data       []byte          // 8-byte aligned after the descriptors
	endpoint   hal.EndpointAddress
	packetSize int
	cb         hal.CompletionFunc

	mu        sync.Mutex
	user      uintptr
	submitted bool
	freed     bool
	status    int32
	actual    int
	errors    int
	packets   []hal.IsoPacket // Snapshot taken at reap
}

// isoLayout returns the data offset and mapping size of an iso URB region.
func isoLayout(packetSize, numPackets int) (dataOff, size int) {
	hdr := sizeofURB + numPackets*sizeofPacketDesc
	dataOff = (hdr + 7) &^ 7
	return dataOff, dataOff + packetSize*numPackets
}

// AllocIsoTransfer maps memory for an isochronous URB of numPackets packets
// of packetSize bytes each.
func (d *Device) AllocIsoTransfer(endpoint hal.EndpointAddress, packetSize, numPackets int, cb hal.CompletionFunc) (hal.IsoTransfer, error) {
	if packetSize <= 0 || packetSize > math.MaxUint16 ||
		numPackets <= 0 || numPackets > MaxIsoPackets || cb == nil {
		return nil, fmt.Errorf("%w: %d packets of %d bytes", pkg.ErrInvalidParameter, numPackets, packetSize)
	}

	dataOff, size := isoLayout(packetSize, numPackets)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	x := &isoTransfer{
		dev:        d,
		mem:        mem,
		urb:        (*urb)(unsafe.Pointer(&mem[0])),
		descs:      unsafe.Slice((*isoPacketDesc)(unsafe.Pointer(&mem[sizeofURB])), numPackets),
		data:       mem[dataOff:size:size],
		endpoint:   endpoint,
		packetSize: packetSize,
		cb:         cb,
		packets:    make([]hal.IsoPacket, numPackets),
	}
	for i := range x.packets {
		x.packets[i].Length = uint32(packetSize)
	}

	pkg.LogDebug(pkg.ComponentHAL, "iso transfer allocated",
		"endpoint", fmt.Sprintf("%#02x", uint8(endpoint)),
		"packets", numPackets,
		"packetSize", packetSize,
		"mapped", len(mem))
	return x, nil
}

// addr is the URB address the kernel hands back when reaping.
func (x *isoTransfer) addr() uintptr {
	return uintptr(unsafe.Pointer(x.urb))
}

// prepare resets the URB and descriptors for another submission.
func (x *isoTransfer) prepare() {
	*x.urb = urb{
		typ:             URBTypeISO,
		endpoint:        uint8(x.endpoint),
		flags:           URBISOAsap,
		buffer:          uintptr(unsafe.Pointer(&x.data[0])),
		bufferLength:    int32(len(x.data)),
		numberOfPackets: int32(len(x.descs)),
		userContext:     x.user,
	}
	for i := range x.descs {
		x.descs[i] = isoPacketDesc{length: uint32(x.packetSize)}
	}
}

// complete snapshots the reaped URB and runs the callback.
func (x *isoTransfer) complete() {
	x.mu.Lock()
	x.submitted = false
	token := x.urb.userContext
	x.status = x.urb.status
	x.actual = int(x.urb.actualLength)
	x.errors = int(x.urb.errorCount)
	for i, desc := range x.descs {
		x.packets[i] = hal.IsoPacket{
			Length:       desc.length,
			ActualLength: desc.actualLength,
			Status:       desc.status,
		}
	}
	x.mu.Unlock()

	x.cb(x, token)
}

// abandon clears the submitted flag of a URB the kernel dropped on close.
func (x *isoTransfer) abandon() {
	x.mu.Lock()
	x.submitted = false
	x.mu.Unlock()
}

// Endpoint returns the bound endpoint.
func (x *isoTransfer) Endpoint() hal.EndpointAddress { return x.endpoint }

// Buffer returns the mapped data region.
func (x *isoTransfer) Buffer() []byte { return x.data }

// NumPackets returns the packet count.
func (x *isoTransfer) NumPackets() int { return len(x.descs) }

// Packet returns packet descriptor i as of the last completion.
func (x *isoTransfer) Packet(i int) hal.IsoPacket {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.packets[i]
}

// Status returns the URB status of the last completion.
func (x *isoTransfer) Status() int32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// ActualLength returns the bytes transferred by the last completion.
func (x *isoTransfer) ActualLength() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.actual
}

// ErrorCount returns the failed packet count of the last completion.
func (x *isoTransfer) ErrorCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.errors
}

// SetUserData stores the value placed in the URB's usercontext.
func (x *isoTransfer) SetUserData(v uintptr) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.user = v
}

// UserData returns the value placed in the URB's usercontext.
func (x *isoTransfer) UserData() uintptr {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.user
}

// Submit hands the URB to the kernel.
func (x *isoTransfer) Submit() error {
	x.mu.Lock()
	if x.freed {
		x.mu.Unlock()
		return fmt.Errorf("%w: transfer freed", pkg.ErrProtocolViolation)
	}
	if x.submitted {
		x.mu.Unlock()
		return fmt.Errorf("%w: transfer already submitted", pkg.ErrProtocolViolation)
	}
	x.prepare()
	x.submitted = true
	x.mu.Unlock()

	if err := x.dev.submit(x); err != nil {
		x.mu.Lock()
		x.submitted = false
		x.mu.Unlock()
		return err
	}
	return nil
}

// Free unmaps the transfer. Freeing a submitted transfer is refused.
func (x *isoTransfer) Free() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.submitted {
		return fmt.Errorf("%w: transfer still submitted", pkg.ErrProtocolViolation)
	}
	if x.freed {
		return nil
	}
	x.freed = true
	x.urb = nil
	x.descs = nil
	x.data = nil
	return unix.Munmap(x.mem)
}

var _ hal.IsoTransfer = (*isoTransfer)(nil)
