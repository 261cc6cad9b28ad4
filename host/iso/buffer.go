package iso

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/go-audio/audio"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
	"github.com/ardnew/isostream/pkg/tone"
)

// bytesPerSample is the size of one signed 16-bit little-endian sample.
const bytesPerSample = 2

// TransferBuffer owns one native isochronous transfer and the PCM scratch
// buffer used to fill it. It belongs to exactly one ring slot.
//
// While a [Submission] over the buffer is in flight the native layer owns the
// transfer memory; Fill and Release refuse to run until the submission has
// been observed to resolve.
type TransferBuffer struct {
	slot     int
	xfer     hal.IsoTransfer
	pcm      *audio.IntBuffer
	inFlight atomic.Bool
	released bool
	start    uint64 // First sample index of the last fill
}

// NewTransferBuffer allocates a native transfer of packets packets of
// packetSize bytes on endpoint. cb receives its completions.
func NewTransferBuffer(slot int, h hal.IsoHAL, endpoint hal.EndpointAddress, packetSize, packets int, cb hal.CompletionFunc) (*TransferBuffer, error) {
	if packetSize <= 0 || packetSize%bytesPerSample != 0 || packets <= 0 {
		return nil, fmt.Errorf("%w: slot %d: %d packets of %d bytes", pkg.ErrInvalidParameter, slot, packets, packetSize)
	}

	xfer, err := h.AllocIsoTransfer(endpoint, packetSize, packets, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: slot %d: %w", pkg.ErrAllocationFailed, slot, err)
	}
	if xfer == nil {
		return nil, fmt.Errorf("%w: slot %d: no transfer returned", pkg.ErrAllocationFailed, slot)
	}

	b := &TransferBuffer{
		slot: slot,
		xfer: xfer,
		pcm: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1},
			Data:           make([]int, packetSize*packets/bytesPerSample),
			SourceBitDepth: 16,
		},
	}
	pkg.LogDebug(pkg.ComponentTransfer, "transfer allocated",
		"slot", slot, "endpoint", endpoint, "bytes", len(xfer.Buffer()))
	return b, nil
}

// Slot returns the ring slot index of the buffer.
func (b *TransferBuffer) Slot() int { return b.slot }

// Transfer returns the native transfer.
func (b *TransferBuffer) Transfer() hal.IsoTransfer { return b.xfer }

// Samples returns the number of samples one fill writes.
func (b *TransferBuffer) Samples() int { return b.pcm.NumFrames() }

// Start returns the absolute index of the first sample of the last fill.
func (b *TransferBuffer) Start() uint64 { return b.start }

// InFlight reports whether a submission over the buffer is outstanding.
func (b *TransferBuffer) InFlight() bool { return b.inFlight.Load() }

// Fill overwrites the whole buffer with the next Samples() samples of gen,
// reserved from clock. It returns the index of the first sample written.
func (b *TransferBuffer) Fill(clock *tone.Clock, gen tone.Generator) (uint64, error) {
	if b.inFlight.Load() {
		return 0, fmt.Errorf("%w: fill slot %d", pkg.ErrBufferBusy, b.slot)
	}
	if b.released {
		return 0, fmt.Errorf("%w: fill released slot %d", pkg.ErrProtocolViolation, b.slot)
	}

	start := clock.Advance(b.pcm.NumFrames())
	gen.Fill(b.pcm.Data, start)

	out := b.xfer.Buffer()
	for i, s := range b.pcm.Data {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(s)))
	}

	b.start = start
	return start, nil
}

// Release frees the native transfer. Releasing twice is a no-op; releasing
// while a submission is in flight frees nothing.
func (b *TransferBuffer) Release() error {
	if b.inFlight.Load() {
		return fmt.Errorf("%w: release slot %d in flight", pkg.ErrProtocolViolation, b.slot)
	}
	if b.released {
		return nil
	}
	b.released = true
	if err := b.xfer.Free(); err != nil {
		return fmt.Errorf("release slot %d: %w", b.slot, err)
	}
	return nil
}
