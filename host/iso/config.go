package iso

import (
	"fmt"
	"time"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
	"github.com/ardnew/isostream/pkg/tone"
)

// Default stream parameters.
const (
	DefaultInterface          = 1
	DefaultEndpoint           = hal.EndpointAddress(0x04)
	DefaultAltSettingDisabled = 0
	DefaultAltSettingEnabled  = 2
	DefaultPacketSize         = 192
	DefaultPacketsPerTransfer = 10
	DefaultRingDepth          = 3
	DefaultMaxRecoveries      = 2
	DefaultEventTimeout       = 100 * time.Millisecond
)

// MaxPacketsPerTransfer is the largest packet count usbfs accepts in one URB.
const MaxPacketsPerTransfer = 128

// Config holds the parameters of one stream. It is not modified once the
// stream starts.
type Config struct {
	VendorID  uint16 // Device identity
	ProductID uint16

	Interface          uint8               // Audio streaming interface
	Endpoint           hal.EndpointAddress // Isochronous OUT endpoint
	AltSettingDisabled uint8               // Zero-bandwidth alternate setting
	AltSettingEnabled  uint8               // Streaming alternate setting

	PacketSize         int // Bytes per isochronous packet
	PacketsPerTransfer int // Packets per transfer
	RingDepth          int // Transfers kept in flight (K)
	MaxRecoveries      int // Consecutive recoveries allowed per slot

	Tone         tone.Generator
	EventTimeout time.Duration // Wait bound of one event pump iteration
}

// DefaultConfig returns a Config with every field but the device identity set.
func DefaultConfig() Config {
	return Config{
		Interface:          DefaultInterface,
		Endpoint:           DefaultEndpoint,
		AltSettingDisabled: DefaultAltSettingDisabled,
		AltSettingEnabled:  DefaultAltSettingEnabled,
		PacketSize:         DefaultPacketSize,
		PacketsPerTransfer: DefaultPacketsPerTransfer,
		RingDepth:          DefaultRingDepth,
		MaxRecoveries:      DefaultMaxRecoveries,
		Tone:               tone.Default(),
		EventTimeout:       DefaultEventTimeout,
	}
}

// SamplesPerTransfer returns the number of 16-bit samples one transfer holds.
func (c Config) SamplesPerTransfer() int {
	return c.PacketSize * c.PacketsPerTransfer / 2
}

// Validate checks the whole configuration, including the device identity.
func (c Config) Validate() error {
	if c.VendorID == 0 || c.ProductID == 0 {
		return fmt.Errorf("%w: device id %04x:%04x", pkg.ErrInvalidParameter, c.VendorID, c.ProductID)
	}
	return c.validateStream()
}

// validateStream checks the parameters the ring and pump depend on.
func (c Config) validateStream() error {
	switch {
	case c.Endpoint.IsIn() || c.Endpoint.Number() == 0:
		return fmt.Errorf("%w: endpoint %#02x is not an OUT data endpoint", pkg.ErrInvalidEndpoint, uint8(c.Endpoint))
	case c.PacketSize <= 0 || c.PacketSize%2 != 0:
		return fmt.Errorf("%w: packet size %d must be a positive even number", pkg.ErrInvalidParameter, c.PacketSize)
	case c.PacketsPerTransfer <= 0 || c.PacketsPerTransfer > MaxPacketsPerTransfer:
		return fmt.Errorf("%w: packets per transfer %d not in [1, %d]", pkg.ErrInvalidParameter, c.PacketsPerTransfer, MaxPacketsPerTransfer)
	case c.RingDepth <= 0:
		return fmt.Errorf("%w: ring depth %d", pkg.ErrInvalidParameter, c.RingDepth)
	case c.MaxRecoveries < 0:
		return fmt.Errorf("%w: max recoveries %d", pkg.ErrInvalidParameter, c.MaxRecoveries)
	case c.EventTimeout <= 0:
		return fmt.Errorf("%w: event timeout %v", pkg.ErrInvalidParameter, c.EventTimeout)
	}
	return c.Tone.Validate()
}
