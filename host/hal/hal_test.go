package hal

import (
	"testing"
)

// =============================================================================
// EndpointAddress Tests
// =============================================================================

func TestEndpointAddress(t *testing.T) {
	tests := []struct {
		addr   EndpointAddress
		number uint8
		in     bool
	}{
		{0x04, 4, false},
		{0x84, 4, true},
		{0x81, 1, true},
		{0x0F, 15, false},
	}

	for _, tt := range tests {
		if got := tt.addr.Number(); got != tt.number {
			t.Errorf("EndpointAddress(0x%02X).Number() = %d, want %d", uint8(tt.addr), got, tt.number)
		}
		if got := tt.addr.IsIn(); got != tt.in {
			t.Errorf("EndpointAddress(0x%02X).IsIn() = %v, want %v", uint8(tt.addr), got, tt.in)
		}
	}
}
