package iso

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/isostream/pkg"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 960, cfg.SamplesPerTransfer())
	require.ErrorIs(t, cfg.Validate(), pkg.ErrInvalidParameter, "device id required")

	cfg.VendorID, cfg.ProductID = 0x0d8c, 0x0014
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"in endpoint", func(c *Config) { c.Endpoint = 0x84 }, pkg.ErrInvalidEndpoint},
		{"control endpoint", func(c *Config) { c.Endpoint = 0x00 }, pkg.ErrInvalidEndpoint},
		{"odd packet", func(c *Config) { c.PacketSize = 191 }, pkg.ErrInvalidParameter},
		{"zero packet", func(c *Config) { c.PacketSize = 0 }, pkg.ErrInvalidParameter},
		{"no packets", func(c *Config) { c.PacketsPerTransfer = 0 }, pkg.ErrInvalidParameter},
		{"too many packets", func(c *Config) { c.PacketsPerTransfer = MaxPacketsPerTransfer + 1 }, pkg.ErrInvalidParameter},
		{"zero depth", func(c *Config) { c.RingDepth = 0 }, pkg.ErrInvalidParameter},
		{"negative recoveries", func(c *Config) { c.MaxRecoveries = -1 }, pkg.ErrInvalidParameter},
		{"zero timeout", func(c *Config) { c.EventTimeout = 0 }, pkg.ErrInvalidParameter},
		{"bad tone", func(c *Config) { c.Tone.Amplitude = 2 }, pkg.ErrInvalidParameter},
		{"no recoveries", func(c *Config) { c.MaxRecoveries = 0 }, nil},
		{"long timeout", func(c *Config) { c.EventTimeout = time.Second }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
