package iso

import (
	"errors"
	"fmt"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

// Configure prepares the streaming interface of an opened device: it
// detaches a bound kernel driver, claims the interface and selects the
// disabled then the enabled alternate setting.
func Configure(ctl hal.DeviceControl, cfg Config) error {
	iface := cfg.Interface

	active, err := ctl.KernelDriverActive(iface)
	if err != nil {
		return fmt.Errorf("%w: interface %d: %w", pkg.ErrClaimFailed, iface, err)
	}
	if active {
		if err := ctl.DetachKernelDriver(iface); err != nil {
			return fmt.Errorf("%w: interface %d: %w", pkg.ErrClaimFailed, iface, err)
		}
		pkg.LogInfo(pkg.ComponentDevice, "kernel driver detached", "interface", iface)
	}

	if err := ctl.ClaimInterface(iface); err != nil {
		if !errors.Is(err, pkg.ErrClaimFailed) {
			err = fmt.Errorf("%w: interface %d: %w", pkg.ErrClaimFailed, iface, err)
		}
		return err
	}

	if err := NewAltToggler(ctl, cfg).Recover(); err != nil {
		return fmt.Errorf("enable streaming: %w", err)
	}

	pkg.LogInfo(pkg.ComponentDevice, "interface configured",
		"interface", iface,
		"alt", cfg.AltSettingEnabled,
		"endpoint", fmt.Sprintf("%#02x", uint8(cfg.Endpoint)))
	return nil
}

// AltToggler recovers the stream by selecting the disabled and then the
// enabled alternate setting of the streaming interface.
type AltToggler struct {
	Control   hal.DeviceControl
	Interface uint8
	Disabled  uint8
	Enabled   uint8
}

// NewAltToggler creates a toggler for the interface described by cfg.
func NewAltToggler(ctl hal.DeviceControl, cfg Config) *AltToggler {
	return &AltToggler{
		Control:   ctl,
		Interface: cfg.Interface,
		Disabled:  cfg.AltSettingDisabled,
		Enabled:   cfg.AltSettingEnabled,
	}
}

// Recover toggles the alternate setting. The enabled setting is selected
// even if disabling failed.
func (a *AltToggler) Recover() error {
	var errs []error
	if err := a.Control.SetAlternateSetting(a.Interface, a.Disabled); err != nil {
		errs = append(errs, err)
	}
	if err := a.Control.SetAlternateSetting(a.Interface, a.Enabled); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ Recoverer = (*AltToggler)(nil)
