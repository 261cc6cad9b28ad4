//go:build linux

package linux

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
)

// Device is an opened usbfs device node. It implements [hal.IsoHAL],
// [hal.EventHandler] and [hal.DeviceControl].
type Device struct {
	info   DeviceInfo
	fd     int
	poller *poller

	mu       sync.Mutex
	inflight map[uintptr]*isoTransfer // URB address -> transfer
	claimed  map[uint8]bool
	gone     bool // Device fd reported HUP/ERR
	closed   bool
}

// Open opens the device node described by info.
func Open(info DeviceInfo) (*Device, error) {
	fd, err := openDevice(info.DevfsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pkg.ErrOpenFailed, info.DevfsPath, err)
	}

	p, err := newPoller()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: poller: %w", pkg.ErrOpenFailed, err)
	}

	d := &Device{
		info:     info,
		fd:       fd,
		poller:   p,
		inflight: make(map[uintptr]*isoTransfer),
		claimed:  make(map[uint8]bool),
	}

	// usbfs signals completed URBs as writable.
	if err := p.addFD(fd, unix.EPOLLOUT, d.onEvents); err != nil {
		p.close()
		unix.Close(fd)
		return nil, fmt.Errorf("%w: poller: %w", pkg.ErrOpenFailed, err)
	}

	pkg.LogInfo(pkg.ComponentHAL, "device opened",
		"path", info.DevfsPath,
		"device", info.String())
	return d, nil
}

// Info returns the sysfs description the device was opened with.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Close releases claimed interfaces and closes the device node. The kernel
// cancels any URB still outstanding; their completion callbacks never run.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	abandoned := make([]*isoTransfer, 0, len(d.inflight))
	for _, x := range d.inflight {
		discardURB(d.fd, x.urb)
		abandoned = append(abandoned, x)
	}
	d.inflight = map[uintptr]*isoTransfer{}
	ifaces := make([]uint8, 0, len(d.claimed))
	for iface := range d.claimed {
		ifaces = append(ifaces, iface)
	}
	d.claimed = map[uint8]bool{}
	d.mu.Unlock()

	var errs []error
	for _, iface := range ifaces {
		if err := releaseInterface(d.fd, iface); err != nil && !isNoDevice(err) {
			errs = append(errs, fmt.Errorf("release interface %d: %w", iface, err))
		}
	}
	errs = append(errs, d.poller.close(), unix.Close(d.fd))

	// Closing the fd waits for the kernel to drop every URB, so their
	// memory may be reused now.
	for _, x := range abandoned {
		x.abandon()
	}
	if len(abandoned) > 0 {
		pkg.LogWarn(pkg.ComponentHAL, "closed with transfers in flight",
			"count", len(abandoned))
	}

	pkg.LogDebug(pkg.ComponentHAL, "device closed", "path", d.info.DevfsPath)
	return errors.Join(errs...)
}

// =============================================================================
// DeviceControl
// =============================================================================

// KernelDriverActive reports whether a kernel driver other than usbfs is
// bound to iface.
func (d *Device) KernelDriverActive(iface uint8) (bool, error) {
	name, err := driverName(d.fd, iface)
	if err != nil {
		if isNoData(err) {
			return false, nil
		}
		return false, fmt.Errorf("get driver of interface %d: %w", iface, err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "interface driver", "interface", iface, "driver", name)
	return name != usbfsDriverName, nil
}

// DetachKernelDriver unbinds the kernel driver from iface. Detaching an
// interface without a driver is not an error.
func (d *Device) DetachKernelDriver(iface uint8) error {
	if err := disconnectDriver(d.fd, iface); err != nil && !isNoData(err) {
		return fmt.Errorf("detach interface %d: %w", iface, err)
	}
	return nil
}

// ClaimInterface claims iface for this process.
func (d *Device) ClaimInterface(iface uint8) error {
	if err := claimInterface(d.fd, iface); err != nil {
		return fmt.Errorf("%w: interface %d: %w", pkg.ErrClaimFailed, iface, err)
	}
	d.mu.Lock()
	d.claimed[iface] = true
	d.mu.Unlock()
	return nil
}

// SetAlternateSetting selects alternate setting alt of iface.
func (d *Device) SetAlternateSetting(iface, alt uint8) error {
	if err := setAltSetting(d.fd, iface, alt); err != nil {
		if isNoDevice(err) {
			err = fmt.Errorf("%w: %w", pkg.ErrNoDevice, err)
		}
		return fmt.Errorf("set interface %d alt %d: %w", iface, alt, err)
	}
	return nil
}

// =============================================================================
// EventHandler
// =============================================================================

// HandleEvents waits at most timeout for completed URBs and runs their
// callbacks on the calling goroutine. On a closed device it still waits out
// timeout before returning an error wrapping [pkg.ErrNoDevice].
func (d *Device) HandleEvents(timeout time.Duration) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return fmt.Errorf("%w: %s closed", pkg.ErrNoDevice, d.info.DevfsPath)
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	_, err := d.poller.pollOnce(ms)
	return err
}

// onEvents reaps every completed URB. It runs inside HandleEvents.
func (d *Device) onEvents(events uint32) error {
	for {
		addr, err := reapURBNDelay(d.fd)
		if err != nil {
			if isAgain(err) || isNoDevice(err) {
				break
			}
			return fmt.Errorf("reap: %w", err)
		}

		d.mu.Lock()
		x := d.inflight[addr]
		delete(d.inflight, addr)
		d.mu.Unlock()

		if x == nil {
			pkg.LogWarn(pkg.ComponentHAL, "reaped unknown URB", "addr", fmt.Sprintf("%#x", addr))
			continue
		}
		x.complete()
	}

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		d.mu.Lock()
		first := !d.gone
		d.gone = true
		d.mu.Unlock()

		if first {
			// Stop polling the fd; it would report HUP forever.
			d.poller.delFD(d.fd)
			return fmt.Errorf("%w: %s", pkg.ErrNoDevice, d.info.DevfsPath)
		}
	}
	return nil
}

// submit registers x as in flight and hands its URB to the kernel.
func (d *Device) submit(x *isoTransfer) error {
	addr := x.addr()

	d.mu.Lock()
	if d.closed || d.gone {
		d.mu.Unlock()
		return pkg.ErrNoDevice
	}
	// Registered before the ioctl; the completion may be reaped before
	// submitURB returns.
	d.inflight[addr] = x
	d.mu.Unlock()

	if err := submitURB(d.fd, x.urb); err != nil {
		d.mu.Lock()
		delete(d.inflight, addr)
		d.mu.Unlock()
		if isNoDevice(err) {
			return fmt.Errorf("%w: %w", pkg.ErrNoDevice, err)
		}
		return err
	}
	return nil
}

// Ensure Device implements the HAL interfaces.
var (
	_ hal.IsoHAL        = (*Device)(nil)
	_ hal.EventHandler  = (*Device)(nil)
	_ hal.DeviceControl = (*Device)(nil)
)
