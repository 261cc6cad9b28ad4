//go:build linux

package linux

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// =============================================================================
// Kernel Structures
// =============================================================================

// urb mirrors the kernel's struct usbdevfs_urb. The variable-length array of
// iso packet descriptors follows it directly in memory and is addressed by
// offset, so it is not declared here.
type urb struct {
	typ             uint8   // URB type (control, bulk, interrupt, iso)
	endpoint        uint8   // Endpoint address
	status          int32   // URB status after completion
	flags           uint32  // URB flags
	buffer          uintptr // Pointer to data buffer
	bufferLength    int32   // Length of data buffer
	actualLength    int32   // Actual bytes transferred
	startFrame      int32   // Start frame for ISO transfers
	numberOfPackets int32   // Packet count for ISO (union with stream_id)
	errorCount      int32   // Error count for ISO transfers
	signr           uint32  // Signal number for async notification
	userContext     uintptr // User context
}

// isoPacketDesc mirrors struct usbdevfs_iso_packet_desc.
type isoPacketDesc struct {
	length       uint32 // Expected length
	actualLength uint32 // Actual length
	status       int32  // Negative errno, 0 on success
}

// setInterface mirrors struct usbdevfs_setinterface.
type setInterface struct {
	iface      uint32
	altSetting uint32
}

// getDriver mirrors struct usbdevfs_getdriver.
type getDriver struct {
	iface  uint32
	driver [maxDriverName + 1]byte
}

// usbIoctl mirrors struct usbdevfs_ioctl, used to forward a request to the
// driver bound to one interface.
type usbIoctl struct {
	ifno      int32
	ioctlCode int32
	data      uintptr
}

// =============================================================================
// Raw Syscall Wrappers
// =============================================================================

// openDevice opens a USB device node for read/write access.
func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

// ioctlRaw performs a raw ioctl syscall.
func ioctlRaw(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// =============================================================================
// USBDEVFS Operations
// =============================================================================

// claimInterface claims exclusive access to an interface.
func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	return ioctlRaw(fd, ioctlUsbdevfsClaimInterface, unsafe.Pointer(&n))
}

// releaseInterface releases a previously claimed interface.
func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	return ioctlRaw(fd, ioctlUsbdevfsReleaseInterface, unsafe.Pointer(&n))
}

// setAltSetting selects an alternate setting of a claimed interface.
func setAltSetting(fd int, iface, alt uint8) error {
	si := setInterface{iface: uint32(iface), altSetting: uint32(alt)}
	return ioctlRaw(fd, ioctlUsbdevfsSetInterface, unsafe.Pointer(&si))
}

// driverName returns the name of the driver bound to an interface.
// Returns ENODATA if none is bound.
func driverName(fd int, iface uint8) (string, error) {
	gd := getDriver{iface: uint32(iface)}
	if err := ioctlRaw(fd, ioctlUsbdevfsGetDriver, unsafe.Pointer(&gd)); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(gd.driver[:]), nil
}

// disconnectDriver unbinds the kernel driver from an interface.
func disconnectDriver(fd int, iface uint8) error {
	cmd := usbIoctl{
		ifno:      int32(iface),
		ioctlCode: int32(ioctlUsbdevfsDisconnect),
	}
	return ioctlRaw(fd, ioctlUsbdevfsIoctl, unsafe.Pointer(&cmd))
}

// =============================================================================
// Async URB Operations
// =============================================================================

// submitURB submits a URB for asynchronous processing.
func submitURB(fd int, u *urb) error {
	return ioctlRaw(fd, ioctlUsbdevfsSubmitURB, unsafe.Pointer(u))
}

// reapURBNDelay retrieves the address of a completed URB without blocking.
// Returns EAGAIN if no URB is available.
func reapURBNDelay(fd int) (uintptr, error) {
	var addr uintptr
	if err := ioctlRaw(fd, ioctlUsbdevfsReapURBNDelay, unsafe.Pointer(&addr)); err != nil {
		return 0, err
	}
	return addr, nil
}

// discardURB cancels a pending URB. It is still reaped afterwards.
func discardURB(fd int, u *urb) error {
	return ioctlRaw(fd, ioctlUsbdevfsDiscardURB, unsafe.Pointer(u))
}

// =============================================================================
// Error Helpers
// =============================================================================

// isNoDevice returns true if the error indicates the device was disconnected.
func isNoDevice(err error) bool {
	return errors.Is(err, unix.ENODEV)
}

// isAgain returns true if the error indicates try again (EAGAIN/EWOULDBLOCK).
func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}

// isNoData returns true if the error indicates no data (ENODATA).
func isNoData(err error) bool {
	return errors.Is(err, unix.ENODATA)
}
