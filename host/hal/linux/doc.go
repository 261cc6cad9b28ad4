// Package linux provides an isochronous USB host HAL for Linux using usbfs.
//
// Devices are discovered through sysfs (/sys/bus/usb/devices) and opened
// through their usbfs node (/dev/bus/usb/BBB/DDD). The package is pure Go
// with no cgo dependencies; system calls go through golang.org/x/sys/unix.
//
// # Requirements
//
// The user running the application must have read/write access to the USB
// device node, which typically requires either:
//   - Running as root
//   - A udev rule granting access to the user or group
//
// # Architecture
//
// Each isochronous transfer is one anonymous memory mapping holding the URB,
// its packet descriptors and the data buffer. The kernel keeps raw pointers
// into that memory while the URB is submitted, so it never lives on the Go
// heap.
//
//   - URBs are submitted with USBDEVFS_SUBMITURB (ISO_ASAP scheduling)
//   - Completion is signalled by epoll reporting the device fd writable
//   - Completed URBs are reaped with USBDEVFS_REAPURBNDELAY inside
//     [Device.HandleEvents], which then runs each transfer's callback
//
// # Device Control
//
// [Device] also implements interface claiming, kernel driver detachment and
// alternate setting selection, which an audio streaming interface needs to
// start and to recover after transfer errors.
package linux
