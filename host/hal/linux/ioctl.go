//go:build linux

package linux

import "unsafe"

// Generic ioctl number encoding (asm-generic/ioctl.h), used by 386, amd64,
// arm, arm64, loong64, riscv64 and s390x:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// ioc constructs an ioctl number from direction, type, number, and size.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// ior constructs a read ioctl number.
func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

// iow constructs a write ioctl number.
func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

// iowr constructs a read/write ioctl number.
func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

// ioctl constructs an ioctl number with no data transfer.
func ioctl(typ, nr uintptr) uintptr {
	return ioc(iocNone, typ, nr, 0)
}

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs ioctl command numbers.
const (
	ioctlSetInterface     = 4
	ioctlGetDriver        = 8
	ioctlSubmitURB        = 10
	ioctlDiscardURB       = 11
	ioctlReapURBNDelay    = 13
	ioctlClaimInterface   = 15
	ioctlReleaseInterface = 16
	ioctlIoctl            = 18
	ioctlDisconnect       = 22
)

// Usbdevfs ioctl numbers. Argument sizes come from the Go mirrors of the
// kernel structures, so the numbers are right on 32- and 64-bit targets.
var (
	ioctlUsbdevfsSetInterface     = ior(usbdevfsType, ioctlSetInterface, unsafe.Sizeof(setInterface{}))
	ioctlUsbdevfsGetDriver        = iow(usbdevfsType, ioctlGetDriver, unsafe.Sizeof(getDriver{}))
	ioctlUsbdevfsSubmitURB        = ior(usbdevfsType, ioctlSubmitURB, unsafe.Sizeof(urb{}))
	ioctlUsbdevfsDiscardURB       = ioctl(usbdevfsType, ioctlDiscardURB)
	ioctlUsbdevfsReapURBNDelay    = iow(usbdevfsType, ioctlReapURBNDelay, unsafe.Sizeof(uintptr(0)))
	ioctlUsbdevfsClaimInterface   = ior(usbdevfsType, ioctlClaimInterface, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsReleaseInterface = ior(usbdevfsType, ioctlReleaseInterface, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsIoctl            = iowr(usbdevfsType, ioctlIoctl, unsafe.Sizeof(usbIoctl{}))
	ioctlUsbdevfsDisconnect       = ioctl(usbdevfsType, ioctlDisconnect)
)
