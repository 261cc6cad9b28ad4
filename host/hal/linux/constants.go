package linux

// =============================================================================
// System Paths
// =============================================================================

// SysfsUSBPath is the base path for USB devices in sysfs.
const SysfsUSBPath = "/sys/bus/usb/devices"

// DevfsUSBPath is the base path for USB device nodes.
const DevfsUSBPath = "/dev/bus/usb"

// =============================================================================
// URB (USB Request Block) Constants
// =============================================================================

// URBTypeISO is the isochronous transfer type for USBDEVFS_SUBMITURB.
const URBTypeISO = 0

// URBISOAsap schedules an ISO transfer at the next free frame.
const URBISOAsap = 0x02

// MaxIsoPackets is the per-URB packet limit enforced by usbfs.
const MaxIsoPackets = 128

// =============================================================================
// Kernel Driver Constants
// =============================================================================

// maxDriverName is USBDEVFS_MAXDRIVERNAME.
const maxDriverName = 255

// usbfsDriverName is reported by GETDRIVER for interfaces claimed through
// usbfs itself; it does not count as a kernel driver.
const usbfsDriverName = "usbfs"

// =============================================================================
// USB Class Constants
// =============================================================================

// USBClassAudio is the USB audio interface class code.
const USBClassAudio = 0x01

// AudioSubclassStreaming is the audio streaming interface subclass code.
const AudioSubclassStreaming = 0x02

// =============================================================================
// Polling Constants
// =============================================================================

// MaxEpollEvents is the maximum events to retrieve per epoll_wait call.
const MaxEpollEvents = 8
