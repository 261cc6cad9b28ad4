//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ardnew/isostream/pkg"
)

// =============================================================================
// USB Device Information
// =============================================================================

// DeviceInfo describes a USB device discovered via sysfs.
type DeviceInfo struct {
	SysfsPath    string // Path in /sys/bus/usb/devices
	DevfsPath    string // Path in /dev/bus/usb
	Bus          uint8  // Bus number
	Address      uint8  // Device number on the bus
	VendorID     uint16 // idVendor
	ProductID    uint16 // idProduct
	Speed        string // Link speed in Mbit/s as reported by the kernel
	Manufacturer string // iManufacturer string, if readable
	Product      string // iProduct string, if readable

	Interfaces []InterfaceInfo
}

// InterfaceInfo describes one interface of the active configuration.
type InterfaceInfo struct {
	Number   uint8 // bInterfaceNumber
	Class    uint8 // bInterfaceClass
	SubClass uint8 // bInterfaceSubClass
	Protocol uint8 // bInterfaceProtocol
}

// String returns the conventional bus/address and VID:PID form.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%03d/%03d %04x:%04x", d.Bus, d.Address, d.VendorID, d.ProductID)
}

// AudioStreaming returns the audio streaming interfaces of the device.
func (d DeviceInfo) AudioStreaming() []InterfaceInfo {
	var result []InterfaceInfo
	for _, iface := range d.Interfaces {
		if iface.Class == USBClassAudio && iface.SubClass == AudioSubclassStreaming {
			result = append(result, iface)
		}
	}
	return result
}

// =============================================================================
// Discovery
// =============================================================================

// FindDevice returns the device matching vid and pid. When several devices
// match, the one with the lowest bus and address wins.
func FindDevice(vid, pid uint16) (DeviceInfo, error) {
	return findDevice(SysfsUSBPath, vid, pid)
}

func findDevice(root string, vid, pid uint16) (DeviceInfo, error) {
	devices, err := scanUSBDevices(root)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", pkg.ErrDeviceNotFound, err)
	}

	var matches []DeviceInfo
	for _, dev := range devices {
		if dev.VendorID == vid && dev.ProductID == pid {
			matches = append(matches, dev)
		}
	}
	if len(matches) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: %04x:%04x", pkg.ErrDeviceNotFound, vid, pid)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Bus != matches[j].Bus {
			return matches[i].Bus < matches[j].Bus
		}
		return matches[i].Address < matches[j].Address
	})
	if len(matches) > 1 {
		pkg.LogWarn(pkg.ComponentHAL, "multiple devices match",
			"vid", fmt.Sprintf("%04x", vid),
			"pid", fmt.Sprintf("%04x", pid),
			"count", len(matches),
			"using", matches[0].String())
	}
	return matches[0], nil
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// scanUSBDevices scans a sysfs USB device directory.
func scanUSBDevices(root string) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Devices are named like "1-1" or "1-1.2". Skip root hubs ("usb1")
		// and interfaces ("1-1:1.0").
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		info, err := parseUSBDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}

	return devices, nil
}

// parseUSBDevice parses USB device information from sysfs.
func parseUSBDevice(sysfsPath string) (DeviceInfo, error) {
	info := DeviceInfo{SysfsPath: sysfsPath}

	var err error
	if info.Bus, err = readSysfsUint8(filepath.Join(sysfsPath, "busnum")); err != nil {
		return info, err
	}
	if info.Address, err = readSysfsUint8(filepath.Join(sysfsPath, "devnum")); err != nil {
		return info, err
	}
	if info.VendorID, err = readSysfsHexUint16(filepath.Join(sysfsPath, "idVendor")); err != nil {
		return info, err
	}
	if info.ProductID, err = readSysfsHexUint16(filepath.Join(sysfsPath, "idProduct")); err != nil {
		return info, err
	}

	info.DevfsPath = formatDevfsPath(info.Bus, info.Address)
	info.Speed, _ = readSysfsString(filepath.Join(sysfsPath, "speed"))
	info.Manufacturer, _ = readSysfsString(filepath.Join(sysfsPath, "manufacturer"))
	info.Product, _ = readSysfsString(filepath.Join(sysfsPath, "product"))
	info.Interfaces = scanInterfaces(sysfsPath)

	return info, nil
}

// scanInterfaces scans sysfs for interfaces of a device.
func scanInterfaces(devicePath string) []InterfaceInfo {
	entries, err := os.ReadDir(devicePath)
	if err != nil {
		return nil
	}

	var interfaces []InterfaceInfo
	prefix := filepath.Base(devicePath) + ":"

	for _, entry := range entries {
		// Interface entries are <device>:<config>.<interface>
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		iface, err := parseInterface(filepath.Join(devicePath, entry.Name()))
		if err != nil {
			continue
		}
		interfaces = append(interfaces, iface)
	}

	sort.Slice(interfaces, func(i, j int) bool {
		return interfaces[i].Number < interfaces[j].Number
	})
	return interfaces
}

// parseInterface parses USB interface information from sysfs.
func parseInterface(sysfsPath string) (InterfaceInfo, error) {
	var info InterfaceInfo

	num, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceNumber"))
	if err != nil {
		return info, err
	}
	info.Number = num

	info.Class, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceClass"))
	info.SubClass, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceSubClass"))
	info.Protocol, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceProtocol"))

	return info, nil
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsUint8 reads an unsigned decimal uint8 from a sysfs attribute file.
func readSysfsUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

// readSysfsHex reads a hexadecimal value from a sysfs attribute file.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

// readSysfsHexUint8 reads a hexadecimal uint8 from a sysfs attribute file.
func readSysfsHexUint8(path string) (uint8, error) {
	v, err := readSysfsHex(path, 8)
	return uint8(v), err
}

// readSysfsHexUint16 reads a hexadecimal uint16 from a sysfs attribute file.
func readSysfsHexUint16(path string) (uint16, error) {
	v, err := readSysfsHex(path, 16)
	return uint16(v), err
}

// formatDevfsPath constructs a /dev/bus/usb/BBB/DDD path.
func formatDevfsPath(bus, addr uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", DevfsUSBPath, bus, addr)
}
