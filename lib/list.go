package lib

import "strings"

// listBufferSize is the size of the buffer handed to the vendor List call.
const listBufferSize = 10240

// ParseDeviceList splits the comma separated List buffer into devices.
// Entries come in serial number, port pairs. Empty serial numbers are
// skipped along with their port, and trailing NUL bytes are ignored.
func ParseDeviceList(buf string) []Device {
	buf = strings.TrimRight(buf, "\x00")
	if strings.TrimSpace(buf) == "" {
		return nil
	}

	fields := strings.Split(buf, ",")
	var devices []Device
	for i := 0; i < len(fields); i += 2 {
		serial := strings.TrimSpace(fields[i])
		if serial == "" {
			continue
		}
		d := Device{Serial: serial}
		if i+1 < len(fields) {
			d.Port = strings.TrimSpace(fields[i+1])
		}
		devices = append(devices, d)
	}
	return devices
}

// FormatDeviceList is the inverse of ParseDeviceList.
func FormatDeviceList(devices []Device) string {
	parts := make([]string, 0, 2*len(devices))
	for _, d := range devices {
		parts = append(parts, d.Serial, d.Port)
	}
	return strings.Join(parts, ",")
}

// cString trims a fixed size C buffer at its first NUL byte.
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
