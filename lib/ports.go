package lib

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ThorlabsVID is the USB vendor ID of Thorlabs devices.
const ThorlabsVID = "1313"

// DefaultBaud is the baud rate the MCM301 virtual COM port runs at.
const DefaultBaud = 115200

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Thorlabs reports whether the port belongs to a Thorlabs device.
func (p PortInfo) Thorlabs() bool {
	return p.IsUSB && strings.EqualFold(p.VID, ThorlabsVID)
}

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports of this computer. It works without the
// vendor library and is useful when List comes back empty.
func ListPorts() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return result, nil
}

// ThorlabsPorts returns only the ports with the Thorlabs vendor ID.
func ThorlabsPorts() ([]PortInfo, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	var result []PortInfo
	for _, p := range ports {
		if p.Thorlabs() {
			result = append(result, p)
		}
	}
	return result, nil
}

// ProbePort opens and closes the named port at the controller baud rate.
// It fails when the port is missing or already held by another process.
func ProbePort(name string) error {
	if name == "" {
		return fmt.Errorf("serial port path is required")
	}
	mode := &serial.Mode{
		BaudRate: DefaultBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port.Close()
}
