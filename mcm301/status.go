package mcm301

import (
	"strings"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

// Status is the status register of a channel as returned by GetMotStatus.
type Status uint32

// Status bits.
const (
	StatusCWHardLimit  = Status(lib.StatusCWHardLimit)
	StatusCCWHardLimit = Status(lib.StatusCCWHardLimit)
	StatusCWSoftLimit  = Status(lib.StatusCWSoftLimit)
	StatusCCWSoftLimit = Status(lib.StatusCCWSoftLimit)
	StatusMovingCW     = Status(lib.StatusMovingCW)
	StatusMovingCCW    = Status(lib.StatusMovingCCW)
	StatusJoggingCW    = Status(lib.StatusJoggingCW)
	StatusJoggingCCW   = Status(lib.StatusJoggingCCW)
	StatusConnected    = Status(lib.StatusConnected)
	StatusHoming       = Status(lib.StatusHoming)
	StatusHomed        = Status(lib.StatusHomed)
	StatusEnabled      = Status(lib.StatusEnabled)
)

// StatusMoving is the set of bits that mean the stage is in motion.
const StatusMoving = StatusMovingCW | StatusMovingCCW | StatusJoggingCW | StatusJoggingCCW | StatusHoming

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusCWHardLimit, "cw_hard_limit"},
	{StatusCCWHardLimit, "ccw_hard_limit"},
	{StatusCWSoftLimit, "cw_soft_limit"},
	{StatusCCWSoftLimit, "ccw_soft_limit"},
	{StatusMovingCW, "moving_cw"},
	{StatusMovingCCW, "moving_ccw"},
	{StatusJoggingCW, "jogging_cw"},
	{StatusJoggingCCW, "jogging_ccw"},
	{StatusConnected, "connected"},
	{StatusHoming, "homing"},
	{StatusHomed, "homed"},
	{StatusEnabled, "enabled"},
}

// Enabled reports whether the channel is enabled.
func (s Status) Enabled() bool { return s&StatusEnabled != 0 }

// Homed reports whether the stage has been homed since power up.
func (s Status) Homed() bool { return s&StatusHomed != 0 }

// Moving reports whether the stage is moving, jogging or homing.
func (s Status) Moving() bool { return s&StatusMoving != 0 }

// Connected reports whether a motor is connected.
func (s Status) Connected() bool { return s&StatusConnected != 0 }

// AtLimit reports whether any hardware or software limit switch is active.
func (s Status) AtLimit() bool {
	return s&(StatusCWHardLimit|StatusCCWHardLimit|StatusCWSoftLimit|StatusCCWSoftLimit) != 0
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, n := range statusNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// PNPStatus is the plug and play status of a slot.
type PNPStatus uint32

// PNP status flags. Zero means a stage was identified without error.
const (
	PNPNoDevice            PNPStatus = 0x01
	PNPOneWireError        PNPStatus = 0x02
	PNPUnknownVersion      PNPStatus = 0x04
	PNPCorrupted           PNPStatus = 0x08
	PNPSerialMismatch      PNPStatus = 0x10
	PNPSignatureNotAllowed PNPStatus = 0x20
	PNPConfigurationError  PNPStatus = 0x40
	PNPDeviceConfigMissing PNPStatus = 0x80
	PNPConfigStructMissing PNPStatus = 0x100
)

var pnpNames = []struct {
	bit  PNPStatus
	name string
}{
	{PNPNoDevice, "no device"},
	{PNPOneWireError, "one-wire error"},
	{PNPUnknownVersion, "unknown one-wire version"},
	{PNPCorrupted, "one-wire corruption"},
	{PNPSerialMismatch, "serial number mismatch"},
	{PNPSignatureNotAllowed, "device signature not allowed"},
	{PNPConfigurationError, "configuration error"},
	{PNPDeviceConfigMissing, "device configuration set missing"},
	{PNPConfigStructMissing, "configuration structure missing"},
}

// OK reports whether the slot identified its stage without error.
func (p PNPStatus) OK() bool { return p == 0 }

func (p PNPStatus) String() string {
	if p == 0 {
		return "ok"
	}
	var parts []string
	for _, n := range pnpNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}
