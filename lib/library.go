// Package lib exposes the MCM301 command library as a Go interface.
//
// The controller's command surface is fixed by the vendor's binary driver.
// Library mirrors it call for call so the higher level mcm301 package can run
// against the real driver, the in-memory Simulator, or a scripted Mock.
package lib

// Slots on the MCM301 that can carry a stepper card.
const (
	SlotFirst = 4
	SlotLast  = 6
)

// Directions used by MoveJog and SetVelocity.
const (
	CounterClockwise = 0
	Clockwise        = 1
)

// Home directions used by GetHomeInfo and SetHomeInfo.
const (
	HomeClockwise        = 0
	HomeCounterClockwise = 1
)

// Default soft limit values reported when no limit is set.
const (
	DefaultSoftLimitCW  = 2147483647
	DefaultSoftLimitCCW = -2147483648
)

// SoftLimitMode selects what SetSoftLimit does with the current position.
type SoftLimitMode byte

const (
	SoftLimitSetCCW   SoftLimitMode = 1 // counter-clockwise limit at current position
	SoftLimitSetCW    SoftLimitMode = 2 // clockwise limit at current position
	SoftLimitClearAll SoftLimitMode = 3
)

// EFS file attributes.
const (
	EFSAptRead        = 0x01
	EFSAptWrite       = 0x02
	EFSAptDelete      = 0x04
	EFSFirmwareRead   = 0x08
	EFSFirmwareWrite  = 0x10
	EFSFirmwareDelete = 0x20
)

// Library is the MCM301 command surface. Every method maps onto one vendor
// call; a negative vendor return code is reported as a *CodeError.
type Library interface {
	// List returns the controllers attached to this computer.
	List() ([]Device, error)
	// Open opens the controller with the given serial number and returns its handle.
	Open(serial string, baud, timeoutSec int) (int, error)
	// IsOpen reports whether the controller is open.
	IsOpen(serial string) (bool, error)
	// Close closes the port behind the handle.
	Close(hdl int) error
	// GetHandle returns the handle of an already opened controller.
	GetHandle(serial string) (int, error)
	// GetErrorState returns the device error state (0 is healthy).
	GetErrorState(hdl int) (int, error)

	SetChanEnableState(hdl int, slot byte, enable bool) error
	GetChanEnableState(hdl int, slot byte) (bool, error)
	SetJogParams(hdl int, slot byte, stepSize uint32) error
	GetJogParams(hdl int, slot byte) (uint32, error)
	SetMOTEncCounter(hdl int, slot byte, count int32) error
	SetSlotTitle(hdl int, slot byte, title string) error
	GetSlotTitle(hdl int, slot byte) (string, error)
	SetSystemDim(hdl int, dim byte) error
	GetSystemDim(hdl int) (byte, error)
	SetSoftLimit(hdl int, slot byte, mode SoftLimitMode) error
	SetSoftLimitValue(hdl int, slot byte, cw, ccw int32) error
	GetSoftwareLimit(hdl int, slot byte) (SoftLimits, error)
	SetEEPROMParamsSoftLimit(hdl int, slot byte) error
	SetEEPROMParamsHome(hdl int, slot byte) error
	SetEEPROMParamsJogParams(hdl int, slot byte) error

	GetHardwareInfo(hdl int) (HardwareInfo, error)
	// GetMotStatus returns the current encoder count and the status bits.
	GetMotStatus(hdl int, slot byte) (int32, uint32, error)
	GetPNPStatus(hdl int, slot byte) (uint32, error)
	GetBoardStatus(hdl int) (BoardStatus, error)
	GetStageParams(hdl int, slot byte) (StageParams, error)
	// GetSlotDeviceType returns the part number of the connected stage, or
	// "" if the slot is empty.
	GetSlotDeviceType(hdl int, slot byte) (string, error)
	ChanIdentify(hdl int, slot byte) error

	Home(hdl int, slot byte) error
	SetVelocity(hdl int, slot byte, direction, percent byte) error
	MoveStop(hdl int, slot byte) error
	MoveAbsolute(hdl int, slot byte, target int32) error
	MoveJog(hdl int, slot byte, direction byte) error
	EraseConfiguration(hdl int, slot byte) error
	RestartBoard(hdl int) error

	ConvertEncoderToNM(hdl int, slot byte, count int32) (float64, error)
	ConvertNMToEncoder(hdl int, slot byte, nm float64) (int32, error)

	GetEFSHWInfo(hdl int) (EFSHWInfo, error)
	GetEFSFileInfo(hdl int, name byte) (EFSFileInfo, error)
	SetEFSFileInfo(hdl int, name, attributes byte, pages uint16) error
	GetEFSFileData(hdl int, name byte, address int32, length uint16) ([]byte, error)
	SetEFSFileData(hdl int, name byte, address int32, data []byte) error

	GetHomeInfo(hdl int, slot byte) (byte, error)
	SetHomeInfo(hdl int, slot byte, direction byte) error
}

// Device is one entry of the List result.
type Device struct {
	Serial string
	Port   string
}

// StageParams describes the stage attached to a slot.
type StageParams struct {
	CountsPerUnit uint32  // encoder counts per stepper step
	NMPerCount    float32 // nanometres per encoder count
	MinPosition   uint32  // smallest encoder value when homed
	MaxPosition   uint32  // largest encoder value when homed
	MaxSpeed      float64
	MaxAcc        float64
}

// BoardStatus holds the temperatures, high-voltage input and slot error code.
type BoardStatus struct {
	BoardTemperature float64
	CPUTemperature   float64
	HighVoltage      float64
	ErrorCode        byte // 0x04, 0x05 or 0x06 names the failing slot
}

// HardwareInfo holds the firmware and CPID versions.
type HardwareInfo struct {
	FirmwareMajor   byte
	FirmwareInterim byte
	FirmwareMinor   byte
	CPIDMajor       byte
	CPIDMinor       byte
}

// SoftLimits are the saved software limit switch parameters of a slot.
type SoftLimits struct {
	HasCW  bool
	CW     int32
	HasCCW bool
	CCW    int32
}

// EFSHWInfo describes the embedded file system.
type EFSHWInfo struct {
	Available      bool
	Version        byte
	PageSize       uint16
	PagesSupported uint16
	MaxFiles       uint16
	FilesRemain    uint16
	PagesRemain    uint16
}

// EFSFileInfo describes one file of the embedded file system.
type EFSFileInfo struct {
	Name       byte
	Exists     bool
	Owned      bool
	Attributes byte
	Pages      uint16
}

// ValidSlot reports whether slot can hold a stepper card.
func ValidSlot(slot byte) bool {
	return slot >= SlotFirst && slot <= SlotLast
}
