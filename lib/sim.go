package lib

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Status register bits reported by GetMotStatus.
const (
	StatusCWHardLimit  uint32 = 0x00000001
	StatusCCWHardLimit uint32 = 0x00000002
	StatusCWSoftLimit  uint32 = 0x00000004
	StatusCCWSoftLimit uint32 = 0x00000008
	StatusMovingCW     uint32 = 0x00000010
	StatusMovingCCW    uint32 = 0x00000020
	StatusJoggingCW    uint32 = 0x00000040
	StatusJoggingCCW   uint32 = 0x00000080
	StatusConnected    uint32 = 0x00000100
	StatusHoming       uint32 = 0x00000200
	StatusHomed        uint32 = 0x00000400
	StatusEnabled      uint32 = 0x80000000
)

// PNP status value for an empty slot.
const pnpNoDevice uint32 = 0x01

// SimStage configures the stage the Simulator reports on one slot.
type SimStage struct {
	DeviceType string
	Params     StageParams

	// Position is the physical position in encoder counts from the
	// counter-clockwise end of travel. Defaults to mid travel.
	Position int32

	Enabled bool
	Homed   bool
}

// SimConfig holds configuration for creating a new Simulator.
type SimConfig struct {
	Serial string
	Port   string

	// Stages is indexed by slot - SlotFirst. A nil entry is an empty slot.
	Stages [3]*SimStage

	// Clock drives the motion model. Default is the wall clock.
	Clock clock.Clock
}

// DefaultSimStage returns a 12 mm travel stage with 5 nm encoder counts.
func DefaultSimStage(deviceType string) *SimStage {
	params := StageParams{
		CountsPerUnit: 34,
		NMPerCount:    5,
		MinPosition:   0,
		MaxPosition:   2400000,
		MaxSpeed:      10,
		MaxAcc:        50,
	}
	return &SimStage{
		DeviceType: deviceType,
		Params:     params,
		Position:   int32(params.MaxPosition / 2),
	}
}

type motionKind int

const (
	motionNone motionKind = iota
	motionMove
	motionHome
	motionJog
	motionVelocity
)

type simSlot struct {
	stage *SimStage

	enabled  bool
	homed    bool
	phys     float64 // counts from the CCW end of travel
	offset   float64 // encoder = phys - offset
	homeDir  byte
	jogStep  uint32
	title    string
	pnp      uint32
	limits   SoftLimits
	motion   motionKind
	target   float64 // physical target
	speed    float64 // counts per second
	dirCW    bool
	lastTick time.Time
}

type simFile struct {
	attributes byte
	pages      uint16
	data       []byte
}

// Simulator is an in-memory MCM301. It implements Library and is safe for
// concurrent use.
type Simulator struct {
	mu    sync.Mutex
	clock clock.Clock

	serial  string
	port    string
	handles map[int]bool
	nextHdl int

	slots [3]*simSlot
	dim   byte
	files map[byte]*simFile
}

const (
	simPageSize       = 256
	simPagesSupported = 1024
	simMaxFiles       = 64
	simJogStep        = 2000
)

// NewSimulator creates a simulated controller.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Serial == "" {
		cfg.Serial = "SIM0000001"
	}
	if cfg.Port == "" {
		cfg.Port = "SIM"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Simulator{
		clock:   cfg.Clock,
		serial:  cfg.Serial,
		port:    cfg.Port,
		handles: make(map[int]bool),
		dim:     100,
		files:   make(map[byte]*simFile),
	}
	for i, st := range cfg.Stages {
		slot := &simSlot{
			pnp:     pnpNoDevice,
			jogStep: simJogStep,
			homeDir: HomeCounterClockwise,
			limits:  SoftLimits{CW: DefaultSoftLimitCW, CCW: DefaultSoftLimitCCW},
		}
		if st != nil {
			stage := *st
			slot.stage = &stage
			slot.pnp = 0
			slot.enabled = stage.Enabled
			slot.homed = stage.Homed
			slot.phys = float64(stage.Position)
		}
		s.slots[i] = slot
	}
	return s
}

// Serial returns the serial number the simulator answers to.
func (s *Simulator) Serial() string {
	return s.serial
}

// Encoder returns the current encoder count of a slot without going
// through a handle.
func (s *Simulator) Encoder(slot byte) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.slotLocked(slot)
	if !ok {
		return 0
	}
	s.advanceLocked(st)
	return int32(math.Round(st.phys - st.offset))
}

func (s *Simulator) List() ([]Device, error) {
	return []Device{{Serial: s.serial, Port: s.port}}, nil
}

func (s *Simulator) Open(serial string, baud, timeoutSec int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if serial != s.serial {
		return -1, &CodeError{Op: "Open", Code: CodeNoDevice}
	}
	if baud <= 0 || timeoutSec < 0 {
		return -1, &CodeError{Op: "Open", Code: CodeInvalidArg}
	}
	hdl := s.nextHdl
	s.nextHdl++
	s.handles[hdl] = true
	return hdl, nil
}

func (s *Simulator) IsOpen(serial string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if serial != s.serial {
		return false, nil
	}
	return len(s.handles) > 0, nil
}

func (s *Simulator) Close(hdl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[hdl] {
		return &CodeError{Op: "Close", Code: CodeInvalidHandle}
	}
	delete(s.handles, hdl)
	return nil
}

func (s *Simulator) GetHandle(serial string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if serial != s.serial {
		return -1, &CodeError{Op: "GetHandle", Code: CodeNoDevice}
	}
	for hdl := range s.handles {
		return hdl, nil
	}
	return -1, &CodeError{Op: "GetHandle", Code: CodeFailed}
}

func (s *Simulator) GetErrorState(hdl int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[hdl] {
		return 0, &CodeError{Op: "GetErrorState", Code: CodeInvalidHandle}
	}
	return 0, nil
}

// withSlot runs fn with the lock held after validating the handle and slot.
// When needStage is set an empty slot fails as well.
func (s *Simulator) withSlot(op string, hdl int, slot byte, needStage bool, fn func(st *simSlot) int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[hdl] {
		return &CodeError{Op: op, Code: CodeInvalidHandle}
	}
	st, ok := s.slotLocked(slot)
	if !ok {
		return &CodeError{Op: op, Code: CodeInvalidSlot}
	}
	if needStage && st.stage == nil {
		return &CodeError{Op: op, Code: CodeNoDevice}
	}
	s.advanceLocked(st)
	return check(op, fn(st))
}

func (s *Simulator) withHandle(op string, hdl int, fn func() int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles[hdl] {
		return &CodeError{Op: op, Code: CodeInvalidHandle}
	}
	return check(op, fn())
}

func (s *Simulator) slotLocked(slot byte) (*simSlot, bool) {
	if !ValidSlot(slot) {
		return nil, false
	}
	return s.slots[slot-SlotFirst], true
}

func (s *Simulator) SetChanEnableState(hdl int, slot byte, enable bool) error {
	return s.withSlot("SetChanEnableState", hdl, slot, true, func(st *simSlot) int {
		st.enabled = enable
		if !enable {
			st.motion = motionNone
		}
		return 0
	})
}

func (s *Simulator) GetChanEnableState(hdl int, slot byte) (bool, error) {
	var enabled bool
	err := s.withSlot("GetChanEnableState", hdl, slot, true, func(st *simSlot) int {
		enabled = st.enabled
		return 0
	})
	return enabled, err
}

func (s *Simulator) SetJogParams(hdl int, slot byte, stepSize uint32) error {
	return s.withSlot("SetJogParams", hdl, slot, true, func(st *simSlot) int {
		if stepSize == 0 {
			return CodeInvalidArg
		}
		st.jogStep = stepSize
		return 0
	})
}

func (s *Simulator) GetJogParams(hdl int, slot byte) (uint32, error) {
	var step uint32
	err := s.withSlot("GetJogParams", hdl, slot, true, func(st *simSlot) int {
		step = st.jogStep
		return 0
	})
	return step, err
}

func (s *Simulator) SetMOTEncCounter(hdl int, slot byte, count int32) error {
	return s.withSlot("SetMOTEncCounter", hdl, slot, true, func(st *simSlot) int {
		st.offset = st.phys - float64(count)
		return 0
	})
}

func (s *Simulator) SetSlotTitle(hdl int, slot byte, title string) error {
	return s.withSlot("SetSlotTitle", hdl, slot, false, func(st *simSlot) int {
		if len(title) == 0 || len(title) >= 16 {
			return CodeInvalidArg
		}
		st.title = title
		return 0
	})
}

func (s *Simulator) GetSlotTitle(hdl int, slot byte) (string, error) {
	var title string
	err := s.withSlot("GetSlotTitle", hdl, slot, false, func(st *simSlot) int {
		title = st.title
		return 0
	})
	return title, err
}

func (s *Simulator) SetSystemDim(hdl int, dim byte) error {
	return s.withHandle("SetSystemDim", hdl, func() int {
		if dim > 100 {
			return CodeInvalidArg
		}
		s.dim = dim
		return 0
	})
}

func (s *Simulator) GetSystemDim(hdl int) (byte, error) {
	var dim byte
	err := s.withHandle("GetSystemDim", hdl, func() int {
		dim = s.dim
		return 0
	})
	return dim, err
}

func (s *Simulator) SetSoftLimit(hdl int, slot byte, mode SoftLimitMode) error {
	return s.withSlot("SetSoftLimit", hdl, slot, true, func(st *simSlot) int {
		enc := int32(math.Round(st.phys - st.offset))
		switch mode {
		case SoftLimitSetCCW:
			st.limits.HasCCW, st.limits.CCW = true, enc
		case SoftLimitSetCW:
			st.limits.HasCW, st.limits.CW = true, enc
		case SoftLimitClearAll:
			st.limits = SoftLimits{CW: DefaultSoftLimitCW, CCW: DefaultSoftLimitCCW}
		default:
			return CodeInvalidArg
		}
		return 0
	})
}

func (s *Simulator) SetSoftLimitValue(hdl int, slot byte, cw, ccw int32) error {
	return s.withSlot("SetSoftLimitValue", hdl, slot, true, func(st *simSlot) int {
		if ccw > cw {
			return CodeInvalidArg
		}
		st.limits = SoftLimits{
			HasCW:  cw != DefaultSoftLimitCW,
			CW:     cw,
			HasCCW: ccw != DefaultSoftLimitCCW,
			CCW:    ccw,
		}
		return 0
	})
}

func (s *Simulator) GetSoftwareLimit(hdl int, slot byte) (SoftLimits, error) {
	var limits SoftLimits
	err := s.withSlot("GetSoftwareLimit", hdl, slot, true, func(st *simSlot) int {
		limits = st.limits
		return 0
	})
	return limits, err
}

func (s *Simulator) SetEEPROMParamsSoftLimit(hdl int, slot byte) error {
	return s.withSlot("SetEEPROMParamsSoftLimit", hdl, slot, true, func(*simSlot) int { return 0 })
}

func (s *Simulator) SetEEPROMParamsHome(hdl int, slot byte) error {
	return s.withSlot("SetEEPROMParamsHome", hdl, slot, true, func(*simSlot) int { return 0 })
}

func (s *Simulator) SetEEPROMParamsJogParams(hdl int, slot byte) error {
	return s.withSlot("SetEEPROMParamsJogParams", hdl, slot, true, func(*simSlot) int { return 0 })
}

func (s *Simulator) GetHardwareInfo(hdl int) (HardwareInfo, error) {
	info := HardwareInfo{FirmwareMajor: 1, FirmwareInterim: 0, FirmwareMinor: 7, CPIDMajor: 1, CPIDMinor: 2}
	err := s.withHandle("GetHardwareInfo", hdl, func() int { return 0 })
	return info, err
}

func (s *Simulator) GetMotStatus(hdl int, slot byte) (int32, uint32, error) {
	var (
		enc  int32
		bits uint32
	)
	err := s.withSlot("GetMotStatus", hdl, slot, true, func(st *simSlot) int {
		enc = int32(math.Round(st.phys - st.offset))
		bits = st.statusBits()
		return 0
	})
	return enc, bits, err
}

func (s *Simulator) GetPNPStatus(hdl int, slot byte) (uint32, error) {
	var pnp uint32
	err := s.withSlot("GetPNPStatus", hdl, slot, false, func(st *simSlot) int {
		pnp = st.pnp
		return 0
	})
	return pnp, err
}

func (s *Simulator) GetBoardStatus(hdl int) (BoardStatus, error) {
	status := BoardStatus{BoardTemperature: 31.5, CPUTemperature: 42.0, HighVoltage: 48.0}
	err := s.withHandle("GetBoardStatus", hdl, func() int { return 0 })
	return status, err
}

func (s *Simulator) GetStageParams(hdl int, slot byte) (StageParams, error) {
	var params StageParams
	err := s.withSlot("GetStageParams", hdl, slot, true, func(st *simSlot) int {
		params = st.stage.Params
		return 0
	})
	return params, err
}

func (s *Simulator) GetSlotDeviceType(hdl int, slot byte) (string, error) {
	var deviceType string
	err := s.withSlot("GetSlotDeviceType", hdl, slot, false, func(st *simSlot) int {
		if st.stage != nil {
			deviceType = st.stage.DeviceType
		}
		return 0
	})
	return deviceType, err
}

func (s *Simulator) ChanIdentify(hdl int, slot byte) error {
	return s.withSlot("ChanIdentify", hdl, slot, true, func(*simSlot) int { return 0 })
}

func (s *Simulator) Home(hdl int, slot byte) error {
	return s.withSlot("Home", hdl, slot, true, func(st *simSlot) int {
		if !st.enabled {
			return CodeFailed
		}
		target := 0.0
		if st.homeDir == HomeClockwise {
			target = st.span()
		}
		st.start(motionHome, target, st.fullSpeed(), s.clock.Now())
		return 0
	})
}

func (s *Simulator) SetVelocity(hdl int, slot byte, direction, percent byte) error {
	return s.withSlot("SetVelocity", hdl, slot, true, func(st *simSlot) int {
		if percent > 100 || direction > Clockwise {
			return CodeInvalidArg
		}
		if !st.enabled {
			return CodeFailed
		}
		if percent == 0 {
			st.motion = motionNone
			return 0
		}
		target := math.Inf(-1)
		if direction == Clockwise {
			target = math.Inf(1)
		}
		st.start(motionVelocity, target, st.fullSpeed()*float64(percent)/100, s.clock.Now())
		return 0
	})
}

func (s *Simulator) MoveStop(hdl int, slot byte) error {
	return s.withSlot("MoveStop", hdl, slot, true, func(st *simSlot) int {
		st.motion = motionNone
		return 0
	})
}

func (s *Simulator) MoveAbsolute(hdl int, slot byte, target int32) error {
	return s.withSlot("MoveAbsolute", hdl, slot, true, func(st *simSlot) int {
		if !st.enabled {
			return CodeFailed
		}
		st.start(motionMove, float64(target)+st.offset, st.fullSpeed(), s.clock.Now())
		return 0
	})
}

func (s *Simulator) MoveJog(hdl int, slot byte, direction byte) error {
	return s.withSlot("MoveJog", hdl, slot, true, func(st *simSlot) int {
		if direction > Clockwise {
			return CodeInvalidArg
		}
		if !st.enabled {
			return CodeFailed
		}
		step := float64(st.jogStep)
		if direction == CounterClockwise {
			step = -step
		}
		st.start(motionJog, st.phys+step, st.fullSpeed(), s.clock.Now())
		return 0
	})
}

func (s *Simulator) EraseConfiguration(hdl int, slot byte) error {
	return s.withSlot("EraseConfiguration", hdl, slot, true, func(st *simSlot) int {
		st.jogStep = simJogStep
		st.homeDir = HomeCounterClockwise
		st.title = ""
		st.limits = SoftLimits{CW: DefaultSoftLimitCW, CCW: DefaultSoftLimitCCW}
		return 0
	})
}

func (s *Simulator) RestartBoard(hdl int) error {
	return s.withHandle("RestartBoard", hdl, func() int {
		for _, st := range s.slots {
			st.motion = motionNone
			st.homed = false
			st.enabled = false
		}
		return 0
	})
}

func (s *Simulator) ConvertEncoderToNM(hdl int, slot byte, count int32) (float64, error) {
	var nm float64
	err := s.withSlot("ConvertEncoderTonm", hdl, slot, true, func(st *simSlot) int {
		nm = float64(count) * float64(st.stage.Params.NMPerCount)
		return 0
	})
	return nm, err
}

func (s *Simulator) ConvertNMToEncoder(hdl int, slot byte, nm float64) (int32, error) {
	var count int32
	err := s.withSlot("ConvertnmToEncoder", hdl, slot, true, func(st *simSlot) int {
		perCount := float64(st.stage.Params.NMPerCount)
		if perCount <= 0 {
			return CodeFailed
		}
		c := math.Round(nm / perCount)
		if c > math.MaxInt32 || c < math.MinInt32 {
			return CodeInvalidArg
		}
		count = int32(c)
		return 0
	})
	return count, err
}

func (s *Simulator) GetEFSHWInfo(hdl int) (EFSHWInfo, error) {
	var info EFSHWInfo
	err := s.withHandle("GetEFSHWInfo", hdl, func() int {
		used := 0
		for _, f := range s.files {
			used += int(f.pages)
		}
		info = EFSHWInfo{
			Available:      true,
			Version:        1,
			PageSize:       simPageSize,
			PagesSupported: simPagesSupported,
			MaxFiles:       simMaxFiles,
			FilesRemain:    uint16(simMaxFiles - len(s.files)),
			PagesRemain:    uint16(simPagesSupported - used),
		}
		return 0
	})
	return info, err
}

func (s *Simulator) GetEFSFileInfo(hdl int, name byte) (EFSFileInfo, error) {
	info := EFSFileInfo{Name: name}
	err := s.withHandle("GetEFSFileInfo", hdl, func() int {
		if f, ok := s.files[name]; ok {
			info.Exists = true
			info.Attributes = f.attributes
			info.Pages = f.pages
		}
		return 0
	})
	return info, err
}

func (s *Simulator) SetEFSFileInfo(hdl int, name, attributes byte, pages uint16) error {
	return s.withHandle("SetEFSFileInfo", hdl, func() int {
		if pages == 0 {
			if _, ok := s.files[name]; !ok {
				return CodeFailed
			}
			delete(s.files, name)
			return 0
		}
		if _, ok := s.files[name]; ok {
			return CodeFailed
		}
		if len(s.files) >= simMaxFiles {
			return CodeFailed
		}
		s.files[name] = &simFile{
			attributes: attributes,
			pages:      pages,
			data:       make([]byte, int(pages)*simPageSize),
		}
		return 0
	})
}

func (s *Simulator) GetEFSFileData(hdl int, name byte, address int32, length uint16) ([]byte, error) {
	var out []byte
	err := s.withHandle("GetEFSFileData", hdl, func() int {
		f, ok := s.files[name]
		if !ok || f.attributes&EFSAptRead == 0 {
			return CodeFailed
		}
		if address < 0 || int(address) > len(f.data) {
			return CodeInvalidArg
		}
		end := min(int(address)+int(length), len(f.data))
		out = append([]byte(nil), f.data[address:end]...)
		return 0
	})
	return out, err
}

func (s *Simulator) SetEFSFileData(hdl int, name byte, address int32, data []byte) error {
	return s.withHandle("SetEFSFileData", hdl, func() int {
		f, ok := s.files[name]
		if !ok || f.attributes&EFSAptWrite == 0 {
			return CodeFailed
		}
		if address < 0 || int(address)+len(data) > len(f.data) {
			return CodeInvalidArg
		}
		copy(f.data[address:], data)
		return 0
	})
}

func (s *Simulator) GetHomeInfo(hdl int, slot byte) (byte, error) {
	var dir byte
	err := s.withSlot("GetHomeInfo", hdl, slot, true, func(st *simSlot) int {
		dir = st.homeDir
		return 0
	})
	return dir, err
}

func (s *Simulator) SetHomeInfo(hdl int, slot byte, direction byte) error {
	return s.withSlot("SetHomeInfo", hdl, slot, true, func(st *simSlot) int {
		if direction > HomeCounterClockwise {
			return CodeInvalidArg
		}
		st.homeDir = direction
		return 0
	})
}

// advanceLocked moves the slot forward to the current clock time.
func (s *Simulator) advanceLocked(st *simSlot) {
	now := s.clock.Now()
	if st.motion == motionNone {
		st.lastTick = now
		return
	}

	dt := now.Sub(st.lastTick).Seconds()
	st.lastTick = now
	if dt <= 0 {
		return
	}

	lo, hi := st.bounds()
	target := st.target
	if st.motion != motionHome {
		target = math.Max(lo, math.Min(hi, target))
	}

	step := st.speed * dt
	if math.Abs(target-st.phys) <= step {
		st.phys = target
		st.finish()
		return
	}
	if target > st.phys {
		st.phys += step
	} else {
		st.phys -= step
	}
}

func (st *simSlot) start(kind motionKind, target, speed float64, now time.Time) {
	st.motion = kind
	st.target = target
	st.speed = speed
	st.dirCW = target > st.phys
	st.lastTick = now
}

func (st *simSlot) finish() {
	if st.motion == motionHome {
		st.homed = true
		st.offset = st.phys
	}
	st.motion = motionNone
}

func (st *simSlot) span() float64 {
	return float64(st.stage.Params.MaxPosition) - float64(st.stage.Params.MinPosition)
}

// fullSpeed converts MaxSpeed (mm/s) into encoder counts per second.
func (st *simSlot) fullSpeed() float64 {
	p := st.stage.Params
	if p.NMPerCount <= 0 || p.MaxSpeed <= 0 {
		return 1e6
	}
	return p.MaxSpeed * 1e6 / float64(p.NMPerCount)
}

// bounds returns the reachable physical range, hardware travel intersected
// with the software limits.
func (st *simSlot) bounds() (float64, float64) {
	lo, hi := 0.0, st.span()
	if st.limits.HasCCW {
		lo = math.Max(lo, float64(st.limits.CCW)+st.offset)
	}
	if st.limits.HasCW {
		hi = math.Min(hi, float64(st.limits.CW)+st.offset)
	}
	return lo, hi
}

func (st *simSlot) statusBits() uint32 {
	bits := StatusConnected
	if st.enabled {
		bits |= StatusEnabled
	}
	if st.homed {
		bits |= StatusHomed
	}

	switch st.motion {
	case motionMove, motionVelocity:
		if st.dirCW {
			bits |= StatusMovingCW
		} else {
			bits |= StatusMovingCCW
		}
	case motionJog:
		if st.dirCW {
			bits |= StatusJoggingCW
		} else {
			bits |= StatusJoggingCCW
		}
	case motionHome:
		bits |= StatusHoming
	}

	if st.phys <= 0 {
		bits |= StatusCCWHardLimit
	}
	if st.phys >= st.span() {
		bits |= StatusCWHardLimit
	}
	enc := st.phys - st.offset
	if st.limits.HasCCW && enc <= float64(st.limits.CCW) {
		bits |= StatusCCWSoftLimit
	}
	if st.limits.HasCW && enc >= float64(st.limits.CW) {
		bits |= StatusCWSoftLimit
	}
	return bits
}
