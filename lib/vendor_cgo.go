//go:build mcm301 && cgo

package lib

/*
#cgo LDFLAGS: -lMCM301Lib
#cgo windows LDFLAGS: -L. -lMCM301Lib_x64

#include <stdlib.h>

typedef struct {
	double border_temperature;
	double cpu_temperature;
	double high_voltage;
	unsigned char error_code;
} BoardStatusInfoStruct;

typedef struct {
	unsigned int counts_per_unit;
	float nm_per_count;
	unsigned int minimum_position;
	unsigned int maximum_position;
	double maximum_speed;
	double maximum_acc;
} StageParamsInfoStruct;

typedef struct {
	unsigned char available;
	unsigned char version;
	unsigned short page_size;
	unsigned short pages_supported;
	unsigned short maximum_files;
	unsigned short files_remain;
	unsigned short pages_remain;
} EFSHWInfoStruct;

typedef struct {
	unsigned char file_name;
	unsigned char exist;
	unsigned char owned;
	unsigned char attributes;
	unsigned short file_size;
} EFSFileInfoStruct;

int List(char* buffer, int buffer_length);
int Open(char* sn, int nBaud, int timeout);
int IsOpen(char* sn);
int Close(int hdl);
int GetErrorState(int hdl);
int GetHandle(char* serialNo);
int SetChanEnableState(int hdl, char slot, char enable_state);
int SetJogParams(int hdl, char slot, unsigned int step_size);
int SetMOTEncCounter(int hdl, char slot, int encoder_count);
int SetSlotTitle(int hdl, char slot, char* title, int title_length);
int SetSystemDim(int hdl, char dim);
int SetSoftLimit(int hdl, char slot, char mode);
int SetSoftLimitValue(int hdl, char slot, int cw_value, int ccw_value);
int SetEEPROMPARAMSSoftLimit(int hdl, char slot);
int SetEEPROMPARAMSHome(int hdl, char slot);
int SetEEPROMPARAMSJogParams(int hdl, char slot);
int GetChanEnableState(int hdl, char slot, char* enable_state);
int GetSystemDim(int hdl, char* dim);
int GetSlotTitle(int hdl, char slot, char* title, int buffer_length);
int GetJogParams(int hdl, char slot, unsigned int* jog_step_size);
int GetHardwareInfo(int hdl, char* firmware_version, int firmware_version_buffer_len, char* cpid_version, int cpid_version_buffer_len);
int GetMotStatus(int hdl, char slot, int* current_encoder, unsigned int* status_bit);
int GetPNPStatus(int hdl, char slot, unsigned int* status);
int GetBoardStatus(int hdl, BoardStatusInfoStruct* border_status_struct);
int GetStageParams(int hdl, char slot, StageParamsInfoStruct* stage_params_info);
int GetSlotDeviceType(int hdl, char slot, char* device_type, int device_type_length);
int GetSoftwareLimit(int hdl, char slot, int* set_software_limit_cw, int* soft_limit_cw, int* set_software_limit_ccw, int* soft_limit_ccw);
int ChanIdentify(int hdl, char slot);
int Home(int hdl, char slot);
int SetVelocity(int hdl, char slot, char direction, char velocity);
int MoveStop(int hdl, char slot);
int MoveAbsolute(int hdl, char slot, int target_encoder);
int MoveJog(int hdl, char slot, char direction);
int EraseConfiguration(int hdl, char slot);
int RestartBoard(int hdl);
int ConvertEncoderTonm(int hdl, char slot, int encoder_count, double* nm);
int ConvertnmToEncoder(int hdl, char slot, double nm, int* encoder_count);
int GetEFSHWInfo(int hdl, EFSHWInfoStruct* info);
int GetEFSFileInfo(int hdl, char file_name, EFSFileInfoStruct* info);
int SetEFSFileInfo(int hdl, char file_name, char file_attribute, unsigned short file_length);
int GetEFSFileData(int hdl, char file_name, int file_address, unsigned short read_length, char* data_target);
int SetEFSFileData(int hdl, char file_name, int file_address, char* data, unsigned short data_length);
int GetHomeInfo(int hdl, char slot, char* home_direction);
int SetHomeInfo(int hdl, char slot, char home_direction);
*/
import "C"

import (
	"sync"
	"unsafe"
)

const (
	deviceTypeBufferSize = 32
	titleBufferSize      = 16
)

// Vendor calls the MCM301 command library through cgo. The library keeps
// global state, so calls are serialised.
type Vendor struct {
	mu sync.Mutex
}

// OpenVendor returns the cgo binding of the vendor command library.
func OpenVendor() (Library, error) {
	return &Vendor{}, nil
}

func ch(b byte) C.char {
	return C.char(int8(b))
}

func (v *Vendor) List() ([]Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := make([]byte, listBufferSize)
	rc := C.List((*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if err := check("List", int(rc)); err != nil {
		return nil, err
	}
	return ParseDeviceList(cString(buf)), nil
}

func (v *Vendor) Open(serial string, baud, timeoutSec int) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	csn := C.CString(serial)
	defer C.free(unsafe.Pointer(csn))
	rc := int(C.Open(csn, C.int(baud), C.int(timeoutSec)))
	if err := check("Open", rc); err != nil {
		return -1, err
	}
	return rc, nil
}

func (v *Vendor) IsOpen(serial string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	csn := C.CString(serial)
	defer C.free(unsafe.Pointer(csn))
	rc := int(C.IsOpen(csn))
	if err := check("IsOpen", rc); err != nil {
		return false, err
	}
	return rc == 1, nil
}

func (v *Vendor) Close(hdl int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("Close", int(C.Close(C.int(hdl))))
}

func (v *Vendor) GetHandle(serial string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	csn := C.CString(serial)
	defer C.free(unsafe.Pointer(csn))
	rc := int(C.GetHandle(csn))
	if err := check("GetHandle", rc); err != nil {
		return -1, err
	}
	return rc, nil
}

func (v *Vendor) GetErrorState(hdl int) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rc := int(C.GetErrorState(C.int(hdl)))
	if err := check("GetErrorState", rc); err != nil {
		return 0, err
	}
	return rc, nil
}

func (v *Vendor) SetChanEnableState(hdl int, slot byte, enable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var state byte
	if enable {
		state = 1
	}
	return check("SetChanEnableState", int(C.SetChanEnableState(C.int(hdl), ch(slot), ch(state))))
}

func (v *Vendor) GetChanEnableState(hdl int, slot byte) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var state C.char
	if err := check("GetChanEnableState", int(C.GetChanEnableState(C.int(hdl), ch(slot), &state))); err != nil {
		return false, err
	}
	return state != 0, nil
}

func (v *Vendor) SetJogParams(hdl int, slot byte, stepSize uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetJogParams", int(C.SetJogParams(C.int(hdl), ch(slot), C.uint(stepSize))))
}

func (v *Vendor) GetJogParams(hdl int, slot byte) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var step C.uint
	if err := check("GetJogParams", int(C.GetJogParams(C.int(hdl), ch(slot), &step))); err != nil {
		return 0, err
	}
	return uint32(step), nil
}

func (v *Vendor) SetMOTEncCounter(hdl int, slot byte, count int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetMOTEncCounter", int(C.SetMOTEncCounter(C.int(hdl), ch(slot), C.int(count))))
}

func (v *Vendor) SetSlotTitle(hdl int, slot byte, title string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	ct := C.CString(title)
	defer C.free(unsafe.Pointer(ct))
	return check("SetSlotTitle", int(C.SetSlotTitle(C.int(hdl), ch(slot), ct, C.int(len(title)))))
}

func (v *Vendor) GetSlotTitle(hdl int, slot byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := make([]byte, titleBufferSize)
	rc := C.GetSlotTitle(C.int(hdl), ch(slot), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if err := check("GetSlotTitle", int(rc)); err != nil {
		return "", err
	}
	return cString(buf), nil
}

func (v *Vendor) SetSystemDim(hdl int, dim byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetSystemDim", int(C.SetSystemDim(C.int(hdl), ch(dim))))
}

func (v *Vendor) GetSystemDim(hdl int) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var dim C.char
	if err := check("GetSystemDim", int(C.GetSystemDim(C.int(hdl), &dim))); err != nil {
		return 0, err
	}
	return byte(dim), nil
}

func (v *Vendor) SetSoftLimit(hdl int, slot byte, mode SoftLimitMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetSoftLimit", int(C.SetSoftLimit(C.int(hdl), ch(slot), ch(byte(mode)))))
}

func (v *Vendor) SetSoftLimitValue(hdl int, slot byte, cw, ccw int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetSoftLimitValue", int(C.SetSoftLimitValue(C.int(hdl), ch(slot), C.int(cw), C.int(ccw))))
}

func (v *Vendor) GetSoftwareLimit(hdl int, slot byte) (SoftLimits, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var hasCW, cw, hasCCW, ccw C.int
	rc := C.GetSoftwareLimit(C.int(hdl), ch(slot), &hasCW, &cw, &hasCCW, &ccw)
	if err := check("GetSoftwareLimit", int(rc)); err != nil {
		return SoftLimits{}, err
	}
	return SoftLimits{HasCW: hasCW != 0, CW: int32(cw), HasCCW: hasCCW != 0, CCW: int32(ccw)}, nil
}

func (v *Vendor) SetEEPROMParamsSoftLimit(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetEEPROMPARAMSSoftLimit", int(C.SetEEPROMPARAMSSoftLimit(C.int(hdl), ch(slot))))
}

func (v *Vendor) SetEEPROMParamsHome(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetEEPROMPARAMSHome", int(C.SetEEPROMPARAMSHome(C.int(hdl), ch(slot))))
}

func (v *Vendor) SetEEPROMParamsJogParams(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetEEPROMPARAMSJogParams", int(C.SetEEPROMPARAMSJogParams(C.int(hdl), ch(slot))))
}

func (v *Vendor) GetHardwareInfo(hdl int) (HardwareInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// buffers must be longer than the version bytes they receive
	var fw [4]C.char
	var cpid [3]C.char
	rc := C.GetHardwareInfo(C.int(hdl), &fw[0], C.int(len(fw)), &cpid[0], C.int(len(cpid)))
	if err := check("GetHardwareInfo", int(rc)); err != nil {
		return HardwareInfo{}, err
	}
	// firmware is stored minor, interim, major
	return HardwareInfo{
		FirmwareMajor:   byte(fw[2]),
		FirmwareInterim: byte(fw[1]),
		FirmwareMinor:   byte(fw[0]),
		CPIDMajor:       byte(cpid[0]),
		CPIDMinor:       byte(cpid[1]),
	}, nil
}

func (v *Vendor) GetMotStatus(hdl int, slot byte) (int32, uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var enc C.int
	var bits C.uint
	if err := check("GetMotStatus", int(C.GetMotStatus(C.int(hdl), ch(slot), &enc, &bits))); err != nil {
		return 0, 0, err
	}
	return int32(enc), uint32(bits), nil
}

func (v *Vendor) GetPNPStatus(hdl int, slot byte) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var status C.uint
	if err := check("GetPNPStatus", int(C.GetPNPStatus(C.int(hdl), ch(slot), &status))); err != nil {
		return 0, err
	}
	return uint32(status), nil
}

func (v *Vendor) GetBoardStatus(hdl int) (BoardStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var raw C.BoardStatusInfoStruct
	if err := check("GetBoardStatus", int(C.GetBoardStatus(C.int(hdl), &raw))); err != nil {
		return BoardStatus{}, err
	}
	return BoardStatus{
		BoardTemperature: float64(raw.border_temperature),
		CPUTemperature:   float64(raw.cpu_temperature),
		HighVoltage:      float64(raw.high_voltage),
		ErrorCode:        byte(raw.error_code),
	}, nil
}

func (v *Vendor) GetStageParams(hdl int, slot byte) (StageParams, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var raw C.StageParamsInfoStruct
	if err := check("GetStageParams", int(C.GetStageParams(C.int(hdl), ch(slot), &raw))); err != nil {
		return StageParams{}, err
	}
	return StageParams{
		CountsPerUnit: uint32(raw.counts_per_unit),
		NMPerCount:    float32(raw.nm_per_count),
		MinPosition:   uint32(raw.minimum_position),
		MaxPosition:   uint32(raw.maximum_position),
		MaxSpeed:      float64(raw.maximum_speed),
		MaxAcc:        float64(raw.maximum_acc),
	}, nil
}

func (v *Vendor) GetSlotDeviceType(hdl int, slot byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := make([]byte, deviceTypeBufferSize)
	rc := C.GetSlotDeviceType(C.int(hdl), ch(slot), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if err := check("GetSlotDeviceType", int(rc)); err != nil {
		return "", err
	}
	return cString(buf), nil
}

func (v *Vendor) ChanIdentify(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("ChanIdentify", int(C.ChanIdentify(C.int(hdl), ch(slot))))
}

func (v *Vendor) Home(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("Home", int(C.Home(C.int(hdl), ch(slot))))
}

func (v *Vendor) SetVelocity(hdl int, slot byte, direction, percent byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetVelocity", int(C.SetVelocity(C.int(hdl), ch(slot), ch(direction), ch(percent))))
}

func (v *Vendor) MoveStop(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("MoveStop", int(C.MoveStop(C.int(hdl), ch(slot))))
}

func (v *Vendor) MoveAbsolute(hdl int, slot byte, target int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("MoveAbsolute", int(C.MoveAbsolute(C.int(hdl), ch(slot), C.int(target))))
}

func (v *Vendor) MoveJog(hdl int, slot byte, direction byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("MoveJog", int(C.MoveJog(C.int(hdl), ch(slot), ch(direction))))
}

func (v *Vendor) EraseConfiguration(hdl int, slot byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("EraseConfiguration", int(C.EraseConfiguration(C.int(hdl), ch(slot))))
}

func (v *Vendor) RestartBoard(hdl int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("RestartBoard", int(C.RestartBoard(C.int(hdl))))
}

func (v *Vendor) ConvertEncoderToNM(hdl int, slot byte, count int32) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var nm C.double
	if err := check("ConvertEncoderTonm", int(C.ConvertEncoderTonm(C.int(hdl), ch(slot), C.int(count), &nm))); err != nil {
		return 0, err
	}
	return float64(nm), nil
}

func (v *Vendor) ConvertNMToEncoder(hdl int, slot byte, nm float64) (int32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var count C.int
	if err := check("ConvertnmToEncoder", int(C.ConvertnmToEncoder(C.int(hdl), ch(slot), C.double(nm), &count))); err != nil {
		return 0, err
	}
	return int32(count), nil
}

func (v *Vendor) GetEFSHWInfo(hdl int) (EFSHWInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var raw C.EFSHWInfoStruct
	if err := check("GetEFSHWInfo", int(C.GetEFSHWInfo(C.int(hdl), &raw))); err != nil {
		return EFSHWInfo{}, err
	}
	return EFSHWInfo{
		Available:      raw.available == 0, // 0 means available
		Version:        byte(raw.version),
		PageSize:       uint16(raw.page_size),
		PagesSupported: uint16(raw.pages_supported),
		MaxFiles:       uint16(raw.maximum_files),
		FilesRemain:    uint16(raw.files_remain),
		PagesRemain:    uint16(raw.pages_remain),
	}, nil
}

func (v *Vendor) GetEFSFileInfo(hdl int, name byte) (EFSFileInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var raw C.EFSFileInfoStruct
	if err := check("GetEFSFileInfo", int(C.GetEFSFileInfo(C.int(hdl), ch(name), &raw))); err != nil {
		return EFSFileInfo{}, err
	}
	return EFSFileInfo{
		Name:       byte(raw.file_name),
		Exists:     raw.exist != 0,
		Owned:      raw.owned != 0,
		Attributes: byte(raw.attributes),
		Pages:      uint16(raw.file_size),
	}, nil
}

func (v *Vendor) SetEFSFileInfo(hdl int, name, attributes byte, pages uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetEFSFileInfo", int(C.SetEFSFileInfo(C.int(hdl), ch(name), ch(attributes), C.ushort(pages))))
}

func (v *Vendor) GetEFSFileData(hdl int, name byte, address int32, length uint16) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := make([]byte, length)
	rc := C.GetEFSFileData(C.int(hdl), ch(name), C.int(address), C.ushort(length), (*C.char)(unsafe.Pointer(&buf[0])))
	if err := check("GetEFSFileData", int(rc)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (v *Vendor) SetEFSFileData(hdl int, name byte, address int32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cdata := C.CBytes(data)
	defer C.free(cdata)
	return check("SetEFSFileData", int(C.SetEFSFileData(C.int(hdl), ch(name), C.int(address), (*C.char)(cdata), C.ushort(len(data)))))
}

func (v *Vendor) GetHomeInfo(hdl int, slot byte) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var dir C.char
	if err := check("GetHomeInfo", int(C.GetHomeInfo(C.int(hdl), ch(slot), &dir))); err != nil {
		return 0, err
	}
	return byte(dir), nil
}

func (v *Vendor) SetHomeInfo(hdl int, slot byte, direction byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return check("SetHomeInfo", int(C.SetHomeInfo(C.int(hdl), ch(slot), ch(direction))))
}
