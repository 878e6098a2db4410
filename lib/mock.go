package lib

import (
	"fmt"
	"strings"
	"sync"
)

// Mock wraps another Library for testing. State changing and motion calls
// are recorded in Calls, errors can be injected per call name, and the
// status register can be scripted with StatusFunc.
type Mock struct {
	Library // fallback for calls not overridden, usually a *Simulator

	mu    sync.Mutex
	Calls []string

	// Errs forces the named call (e.g. "MoveAbsolute") to fail.
	Errs map[string]error

	// StatusFunc allows custom GetMotStatus behavior for complex tests
	StatusFunc func(hdl int, slot byte) (int32, uint32, error)
}

// NewMock returns a Mock backed by lib.
func NewMock(lib Library) *Mock {
	return &Mock{Library: lib, Errs: make(map[string]error)}
}

func (m *Mock) record(op string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := op
	if len(args) > 0 {
		call = strings.TrimSpace(fmt.Sprintln(append([]any{op}, args...)...))
	}
	m.Calls = append(m.Calls, call)
	if m.Errs != nil {
		if err, ok := m.Errs[op]; ok {
			return err
		}
	}
	return nil
}

// Called returns how many times the named call was made.
func (m *Mock) Called(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == op || strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

// Reset clears the call log.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *Mock) Open(serial string, baud, timeoutSec int) (int, error) {
	if err := m.record("Open", serial, baud, timeoutSec); err != nil {
		return -1, err
	}
	return m.Library.Open(serial, baud, timeoutSec)
}

func (m *Mock) Close(hdl int) error {
	if err := m.record("Close"); err != nil {
		return err
	}
	return m.Library.Close(hdl)
}

func (m *Mock) SetChanEnableState(hdl int, slot byte, enable bool) error {
	if err := m.record("SetChanEnableState", slot, enable); err != nil {
		return err
	}
	return m.Library.SetChanEnableState(hdl, slot, enable)
}

func (m *Mock) GetMotStatus(hdl int, slot byte) (int32, uint32, error) {
	m.mu.Lock()
	statusFunc := m.StatusFunc
	forced := m.Errs["GetMotStatus"]
	m.mu.Unlock()

	if forced != nil {
		return 0, 0, forced
	}
	if statusFunc != nil {
		return statusFunc(hdl, slot)
	}
	return m.Library.GetMotStatus(hdl, slot)
}

func (m *Mock) Home(hdl int, slot byte) error {
	if err := m.record("Home", slot); err != nil {
		return err
	}
	return m.Library.Home(hdl, slot)
}

func (m *Mock) SetVelocity(hdl int, slot byte, direction, percent byte) error {
	if err := m.record("SetVelocity", slot, direction, percent); err != nil {
		return err
	}
	return m.Library.SetVelocity(hdl, slot, direction, percent)
}

func (m *Mock) MoveStop(hdl int, slot byte) error {
	if err := m.record("MoveStop", slot); err != nil {
		return err
	}
	return m.Library.MoveStop(hdl, slot)
}

func (m *Mock) MoveAbsolute(hdl int, slot byte, target int32) error {
	if err := m.record("MoveAbsolute", slot, target); err != nil {
		return err
	}
	return m.Library.MoveAbsolute(hdl, slot, target)
}

func (m *Mock) MoveJog(hdl int, slot byte, direction byte) error {
	if err := m.record("MoveJog", slot, direction); err != nil {
		return err
	}
	return m.Library.MoveJog(hdl, slot, direction)
}

func (m *Mock) SetHomeInfo(hdl int, slot byte, direction byte) error {
	if err := m.record("SetHomeInfo", slot, direction); err != nil {
		return err
	}
	return m.Library.SetHomeInfo(hdl, slot, direction)
}
