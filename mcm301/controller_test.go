package mcm301

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

const testSerial = "TP03522143-695014"

// fastStage returns a simulated 12 mm stage that crosses its full travel in
// about 12ms.
func fastStage(deviceType string) *lib.SimStage {
	st := lib.DefaultSimStage(deviceType)
	st.Params.MaxSpeed = 1000
	return st
}

func testChannels(n int) [NumChannels]ChannelConfig {
	var chs [NumChannels]ChannelConfig
	for i := 0; i < n; i++ {
		chs[i] = ChannelConfig{MinMM: Float(0), MaxMM: Float(12)}
	}
	return chs
}

func newTestSim(stages ...*lib.SimStage) *lib.Simulator {
	var slots [3]*lib.SimStage
	copy(slots[:], stages)
	return lib.NewSimulator(lib.SimConfig{Serial: testSerial, Port: "COM3", Stages: slots})
}

func testConfig(t *testing.T, library lib.Library, channels [NumChannels]ChannelConfig) Config {
	t.Helper()
	return Config{
		Library:      library,
		Serial:       testSerial,
		PollInterval: time.Millisecond,
		Channels:     channels,
		Logger:       zaptest.NewLogger(t),
	}
}

// openTest opens a controller with two fast stages on channels 0 and 1.
func openTest(t *testing.T) (*Controller, *lib.Mock) {
	t.Helper()
	mock := lib.NewMock(newTestSim(fastStage("MPM-283298"), fastStage("MPM-283299")))
	ctrl, err := Open(context.Background(), testConfig(t, mock, testChannels(2)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, mock
}

func TestOpen(t *testing.T) {
	ctrl, mock := openTest(t)

	stages := ctrl.AttachedStages()
	if stages != [NumChannels]string{"MPM-283298", "MPM-283299", ""} {
		t.Errorf("stages: got %v", stages)
	}
	if n := len(ctrl.Channels()); n != 2 {
		t.Fatalf("channels: got %d, want 2", n)
	}

	// both stages start disabled and unhomed
	if n := mock.Called("SetChanEnableState"); n != 2 {
		t.Errorf("SetChanEnableState calls: got %d, want 2", n)
	}
	if n := mock.Called("Home"); n != 2 {
		t.Errorf("Home calls: got %d, want 2", n)
	}
	if n := mock.Called("SetHomeInfo"); n != 2 {
		t.Errorf("SetHomeInfo calls: got %d, want 2", n)
	}

	for _, ch := range ctrl.Channels() {
		if !ch.Enabled() {
			t.Errorf("channel %d: not enabled", ch.Index())
		}
		if !ch.Homed() {
			t.Errorf("channel %d: not homed", ch.Index())
		}
		if ch.Moving() {
			t.Errorf("channel %d: still moving", ch.Index())
		}
		if pos := ch.CommandedPosition(); pos != 0 {
			t.Errorf("channel %d position: got %v, want 0", ch.Index(), pos)
		}
		if ch.Params().NMPerCount != 5 {
			t.Errorf("channel %d nm per count: got %v, want 5", ch.Index(), ch.Params().NMPerCount)
		}
	}
}

func TestOpen_AlreadyHomed(t *testing.T) {
	st := fastStage("MPM-283298")
	st.Enabled = true
	st.Homed = true
	mock := lib.NewMock(newTestSim(st))

	ctrl, err := Open(context.Background(), testConfig(t, mock, testChannels(1)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ctrl.Close()

	if n := mock.Called("Home"); n != 0 {
		t.Errorf("Home calls: got %d, want 0", n)
	}
	if n := mock.Called("SetChanEnableState"); n != 0 {
		t.Errorf("SetChanEnableState calls: got %d, want 0", n)
	}
}

func TestOpen_SkipHoming(t *testing.T) {
	mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
	cfg := testConfig(t, mock, testChannels(1))
	cfg.SkipHoming = true

	ctrl, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ctrl.Close()

	if n := mock.Called("Home"); n != 0 {
		t.Errorf("Home calls: got %d, want 0", n)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr error
	}{
		{
			name:    "unknown serial",
			modify:  func(cfg *Config) { cfg.Serial = "nope" },
			wantErr: ErrNotFound,
		},
		{
			name: "stage mismatch",
			modify: func(cfg *Config) {
				cfg.CheckStages = true
				cfg.Channels[0].Stage = "MPM-000000"
			},
			wantErr: ErrStageMismatch,
		},
		{
			name:    "missing limits",
			modify:  func(cfg *Config) { cfg.Channels[0].MaxMM = nil },
			wantErr: ErrMissingLimits,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
			cfg := testConfig(t, mock, testChannels(1))
			cfg.Channels[0].Stage = "MPM-283298"
			tt.modify(&cfg)

			_, err := Open(context.Background(), cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if mock.Called("Open") != mock.Called("Close") {
				t.Errorf("handle leaked: calls %v", mock.Calls)
			}
		})
	}
}

func TestOpen_StagesMatch(t *testing.T) {
	mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
	cfg := testConfig(t, mock, testChannels(1))
	cfg.CheckStages = true
	cfg.Channels[0].Stage = "MPM-283298"

	ctrl, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctrl.Close()
}

func TestOpen_RequiresLibraryAndSerial(t *testing.T) {
	if _, err := Open(context.Background(), Config{Serial: testSerial}); err == nil {
		t.Error("expected error without library")
	}
	if _, err := Open(context.Background(), Config{Library: newTestSim()}); err == nil {
		t.Error("expected error without serial number")
	}
}

func TestOpen_Timeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    string
	}{
		{0, "Open TP03522143-695014 115200 1"},
		{200 * time.Millisecond, "Open TP03522143-695014 115200 1"},
		{time.Second, "Open TP03522143-695014 115200 1"},
		{1500 * time.Millisecond, "Open TP03522143-695014 115200 2"},
	}

	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
			cfg := testConfig(t, mock, testChannels(1))
			cfg.Timeout = tt.timeout

			ctrl, err := Open(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer ctrl.Close()

			if len(mock.Calls) == 0 || mock.Calls[0] != tt.want {
				t.Errorf("got %v, want first call %q", mock.Calls, tt.want)
			}
		})
	}

	mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
	cfg := testConfig(t, mock, testChannels(1))
	cfg.Timeout = -time.Second
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("expected error for negative timeout")
	}
	if n := mock.Called("Open"); n != 0 {
		t.Errorf("Open calls: got %d, want 0", n)
	}
}

func TestOpen_HomeFailure(t *testing.T) {
	mock := lib.NewMock(newTestSim(fastStage("MPM-283298")))
	want := errors.New("home refused")
	mock.Errs["Home"] = want

	_, err := Open(context.Background(), testConfig(t, mock, testChannels(1)))
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	chErr, ok := GetChannelError(err)
	if !ok || chErr.Channel != 0 || chErr.Slot != 4 {
		t.Errorf("channel error: got %+v", chErr)
	}
}

func TestController_Channel(t *testing.T) {
	ctrl, _ := openTest(t)

	for _, idx := range []int{0, 1} {
		ch, err := ctrl.Channel(idx)
		if err != nil {
			t.Fatalf("Channel(%d) failed: %v", idx, err)
		}
		if ch.Slot() != byte(4+idx) {
			t.Errorf("slot: got %d, want %d", ch.Slot(), 4+idx)
		}
	}
	for _, idx := range []int{-1, 2, 3} {
		if _, err := ctrl.Channel(idx); !errors.Is(err, ErrChannelUnavailable) {
			t.Errorf("Channel(%d): got %v, want ErrChannelUnavailable", idx, err)
		}
	}
}

func TestController_Close(t *testing.T) {
	ctrl, mock := openTest(t)
	ctx := context.Background()

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if n := mock.Called("Close"); n != 1 {
		t.Errorf("Close calls: got %d, want 1", n)
	}

	ch, _ := ctrl.Channel(0)
	if _, err := ch.Status(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Status: got %v, want ErrClosed", err)
	}
	if err := ch.MoveTo(ctx, Millimetres(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("MoveTo: got %v, want ErrClosed", err)
	}
	if _, err := ctrl.BoardStatus(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("BoardStatus: got %v, want ErrClosed", err)
	}
}

func TestController_Board(t *testing.T) {
	ctrl, _ := openTest(t)
	ctx := context.Background()

	if err := ctrl.SetDim(ctx, 20); err != nil {
		t.Fatalf("SetDim failed: %v", err)
	}
	if dim, _ := ctrl.Dim(ctx); dim != 20 {
		t.Errorf("dim: got %d, want 20", dim)
	}
	if err := ctrl.SetDim(ctx, 101); err == nil {
		t.Error("expected error for dim above 100")
	}

	info, err := ctrl.HardwareInfo(ctx)
	if err != nil {
		t.Fatalf("HardwareInfo failed: %v", err)
	}
	if info.FirmwareMajor == 0 && info.FirmwareMinor == 0 {
		t.Errorf("hardware info: got %+v", info)
	}
	if state, err := ctrl.ErrorState(ctx); err != nil || state != 0 {
		t.Errorf("error state: got %d, %v", state, err)
	}
	if _, err := ctrl.BoardStatus(ctx); err != nil {
		t.Errorf("BoardStatus failed: %v", err)
	}
}

func TestController_Files(t *testing.T) {
	ctrl, _ := openTest(t)
	ctx := context.Background()

	if err := ctrl.CreateFile(ctx, 'C', lib.EFSAptRead|lib.EFSAptWrite|lib.EFSAptDelete, 2); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := ctrl.CreateFile(ctx, 'D', lib.EFSAptRead, 0); err == nil {
		t.Error("expected error for zero page file")
	}

	data := []byte("stage calibration")
	if err := ctrl.WriteFile(ctx, 'C', 0, data); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ctrl.ReadFile(ctx, 'C', 0, len(data))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("data: got %q, want %q", got, data)
	}

	info, _ := ctrl.FileInfo(ctx, 'C')
	if !info.Exists || info.Pages != 2 {
		t.Errorf("file info: got %+v", info)
	}
	fs, _ := ctrl.FileSystemInfo(ctx)
	if fs.FilesRemain == fs.MaxFiles {
		t.Errorf("file system info does not count the new file: %+v", fs)
	}

	if err := ctrl.DeleteFile(ctx, 'C'); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if info, _ := ctrl.FileInfo(ctx, 'C'); info.Exists {
		t.Error("file still exists after delete")
	}
}

func TestController_Restart(t *testing.T) {
	ctrl, _ := openTest(t)
	ctx := context.Background()

	if err := ctrl.Restart(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	ch, _ := ctrl.Channel(0)
	st, _ := ch.Status(ctx)
	if st.Homed() || st.Enabled() {
		t.Errorf("status after restart: got %v", st)
	}
}
