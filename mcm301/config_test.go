package mcm301

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testYAML = `
serial: TP03522143-695014
library: sim
poll_interval: 20ms
check_stages: true
channels:
  - stage: MPM-283298
    min_mm: 0
    max_mm: 10
  - stage: MPM-283299
    min_mm: 1
    max_mm: 4.5
    home_to_min: false
`

func TestDecodeConfig(t *testing.T) {
	fc, err := DecodeConfig(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if fc.Serial != testSerial {
		t.Errorf("serial: got %q, want %q", fc.Serial, testSerial)
	}
	if fc.Library != LibrarySimulator {
		t.Errorf("library: got %q, want %q", fc.Library, LibrarySimulator)
	}
	if fc.PollInterval != 20*time.Millisecond {
		t.Errorf("poll interval: got %v, want 20ms", fc.PollInterval)
	}
	if !fc.CheckStages || fc.SkipHoming {
		t.Errorf("flags: got check_stages=%v skip_homing=%v", fc.CheckStages, fc.SkipHoming)
	}
	if len(fc.Channels) != 2 {
		t.Fatalf("channels: got %d, want 2", len(fc.Channels))
	}
	if !fc.Channels[0].homeToMin() || fc.Channels[1].homeToMin() {
		t.Errorf("home to min: got %v, %v", fc.Channels[0].homeToMin(), fc.Channels[1].homeToMin())
	}
	if *fc.Channels[1].MaxMM != 4.5 {
		t.Errorf("max_mm: got %v, want 4.5", *fc.Channels[1].MaxMM)
	}

	cfg := fc.Config(nil, zap.NewNop())
	if cfg.Channels[1].Stage != "MPM-283299" || cfg.Channels[2].Stage != "" {
		t.Errorf("channels: got %+v", cfg.Channels)
	}
	if cfg.Serial != testSerial || !cfg.CheckStages || cfg.PollInterval != 20*time.Millisecond {
		t.Errorf("config: got %+v", cfg)
	}
}

func TestDecodeConfig_Empty(t *testing.T) {
	fc, err := DecodeConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if fc.Serial != "" || len(fc.Channels) != 0 {
		t.Errorf("got %+v, want zero config", fc)
	}
}

func TestDecodeConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "serial: x\nbaud: 9600\n", "field baud not found"},
		{"unknown library", "library: kinesis\n", "unknown library"},
		{"bad duration", "poll_interval: soon\n", "failed to parse config"},
		{"negative interval", "poll_interval: -1s\n", "invalid poll interval"},
		{"min above max", "channels:\n  - min_mm: 5\n    max_mm: 1\n", "exceeds max_mm"},
		{"too many channels", "channels: [{}, {}, {}, {}]\n", "too many channels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcm301.yaml")
	fc := &FileConfig{
		Serial:       testSerial,
		Library:      LibraryVendor,
		PollInterval: 50 * time.Millisecond,
		Channels: []ChannelConfig{
			{Stage: "MPM-283298", MinMM: Float(0), MaxMM: Float(12), HomeToMin: Bool(false)},
		},
	}
	if err := SaveConfig(path, fc); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Serial != fc.Serial || got.Library != fc.Library || got.PollInterval != fc.PollInterval {
		t.Errorf("got %+v, want %+v", got, fc)
	}
	ch := got.Channels[0]
	if ch.Stage != "MPM-283298" || *ch.MaxMM != 12 || ch.homeToMin() {
		t.Errorf("channel: got %+v", ch)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(EnvSerial, "TP00000000-000001")
	t.Setenv(EnvPollInterval, "5ms")

	fc := &FileConfig{Serial: testSerial, Library: LibraryVendor}
	if err := fc.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if fc.Serial != "TP00000000-000001" {
		t.Errorf("serial: got %q", fc.Serial)
	}
	if fc.PollInterval != 5*time.Millisecond {
		t.Errorf("poll interval: got %v, want 5ms", fc.PollInterval)
	}
	if fc.Library != LibraryVendor {
		t.Errorf("library: got %q, want %q", fc.Library, LibraryVendor)
	}
}

func TestLoadEnv_File(t *testing.T) {
	// godotenv does not override variables that are already set
	t.Setenv(EnvLibrary, "")
	os.Unsetenv(EnvLibrary)
	t.Setenv(EnvSerial, "")
	os.Unsetenv(EnvSerial)

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MCM301_LIBRARY=sim\nMCM301_SERIAL=SIM0000001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv(EnvLibrary)
		os.Unsetenv(EnvSerial)
	})

	var fc FileConfig
	if err := fc.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if fc.Library != LibrarySimulator || fc.Serial != "SIM0000001" {
		t.Errorf("got library=%q serial=%q", fc.Library, fc.Serial)
	}
}

func TestLoadEnv_Invalid(t *testing.T) {
	t.Setenv(EnvPollInterval, "fast")
	var fc FileConfig
	if err := fc.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for invalid poll interval")
	}

	t.Setenv(EnvPollInterval, "1ms")
	t.Setenv(EnvLibrary, "kinesis")
	if err := fc.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for unknown library")
	}
}
