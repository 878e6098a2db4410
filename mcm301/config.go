package mcm301

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

// NumChannels is the number of stepper channels on the controller.
const NumChannels = 3

// Environment variables read by LoadEnv.
const (
	EnvSerial       = "MCM301_SERIAL"
	EnvLibrary      = "MCM301_LIBRARY"
	EnvPollInterval = "MCM301_POLL_INTERVAL"
)

// Library names accepted in configuration files.
const (
	LibraryVendor    = "vendor"
	LibrarySimulator = "sim"
)

// ChannelConfig holds the per-channel settings used by Open.
type ChannelConfig struct {
	// Stage is the expected part number of the attached stage, or "" for
	// an empty slot. Only checked when Config.CheckStages is set.
	Stage string `yaml:"stage"`

	// MinMM and MaxMM are the software travel limits in millimetres.
	// Both are required for every channel with a stage attached.
	MinMM *float64 `yaml:"min_mm"`
	MaxMM *float64 `yaml:"max_mm"`

	// HomeToMin selects the homing direction. Default is true.
	HomeToMin *bool `yaml:"home_to_min"`
}

func (c ChannelConfig) homeToMin() bool {
	return c.HomeToMin == nil || *c.HomeToMin
}

// Config holds configuration for opening a Controller.
type Config struct {
	// Library is the command library backend. Required.
	Library lib.Library

	// Serial is the controller serial number, e.g. "TP03522143-695014".
	Serial string

	// BaudRate is the communication speed. Default is 115200.
	BaudRate int

	// Timeout is the command library port timeout. Default is 1 second.
	Timeout time.Duration

	// PollInterval is the time between status polls while waiting for a
	// move to finish. Default is 10ms.
	PollInterval time.Duration

	// Channels holds limits and homing settings per channel.
	Channels [NumChannels]ChannelConfig

	// CheckStages makes Open fail with ErrStageMismatch unless the attached
	// stages match Channels[i].Stage.
	CheckStages bool

	// SkipHoming leaves unhomed channels alone during Open.
	SkipHoming bool

	// Logger receives progress messages. Default is a no-op logger.
	Logger *zap.Logger

	// Clock drives status polling. Default is the wall clock.
	Clock clock.Clock
}

func (cfg *Config) setDefaults() {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = lib.DefaultBaud
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
}

// timeoutSeconds rounds the port timeout up to whole seconds so that a
// sub-second timeout never reaches the library as zero.
func (cfg *Config) timeoutSeconds() int {
	return int(math.Ceil(cfg.Timeout.Seconds()))
}

// FileConfig is the on-disk form of a controller configuration.
//
//	serial: TP03522143-695014
//	library: vendor
//	poll_interval: 20ms
//	check_stages: true
//	channels:
//	  - stage: MPM-283298
//	    min_mm: 0
//	    max_mm: 10
//	    home_to_min: false
type FileConfig struct {
	Serial       string          `yaml:"serial"`
	Library      string          `yaml:"library"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	CheckStages  bool            `yaml:"check_stages"`
	SkipHoming   bool            `yaml:"skip_homing"`
	Channels     []ChannelConfig `yaml:"channels"`
}

// DecodeConfig parses a YAML configuration.
func DecodeConfig(r io.Reader) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(filename string) (*FileConfig, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// SaveConfig writes fc to a YAML file.
func SaveConfig(filename string, fc *FileConfig) error {
	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the channel table and library name.
func (fc *FileConfig) Validate() error {
	if len(fc.Channels) > NumChannels {
		return fmt.Errorf("too many channels: %d (max %d)", len(fc.Channels), NumChannels)
	}
	switch fc.Library {
	case "", LibraryVendor, LibrarySimulator:
	default:
		return fmt.Errorf("unknown library %q (want %q or %q)", fc.Library, LibraryVendor, LibrarySimulator)
	}
	if fc.PollInterval < 0 {
		return fmt.Errorf("invalid poll interval: %v", fc.PollInterval)
	}
	for i, ch := range fc.Channels {
		if ch.MinMM != nil && ch.MaxMM != nil && *ch.MinMM > *ch.MaxMM {
			return fmt.Errorf("channel %d: min_mm (%v) exceeds max_mm (%v)", i, *ch.MinMM, *ch.MaxMM)
		}
	}
	return nil
}

// LoadEnv applies environment overrides to fc. Variables from the given
// .env files (default ".env") are loaded first; missing files are ignored.
func (fc *FileConfig) LoadEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, name := range envFiles {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	if v, ok := os.LookupEnv(EnvSerial); ok {
		fc.Serial = v
	}
	if v, ok := os.LookupEnv(EnvLibrary); ok {
		fc.Library = v
	}
	if v, ok := os.LookupEnv(EnvPollInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollInterval, err)
		}
		fc.PollInterval = d
	}
	return fc.Validate()
}

// Config converts fc into a Config for Open. The caller supplies the
// library backend and logger.
func (fc *FileConfig) Config(library lib.Library, logger *zap.Logger) Config {
	cfg := Config{
		Library:      library,
		Serial:       fc.Serial,
		PollInterval: fc.PollInterval,
		CheckStages:  fc.CheckStages,
		SkipHoming:   fc.SkipHoming,
		Logger:       logger,
	}
	copy(cfg.Channels[:], fc.Channels)
	return cfg
}

// Float returns a pointer to v, for filling ChannelConfig literals.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for filling ChannelConfig literals.
func Bool(v bool) *bool { return &v }
