// Package mcm301 drives the Thorlabs MCM301 three channel stepper controller.
//
// A Controller is opened by serial number through a lib.Library backend.
// Open discovers the stages on slots 4-6, checks them against the
// configuration, sets the homing direction, enables the channels and homes
// any that are not yet homed. Each attached stage is then driven through a
// Channel, which converts between encoder counts and distances, refuses
// moves outside the configured travel limits and polls the status register
// to support blocking and non-blocking moves.
package mcm301

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

// Controller manages one MCM301 and its attached stages.
type Controller struct {
	lib          lib.Library
	hdl          int
	serial       string
	logger       *zap.Logger
	clock        clock.Clock
	pollInterval time.Duration

	stages   [NumChannels]string
	channels [NumChannels]*Channel

	mu     sync.Mutex
	closed bool
}

// SlotForChannel maps a channel index to its controller slot.
func SlotForChannel(ch int) byte {
	return byte(lib.SlotFirst + ch)
}

// Open finds the controller with the configured serial number, opens it and
// brings every attached channel to an enabled, homed state.
func Open(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Library == nil {
		return nil, errors.New("library must be specified")
	}
	if cfg.Serial == "" {
		return nil, errors.New("serial number must be specified")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %v", cfg.Timeout)
	}
	cfg.setDefaults()

	logger := cfg.Logger.With(zap.String("serial", cfg.Serial))
	logger.Info("opening")

	devices, err := cfg.Library.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	found := slices.ContainsFunc(devices, func(d lib.Device) bool { return d.Serial == cfg.Serial })
	if !found {
		return nil, fmt.Errorf("device (sn=%s): %w", cfg.Serial, ErrNotFound)
	}

	hdl, err := cfg.Library.Open(cfg.Serial, cfg.BaudRate, cfg.timeoutSeconds())
	if err != nil {
		return nil, fmt.Errorf("device (sn=%s): %w", cfg.Serial, err)
	}

	c := &Controller{
		lib:          cfg.Library,
		hdl:          hdl,
		serial:       cfg.Serial,
		logger:       logger,
		clock:        cfg.Clock,
		pollInterval: cfg.PollInterval,
	}

	if err := c.init(ctx, cfg); err != nil {
		return nil, multierr.Append(err, c.lib.Close(hdl))
	}
	logger.Info("open and ready")
	return c, nil
}

func (c *Controller) init(ctx context.Context, cfg Config) error {
	open, err := c.lib.IsOpen(c.serial)
	if err != nil {
		return err
	}
	if !open {
		return fmt.Errorf("device (sn=%s) is not open", c.serial)
	}

	for ch := range NumChannels {
		stage, err := c.lib.GetSlotDeviceType(c.hdl, SlotForChannel(ch))
		if err != nil {
			return fmt.Errorf("slot %d device type: %w", SlotForChannel(ch), err)
		}
		c.stages[ch] = stage
	}
	c.logger.Info("attached stages", zap.Strings("stages", c.stages[:]), zap.Ints("channels", c.attached()))

	if cfg.CheckStages {
		for ch := range NumChannels {
			if cfg.Channels[ch].Stage != c.stages[ch] {
				return fmt.Errorf("%w: channel %d configured %q, attached %q",
					ErrStageMismatch, ch, cfg.Channels[ch].Stage, c.stages[ch])
			}
		}
	}

	for _, ch := range c.attached() {
		chCfg := cfg.Channels[ch]
		if chCfg.MinMM == nil || chCfg.MaxMM == nil {
			return &ChannelError{Channel: ch, Slot: SlotForChannel(ch), Op: "configure", Err: ErrMissingLimits}
		}
		limits, err := NewLimits(*chCfg.MinMM, *chCfg.MaxMM, chCfg.homeToMin())
		if err != nil {
			return &ChannelError{Channel: ch, Slot: SlotForChannel(ch), Op: "configure", Err: err}
		}
		channel := newChannel(c, ch, c.stages[ch], limits)
		if err := channel.SetHomeToMin(ctx, chCfg.homeToMin()); err != nil {
			return err
		}
		if _, err := channel.loadParams(); err != nil {
			return err
		}
		c.channels[ch] = channel
	}

	for _, channel := range c.Channels() {
		st, err := channel.Status(ctx)
		if err != nil {
			return err
		}
		if !st.Enabled() {
			if err := channel.SetEnabled(ctx, true); err != nil {
				return err
			}
		}
	}

	if !cfg.SkipHoming {
		var unhomed []*Channel
		for _, channel := range c.Channels() {
			if !channel.Homed() {
				unhomed = append(unhomed, channel)
			}
		}
		// home commands go out back to back so the stages home together
		if err := NewGroup(unhomed...).HomeAll(ctx); err != nil {
			return err
		}
	}

	for _, channel := range c.Channels() {
		if _, err := channel.Position(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) attached() []int {
	var chs []int
	for ch, stage := range c.stages {
		if stage != "" {
			chs = append(chs, ch)
		}
	}
	return chs
}

// Close closes the controller. Calling Close again is a no-op; any other
// operation afterwards returns ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing")
	return c.lib.Close(c.hdl)
}

func (c *Controller) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Serial returns the controller serial number.
func (c *Controller) Serial() string {
	return c.serial
}

// Handle returns the command library handle.
func (c *Controller) Handle() int {
	return c.hdl
}

// AttachedStages returns the part number on each slot, "" where empty.
func (c *Controller) AttachedStages() [NumChannels]string {
	return c.stages
}

// Channels returns the channels with a stage attached, in index order.
func (c *Controller) Channels() []*Channel {
	var chs []*Channel
	for _, ch := range c.channels {
		if ch != nil {
			chs = append(chs, ch)
		}
	}
	return chs
}

// Channel returns the channel with the given index (0-2).
func (c *Controller) Channel(index int) (*Channel, error) {
	if index < 0 || index >= NumChannels || c.channels[index] == nil {
		return nil, fmt.Errorf("channel %d: %w", index, ErrChannelUnavailable)
	}
	return c.channels[index], nil
}

// Board level

// HardwareInfo returns the firmware and CPID versions.
func (c *Controller) HardwareInfo(ctx context.Context) (lib.HardwareInfo, error) {
	if err := c.checkOpen(ctx); err != nil {
		return lib.HardwareInfo{}, err
	}
	return c.lib.GetHardwareInfo(c.hdl)
}

// BoardStatus returns temperatures, the high voltage input and the slot
// error code.
func (c *Controller) BoardStatus(ctx context.Context) (lib.BoardStatus, error) {
	if err := c.checkOpen(ctx); err != nil {
		return lib.BoardStatus{}, err
	}
	return c.lib.GetBoardStatus(c.hdl)
}

// ErrorState returns the device error state; zero means no error.
func (c *Controller) ErrorState(ctx context.Context) (int, error) {
	if err := c.checkOpen(ctx); err != nil {
		return 0, err
	}
	return c.lib.GetErrorState(c.hdl)
}

// Dim returns the LED brightness in percent.
func (c *Controller) Dim(ctx context.Context) (int, error) {
	if err := c.checkOpen(ctx); err != nil {
		return 0, err
	}
	dim, err := c.lib.GetSystemDim(c.hdl)
	return int(dim), err
}

// SetDim sets the maximum LED brightness, 0 to 100 percent.
func (c *Controller) SetDim(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("invalid dim %d (must be 0-100)", percent)
	}
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	return c.lib.SetSystemDim(c.hdl, byte(percent))
}

// Restart reboots the controller board. Channels need to be enabled and
// homed again afterwards.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Info("restarting board")
	return c.lib.RestartBoard(c.hdl)
}

// Embedded file system

// FileSystemInfo describes the embedded file system.
func (c *Controller) FileSystemInfo(ctx context.Context) (lib.EFSHWInfo, error) {
	if err := c.checkOpen(ctx); err != nil {
		return lib.EFSHWInfo{}, err
	}
	return c.lib.GetEFSHWInfo(c.hdl)
}

// FileInfo describes one file.
func (c *Controller) FileInfo(ctx context.Context, name byte) (lib.EFSFileInfo, error) {
	if err := c.checkOpen(ctx); err != nil {
		return lib.EFSFileInfo{}, err
	}
	return c.lib.GetEFSFileInfo(c.hdl, name)
}

// CreateFile allocates a file of the given number of pages.
func (c *Controller) CreateFile(ctx context.Context, name, attributes byte, pages uint16) error {
	if pages == 0 {
		return errors.New("file must have at least one page")
	}
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	return c.lib.SetEFSFileInfo(c.hdl, name, attributes, pages)
}

// DeleteFile removes a file.
func (c *Controller) DeleteFile(ctx context.Context, name byte) error {
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	return c.lib.SetEFSFileInfo(c.hdl, name, 0, 0)
}

// ReadFile reads up to length bytes starting at address.
func (c *Controller) ReadFile(ctx context.Context, name byte, address int, length int) ([]byte, error) {
	if length < 0 || length > 0xFFFF {
		return nil, fmt.Errorf("invalid read length %d", length)
	}
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}
	return c.lib.GetEFSFileData(c.hdl, name, int32(address), uint16(length))
}

// WriteFile writes data starting at address.
func (c *Controller) WriteFile(ctx context.Context, name byte, address int, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("write of %d bytes too large", len(data))
	}
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	return c.lib.SetEFSFileData(c.hdl, name, int32(address), data)
}
