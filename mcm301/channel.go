package mcm301

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

// Direction selects the direction of jog and velocity moves.
type Direction byte

const (
	CounterClockwise Direction = lib.CounterClockwise
	Clockwise        Direction = lib.Clockwise
)

func (d Direction) String() string {
	if d == Clockwise {
		return "cw"
	}
	return "ccw"
}

// MaxTitleLength is the longest slot title the controller stores.
const MaxTitleLength = 15

// Channel provides a high-level interface for controlling one stage.
type Channel struct {
	ctrl   *Controller
	index  int
	slot   byte
	stage  string
	limits Limits
	logger *zap.Logger

	mu       sync.Mutex
	params   lib.StageParams
	status   Status
	encoder  int32
	position physic.Distance // last commanded or measured position
}

func newChannel(ctrl *Controller, index int, stage string, limits Limits) *Channel {
	return &Channel{
		ctrl:   ctrl,
		index:  index,
		slot:   SlotForChannel(index),
		stage:  stage,
		limits: limits,
		logger: ctrl.logger.With(zap.Int("channel", index)),
	}
}

// Index returns the channel index (0-2).
func (c *Channel) Index() int {
	return c.index
}

// Slot returns the controller slot (4-6).
func (c *Channel) Slot() byte {
	return c.slot
}

// Stage returns the part number of the attached stage.
func (c *Channel) Stage() string {
	return c.stage
}

// Limits returns the software travel range.
func (c *Channel) Limits() Limits {
	return c.limits
}

func (c *Channel) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ChannelError{Channel: c.index, Slot: c.slot, Op: op, Err: err}
}

func (c *Channel) library() lib.Library {
	return c.ctrl.lib
}

func (c *Channel) hdl() int {
	return c.ctrl.hdl
}

// Params returns the stage parameters read during Open.
func (c *Channel) Params() lib.StageParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *Channel) loadParams() (lib.StageParams, error) {
	params, err := c.library().GetStageParams(c.hdl(), c.slot)
	if err != nil {
		return params, c.wrap("get stage params", err)
	}
	c.logger.Debug("stage params",
		zap.Uint32("counts_per_step", params.CountsPerUnit),
		zap.Float32("nm_per_count", params.NMPerCount),
		zap.Uint32("min_count", params.MinPosition),
		zap.Uint32("max_count", params.MaxPosition),
		zap.Float64("max_speed", params.MaxSpeed),
		zap.Float64("max_acceleration", params.MaxAcc),
	)
	c.mu.Lock()
	c.params = params
	c.mu.Unlock()
	return params, nil
}

// Status Monitoring

// Status reads the status register and encoder count and updates the
// cached channel state.
func (c *Channel) Status(ctx context.Context) (Status, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return 0, err
	}
	enc, bits, err := c.library().GetMotStatus(c.hdl(), c.slot)
	if err != nil {
		return 0, c.wrap("get status", err)
	}
	st := Status(bits)

	c.mu.Lock()
	c.status = st
	c.encoder = enc
	c.mu.Unlock()

	c.logger.Debug("status",
		zap.Stringer("status", st),
		zap.Int32("encoder_count", enc),
		zap.Bool("enabled", st.Enabled()),
		zap.Bool("homed", st.Homed()),
		zap.Bool("moving", st.Moving()),
	)
	return st, nil
}

// LastStatus returns the cached status from the most recent poll.
func (c *Channel) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Enabled reports the cached enable state.
func (c *Channel) Enabled() bool {
	return c.LastStatus().Enabled()
}

// Homed reports the cached homed state.
func (c *Channel) Homed() bool {
	return c.LastStatus().Homed()
}

// Moving reports the cached moving state. It is set as soon as a move is
// issued and cleared by the first status poll that sees the stage at rest.
func (c *Channel) Moving() bool {
	return c.LastStatus().Moving()
}

// Encoder returns the cached encoder count.
func (c *Channel) Encoder() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder
}

func (c *Channel) setStatusBits(set, clear Status) {
	c.mu.Lock()
	c.status = c.status&^clear | set
	c.mu.Unlock()
}

// Enable

// SetEnabled enables or disables the channel and verifies the new state.
func (c *Channel) SetEnabled(ctx context.Context, enable bool) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Debug("setting enable", zap.Bool("enable", enable))
	if err := c.library().SetChanEnableState(c.hdl(), c.slot, enable); err != nil {
		return c.wrap("set enable", err)
	}
	got, err := c.library().GetChanEnableState(c.hdl(), c.slot)
	if err != nil {
		return c.wrap("get enable", err)
	}
	if got != enable {
		return c.wrap("set enable", fmt.Errorf("%w: enable %v, got %v", ErrVerifyFailed, enable, got))
	}
	if enable {
		c.setStatusBits(StatusEnabled, 0)
	} else {
		c.setStatusBits(0, StatusEnabled|StatusMoving)
	}
	return nil
}

// Enable enables the channel.
func (c *Channel) Enable(ctx context.Context) error {
	return c.SetEnabled(ctx, true)
}

// Disable disables the channel.
func (c *Channel) Disable(ctx context.Context) error {
	return c.SetEnabled(ctx, false)
}

// Homing

// HomeToMin reports whether the stage homes counter-clockwise, towards the
// minimum of its travel.
func (c *Channel) HomeToMin(ctx context.Context) (bool, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return false, err
	}
	dir, err := c.library().GetHomeInfo(c.hdl(), c.slot)
	if err != nil {
		return false, c.wrap("get home info", err)
	}
	return dir == lib.HomeCounterClockwise, nil
}

// SetHomeToMin sets the homing direction and verifies it.
func (c *Channel) SetHomeToMin(ctx context.Context, homeToMin bool) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	dir := byte(lib.HomeClockwise)
	if homeToMin {
		dir = lib.HomeCounterClockwise
	}
	c.logger.Debug("setting home to min", zap.Bool("home_to_min", homeToMin))
	if err := c.library().SetHomeInfo(c.hdl(), c.slot, dir); err != nil {
		return c.wrap("set home info", err)
	}
	got, err := c.HomeToMin(ctx)
	if err != nil {
		return err
	}
	if got != homeToMin {
		return c.wrap("set home info", fmt.Errorf("%w: home_to_min %v, got %v", ErrVerifyFailed, homeToMin, got))
	}
	return nil
}

// StartHome starts homing and returns without waiting.
func (c *Channel) StartHome(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Info("homing")
	if err := c.library().Home(c.hdl(), c.slot); err != nil {
		return c.wrap("home", err)
	}
	c.setStatusBits(StatusHoming, StatusHomed)
	c.mu.Lock()
	c.position = 0
	c.mu.Unlock()
	return nil
}

// Home homes the stage and waits until it is done. If ctx ends first the
// stage is stopped.
func (c *Channel) Home(ctx context.Context) error {
	if err := c.StartHome(ctx); err != nil {
		return err
	}
	return c.waitOrStop(ctx)
}

// Moves

// StartMoveTo commands an absolute move and returns without waiting.
// Targets outside Limits return ErrOutOfLimits without moving, and a
// disabled channel returns ErrNotEnabled.
func (c *Channel) StartMoveTo(ctx context.Context, target physic.Distance) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Info("moving", zap.Float64("target_mm", ToMillimetres(target)))

	if !c.limits.Contains(target) {
		c.logger.Warn("move out of limits",
			zap.Float64("target_mm", ToMillimetres(target)),
			zap.Stringer("limits", c.limits))
		return c.wrap("move", fmt.Errorf("%w: %.6f mm not in %s", ErrOutOfLimits, ToMillimetres(target), c.limits))
	}
	if !c.Enabled() {
		return c.wrap("move", ErrNotEnabled)
	}

	count, err := c.library().ConvertNMToEncoder(c.hdl(), c.slot, float64(target))
	if err != nil {
		return c.wrap("convert nm to encoder", err)
	}
	if err := c.library().MoveAbsolute(c.hdl(), c.slot, count); err != nil {
		return c.wrap("move absolute", err)
	}

	c.mu.Lock()
	if target >= c.position {
		c.status |= StatusMovingCW
	} else {
		c.status |= StatusMovingCCW
	}
	c.position = target
	c.mu.Unlock()
	return nil
}

// StartMoveBy commands a move relative to the last commanded position and
// returns without waiting.
func (c *Channel) StartMoveBy(ctx context.Context, delta physic.Distance) error {
	c.mu.Lock()
	target := c.position + delta
	c.mu.Unlock()
	return c.StartMoveTo(ctx, target)
}

// MoveTo moves to an absolute position and waits until the stage stops.
func (c *Channel) MoveTo(ctx context.Context, target physic.Distance) error {
	if err := c.StartMoveTo(ctx, target); err != nil {
		return err
	}
	return c.waitOrStop(ctx)
}

// MoveBy moves relative to the last commanded or measured position and waits until the
// stage stops.
func (c *Channel) MoveBy(ctx context.Context, delta physic.Distance) error {
	if err := c.StartMoveBy(ctx, delta); err != nil {
		return err
	}
	return c.waitOrStop(ctx)
}

// Wait polls the status until the stage is no longer moving, then takes the
// measured position as the base for the next relative move.
func (c *Channel) Wait(ctx context.Context) error {
	ticker := c.ctrl.clock.Ticker(c.ctrl.pollInterval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if !st.Moving() {
			c.logger.Info("finished moving")
			return c.syncPosition(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syncPosition resets the base for relative moves to the measured position.
// Jogs, velocity moves and stops end somewhere other than the last target.
func (c *Channel) syncPosition(ctx context.Context) error {
	d, err := c.EncoderToDistance(ctx, c.Encoder())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.position = roundMicrometre(d)
	c.mu.Unlock()
	return nil
}

// waitOrStop waits for the move to finish and stops the stage if ctx ends
// before it does.
func (c *Channel) waitOrStop(ctx context.Context) error {
	err := c.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.logger.Warn("wait cancelled, stopping", zap.Error(ctx.Err()))
		if stopErr := c.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			c.logger.Error("failed to stop", zap.Error(stopErr))
		}
	}
	return err
}

// Stop stops any motion on the channel.
func (c *Channel) Stop(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Debug("stopping")
	return c.wrap("stop", c.library().MoveStop(c.hdl(), c.slot))
}

// Jog moves the stage one jog step in the given direction.
func (c *Channel) Jog(ctx context.Context, dir Direction) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	if !c.Enabled() {
		return c.wrap("jog", ErrNotEnabled)
	}
	if err := c.library().MoveJog(c.hdl(), c.slot, byte(dir)); err != nil {
		return c.wrap("jog", err)
	}
	if dir == Clockwise {
		c.setStatusBits(StatusJoggingCW, 0)
	} else {
		c.setStatusBits(StatusJoggingCCW, 0)
	}
	return nil
}

// JogStep returns the jog step size in encoder counts.
func (c *Channel) JogStep(ctx context.Context) (uint32, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return 0, err
	}
	step, err := c.library().GetJogParams(c.hdl(), c.slot)
	return step, c.wrap("get jog params", err)
}

// SetJogStep sets the jog step size in encoder counts.
func (c *Channel) SetJogStep(ctx context.Context, counts uint32) error {
	if counts == 0 {
		return c.wrap("set jog params", fmt.Errorf("jog step must be positive"))
	}
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	return c.wrap("set jog params", c.library().SetJogParams(c.hdl(), c.slot, counts))
}

// MoveVelocity starts a continuous move at percent of the maximum speed.
// The stage runs until Stop or a limit switch. A percent of zero stops it.
func (c *Channel) MoveVelocity(ctx context.Context, dir Direction, percent int) error {
	if percent < 0 || percent > 100 {
		return c.wrap("set velocity", fmt.Errorf("invalid velocity %d%% (must be 0-100)", percent))
	}
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	if !c.Enabled() {
		return c.wrap("set velocity", ErrNotEnabled)
	}
	c.logger.Info("setting velocity", zap.Stringer("direction", dir), zap.Int("percent", percent))
	return c.wrap("set velocity", c.library().SetVelocity(c.hdl(), c.slot, byte(dir), byte(percent)))
}

// Position

// Position reads the encoder and returns the stage position rounded to the
// nearest micrometre. It also becomes the base for relative moves.
func (c *Channel) Position(ctx context.Context) (physic.Distance, error) {
	if _, err := c.Status(ctx); err != nil {
		return 0, err
	}
	d, err := c.EncoderToDistance(ctx, c.Encoder())
	if err != nil {
		return 0, err
	}
	d = roundMicrometre(d)

	c.mu.Lock()
	c.position = d
	c.mu.Unlock()

	c.logger.Debug("position", zap.Float64("position_mm", ToMillimetres(d)))
	return d, nil
}

// CommandedPosition returns the last commanded or measured position.
func (c *Channel) CommandedPosition() physic.Distance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// EncoderToDistance converts an encoder count to a distance.
func (c *Channel) EncoderToDistance(ctx context.Context, count int32) (physic.Distance, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return 0, err
	}
	nm, err := c.library().ConvertEncoderToNM(c.hdl(), c.slot, count)
	if err != nil {
		return 0, c.wrap("convert encoder to nm", err)
	}
	return physic.Distance(math.Round(nm)) * physic.NanoMetre, nil
}

// DistanceToEncoder converts a distance to an encoder count.
func (c *Channel) DistanceToEncoder(ctx context.Context, d physic.Distance) (int32, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return 0, err
	}
	count, err := c.library().ConvertNMToEncoder(c.hdl(), c.slot, float64(d/physic.NanoMetre))
	return count, c.wrap("convert nm to encoder", err)
}

// SetEncoderCount overwrites the encoder counter with count.
func (c *Channel) SetEncoderCount(ctx context.Context, count int32) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	return c.wrap("set encoder counter", c.library().SetMOTEncCounter(c.hdl(), c.slot, count))
}

// Configuration

// Title returns the slot title.
func (c *Channel) Title(ctx context.Context) (string, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return "", err
	}
	title, err := c.library().GetSlotTitle(c.hdl(), c.slot)
	return title, c.wrap("get slot title", err)
}

// SetTitle sets the slot title, 1 to 15 characters.
func (c *Channel) SetTitle(ctx context.Context, title string) error {
	if len(title) == 0 || len(title) > MaxTitleLength {
		return c.wrap("set slot title", fmt.Errorf("title must be 1-%d characters, got %d", MaxTitleLength, len(title)))
	}
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	return c.wrap("set slot title", c.library().SetSlotTitle(c.hdl(), c.slot, title))
}

// SoftLimits returns the controller's own soft limit switches.
func (c *Channel) SoftLimits(ctx context.Context) (lib.SoftLimits, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return lib.SoftLimits{}, err
	}
	limits, err := c.library().GetSoftwareLimit(c.hdl(), c.slot)
	return limits, c.wrap("get software limit", err)
}

// SetSoftLimitValues sets the controller soft limit switches.
func (c *Channel) SetSoftLimitValues(ctx context.Context, ccw, cw physic.Distance) error {
	if ccw > cw {
		return c.wrap("set soft limit", fmt.Errorf("ccw limit %v exceeds cw limit %v", ccw, cw))
	}
	ccwCount, err := c.DistanceToEncoder(ctx, ccw)
	if err != nil {
		return err
	}
	cwCount, err := c.DistanceToEncoder(ctx, cw)
	if err != nil {
		return err
	}
	return c.wrap("set soft limit", c.library().SetSoftLimitValue(c.hdl(), c.slot, cwCount, ccwCount))
}

// SetSoftLimitHere sets the clockwise or counter-clockwise soft limit switch
// at the current position.
func (c *Channel) SetSoftLimitHere(ctx context.Context, dir Direction) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	mode := lib.SoftLimitSetCCW
	if dir == Clockwise {
		mode = lib.SoftLimitSetCW
	}
	return c.wrap("set soft limit", c.library().SetSoftLimit(c.hdl(), c.slot, mode))
}

// ClearSoftLimits removes both soft limit switches.
func (c *Channel) ClearSoftLimits(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	return c.wrap("clear soft limits", c.library().SetSoftLimit(c.hdl(), c.slot, lib.SoftLimitClearAll))
}

// SaveParams stores the soft limits, homing direction and jog step in the
// stage EEPROM.
func (c *Channel) SaveParams(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	if err := c.library().SetEEPROMParamsSoftLimit(c.hdl(), c.slot); err != nil {
		return c.wrap("save soft limit", err)
	}
	if err := c.library().SetEEPROMParamsHome(c.hdl(), c.slot); err != nil {
		return c.wrap("save home", err)
	}
	if err := c.library().SetEEPROMParamsJogParams(c.hdl(), c.slot); err != nil {
		return c.wrap("save jog params", err)
	}
	return nil
}

// PNPStatus returns the plug and play status of the slot.
func (c *Channel) PNPStatus(ctx context.Context) (PNPStatus, error) {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return 0, err
	}
	st, err := c.library().GetPNPStatus(c.hdl(), c.slot)
	return PNPStatus(st), c.wrap("get pnp status", err)
}

// EraseConfiguration resets the slot card configuration to defaults.
func (c *Channel) EraseConfiguration(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	c.logger.Info("erasing configuration")
	return c.wrap("erase configuration", c.library().EraseConfiguration(c.hdl(), c.slot))
}

// Identify flashes the slot LED.
func (c *Channel) Identify(ctx context.Context) error {
	if err := c.ctrl.checkOpen(ctx); err != nil {
		return err
	}
	return c.wrap("identify", c.library().ChanIdentify(c.hdl(), c.slot))
}
