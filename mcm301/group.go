package mcm301

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
)

// PositionMap is a map of channel index to position.
type PositionMap map[int]physic.Distance

// Group manages coordinated operations across several channels of one
// controller.
type Group struct {
	channels []*Channel
}

// NewGroup creates a new group from the given channels.
func NewGroup(channels ...*Channel) *Group {
	return &Group{channels: channels}
}

// Group returns a group of every attached channel.
func (c *Controller) Group() *Group {
	return NewGroup(c.Channels()...)
}

// Channels returns the channels in this group.
func (g *Group) Channels() []*Channel {
	return g.channels
}

// Channel returns the channel with the given index, or nil if it is not
// in the group.
func (g *Group) Channel(index int) *Channel {
	for _, ch := range g.channels {
		if ch.Index() == index {
			return ch
		}
	}
	return nil
}

// EnableAll enables every channel.
func (g *Group) EnableAll(ctx context.Context) error {
	var err error
	for _, ch := range g.channels {
		err = multierr.Append(err, ch.Enable(ctx))
	}
	return err
}

// DisableAll disables every channel.
func (g *Group) DisableAll(ctx context.Context) error {
	var err error
	for _, ch := range g.channels {
		err = multierr.Append(err, ch.Disable(ctx))
	}
	return err
}

// StopAll stops every channel. It keeps going past failures and returns
// them combined.
func (g *Group) StopAll(ctx context.Context) error {
	var err error
	for _, ch := range g.channels {
		err = multierr.Append(err, ch.Stop(ctx))
	}
	return err
}

// StartHomeAll sends the home command to every channel back to back.
func (g *Group) StartHomeAll(ctx context.Context) error {
	for _, ch := range g.channels {
		if err := ch.StartHome(ctx); err != nil {
			return multierr.Append(err, g.StopAll(context.WithoutCancel(ctx)))
		}
	}
	return nil
}

// HomeAll homes every channel at once and waits for all of them.
func (g *Group) HomeAll(ctx context.Context) error {
	if err := g.StartHomeAll(ctx); err != nil {
		return err
	}
	return g.waitOrStop(ctx)
}

// Positions reads the position of every channel.
func (g *Group) Positions(ctx context.Context) (PositionMap, error) {
	positions := make(PositionMap, len(g.channels))
	for _, ch := range g.channels {
		pos, err := ch.Position(ctx)
		if err != nil {
			return nil, err
		}
		positions[ch.Index()] = pos
	}
	return positions, nil
}

// StartMoveAll commands absolute moves on the channels in positions and
// returns without waiting. Every target channel is checked for enable state
// and limits before any move is sent.
func (g *Group) StartMoveAll(ctx context.Context, positions PositionMap) error {
	if len(positions) == 0 {
		return nil
	}

	for idx, pos := range positions {
		ch := g.Channel(idx)
		if ch == nil {
			return fmt.Errorf("channel %d not in group", idx)
		}
		if !ch.Enabled() {
			return ch.wrap("move", ErrNotEnabled)
		}
		if !ch.Limits().Contains(pos) {
			return ch.wrap("move", fmt.Errorf("%w: %.6f mm not in %s", ErrOutOfLimits, ToMillimetres(pos), ch.Limits()))
		}
	}

	for _, ch := range g.channels {
		pos, ok := positions[ch.Index()]
		if !ok {
			continue
		}
		if err := ch.StartMoveTo(ctx, pos); err != nil {
			return multierr.Append(err, g.StopAll(context.WithoutCancel(ctx)))
		}
	}
	return nil
}

// MoveTo moves channels to target positions and waits for completion.
// Returns the final positions for only the channels that were commanded.
func (g *Group) MoveTo(ctx context.Context, positions PositionMap) (PositionMap, error) {
	if err := g.StartMoveAll(ctx, positions); err != nil {
		return nil, err
	}
	if err := g.waitOrStop(ctx); err != nil {
		return nil, err
	}

	result := make(PositionMap, len(positions))
	for idx := range positions {
		pos, err := g.Channel(idx).Position(ctx)
		if err != nil {
			return nil, err
		}
		result[idx] = pos
	}
	return result, nil
}

// WaitAll waits for every channel in the group to stop moving.
func (g *Group) WaitAll(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, ch := range g.channels {
		eg.Go(func() error {
			return ch.Wait(egCtx)
		})
	}
	return eg.Wait()
}

// WaitForStop waits for all channels to stop and returns their final
// positions. It gives up after timeout.
func (g *Group) WaitForStop(ctx context.Context, timeout time.Duration) (PositionMap, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.WaitAll(waitCtx); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			pos, _ := g.Positions(ctx)
			return pos, fmt.Errorf("move timeout after %v", timeout)
		}
		return nil, err
	}
	return g.Positions(ctx)
}

// waitOrStop waits for every channel and stops them all if the wait fails.
func (g *Group) waitOrStop(ctx context.Context) error {
	err := g.WaitAll(ctx)
	if err != nil {
		err = multierr.Append(err, g.StopAll(context.WithoutCancel(ctx)))
	}
	return err
}

// HomeAll homes every attached channel concurrently.
func (c *Controller) HomeAll(ctx context.Context) error {
	return c.Group().HomeAll(ctx)
}

// WaitAll waits until no attached channel is moving.
func (c *Controller) WaitAll(ctx context.Context) error {
	return c.Group().WaitAll(ctx)
}

// StopAll stops every attached channel.
func (c *Controller) StopAll(ctx context.Context) error {
	return c.Group().StopAll(ctx)
}
