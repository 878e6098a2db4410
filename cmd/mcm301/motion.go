package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/amsikking/thorlabs-MCM301/mcm301"
)

func newHomeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "home [channel...]",
		Short: "Home channels, all of them when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				group := ctrl.Group()
				if len(args) > 0 {
					var chs []*mcm301.Channel
					for _, arg := range args {
						ch, err := channelArg(ctrl, arg)
						if err != nil {
							return err
						}
						chs = append(chs, ch)
					}
					group = mcm301.NewGroup(chs...)
				}
				start := time.Now()
				if err := group.HomeAll(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Homed %d channel(s) in %v\n", len(group.Channels()), time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newMoveCmd(opts *options) *cobra.Command {
	var (
		relative bool
		noWait   bool
	)

	cmd := &cobra.Command{
		Use:   "move <channel> <position> [<channel> <position>...]",
		Short: "Move channels to a position",
		Long: `Move one or more channels. Positions are millimetres unless a unit is
given, e.g. 2.5, 2500um or 2.5mm. Several channels move together.
Flags go before the first channel so that negative positions such as -0.25
are read as positions.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected channel and position pairs, got %d argument(s)", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				targets := mcm301.PositionMap{}
				for i := 0; i < len(args); i += 2 {
					ch, err := channelArg(ctrl, args[i])
					if err != nil {
						return err
					}
					d, err := mcm301.ParseDistance(args[i+1])
					if err != nil {
						return err
					}
					if relative {
						d += ch.CommandedPosition()
					}
					targets[ch.Index()] = d
				}

				group := ctrl.Group()
				if noWait {
					return group.StartMoveAll(ctx, targets)
				}
				start := time.Now()
				positions, err := group.MoveTo(ctx, targets)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, ch := range group.Channels() {
					if pos, ok := positions[ch.Index()]; ok {
						fmt.Fprintf(out, "Channel %d: %.3f mm\n", ch.Index(), mcm301.ToMillimetres(pos))
					}
				}
				fmt.Fprintf(out, "Move took %v\n", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&relative, "relative", "r", false, "positions are offsets from the current position")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the moves are commanded")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newJogCmd(opts *options) *cobra.Command {
	var step uint32

	cmd := &cobra.Command{
		Use:   "jog <channel> <cw|ccw>",
		Short: "Jog a channel by one step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := directionArg(args[1])
			if err != nil {
				return err
			}
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				ch, err := channelArg(ctrl, args[0])
				if err != nil {
					return err
				}
				if step > 0 {
					if err := ch.SetJogStep(ctx, step); err != nil {
						return err
					}
				}
				if err := ch.Jog(ctx, dir); err != nil {
					return err
				}
				if err := ch.Wait(ctx); err != nil {
					return err
				}
				pos, err := ch.Position(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Channel %d: %.3f mm\n", ch.Index(), mcm301.ToMillimetres(pos))
				return nil
			})
		},
	}

	cmd.Flags().Uint32Var(&step, "step", 0, "jog step in encoder counts (default: keep the stored step)")
	return cmd
}

func newVelocityCmd(opts *options) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "velocity <channel> <cw|ccw> <percent>",
		Short: "Run a channel at a fraction of its maximum speed",
		Long: `Run a channel continuously at percent of its maximum speed until a
limit switch, Ctrl-C or the --duration elapses.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := directionArg(args[1])
			if err != nil {
				return err
			}
			percent, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid percent %q", args[2])
			}
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				ch, err := channelArg(ctrl, args[0])
				if err != nil {
					return err
				}
				if err := ch.MoveVelocity(ctx, dir, percent); err != nil {
					return err
				}

				waitCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				if err := ch.Wait(waitCtx); err != nil && ctx.Err() == nil && waitCtx.Err() == nil {
					return err
				}
				if err := ch.Stop(context.WithoutCancel(ctx)); err != nil {
					return err
				}
				if err := ch.Wait(context.WithoutCancel(ctx)); err != nil {
					return err
				}
				pos, err := ch.Position(context.WithoutCancel(ctx))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Channel %d: %.3f mm  %s\n", ch.Index(), mcm301.ToMillimetres(pos), ch.LastStatus())
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "stop after this long")
	return cmd
}

func newStopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.skipHoming = true
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				return ctrl.StopAll(ctx)
			})
		},
	}
}

func newIdentifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "identify <channel>",
		Short: "Flash the LED of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.skipHoming = true
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				ch, err := channelArg(ctrl, args[0])
				if err != nil {
					return err
				}
				return ch.Identify(ctx)
			})
		},
	}
}
