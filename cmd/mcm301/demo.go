package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/amsikking/thorlabs-MCM301/mcm301"
)

func newDemoCmd(opts *options) *cobra.Command {
	var step float64

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Exercise absolute, relative, non-blocking and stopped moves",
		Long: `Run a short sequence on every attached channel: absolute and relative
moves, a non-blocking move, a move interrupted by stop, and a return to zero.
Try it against the simulator with --sim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				return runDemo(ctx, cmd.OutOrStdout(), ctrl, mcm301.Millimetres(step))
			})
		},
	}

	cmd.Flags().Float64Var(&step, "step", 1, "move size in millimetres")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, ctrl *mcm301.Controller, step physic.Distance) error {
	report := func(ch *mcm301.Channel, what string, start time.Time) error {
		pos, err := ch.Position(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  channel %d %-10s %9.3f mm  (%v)\n",
			ch.Index(), what, mcm301.ToMillimetres(pos), time.Since(start).Round(time.Millisecond))
		return nil
	}

	// the first step goes into the travel range, whichever way the stage homed
	toward := func(ch *mcm301.Channel) physic.Distance {
		if ch.Limits().Max <= 0 {
			return -step
		}
		return step
	}

	fmt.Fprintln(out, "Absolute and relative moves:")
	for _, ch := range ctrl.Channels() {
		start := time.Now()
		if err := ch.MoveTo(ctx, toward(ch)); err != nil {
			return err
		}
		if err := report(ch, "absolute", start); err != nil {
			return err
		}
		start = time.Now()
		if err := ch.MoveBy(ctx, toward(ch)); err != nil {
			return err
		}
		if err := report(ch, "relative", start); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nNon-blocking moves:")
	for _, ch := range ctrl.Channels() {
		start := time.Now()
		if err := ch.StartMoveBy(ctx, toward(ch)); err != nil {
			return err
		}
		fmt.Fprintf(out, "  channel %d commanded, doing something else...\n", ch.Index())
		if err := ch.Wait(ctx); err != nil {
			return err
		}
		if err := report(ch, "waited", start); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nMove and stop:")
	group := ctrl.Group()
	targets := mcm301.PositionMap{}
	for _, ch := range group.Channels() {
		if ch.Limits().Max <= 0 {
			targets[ch.Index()] = ch.Limits().Min
		} else {
			targets[ch.Index()] = ch.Limits().Max
		}
	}
	start := time.Now()
	if err := group.StartMoveAll(ctx, targets); err != nil {
		return err
	}
	if err := group.StopAll(ctx); err != nil {
		return err
	}
	if err := group.WaitAll(ctx); err != nil {
		return err
	}
	for _, ch := range group.Channels() {
		if err := report(ch, "stopped", start); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nRe-zero:")
	zeros := mcm301.PositionMap{}
	for _, ch := range group.Channels() {
		zeros[ch.Index()] = 0
	}
	start = time.Now()
	if _, err := group.MoveTo(ctx, zeros); err != nil {
		return err
	}
	for _, ch := range group.Channels() {
		if err := report(ch, "zero", start); err != nil {
			return err
		}
	}
	return nil
}
