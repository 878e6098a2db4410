package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/amsikking/thorlabs-MCM301/mcm301"
)

func newInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show firmware, attached stages and stage parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				out := cmd.OutOrStdout()

				hw, err := ctrl.HardwareInfo(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Serial:   %s\n", ctrl.Serial())
				fmt.Fprintf(out, "Firmware: %d.%d.%d\n", hw.FirmwareMajor, hw.FirmwareInterim, hw.FirmwareMinor)
				fmt.Fprintf(out, "CPID:     %d.%d\n", hw.CPIDMajor, hw.CPIDMinor)

				for i, stage := range ctrl.AttachedStages() {
					fmt.Fprintf(out, "\nChannel %d (slot %d): ", i, mcm301.SlotForChannel(i))
					if stage == "" {
						fmt.Fprintln(out, "empty")
						continue
					}
					fmt.Fprintln(out, stage)

					ch, err := ctrl.Channel(i)
					if err != nil {
						return err
					}
					if err := printChannelInfo(ctx, out, ch); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func printChannelInfo(ctx context.Context, out io.Writer, ch *mcm301.Channel) error {
	title, err := ch.Title(ctx)
	if err != nil {
		return err
	}
	pnp, err := ch.PNPStatus(ctx)
	if err != nil {
		return err
	}
	homeToMin, err := ch.HomeToMin(ctx)
	if err != nil {
		return err
	}
	step, err := ch.JogStep(ctx)
	if err != nil {
		return err
	}
	soft, err := ch.SoftLimits(ctx)
	if err != nil {
		return err
	}
	p := ch.Params()

	fmt.Fprintf(out, "  Title:        %s\n", title)
	fmt.Fprintf(out, "  PNP status:   %s\n", pnp)
	fmt.Fprintf(out, "  Limits:       %s\n", ch.Limits())
	fmt.Fprintf(out, "  Home to min:  %v\n", homeToMin)
	fmt.Fprintf(out, "  nm per count: %g\n", p.NMPerCount)
	fmt.Fprintf(out, "  Counts:       %d to %d\n", p.MinPosition, p.MaxPosition)
	fmt.Fprintf(out, "  Max speed:    %g\n", p.MaxSpeed)
	fmt.Fprintf(out, "  Max acc:      %g\n", p.MaxAcc)
	fmt.Fprintf(out, "  Jog step:     %d counts\n", step)
	if soft.HasCCW || soft.HasCW {
		fmt.Fprintf(out, "  Soft limits:  ccw=%d (%v) cw=%d (%v)\n", soft.CCW, soft.HasCCW, soft.CW, soft.HasCW)
	}
	return nil
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show channel status, positions and board health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd.Context(), func(ctx context.Context, ctrl *mcm301.Controller) error {
				out := cmd.OutOrStdout()

				for _, ch := range ctrl.Channels() {
					pos, err := ch.Position(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Channel %d: %9.3f mm  encoder=%-9d %s\n",
						ch.Index(), mcm301.ToMillimetres(pos), ch.Encoder(), ch.LastStatus())
				}

				board, err := ctrl.BoardStatus(ctx)
				if err != nil {
					return err
				}
				state, err := ctrl.ErrorState(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nBoard:   %.1f°C  CPU: %.1f°C  HV: %.1fV\n",
					board.BoardTemperature, board.CPUTemperature, board.HighVoltage)
				if board.ErrorCode != 0 || state != 0 {
					fmt.Fprintf(out, "Errors:  slot code %#x, error state %d\n", board.ErrorCode, state)
				}
				return nil
			})
		},
	}
}
