package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

func newListCmd(opts *options) *cobra.Command {
	var (
		ports bool
		all   bool
		probe bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connected controllers",
		Long: `List the controllers the command library can see.

With --ports the serial ports of this computer are listed instead, which
works without the vendor library. Only Thorlabs ports are shown unless
--all is given, and --probe checks that each port can be opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if ports {
				list := lib.ThorlabsPorts
				if all {
					list = lib.ListPorts
				}
				found, err := list()
				if err != nil {
					return err
				}
				if len(found) == 0 {
					fmt.Fprintln(out, "No ports found.")
					return nil
				}
				for _, p := range found {
					fmt.Fprintf(out, "%s", p.Name)
					if p.IsUSB {
						fmt.Fprintf(out, "  usb %s:%s serial=%s %s", p.VID, p.PID, p.SerialNumber, p.Product)
					}
					if probe {
						if err := lib.ProbePort(p.Name); err != nil {
							fmt.Fprintf(out, "  (busy: %v)", err)
						} else {
							fmt.Fprint(out, "  (free)")
						}
					}
					fmt.Fprintln(out)
				}
				return nil
			}

			fc, err := opts.fileConfig()
			if err != nil {
				return err
			}
			library, err := opts.library(fc)
			if err != nil {
				return err
			}
			devices, err := library.List()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No controllers found.")
				fmt.Fprintln(out, "\nTroubleshooting:")
				fmt.Fprintln(out, "1. Check that the controller is powered and connected by USB")
				fmt.Fprintln(out, "2. Close Kinesis or any other program holding the port")
				fmt.Fprintln(out, "3. Run 'mcm301 list --ports --all' to see the serial ports")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(out, "%s\t%s\n", d.Serial, d.Port)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ports, "ports", false, "list serial ports instead of controllers")
	cmd.Flags().BoolVar(&all, "all", false, "with --ports, include non-Thorlabs ports")
	cmd.Flags().BoolVar(&probe, "probe", false, "with --ports, try opening each port")
	return cmd
}
