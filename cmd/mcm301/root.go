package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amsikking/thorlabs-MCM301/lib"
	"github.com/amsikking/thorlabs-MCM301/mcm301"
)

// simStages are the part numbers attached to the simulated controller.
var simStages = [mcm301.NumChannels]string{"MPM-283298", "MPM-283299", ""}

type options struct {
	configFile string
	envFile    string
	serial     string
	sim        bool
	skipHoming bool
	verbose    bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "mcm301",
		Short:        "mcm301 controls Thorlabs MCM301 stepper stages",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.verbose)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "file of environment overrides")
	flags.StringVarP(&opts.serial, "serial", "s", "", "controller serial number")
	flags.BoolVar(&opts.sim, "sim", false, "use the built-in simulator instead of the vendor library")
	flags.BoolVar(&opts.skipHoming, "skip-homing", false, "do not home unhomed channels on open")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every status poll")

	cmd.AddCommand(
		newListCmd(opts),
		newInfoCmd(opts),
		newStatusCmd(opts),
		newHomeCmd(opts),
		newMoveCmd(opts),
		newJogCmd(opts),
		newVelocityCmd(opts),
		newStopCmd(opts),
		newIdentifyCmd(opts),
		newDemoCmd(opts),
	)
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// fileConfig loads the configuration file, applies environment overrides
// and then the command line flags.
func (o *options) fileConfig() (*mcm301.FileConfig, error) {
	fc := &mcm301.FileConfig{}
	if o.configFile != "" {
		var err error
		if fc, err = mcm301.LoadConfig(o.configFile); err != nil {
			return nil, err
		}
	}
	if err := fc.LoadEnv(o.envFile); err != nil {
		return nil, err
	}
	if o.serial != "" {
		fc.Serial = o.serial
	}
	if o.sim {
		fc.Library = mcm301.LibrarySimulator
	}
	if o.skipHoming {
		fc.SkipHoming = true
	}
	return fc, fc.Validate()
}

// library returns the backend named in fc.
func (o *options) library(fc *mcm301.FileConfig) (lib.Library, error) {
	if fc.Library == mcm301.LibrarySimulator {
		var stages [mcm301.NumChannels]*lib.SimStage
		for i, name := range simStages {
			if name != "" {
				stages[i] = lib.DefaultSimStage(name)
			}
		}
		return lib.NewSimulator(lib.SimConfig{Serial: fc.Serial, Stages: stages}), nil
	}
	library, err := lib.OpenVendor()
	if errors.Is(err, lib.ErrVendorUnavailable) {
		return nil, fmt.Errorf("%w (rebuild with -tags mcm301, or use --sim)", err)
	}
	return library, err
}

// withController opens the configured controller, runs fn and closes it.
func (o *options) withController(ctx context.Context, fn func(ctx context.Context, ctrl *mcm301.Controller) error) error {
	fc, err := o.fileConfig()
	if err != nil {
		return err
	}
	library, err := o.library(fc)
	if err != nil {
		return err
	}

	cfg := fc.Config(library, o.logger)
	if fc.Library == mcm301.LibrarySimulator {
		if cfg.Serial == "" {
			cfg.Serial = library.(*lib.Simulator).Serial()
		}
		for i, name := range simStages {
			ch := &cfg.Channels[i]
			if name != "" && ch.MinMM == nil && ch.MaxMM == nil {
				ch.MinMM, ch.MaxMM = mcm301.Float(0), mcm301.Float(12)
			}
		}
	}
	if cfg.Serial == "" {
		return fmt.Errorf("no serial number: use --serial, %s or a config file", mcm301.EnvSerial)
	}

	ctrl, err := mcm301.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			o.logger.Error("close failed", zap.Error(err))
		}
	}()

	return fn(ctx, ctrl)
}

// channelArg parses a channel index argument.
func channelArg(ctrl *mcm301.Controller, arg string) (*mcm301.Channel, error) {
	var index int
	if _, err := fmt.Sscanf(arg, "%d", &index); err != nil {
		return nil, fmt.Errorf("invalid channel %q", arg)
	}
	return ctrl.Channel(index)
}

func directionArg(arg string) (mcm301.Direction, error) {
	switch arg {
	case "cw", "+":
		return mcm301.Clockwise, nil
	case "ccw", "-":
		return mcm301.CounterClockwise, nil
	}
	return 0, fmt.Errorf("invalid direction %q (want cw or ccw)", arg)
}
