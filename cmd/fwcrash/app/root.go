package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/fwcrash/internal/config"
	"github.com/zjy-dev/fwcrash/internal/logger"
)

// globalOptions holds the persistent flags shared by every subcommand.
// After PersistentPreRunE, cfg carries the config file values with any
// explicitly set flag applied on top.
type globalOptions struct {
	configPath string
	logLevel   string
	logDir     string
	gdbAddr    string
	elf        string
	outputDir  string
	dwell      time.Duration
	qemu       bool

	cfg *config.Config
}

// NewFwcrashCommand creates the root command for the fwcrash tool.
func NewFwcrashCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "fwcrash",
		Short: "A crash oracle for bare-metal firmware fuzzing.",
		Long: `fwcrash injects fuzz inputs into a halted microcontroller target over the
GDB remote protocol, lets the firmware run for a short dwell, halts it and
decides from the register state whether the input crashed the firmware.

Crashing inputs are stored as bundles under the output directory:
  {output}/crash_{timestamp}_pid{pid}_{seq}_{id}/
    ├── seed.bin            # the injected input
    ├── meta.json           # verdict, registers and input placement
    ├── registers.txt       # one register per line
    └── mem_around_sp.bin   # memory window around SP, when readable

Configuration:
  Values are loaded from configs/fwcrash.yaml (or --config) under the
  'config' key. Command line flags override the config file values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	// Flags (these are placeholder defaults, actual defaults come from config)
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default configs/fwcrash.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logDir, "log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringVar(&opts.gdbAddr, "gdb", "localhost:1234", "GDB stub address (host:port)")
	flags.StringVar(&opts.elf, "elf", "", "Firmware ELF image used to resolve handler symbols")
	flags.StringVar(&opts.outputDir, "output", "outputs/crashes", "Directory for crash bundles")
	flags.DurationVar(&opts.dwell, "dwell", 50*time.Millisecond, "How long the target runs before it is halted")
	flags.BoolVar(&opts.qemu, "qemu", false, "Launch the target under QEMU before connecting")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

// load reads the config and applies the flags the user set explicitly.
func (o *globalOptions) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-dir") {
		cfg.Log.Dir = o.logDir
	}
	if flags.Changed("gdb") {
		cfg.Target.GDBAddr = o.gdbAddr
	}
	if flags.Changed("elf") {
		cfg.Target.ELF = o.elf
	}
	if flags.Changed("output") {
		cfg.Run.OutputDir = o.outputDir
	}
	if flags.Changed("dwell") {
		cfg.Run.Dwell = o.dwell
	}
	if flags.Changed("qemu") {
		cfg.Target.QEMU.Enabled = o.qemu
	}
	o.cfg = cfg

	logger.Init(cfg.Log.Level)
	if cfg.Log.Dir != "" {
		if err := logger.InitWithFile(cfg.Log.Level, cfg.Log.Dir); err != nil {
			return err
		}
		logger.Info("logging to %s", logger.GetLogFilePath())
	}
	return nil
}
