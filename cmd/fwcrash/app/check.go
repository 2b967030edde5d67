package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/fwcrash/internal/config"
)

// NewCheckCommand creates the "check" subcommand.
func NewCheckCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "check <seed>",
		Short: "Run one input against the target and judge the result.",
		Long: `Run a single iteration: write the seed into target RAM, reset, run for the
dwell, halt and judge the register state.

Both outcomes exit with status 0; a non-zero status means the iteration
could not be completed.

Examples:
  # Inject at the configured input address
  fwcrash check corpus/id_000001

  # Inject somewhere else
  fwcrash check corpus/id_000001 --addr 0x20000400`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, release, err := connect(opts.cfg)
			if err != nil {
				return err
			}
			defer release()

			r, err := newRunner(opts.cfg, session)
			if err != nil {
				return err
			}

			seedPath := args[0]
			if cmd.Flags().Changed("addr") {
				at, err := config.ParseAddr(addr)
				if err != nil {
					return fmt.Errorf("--addr: %w", err)
				}
				outcome, err := r.RunOnceAt(seedPath, at)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outcome)
				return nil
			}

			outcome, err := r.RunOnce(seedPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Input address, overriding regions.input_addr (e.g. 0x20000400)")

	return cmd
}
