package app

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/fwcrash/internal/artifact"
	"github.com/zjy-dev/fwcrash/internal/report"
)

// NewShowCommand creates the "show" subcommand.
func NewShowCommand(opts *globalOptions) *cobra.Command {
	var (
		format string
		write  bool
	)

	cmd := &cobra.Command{
		Use:   "show <bundle>",
		Short: "Print a stored crash bundle.",
		Long: `Print the reason, registers and captured sizes of a crash bundle.

Examples:
  fwcrash show outputs/crashes/crash_20260101_120000_pid4242_000001_1a2b3c4d

  # Render markdown and also store it as report.md inside the bundle
  fwcrash show <bundle> --format markdown --write`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			b, err := artifact.Load(fs, args[0])
			if err != nil {
				return err
			}

			switch format {
			case "text":
				printBundle(cmd, b)
			case "markdown":
				fmt.Fprint(cmd.OutOrStdout(), report.Markdown(b))
			default:
				return fmt.Errorf("unknown format %q (want text or markdown)", format)
			}

			if write {
				path, err := report.NewMarkdownReporter(fs).Save(b)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or markdown")
	cmd.Flags().BoolVar(&write, "write", false, "Also write report.md into the bundle")

	return cmd
}

func printBundle(cmd *cobra.Command, b *artifact.Bundle) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bundle:    %s\n", b.Dir)
	fmt.Fprintf(out, "Time:      %s\n", b.Meta.Timestamp)
	fmt.Fprintf(out, "Reason:    %s\n", b.Meta.Reason)
	fmt.Fprintf(out, "Input:     %d bytes at 0x%x\n", len(b.Input), b.Meta.InputAddr)
	if b.Meta.MemStart != nil {
		fmt.Fprintf(out, "Memory:    %d bytes at 0x%x\n", len(b.Memory), *b.Meta.MemStart)
	} else {
		fmt.Fprintln(out, "Memory:    not captured")
	}
	fmt.Fprintln(out, "Registers:")
	for _, line := range strings.Split(strings.TrimRight(b.Registers, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}
