package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/fwcrash/internal/logger"
	"github.com/zjy-dev/fwcrash/internal/probe"
	"github.com/zjy-dev/fwcrash/internal/runner"
	"github.com/zjy-dev/fwcrash/internal/state"
)

// ErrIterationTimeout stops a campaign whose iteration never returned.
var ErrIterationTimeout = errors.New("iteration timed out")

// NewBatchCommand creates the "batch" subcommand.
func NewBatchCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Run every input in a directory against the target.",
		Long: `Run one iteration per regular file in <dir>, in lexical order.

Inconclusive iterations are counted and skipped. The campaign stops when an
iteration exceeds --timeout or the connection to the target is lost.
Running totals are kept in campaign_state.json under the output directory.

Examples:
  fwcrash batch corpus/ --timeout 5s --output out/crashes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("timeout") {
				timeout = opts.cfg.Run.IterationTimeout
			}

			seeds, err := listSeeds(args[0])
			if err != nil {
				return err
			}
			if len(seeds) == 0 {
				return fmt.Errorf("no inputs found in %s", args[0])
			}

			session, release, err := connect(opts.cfg)
			if err != nil {
				return err
			}
			defer release()

			r, err := newRunner(opts.cfg, session)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(opts.cfg.Run.OutputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			mgr := state.NewFileManager(opts.cfg.Run.OutputDir)
			if err := mgr.Load(); err != nil {
				return err
			}

			runErr := runBatch(r, mgr, seeds, timeout)
			if err := mgr.Save(); err != nil {
				logger.Error("failed to save campaign state: %v", err)
			}

			st := mgr.GetState()
			fmt.Fprintf(cmd.OutOrStdout(), "iterations: %d, crashes: %d, no crash: %d, inconclusive: %d\n",
				st.Iterations, st.Crashes, st.NoCrash, st.Inconclusive)
			return runErr
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-iteration timeout (0 disables it)")

	return cmd
}

// listSeeds returns the regular files of dir in lexical order.
func listSeeds(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}
	var seeds []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			seeds = append(seeds, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(seeds)
	return seeds, nil
}

type iteration struct {
	outcome *runner.Outcome
	err     error
}

// runOnce bounds one iteration by timeout. A timed-out iteration leaves
// its goroutine behind; the caller must stop using the runner.
func runOnce(r *runner.Runner, seed string, timeout time.Duration) (*runner.Outcome, error) {
	if timeout <= 0 {
		return r.RunOnce(seed)
	}
	done := make(chan iteration, 1)
	go func() {
		outcome, err := r.RunOnce(seed)
		done <- iteration{outcome, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case it := <-done:
		return it.outcome, it.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrIterationTimeout, timeout)
	}
}

func runBatch(r *runner.Runner, mgr state.Manager, seeds []string, timeout time.Duration) error {
	for i, seed := range seeds {
		logger.Info("[%d/%d] %s", i+1, len(seeds), seed)

		outcome, err := runOnce(r, seed, timeout)
		if err != nil {
			mgr.RecordInconclusive(seed)
			if errors.Is(err, ErrIterationTimeout) || errors.Is(err, probe.ErrNotConnected) {
				return fmt.Errorf("stopping campaign at %s: %w", seed, err)
			}
			logger.Warn("iteration inconclusive for %s: %v", seed, err)
			continue
		}

		if outcome.Status == runner.Crash {
			mgr.RecordCrash(seed, string(outcome.Verdict.Reason), outcome.Location)
		} else {
			mgr.RecordNoCrash(seed)
		}
		if err := mgr.Save(); err != nil {
			logger.Warn("failed to save campaign state: %v", err)
		}
	}
	return nil
}
