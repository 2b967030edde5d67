// Package runner drives one fuzzing iteration against a bare-metal target:
// inject the input, reset, run for a fixed dwell, halt, judge the register
// state and, on a crash, store a diagnostic bundle.
package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/zjy-dev/fwcrash/internal/artifact"
	"github.com/zjy-dev/fwcrash/internal/logger"
	"github.com/zjy-dev/fwcrash/internal/oracle"
	"github.com/zjy-dev/fwcrash/internal/probe"
	"github.com/zjy-dev/fwcrash/internal/region"
)

// ErrSetup marks failures that happen before the target is touched:
// no connection, or an input that cannot be read.
var ErrSetup = errors.New("setup error")

// DefaultRegisters are sampled on every iteration (ARMv7-M naming).
var DefaultRegisters = []string{
	"pc", "sp", "lr",
	"r0", "r1", "r2", "r3", "r4", "r5", "r6",
	"r7", "r8", "r9", "r10", "r11", "r12",
}

// State is a step of the per-iteration state machine.
type State int

const (
	StateIdle State = iota
	StateWriting
	StateResetting
	StateRunning
	StateHalting
	StateJudging
	StateReporting
)

var stateNames = [...]string{"idle", "writing", "resetting", "running", "halting", "judging", "reporting"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the judged result of a completed iteration.
type Status int

const (
	NoCrash Status = iota
	Crash
)

func (s Status) String() string {
	if s == Crash {
		return "crash"
	}
	return "no_crash"
}

// Outcome is what one iteration produced. Location is the bundle
// directory for a crash, or empty if the bundle could not be created.
type Outcome struct {
	Status   Status
	Verdict  oracle.Verdict
	Location string
}

func (o *Outcome) String() string {
	if o.Status == Crash {
		return fmt.Sprintf("crash (%s) -> %s", o.Verdict.Reason, o.Location)
	}
	return "no crash"
}

// Saver persists crash reports.
type Saver interface {
	Save(r *artifact.Report) (string, error)
}

// Options tune an iteration. Dwell is required.
type Options struct {
	// Dwell is how long the target runs before it is halted and judged.
	Dwell time.Duration
	// WindowSize is the width of the memory capture around SP; 0 disables it.
	WindowSize int
	// Registers to sample; pc and sp are always included.
	Registers []string
}

// Runner executes iterations against one target. It keeps no state
// between calls apart from its configuration.
type Runner struct {
	session probe.Session
	regions *region.Config
	saver   Saver
	opts    Options

	fs    afero.Fs
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a Runner. The session is owned by the runner for its lifetime.
func New(session probe.Session, regions *region.Config, saver Saver, opts Options) (*Runner, error) {
	if session == nil || regions == nil || saver == nil {
		return nil, fmt.Errorf("runner requires a session, a region config and a saver")
	}
	if opts.Dwell <= 0 {
		return nil, fmt.Errorf("dwell must be positive, got %s", opts.Dwell)
	}
	if opts.WindowSize < 0 {
		return nil, fmt.Errorf("memory window size must not be negative, got %d", opts.WindowSize)
	}
	if len(opts.Registers) == 0 {
		opts.Registers = DefaultRegisters
	}
	opts.Registers = withRequired(opts.Registers, oracle.RegPC, oracle.RegSP)

	return &Runner{
		session: session,
		regions: regions,
		saver:   saver,
		opts:    opts,
		fs:      afero.NewOsFs(),
		sleep:   time.Sleep,
		now:     time.Now,
	}, nil
}

// withRequired returns regs with any missing required names prepended.
func withRequired(regs []string, required ...string) []string {
	have := make(map[string]bool, len(regs))
	for _, r := range regs {
		have[r] = true
	}
	var out []string
	for _, r := range required {
		if !have[r] {
			out = append(out, r)
		}
	}
	return append(out, regs...)
}

// RunOnce runs one iteration with the input stored at seedPath, injected at
// the configured input address.
func (r *Runner) RunOnce(seedPath string) (*Outcome, error) {
	return r.RunOnceAt(seedPath, r.regions.InputAddr())
}

// RunOnceAt runs one iteration injecting the input at addr.
//
// Errors are never crashes: ErrSetup, probe.ErrWriteFault and
// probe.ErrReadFault mean the iteration is inconclusive.
func (r *Runner) RunOnceAt(seedPath string, addr uint64) (*Outcome, error) {
	if !r.session.Connected() {
		return nil, fmt.Errorf("%w: %w", ErrSetup, probe.ErrNotConnected)
	}
	input, err := afero.ReadFile(r.fs, seedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read seed %s: %v", ErrSetup, seedPath, err)
	}

	r.enter(StateWriting)
	logger.Debug("writing seed (%d bytes) to 0x%x", len(input), addr)
	if err := r.session.WriteMemory(addr, input); err != nil {
		return nil, fmt.Errorf("failed to write seed to 0x%x: %w", addr, err)
	}

	r.enter(StateResetting)
	r.reset()

	r.enter(StateRunning)
	if err := r.session.Resume(); err != nil {
		logger.Warn("resume failed, target may already be running: %v", err)
	}
	r.sleep(r.opts.Dwell)

	r.enter(StateHalting)
	if err := r.session.Halt(); err != nil {
		if !errors.Is(err, probe.ErrAlreadyHalted) {
			return nil, fmt.Errorf("failed to halt target: %w", err)
		}
		logger.Debug("target had already halted itself")
	}

	r.enter(StateJudging)
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	verdict := oracle.Judge(snap, r.resolveHandlers(), r.regions)
	if !verdict.Crashed {
		r.enter(StateIdle)
		logger.Info("no crash detected for %s", seedPath)
		return &Outcome{Status: NoCrash, Verdict: verdict}, nil
	}

	r.enter(StateReporting)
	logger.Info("possible crash detected for %s: %s", seedPath, verdict.Reason)
	report := &artifact.Report{
		Verdict:   verdict,
		Snapshot:  snap,
		Input:     input,
		InputAddr: addr,
		Memory:    r.captureStack(snap),
		Time:      r.now(),
	}
	location, err := r.saver.Save(report)
	if err != nil {
		logger.Error("failed to save crash report for %s: %v", seedPath, err)
	}
	r.enter(StateIdle)
	return &Outcome{Status: Crash, Verdict: verdict, Location: location}, nil
}

func (r *Runner) enter(s State) {
	logger.Debug("runner -> %s", s)
}

// reset tries the primary reset, then the secondary one, then carries on
// without a reset. State may leak between iterations in the last case.
func (r *Runner) reset() {
	err := r.session.Reset(probe.ResetPrimary)
	if err == nil {
		return
	}
	logger.Debug("primary reset failed: %v", err)

	fallbackErr := r.session.Reset(probe.ResetSecondary)
	if fallbackErr == nil {
		logger.Debug("secondary reset used")
		return
	}
	logger.Warn("reset failed or not supported, continuing without reset: %v", fallbackErr)
}

// snapshot samples every tracked register. An unreadable register is
// recorded as such; only a lost connection aborts the iteration.
func (r *Runner) snapshot() (oracle.Snapshot, error) {
	regs := make([]oracle.Register, 0, len(r.opts.Registers))
	for _, name := range r.opts.Registers {
		v, err := r.session.ReadRegister(name)
		if err != nil {
			if errors.Is(err, probe.ErrNotConnected) {
				return oracle.Snapshot{}, fmt.Errorf("%w: reading register %s: %w", probe.ErrReadFault, name, err)
			}
			logger.Debug("register %s unreadable: %v", name, err)
			regs = append(regs, oracle.Register{Name: name})
			continue
		}
		regs = append(regs, oracle.Register{Name: name, Value: v, Readable: true})
	}
	return oracle.NewSnapshot(regs...), nil
}

func (r *Runner) resolveHandlers() oracle.Symbols {
	syms := make(oracle.Symbols)
	for _, name := range r.regions.Handlers() {
		addr, err := r.session.ResolveSymbol(name)
		if err != nil {
			logger.Debug("skipping handler %s: %v", name, err)
			continue
		}
		syms[name] = addr
	}
	return syms
}

// captureStack reads the memory window around SP, or returns nil when SP
// is unusable or the read fails.
func (r *Runner) captureStack(snap oracle.Snapshot) *artifact.MemoryWindow {
	sp, ok := snap.Get(oracle.RegSP)
	if !ok {
		return nil
	}
	start, n, ok := r.regions.StackWindow(sp, r.opts.WindowSize)
	if !ok {
		return nil
	}
	data, err := r.session.ReadMemory(start, n)
	if err != nil {
		logger.Warn("failed to read %d bytes around sp at 0x%x: %v", n, start, err)
		return nil
	}
	return &artifact.MemoryWindow{Start: start, Data: data}
}
