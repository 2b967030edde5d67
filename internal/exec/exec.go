// Package exec runs host tools: short-lived ones such as nm, and
// long-running ones such as an emulator serving a gdbstub.
package exec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ExecutionResult holds the outcome of a command execution.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a command to completion. Mocked in tests.
type Executor interface {
	Run(command string, args ...string) (*ExecutionResult, error)
}

// Starter launches a command in the background. Mocked in tests.
type Starter interface {
	Start(command string, args ...string) (Process, error)
}

// Process is a command started in the background.
type Process interface {
	// Stop kills the process and waits for it to exit.
	Stop() error
	// Exited reports whether the process has already terminated.
	Exited() bool
	// Output returns whatever the process has written so far.
	Output() string
}

// CommandExecutor runs real commands on the host.
type CommandExecutor struct{}

// NewCommandExecutor creates a new CommandExecutor.
func NewCommandExecutor() *CommandExecutor {
	return &CommandExecutor{}
}

var (
	_ Executor = (*CommandExecutor)(nil)
	_ Starter  = (*CommandExecutor)(nil)
)

// Run executes the given command and returns its result. A non-zero exit
// status is reported through ExitCode, not as an error.
func (e *CommandExecutor) Run(command string, args ...string) (*ExecutionResult, error) {
	cmd := exec.Command(command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
	}

	return &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}

// Start launches the command without waiting for it. Stdout and stderr
// are merged into a buffer readable through Output.
func (e *CommandExecutor) Start(command string, args ...string) (Process, error) {
	p := &hostProcess{done: make(chan struct{})}
	p.cmd = exec.Command(command, args...)
	p.cmd.Stdout = &p.out
	p.cmd.Stderr = &p.out

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type hostProcess struct {
	cmd     *exec.Cmd
	out     syncBuffer
	done    chan struct{}
	waitErr error
}

func (p *hostProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *hostProcess) Output() string {
	return p.out.String()
}

func (p *hostProcess) Stop() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.cmd.Process.Pid, err)
	}
	<-p.done
	return nil
}

// syncBuffer guards a bytes.Buffer shared with the os/exec copy goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
