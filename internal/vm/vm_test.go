package vm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/fwcrash/internal/exec"
)

// MockProcess is a mock implementation of exec.Process for testing.
type MockProcess struct {
	exited  bool
	stopped bool
	output  string
}

func (p *MockProcess) Stop() error    { p.stopped = true; return nil }
func (p *MockProcess) Exited() bool   { return p.exited }
func (p *MockProcess) Output() string { return p.output }

// MockStarter is a mock implementation of exec.Starter for testing.
type MockStarter struct {
	StartFunc func(command string, args ...string) (exec.Process, error)
}

func (m *MockStarter) Start(command string, args ...string) (exec.Process, error) {
	return m.StartFunc(command, args...)
}

func TestNewQEMUVM_Defaults(t *testing.T) {
	q := NewQEMUVM(QEMUConfig{Kernel: "target.elf"})
	assert.Equal(t, "qemu-system-arm", q.cfg.QEMUPath)
	assert.Equal(t, 1234, q.cfg.GDBPort)
	assert.Equal(t, "localhost:1234", q.GDBAddr())
}

func TestQEMUVM_Args(t *testing.T) {
	q := NewQEMUVM(QEMUConfig{
		Machine:     "lm3s6965evb",
		CPU:         "cortex-m3",
		Kernel:      "build/target.elf",
		GDBPort:     3333,
		Semihosting: true,
		ExtraArgs:   []string{"-d", "guest_errors"},
	})

	assert.Equal(t, []string{
		"-nographic", "-S", "-gdb", "tcp::3333",
		"-M", "lm3s6965evb",
		"-cpu", "cortex-m3",
		"-semihosting-config", "enable=on,target=native",
		"-kernel", "build/target.elf",
		"-d", "guest_errors",
	}, q.Args())
}

func TestQEMUVM_Create(t *testing.T) {
	proc := &MockProcess{}
	var capturedCmd string
	q := NewQEMUVM(QEMUConfig{Kernel: "target.elf"})
	q.starter = &MockStarter{StartFunc: func(command string, args ...string) (exec.Process, error) {
		capturedCmd = command
		return proc, nil
	}}
	attempts := 0
	q.probe = func(addr string) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	require.NoError(t, q.Create())
	assert.Equal(t, "qemu-system-arm", capturedCmd)
	assert.Equal(t, 3, attempts)

	assert.Error(t, q.Create(), "second Create while running")

	require.NoError(t, q.Stop())
	assert.True(t, proc.stopped)
	assert.NoError(t, q.Stop(), "stop is idempotent")
}

func TestQEMUVM_CreateFailures(t *testing.T) {
	t.Run("missing kernel", func(t *testing.T) {
		assert.Error(t, NewQEMUVM(QEMUConfig{}).Create())
	})

	t.Run("start error", func(t *testing.T) {
		q := NewQEMUVM(QEMUConfig{Kernel: "target.elf"})
		q.starter = &MockStarter{StartFunc: func(string, ...string) (exec.Process, error) {
			return nil, errors.New("not found")
		}}
		assert.Error(t, q.Create())
	})

	t.Run("qemu exits early", func(t *testing.T) {
		q := NewQEMUVM(QEMUConfig{Kernel: "target.elf"})
		q.starter = &MockStarter{StartFunc: func(string, ...string) (exec.Process, error) {
			return &MockProcess{exited: true, output: "qemu: could not load kernel"}, nil
		}}
		q.probe = func(string) error { return errors.New("refused") }

		err := q.Create()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not load kernel")
	})

	t.Run("gdbstub never ready", func(t *testing.T) {
		proc := &MockProcess{}
		q := NewQEMUVM(QEMUConfig{Kernel: "target.elf", StartTimeout: 120 * time.Millisecond})
		q.starter = &MockStarter{StartFunc: func(string, ...string) (exec.Process, error) { return proc, nil }}
		q.probe = func(string) error { return errors.New("refused") }

		err := q.Create()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not ready")
		assert.True(t, proc.stopped)
	})
}
