// Package vm manages an emulated target that exposes a gdbstub for the
// runner to connect to.
package vm

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/zjy-dev/fwcrash/internal/exec"
	"github.com/zjy-dev/fwcrash/internal/logger"
)

const (
	defaultStartTimeout = 10 * time.Second
	readyPoll           = 50 * time.Millisecond
)

// VM is an emulated target with a debug endpoint.
type VM interface {
	// Create starts the emulator and waits until its gdbstub accepts connections.
	Create() error
	// GDBAddr is the host:port of the gdbstub.
	GDBAddr() string
	// Stop terminates the emulator.
	Stop() error
}

// QEMUConfig describes a qemu-system invocation for a firmware image.
type QEMUConfig struct {
	QEMUPath     string        `mapstructure:"path"`
	Machine      string        `mapstructure:"machine"`
	CPU          string        `mapstructure:"cpu"`
	Kernel       string        `mapstructure:"kernel"`
	GDBPort      int           `mapstructure:"gdb_port"`
	Semihosting  bool          `mapstructure:"semihosting"`
	ExtraArgs    []string      `mapstructure:"extra_args"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// QEMUVM runs qemu-system-* halted at reset (-S) with a gdbstub.
type QEMUVM struct {
	cfg     QEMUConfig
	starter exec.Starter
	probe   func(addr string) error
	proc    exec.Process
}

// NewQEMUVM creates a new QEMU-backed target.
func NewQEMUVM(cfg QEMUConfig) *QEMUVM {
	if cfg.QEMUPath == "" {
		cfg.QEMUPath = "qemu-system-arm"
	}
	if cfg.GDBPort == 0 {
		cfg.GDBPort = 1234
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	return &QEMUVM{
		cfg:     cfg,
		starter: exec.NewCommandExecutor(),
		probe: func(addr string) error {
			conn, err := net.DialTimeout("tcp", addr, readyPoll)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

var _ VM = (*QEMUVM)(nil)

// Args returns the qemu command line, excluding the binary.
func (q *QEMUVM) Args() []string {
	args := []string{"-nographic", "-S", "-gdb", "tcp::" + strconv.Itoa(q.cfg.GDBPort)}
	if q.cfg.Machine != "" {
		args = append(args, "-M", q.cfg.Machine)
	}
	if q.cfg.CPU != "" {
		args = append(args, "-cpu", q.cfg.CPU)
	}
	if q.cfg.Semihosting {
		args = append(args, "-semihosting-config", "enable=on,target=native")
	}
	args = append(args, "-kernel", q.cfg.Kernel)
	return append(args, q.cfg.ExtraArgs...)
}

func (q *QEMUVM) GDBAddr() string {
	return net.JoinHostPort("localhost", strconv.Itoa(q.cfg.GDBPort))
}

// Create starts QEMU and blocks until the gdbstub is reachable.
func (q *QEMUVM) Create() error {
	if q.cfg.Kernel == "" {
		return fmt.Errorf("qemu target requires a kernel image")
	}
	if q.proc != nil {
		return fmt.Errorf("qemu is already running")
	}

	proc, err := q.starter.Start(q.cfg.QEMUPath, q.Args()...)
	if err != nil {
		return fmt.Errorf("failed to start qemu: %w", err)
	}
	q.proc = proc

	deadline := time.Now().Add(q.cfg.StartTimeout)
	for {
		if proc.Exited() {
			q.proc = nil
			return fmt.Errorf("qemu exited during startup: %s", proc.Output())
		}
		if err := q.probe(q.GDBAddr()); err == nil {
			logger.Info("qemu gdbstub ready at %s", q.GDBAddr())
			return nil
		}
		if time.Now().After(deadline) {
			q.Stop()
			return fmt.Errorf("qemu gdbstub at %s not ready after %s", q.GDBAddr(), q.cfg.StartTimeout)
		}
		time.Sleep(readyPoll)
	}
}

// Stop kills QEMU if it is running.
func (q *QEMUVM) Stop() error {
	if q.proc == nil {
		return nil
	}
	err := q.proc.Stop()
	q.proc = nil
	return err
}
