package app

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/zjy-dev/fwcrash/internal/artifact"
	"github.com/zjy-dev/fwcrash/internal/config"
	"github.com/zjy-dev/fwcrash/internal/exec"
	"github.com/zjy-dev/fwcrash/internal/logger"
	"github.com/zjy-dev/fwcrash/internal/probe"
	"github.com/zjy-dev/fwcrash/internal/probe/gdbremote"
	"github.com/zjy-dev/fwcrash/internal/runner"
	"github.com/zjy-dev/fwcrash/internal/symbols"
	"github.com/zjy-dev/fwcrash/internal/vm"
)

// connectFunc opens a debug session to the configured target and returns
// a function that releases it.
type connectFunc func(cfg *config.Config) (probe.Session, func(), error)

// connect is swapped out in tests.
var connect connectFunc = dialTarget

// newResolver builds the handler symbol lookup: addresses pinned in
// config first, then the firmware image.
func newResolver(cfg *config.Config) (symbols.Resolver, error) {
	static, err := cfg.StaticSymbols()
	if err != nil {
		return nil, err
	}
	chain := symbols.Chain{static}

	switch {
	case cfg.Target.ELF != "" && cfg.Target.NM != "":
		chain = append(chain, symbols.NewNMResolver(exec.NewCommandExecutor(), cfg.Target.NM, cfg.Target.ELF))
	case cfg.Target.ELF != "":
		chain = append(chain, symbols.NewELFResolver(cfg.Target.ELF))
	}

	if cfg.Regions.ThumbSymbols {
		return symbols.ClearThumbBit(chain), nil
	}
	return chain, nil
}

// dialTarget optionally boots QEMU, then connects to the gdb stub.
func dialTarget(cfg *config.Config) (probe.Session, func(), error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, nil, err
	}

	addr := cfg.Target.GDBAddr
	var machine vm.VM
	if cfg.Target.QEMU.Enabled {
		qcfg := cfg.Target.QEMU.QEMUConfig
		if qcfg.Kernel == "" {
			qcfg.Kernel = cfg.Target.ELF
		}
		q := vm.NewQEMUVM(qcfg)
		if err := q.Create(); err != nil {
			return nil, nil, err
		}
		machine = q
		addr = q.GDBAddr()
	}

	session, err := gdbremote.Dial(gdbremote.Config{
		Addr:           addr,
		Timeout:        cfg.Target.Timeout,
		Registers:      gdbremote.ARMv7MRegisters,
		PrimaryReset:   cfg.Target.PrimaryReset,
		SecondaryReset: cfg.Target.SecondaryReset,
		Symbols:        resolver,
	})
	if err != nil {
		if machine != nil {
			machine.Stop()
		}
		return nil, nil, err
	}
	logger.Info("connected to gdb stub at %s", addr)

	release := func() {
		if err := session.Close(); err != nil {
			logger.Debug("closing gdb session: %v", err)
		}
		if machine != nil {
			if err := machine.Stop(); err != nil {
				logger.Warn("failed to stop qemu: %v", err)
			}
		}
	}
	return session, release, nil
}

// newRunner wires a session to the region config and the bundle store.
func newRunner(cfg *config.Config, session probe.Session) (*runner.Runner, error) {
	regions, err := cfg.RegionConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid regions: %w", err)
	}
	store := artifact.NewStore(afero.NewOsFs(), cfg.Run.OutputDir)
	return runner.New(session, regions, store, runner.Options{
		Dwell:      cfg.Run.Dwell,
		WindowSize: cfg.Run.MemWindow,
		Registers:  cfg.Run.Registers,
	})
}
