// Package oracle decides from sampled register state whether a bare-metal
// target has crashed. There is no OS to deliver a fault signal, so the
// only evidence is an implausible PC or SP after a bounded run.
package oracle

import (
	"strings"

	"github.com/zjy-dev/fwcrash/internal/region"
)

// Reason names why a snapshot was judged as crashed.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonCannotReadPC          Reason = "cannot_read_pc"
	ReasonPCInvalidRange        Reason = "pc_invalid_range"
	ReasonPCOutsideKnownRegions Reason = "pc_outside_known_regions"
	ReasonSPOutsideRAM          Reason = "sp_outside_ram"

	handlerPrefix = "entered_handler:"
)

// EnteredHandler builds the reason reported when PC sits on a handler symbol.
func EnteredHandler(symbol string) Reason {
	return Reason(handlerPrefix + symbol)
}

// Handler returns the symbol name if r is an entered_handler reason.
func (r Reason) Handler() (string, bool) {
	if !strings.HasPrefix(string(r), handlerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(r), handlerPrefix), true
}

// Verdict is the result of judging one snapshot.
type Verdict struct {
	Crashed bool
	Reason  Reason
}

func crashed(r Reason) Verdict {
	return Verdict{Crashed: true, Reason: r}
}

// Judge classifies a snapshot. It is pure: the same inputs always give the
// same verdict, and it never touches the target. Checks run in a fixed
// priority order and the first one that matches wins.
func Judge(snap Snapshot, syms Symbols, cfg *region.Config) Verdict {
	pc, ok := snap.Get(RegPC)
	if !ok {
		return crashed(ReasonCannotReadPC)
	}

	// Only reachable when the probe reports values wider than the
	// target's address space.
	if pc > cfg.MaxAddr() {
		return crashed(ReasonPCInvalidRange)
	}

	if !cfg.Executable(pc) {
		return crashed(ReasonPCOutsideKnownRegions)
	}

	for _, name := range cfg.Handlers() {
		addr, resolved := syms[name]
		if resolved && addr == pc {
			return crashed(EnteredHandler(name))
		}
	}

	if sp, ok := snap.Get(RegSP); ok && !cfg.InRAM(sp) {
		return crashed(ReasonSPOutsideRAM)
	}

	return Verdict{}
}
