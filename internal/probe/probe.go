// Package probe defines the debug-probe capabilities the runner relies on.
// Concrete transports (GDB remote, vendor probes) live in sub-packages.
package probe

import "errors"

var (
	// ErrNotConnected means there is no live connection to a target.
	ErrNotConnected = errors.New("target not connected")
	// ErrWriteFault means a memory write through the probe failed.
	ErrWriteFault = errors.New("memory write fault")
	// ErrReadFault means a memory read through the probe failed.
	ErrReadFault = errors.New("memory read fault")
	// ErrUnreadable means the probe could not report a register value.
	ErrUnreadable = errors.New("register unreadable")
	// ErrUnresolved means a symbol name has no known address.
	ErrUnresolved = errors.New("symbol unresolved")
	// ErrUnsupported means the probe does not implement the request.
	ErrUnsupported = errors.New("operation unsupported")
	// ErrAlreadyHalted means a halt was requested while the target was stopped.
	ErrAlreadyHalted = errors.New("target already halted")
)

// ResetKind selects one of the reset primitives a probe may offer.
type ResetKind int

const (
	// ResetPrimary is the preferred full-system reset.
	ResetPrimary ResetKind = iota
	// ResetSecondary is the fallback when the primary reset is unavailable.
	ResetSecondary
)

func (k ResetKind) String() string {
	switch k {
	case ResetPrimary:
		return "primary"
	case ResetSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Session is a connection to exactly one target. It is not safe for
// concurrent use; one runner owns a session at a time.
type Session interface {
	// Connected reports whether the session can talk to the target.
	Connected() bool
	// WriteMemory writes data at addr. Failures wrap ErrWriteFault.
	WriteMemory(addr uint64, data []byte) error
	// ReadMemory reads n bytes at addr. Failures wrap ErrReadFault.
	ReadMemory(addr uint64, n int) ([]byte, error)
	// ReadRegister reads a register by name. Failures wrap ErrUnreadable,
	// or ErrNotConnected when the transport itself is gone.
	ReadRegister(name string) (uint64, error)
	// ResolveSymbol returns the address of a symbol. Failures wrap ErrUnresolved.
	ResolveSymbol(name string) (uint64, error)
	// Resume lets the target run.
	Resume() error
	// Halt stops the target. Returns ErrAlreadyHalted if it was not running.
	Halt() error
	// Reset resets the target. Returns ErrUnsupported if the kind is unavailable.
	Reset(kind ResetKind) error
}
