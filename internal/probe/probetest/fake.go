// Package probetest provides an in-memory probe.Session for tests.
package probetest

import (
	"fmt"

	"github.com/zjy-dev/fwcrash/internal/probe"
)

// Call records one method invocation on the fake.
type Call struct {
	Op   string
	Addr uint64
	Arg  string
}

// Session is a scriptable fake target. Registers and symbols are plain
// maps; the *Err fields force the matching operation to fail.
type Session struct {
	Disconnected bool

	Memory    map[uint64]byte
	Registers map[string]uint64
	Symbols   map[string]uint64

	WriteErr  error
	ReadErr   error
	ResumeErr error
	HaltErr   error
	// ResetErr maps a reset kind to the error it returns.
	ResetErr map[probe.ResetKind]error
	// RegisterErr maps a register name to the error it returns.
	RegisterErr map[string]error

	// OnResume runs after a successful Resume, letting tests model what
	// the firmware does during the dwell.
	OnResume func(s *Session)

	Calls  []Call
	Halted bool
}

// New returns a connected, halted fake with empty memory.
func New() *Session {
	return &Session{
		Memory:    make(map[uint64]byte),
		Registers: make(map[string]uint64),
		Symbols:   make(map[string]uint64),
		Halted:    true,
	}
}

var _ probe.Session = (*Session)(nil)

func (s *Session) record(op string, addr uint64, arg string) {
	s.Calls = append(s.Calls, Call{Op: op, Addr: addr, Arg: arg})
}

// Ops returns the operation names in call order.
func (s *Session) Ops() []string {
	ops := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		ops[i] = c.Op
	}
	return ops
}

func (s *Session) Connected() bool { return !s.Disconnected }

func (s *Session) WriteMemory(addr uint64, data []byte) error {
	s.record("write", addr, fmt.Sprintf("%d", len(data)))
	if s.WriteErr != nil {
		return fmt.Errorf("%w: %v", probe.ErrWriteFault, s.WriteErr)
	}
	for i, b := range data {
		s.Memory[addr+uint64(i)] = b
	}
	return nil
}

func (s *Session) ReadMemory(addr uint64, n int) ([]byte, error) {
	s.record("read", addr, fmt.Sprintf("%d", n))
	if s.ReadErr != nil {
		return nil, fmt.Errorf("%w: %v", probe.ErrReadFault, s.ReadErr)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = s.Memory[addr+uint64(i)]
	}
	return out, nil
}

func (s *Session) ReadRegister(name string) (uint64, error) {
	if s.Disconnected {
		return 0, probe.ErrNotConnected
	}
	if err, ok := s.RegisterErr[name]; ok {
		return 0, err
	}
	v, ok := s.Registers[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", probe.ErrUnreadable, name)
	}
	return v, nil
}

func (s *Session) ResolveSymbol(name string) (uint64, error) {
	addr, ok := s.Symbols[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", probe.ErrUnresolved, name)
	}
	return addr, nil
}

func (s *Session) Resume() error {
	s.record("resume", 0, "")
	if s.ResumeErr != nil {
		return s.ResumeErr
	}
	s.Halted = false
	if s.OnResume != nil {
		s.OnResume(s)
	}
	return nil
}

func (s *Session) Halt() error {
	s.record("halt", 0, "")
	if s.HaltErr != nil {
		return s.HaltErr
	}
	if s.Halted {
		return probe.ErrAlreadyHalted
	}
	s.Halted = true
	return nil
}

func (s *Session) Reset(kind probe.ResetKind) error {
	s.record("reset", 0, kind.String())
	if err, ok := s.ResetErr[kind]; ok {
		return err
	}
	return nil
}
