package oracle

import (
	"fmt"
	"strings"
)

// Well-known register names every snapshot is expected to carry.
const (
	RegPC = "pc"
	RegSP = "sp"
)

// Register is a single sampled register. Readable is false when the probe
// could not report a value; Value is meaningless in that case.
type Register struct {
	Name     string
	Value    uint64
	Readable bool
}

// String formats the register the way registers.txt stores it.
func (r Register) String() string {
	if !r.Readable {
		return fmt.Sprintf("%s: unreadable", r.Name)
	}
	return fmt.Sprintf("%s: 0x%x", r.Name, r.Value)
}

// Snapshot is the machine state sampled at one instant. It is immutable
// once built: callers only get copies of the register list.
type Snapshot struct {
	regs []Register
}

// NewSnapshot builds a snapshot from registers in sampling order. Later
// duplicates of a name are ignored.
func NewSnapshot(regs ...Register) Snapshot {
	seen := make(map[string]bool, len(regs))
	out := make([]Register, 0, len(regs))
	for _, r := range regs {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return Snapshot{regs: out}
}

// Get returns the value of the named register and whether it was readable.
// A register that was never sampled is reported as unreadable.
func (s Snapshot) Get(name string) (uint64, bool) {
	for _, r := range s.regs {
		if r.Name == name {
			return r.Value, r.Readable
		}
	}
	return 0, false
}

// Registers returns a copy of the sampled registers in order.
func (s Snapshot) Registers() []Register {
	out := make([]Register, len(s.regs))
	copy(out, s.regs)
	return out
}

// Map returns the registers keyed by name, with nil for unreadable ones.
func (s Snapshot) Map() map[string]*uint64 {
	m := make(map[string]*uint64, len(s.regs))
	for _, r := range s.regs {
		if !r.Readable {
			m[r.Name] = nil
			continue
		}
		v := r.Value
		m[r.Name] = &v
	}
	return m
}

// Dump renders the snapshot as one "name: value" line per register.
func (s Snapshot) Dump() string {
	var b strings.Builder
	for _, r := range s.regs {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Symbols holds the handler addresses resolved for one iteration.
// Names that failed to resolve are simply absent.
type Symbols map[string]uint64
