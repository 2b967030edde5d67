// Package region describes the address layout of a bare-metal target:
// where RAM lives, where code may legitimately execute from, where the
// harness expects its input, and which symbols count as fault entry points.
package region

import (
	"fmt"
)

// DefaultAddrBits is the address width of the 32-bit microcontrollers
// this tool is normally pointed at.
const DefaultAddrBits = 32

// Window is a half-open address range [Base, Top).
type Window struct {
	Base uint64
	Top  uint64
}

// Contains reports whether addr lies inside the window.
func (w Window) Contains(addr uint64) bool {
	return addr >= w.Base && addr < w.Top
}

// Size returns the number of addressable bytes in the window.
func (w Window) Size() uint64 {
	return w.Top - w.Base
}

func (w Window) String() string {
	return fmt.Sprintf("[0x%08x, 0x%08x)", w.Base, w.Top)
}

func (w Window) validate(what string) error {
	if w.Base >= w.Top {
		return fmt.Errorf("invalid %s window %s: base must be below top", what, w)
	}
	return nil
}

// Config is the immutable region description shared by the oracle and the
// runner. Build one with New; the zero value is not usable.
type Config struct {
	ram       Window
	exec      []Window
	inputAddr uint64
	handlers  []string
	addrBits  uint
}

// Option customises a Config during construction.
type Option func(*Config)

// WithExecWindows adds known-execution windows (e.g. flash) in order.
func WithExecWindows(ws ...Window) Option {
	return func(c *Config) {
		c.exec = append(c.exec, ws...)
	}
}

// WithInputAddr sets the default input buffer address.
func WithInputAddr(addr uint64) Option {
	return func(c *Config) {
		c.inputAddr = addr
	}
}

// WithHandlers sets the ordered list of handler symbol names.
func WithHandlers(names ...string) Option {
	return func(c *Config) {
		c.handlers = append(c.handlers, names...)
	}
}

// WithAddrBits sets the target's address width.
func WithAddrBits(bits uint) Option {
	return func(c *Config) {
		c.addrBits = bits
	}
}

// New validates and builds a Config.
func New(ram Window, opts ...Option) (*Config, error) {
	c := &Config{
		ram:      ram,
		addrBits: DefaultAddrBits,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.ram.validate("ram"); err != nil {
		return nil, err
	}
	for i, w := range c.exec {
		if err := w.validate(fmt.Sprintf("exec[%d]", i)); err != nil {
			return nil, err
		}
	}
	if c.addrBits == 0 || c.addrBits > 64 {
		return nil, fmt.Errorf("invalid address width %d: must be between 1 and 64", c.addrBits)
	}
	seen := make(map[string]bool, len(c.handlers))
	for _, h := range c.handlers {
		if h == "" {
			return nil, fmt.Errorf("empty handler symbol name")
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate handler symbol %q", h)
		}
		seen[h] = true
	}
	return c, nil
}

// RAM returns the RAM window.
func (c *Config) RAM() Window { return c.ram }

// ExecWindows returns a copy of the known-execution windows.
func (c *Config) ExecWindows() []Window {
	out := make([]Window, len(c.exec))
	copy(out, c.exec)
	return out
}

// InputAddr returns the default input buffer address.
func (c *Config) InputAddr() uint64 { return c.inputAddr }

// Handlers returns a copy of the handler symbol names in configured order.
func (c *Config) Handlers() []string {
	out := make([]string, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// AddrBits returns the address width.
func (c *Config) AddrBits() uint { return c.addrBits }

// MaxAddr is the highest representable address for the configured width.
func (c *Config) MaxAddr() uint64 {
	if c.addrBits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<c.addrBits - 1
}

// InRAM reports whether addr is inside the RAM window.
func (c *Config) InRAM(addr uint64) bool {
	return c.ram.Contains(addr)
}

// Executable reports whether addr is inside RAM or any known-execution window.
func (c *Config) Executable(addr uint64) bool {
	if c.ram.Contains(addr) {
		return true
	}
	for _, w := range c.exec {
		if w.Contains(addr) {
			return true
		}
	}
	return false
}

// StackWindow returns the memory window of the given width centred on sp,
// clamped so it never starts below RAM base nor extends past RAM top.
// ok is false when sp is outside RAM or width is not positive.
func (c *Config) StackWindow(sp uint64, width int) (start uint64, length int, ok bool) {
	if width <= 0 || !c.ram.Contains(sp) {
		return 0, 0, false
	}
	half := uint64(width / 2)
	start = c.ram.Base
	if sp-c.ram.Base > half {
		start = sp - half
	}
	length = width
	if avail := c.ram.Top - start; uint64(length) > avail {
		length = int(avail)
	}
	return start, length, true
}
