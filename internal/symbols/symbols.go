// Package symbols resolves handler names to addresses for a firmware image.
package symbols

import (
	"debug/elf"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zjy-dev/fwcrash/internal/exec"
	"github.com/zjy-dev/fwcrash/internal/probe"
)

// Resolver maps a symbol name to its address. Unknown names return an
// error wrapping probe.ErrUnresolved.
type Resolver interface {
	Resolve(name string) (uint64, error)
}

func unresolved(name string) error {
	return fmt.Errorf("%w: %s", probe.ErrUnresolved, name)
}

// Static resolves from a fixed table, typically addresses given in config.
type Static map[string]uint64

func (s Static) Resolve(name string) (uint64, error) {
	if addr, ok := s[name]; ok {
		return addr, nil
	}
	return 0, unresolved(name)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Resolve(name string) (uint64, error) {
	for _, r := range c {
		if addr, err := r.Resolve(name); err == nil {
			return addr, nil
		}
	}
	return 0, unresolved(name)
}

// thumb clears bit 0, which ELF sets on Thumb function symbols but the
// core never reports in PC.
type thumb struct{ r Resolver }

// ClearThumbBit wraps r so every resolved address has bit 0 cleared.
func ClearThumbBit(r Resolver) Resolver {
	return thumb{r: r}
}

func (t thumb) Resolve(name string) (uint64, error) {
	addr, err := t.r.Resolve(name)
	if err != nil {
		return 0, err
	}
	return addr &^ 1, nil
}

// table is a lazily loaded name -> address map. Load failures are
// remembered so a missing image is only reported once.
type table struct {
	once sync.Once
	syms map[string]uint64
	err  error
	load func() (map[string]uint64, error)
}

func (t *table) Resolve(name string) (uint64, error) {
	t.once.Do(func() { t.syms, t.err = t.load() })
	if t.err != nil {
		return 0, fmt.Errorf("%w: %s: %v", probe.ErrUnresolved, name, t.err)
	}
	if addr, ok := t.syms[name]; ok {
		return addr, nil
	}
	return 0, unresolved(name)
}

// NewELFResolver reads the symbol table of an ELF image on first use.
func NewELFResolver(path string) Resolver {
	return &table{load: func() (map[string]uint64, error) {
		f, err := elf.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ELF %s: %w", path, err)
		}
		defer f.Close()

		syms, err := f.Symbols()
		if err != nil {
			return nil, fmt.Errorf("failed to read symbols from %s: %w", path, err)
		}
		out := make(map[string]uint64, len(syms))
		for _, s := range syms {
			if s.Name == "" || s.Section == elf.SHN_UNDEF {
				continue
			}
			if _, dup := out[s.Name]; !dup {
				out[s.Name] = s.Value
			}
		}
		return out, nil
	}}
}

// NewNMResolver resolves symbols by running an nm-compatible tool
// (e.g. arm-none-eabi-nm) over the image on first use.
func NewNMResolver(executor exec.Executor, nmPath, image string) Resolver {
	return &table{load: func() (map[string]uint64, error) {
		res, err := executor.Run(nmPath, image)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", nmPath, err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("%s exited with %d: %s", nmPath, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return parseNM(res.Stdout), nil
	}}
}

// parseNM reads "address type name" lines. Undefined symbols have no
// address column and are skipped.
func parseNM(out string) map[string]uint64 {
	syms := make(map[string]uint64)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		if _, dup := syms[fields[2]]; !dup {
			syms[fields[2]] = addr
		}
	}
	return syms
}
