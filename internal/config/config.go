// Package config loads fwcrash settings from YAML via viper. Every value
// has a default matching a Cortex-M3 target under QEMU, so an empty or
// missing config file still yields a runnable setup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/zjy-dev/fwcrash/internal/region"
	"github.com/zjy-dev/fwcrash/internal/symbols"
	"github.com/zjy-dev/fwcrash/internal/vm"
)

// DefaultConfigName is the base name of the config file under configs/.
const DefaultConfigName = "fwcrash"

// EnvPrefix prefixes environment overrides, e.g. FWCRASH_CONFIG_RUN_DWELL=100ms.
const EnvPrefix = "FWCRASH"

// WindowConfig is an address window with addresses written as strings,
// so both "0x20000000" and 536870912 are accepted.
type WindowConfig struct {
	Base string `mapstructure:"base"`
	Top  string `mapstructure:"top"`
}

// QEMUConfig optionally launches the target under QEMU.
type QEMUConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	vm.QEMUConfig `mapstructure:",squash"`
}

// TargetConfig describes how to reach the target.
type TargetConfig struct {
	GDBAddr        string        `mapstructure:"gdb_addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ELF            string        `mapstructure:"elf"`
	NM             string        `mapstructure:"nm"`
	PrimaryReset   string        `mapstructure:"primary_reset"`
	SecondaryReset string        `mapstructure:"secondary_reset"`
	QEMU           QEMUConfig    `mapstructure:"qemu"`
}

// RegionsConfig is the on-disk form of region.Config.
type RegionsConfig struct {
	RAM          WindowConfig   `mapstructure:"ram"`
	Exec         []WindowConfig `mapstructure:"exec"`
	InputAddr    string         `mapstructure:"input_addr"`
	Handlers     []string       `mapstructure:"handlers"`
	AddrBits     uint           `mapstructure:"addr_bits"`
	ThumbSymbols bool           `mapstructure:"thumb_symbols"`
	Symbols      []SymbolConfig `mapstructure:"symbols"`
}

// SymbolConfig pins a handler to a fixed address, for images without a
// symbol table. It is a list rather than a map because viper lowercases
// map keys.
type SymbolConfig struct {
	Name string `mapstructure:"name"`
	Addr string `mapstructure:"addr"`
}

// RunConfig tunes each iteration.
type RunConfig struct {
	Dwell            time.Duration `mapstructure:"dwell"`
	MemWindow        int           `mapstructure:"mem_window"`
	Registers        []string      `mapstructure:"registers"`
	OutputDir        string        `mapstructure:"output_dir"`
	IterationTimeout time.Duration `mapstructure:"iteration_timeout"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// Config is the full tool configuration, read from the top-level
// "config" key of the YAML file.
type Config struct {
	Target  TargetConfig  `mapstructure:"target"`
	Regions RegionsConfig `mapstructure:"regions"`
	Run     RunConfig     `mapstructure:"run"`
	Log     LogConfig     `mapstructure:"log"`
}

type document struct {
	Config Config `mapstructure:"config"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config.target.gdb_addr", "localhost:1234")
	v.SetDefault("config.target.timeout", 5*time.Second)
	v.SetDefault("config.target.elf", "")
	v.SetDefault("config.target.nm", "")
	v.SetDefault("config.target.primary_reset", "system_reset")
	v.SetDefault("config.target.secondary_reset", "reset")
	v.SetDefault("config.target.qemu.enabled", false)
	v.SetDefault("config.target.qemu.path", "qemu-system-arm")
	v.SetDefault("config.target.qemu.machine", "lm3s6965evb")
	v.SetDefault("config.target.qemu.gdb_port", 1234)
	v.SetDefault("config.target.qemu.semihosting", true)

	v.SetDefault("config.regions.ram.base", "0x20000000")
	v.SetDefault("config.regions.ram.top", "0x20010000")
	v.SetDefault("config.regions.exec", []map[string]interface{}{
		{"base": "0x00000000", "top": "0x00100000"},
		{"base": "0x08000000", "top": "0x10000000"},
	})
	v.SetDefault("config.regions.input_addr", "0x20000100")
	v.SetDefault("config.regions.handlers", []string{"HardFault_Handler", "NMI_Handler", "Reset_Handler"})
	v.SetDefault("config.regions.addr_bits", region.DefaultAddrBits)
	v.SetDefault("config.regions.thumb_symbols", true)

	v.SetDefault("config.run.dwell", 50*time.Millisecond)
	v.SetDefault("config.run.mem_window", 256)
	v.SetDefault("config.run.registers", []string{
		"pc", "sp", "lr", "r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12",
	})
	v.SetDefault("config.run.output_dir", "outputs/crashes")
	v.SetDefault("config.run.iteration_timeout", 10*time.Second)

	v.SetDefault("config.log.level", "info")
	v.SetDefault("config.log.dir", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath("configs")       // configs/ under the working directory
	v.AddConfigPath("../configs")    // go test runs inside the package directory
	v.AddConfigPath("../../configs") // nested packages
}

// Load reads configs/<configName>.yaml into result, unwrapping the
// top-level "config" key. No defaults are applied.
func Load(configName string, result interface{}) error {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	addSearchPaths(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	sub := v.Sub("config")
	if sub == nil {
		sub = v
	}
	if err := sub.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}

// LoadConfig reads configs/fwcrash.yaml if present, on top of the
// built-in defaults and under FWCRASH_* environment overrides.
func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetConfigName(DefaultConfigName)
	addSearchPaths(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFile reads an explicit config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	return &doc.Config, nil
}

// ParseAddr parses an address given in decimal or with a 0x/0o/0b prefix.
func ParseAddr(s string) (uint64, error) {
	addr, err := cast.ToUint64E(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

func (w WindowConfig) window(what string) (region.Window, error) {
	base, err := ParseAddr(w.Base)
	if err != nil {
		return region.Window{}, fmt.Errorf("%s base: %w", what, err)
	}
	top, err := ParseAddr(w.Top)
	if err != nil {
		return region.Window{}, fmt.Errorf("%s top: %w", what, err)
	}
	return region.Window{Base: base, Top: top}, nil
}

// RegionConfig builds the immutable region description.
func (c *Config) RegionConfig() (*region.Config, error) {
	ram, err := c.Regions.RAM.window("ram")
	if err != nil {
		return nil, err
	}

	execs := make([]region.Window, 0, len(c.Regions.Exec))
	for i, wc := range c.Regions.Exec {
		w, err := wc.window(fmt.Sprintf("exec[%d]", i))
		if err != nil {
			return nil, err
		}
		execs = append(execs, w)
	}

	input, err := ParseAddr(c.Regions.InputAddr)
	if err != nil {
		return nil, fmt.Errorf("input_addr: %w", err)
	}

	bits := c.Regions.AddrBits
	if bits == 0 {
		bits = region.DefaultAddrBits
	}

	return region.New(ram,
		region.WithExecWindows(execs...),
		region.WithInputAddr(input),
		region.WithHandlers(c.Regions.Handlers...),
		region.WithAddrBits(bits),
	)
}

// StaticSymbols returns the handler addresses given directly in config.
func (c *Config) StaticSymbols() (symbols.Static, error) {
	out := make(symbols.Static, len(c.Regions.Symbols))
	for _, sc := range c.Regions.Symbols {
		addr, err := ParseAddr(sc.Addr)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sc.Name, err)
		}
		out[sc.Name] = addr
	}
	return out, nil
}
