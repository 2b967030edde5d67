package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/fwcrash/internal/region"
	"github.com/zjy-dev/fwcrash/internal/symbols"
)

// setupTestConfigs creates a temporary directory structure for testing.
// It returns the temporary "configs" directory and a cleanup function.
func setupTestConfigs(t *testing.T) (string, func()) {
	configDir, err := os.MkdirTemp("", "config_test_")
	require.NoError(t, err)

	// Viper requires a "configs" subdirectory to be present.
	actualConfigPath := filepath.Join(configDir, "configs")
	require.NoError(t, os.Mkdir(actualConfigPath, 0755))

	// Change working directory to the parent of "configs"
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(configDir))

	cleanup := func() {
		os.Chdir(oldWd)
		os.RemoveAll(configDir)
	}

	return actualConfigPath, cleanup
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	_, cleanup := setupTestConfigs(t)
	defer cleanup()

	cfg, err := LoadConfig()
	require.NoError(t, err, "a missing config file falls back to defaults")

	assert.Equal(t, "localhost:1234", cfg.Target.GDBAddr)
	assert.Equal(t, "system_reset", cfg.Target.PrimaryReset)
	assert.Equal(t, "reset", cfg.Target.SecondaryReset)
	assert.Equal(t, 50*time.Millisecond, cfg.Run.Dwell)
	assert.Equal(t, 256, cfg.Run.MemWindow)
	assert.Equal(t, "outputs/crashes", cfg.Run.OutputDir)
	assert.Equal(t, []string{"HardFault_Handler", "NMI_Handler", "Reset_Handler"}, cfg.Regions.Handlers)
	assert.Equal(t, "lm3s6965evb", cfg.Target.QEMU.Machine)
	assert.False(t, cfg.Target.QEMU.Enabled)

	regions, err := cfg.RegionConfig()
	require.NoError(t, err)
	assert.Equal(t, region.Window{Base: 0x20000000, Top: 0x20010000}, regions.RAM())
	assert.Equal(t, []region.Window{
		{Base: 0x00000000, Top: 0x00100000},
		{Base: 0x08000000, Top: 0x10000000},
	}, regions.ExecWindows())
	assert.Equal(t, uint64(0x20000100), regions.InputAddr())
}

func TestLoadConfig_FromFile(t *testing.T) {
	configPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	writeConfig(t, configPath, "fwcrash.yaml", `
config:
  target:
    gdb_addr: "localhost:3333"
    elf: "build/target.elf"
    qemu:
      enabled: true
      machine: "mps2-an385"
  regions:
    ram: { base: "0x20000000", top: "0x20040000" }
    exec:
      - { base: "0x00000000", top: "0x00400000" }
    input_addr: 0x20000200
    handlers: [HardFault_Handler, MemManage_Handler]
    symbols:
      - { name: HardFault_Handler, addr: "0x00000401" }
  run:
    dwell: 120ms
    mem_window: 512
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost:3333", cfg.Target.GDBAddr)
	assert.Equal(t, "build/target.elf", cfg.Target.ELF)
	assert.True(t, cfg.Target.QEMU.Enabled)
	assert.Equal(t, "mps2-an385", cfg.Target.QEMU.Machine)
	assert.Equal(t, "qemu-system-arm", cfg.Target.QEMU.QEMUPath, "unset keys keep their defaults")
	assert.Equal(t, 120*time.Millisecond, cfg.Run.Dwell)
	assert.Equal(t, 512, cfg.Run.MemWindow)

	regions, err := cfg.RegionConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20040000), regions.RAM().Top)
	assert.Len(t, regions.ExecWindows(), 1)
	assert.Equal(t, uint64(0x20000200), regions.InputAddr(), "unquoted hex is accepted")
	assert.Equal(t, []string{"HardFault_Handler", "MemManage_Handler"}, regions.Handlers())

	syms, err := cfg.StaticSymbols()
	require.NoError(t, err)
	assert.Equal(t, symbols.Static{"HardFault_Handler": 0x401}, syms, "symbol names keep their case")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	_, cleanup := setupTestConfigs(t)
	defer cleanup()

	t.Setenv("FWCRASH_CONFIG_RUN_DWELL", "250ms")
	t.Setenv("FWCRASH_CONFIG_TARGET_GDB_ADDR", "10.0.0.2:3333")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Run.Dwell)
	assert.Equal(t, "10.0.0.2:3333", cfg.Target.GDBAddr)
}

func TestLoadConfig_Malformed(t *testing.T) {
	configPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	writeConfig(t, configPath, "fwcrash.yaml", "config: test\n  run: oops")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "custom.yaml", `
config:
  run:
    output_dir: /tmp/crashes
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/crashes", cfg.Run.OutputDir)
	assert.Equal(t, 50*time.Millisecond, cfg.Run.Dwell)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Generic(t *testing.T) {
	configPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	writeConfig(t, configPath, "run.yaml", `
config:
  dwell: 75ms
  mem_window: 128
`)

	var run RunConfig
	require.NoError(t, Load("run", &run))
	assert.Equal(t, 75*time.Millisecond, run.Dwell)
	assert.Equal(t, 128, run.MemWindow)

	err := Load("non_existent_config", &run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestRegionConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "bad ram base", mutate: func(c *Config) { c.Regions.RAM.Base = "zzz" }},
		{name: "bad exec top", mutate: func(c *Config) { c.Regions.Exec[0].Top = "" }},
		{name: "bad input", mutate: func(c *Config) { c.Regions.InputAddr = "-1" }},
		{name: "inverted ram", mutate: func(c *Config) { c.Regions.RAM.Top = "0x10000000" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cleanup := setupTestConfigs(t)
			defer cleanup()

			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)
			_, err = cfg.RegionConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseAddr(t *testing.T) {
	for in, want := range map[string]uint64{
		"0x20000000": 0x20000000,
		"536870912":  0x20000000,
		" 0x100 ":    0x100,
		"0xFFFFFFFF": 0xFFFFFFFF,
	} {
		got, err := ParseAddr(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "flash", "-5"} {
		_, err := ParseAddr(in)
		assert.Error(t, err, in)
	}
}
