package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRAM   = Window{Base: 0x20000000, Top: 0x20010000}
	testFlash = Window{Base: 0x08000000, Top: 0x10000000}
)

func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	cfg, err := New(testRAM, opts...)
	require.NoError(t, err)
	return cfg
}

func TestWindow_Contains(t *testing.T) {
	assert.True(t, testRAM.Contains(0x20000000))
	assert.True(t, testRAM.Contains(0x2000FFFF))
	assert.False(t, testRAM.Contains(0x20010000), "top is exclusive")
	assert.False(t, testRAM.Contains(0x1FFFFFFF))
	assert.Equal(t, uint64(0x10000), testRAM.Size())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ram     Window
		opts    []Option
		wantErr string
	}{
		{name: "inverted ram", ram: Window{Base: 0x20010000, Top: 0x20000000}, wantErr: "invalid ram window"},
		{name: "empty ram", ram: Window{Base: 0x20000000, Top: 0x20000000}, wantErr: "invalid ram window"},
		{name: "bad exec window", ram: testRAM, opts: []Option{WithExecWindows(testFlash, Window{Base: 5, Top: 1})}, wantErr: "invalid exec[1] window"},
		{name: "zero width", ram: testRAM, opts: []Option{WithAddrBits(0)}, wantErr: "invalid address width"},
		{name: "too wide", ram: testRAM, opts: []Option{WithAddrBits(65)}, wantErr: "invalid address width"},
		{name: "duplicate handler", ram: testRAM, opts: []Option{WithHandlers("A", "A")}, wantErr: "duplicate handler"},
		{name: "empty handler", ram: testRAM, opts: []Option{WithHandlers("")}, wantErr: "empty handler"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ram, tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Accessors(t *testing.T) {
	cfg := newTestConfig(t,
		WithExecWindows(testFlash),
		WithInputAddr(0x20000100),
		WithHandlers("HardFault_Handler", "NMI_Handler"),
	)

	assert.Equal(t, testRAM, cfg.RAM())
	assert.Equal(t, []Window{testFlash}, cfg.ExecWindows())
	assert.Equal(t, uint64(0x20000100), cfg.InputAddr())
	assert.Equal(t, []string{"HardFault_Handler", "NMI_Handler"}, cfg.Handlers())
	assert.Equal(t, uint(DefaultAddrBits), cfg.AddrBits())
	assert.Equal(t, uint64(0xFFFFFFFF), cfg.MaxAddr())

	// Returned slices are copies.
	cfg.Handlers()[0] = "mutated"
	cfg.ExecWindows()[0] = Window{}
	assert.Equal(t, "HardFault_Handler", cfg.Handlers()[0])
	assert.Equal(t, testFlash, cfg.ExecWindows()[0])
}

func TestConfig_MaxAddr64(t *testing.T) {
	cfg := newTestConfig(t, WithAddrBits(64))
	assert.Equal(t, ^uint64(0), cfg.MaxAddr())
}

func TestConfig_Executable(t *testing.T) {
	cfg := newTestConfig(t, WithExecWindows(Window{Base: 0, Top: 0x100000}, testFlash))

	assert.True(t, cfg.Executable(0x20000400), "ram")
	assert.True(t, cfg.Executable(0x00000400), "boot rom")
	assert.True(t, cfg.Executable(0x08000200), "flash")
	assert.False(t, cfg.Executable(0x41414141))
	assert.False(t, cfg.Executable(0x10000000))
}

func TestConfig_StackWindow(t *testing.T) {
	cfg := newTestConfig(t)

	t.Run("centred", func(t *testing.T) {
		start, n, ok := cfg.StackWindow(0x20008000, 256)
		require.True(t, ok)
		assert.Equal(t, uint64(0x20008000-128), start)
		assert.Equal(t, 256, n)
	})

	t.Run("clamped at ram base", func(t *testing.T) {
		start, n, ok := cfg.StackWindow(0x20000010, 256)
		require.True(t, ok)
		assert.Equal(t, testRAM.Base, start)
		assert.Equal(t, 256, n)
	})

	t.Run("clamped at ram top", func(t *testing.T) {
		start, n, ok := cfg.StackWindow(0x2000FFF0, 256)
		require.True(t, ok)
		assert.Equal(t, uint64(0x2000FFF0-128), start)
		assert.Equal(t, int(testRAM.Top-start), n)
	})

	t.Run("sp outside ram", func(t *testing.T) {
		_, _, ok := cfg.StackWindow(0x10000000, 256)
		assert.False(t, ok)
	})

	t.Run("non-positive width", func(t *testing.T) {
		_, _, ok := cfg.StackWindow(0x20008000, 0)
		assert.False(t, ok)
	})
}

func TestConfig_StackWindowClampLaw(t *testing.T) {
	cfg := newTestConfig(t)
	ram := cfg.RAM()

	for _, width := range []int{1, 2, 3, 64, 255, 256, 4096, 0x20000} {
		for _, sp := range []uint64{ram.Base, ram.Base + 1, ram.Base + 0x80, 0x20008000, ram.Top - 1} {
			start, n, ok := cfg.StackWindow(sp, width)
			require.True(t, ok)
			assert.GreaterOrEqual(t, start, ram.Base, "sp=0x%x width=%d", sp, width)
			assert.LessOrEqual(t, start+uint64(n), ram.Top, "sp=0x%x width=%d", sp, width)
			if start+uint64(width) <= ram.Top {
				assert.Equal(t, width, n, "sp=0x%x width=%d", sp, width)
			}
		}
	}
}
