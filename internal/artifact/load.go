package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Bundle is a crash bundle read back from disk. Missing optional files
// leave the matching field empty.
type Bundle struct {
	Dir       string
	Key       Key
	Meta      Meta
	Input     []byte
	Registers string
	Memory    []byte
}

// Load reads the bundle stored in dir.
func Load(fs afero.Fs, dir string) (*Bundle, error) {
	key, err := ParseName(filepath.Base(dir))
	if err != nil {
		return nil, err
	}
	b := &Bundle{Dir: dir, Key: key}

	metaBytes, err := afero.ReadFile(fs, filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(metaBytes, &b.Meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if b.Input, err = readOptional(fs, filepath.Join(dir, SeedFile)); err != nil {
		return nil, err
	}
	regs, err := readOptional(fs, filepath.Join(dir, RegistersFile))
	if err != nil {
		return nil, err
	}
	b.Registers = string(regs)
	if b.Memory, err = readOptional(fs, filepath.Join(dir, MemoryFile)); err != nil {
		return nil, err
	}
	return b, nil
}

func readOptional(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
