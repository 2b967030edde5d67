// Package artifact persists crash bundles: a copy of the input, a JSON
// metadata record, a readable register dump and the memory around SP.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/zjy-dev/fwcrash/internal/logger"
	"github.com/zjy-dev/fwcrash/internal/oracle"
)

// Bundle file names.
const (
	SeedFile      = "seed.bin"
	MetaFile      = "meta.json"
	RegistersFile = "registers.txt"
	MemoryFile    = "mem_around_sp.bin"
)

// maxKeyAttempts bounds how often Save regenerates a key that already exists.
const maxKeyAttempts = 8

// MemoryWindow is a raw memory capture and the address it starts at.
type MemoryWindow struct {
	Start uint64
	Data  []byte
}

// Report is everything known about one crashing iteration.
type Report struct {
	Verdict   oracle.Verdict
	Snapshot  oracle.Snapshot
	Input     []byte
	InputAddr uint64
	Memory    *MemoryWindow
	Time      time.Time
}

// Meta is the structured record written to meta.json.
type Meta struct {
	Timestamp string             `json:"timestamp"`
	Reason    oracle.Reason      `json:"reason"`
	Regs      map[string]*uint64 `json:"regs"`
	InputAddr uint64             `json:"input_addr"`
	InputSize int                `json:"input_size"`
	MemStart  *uint64            `json:"mem_start,omitempty"`
	MemSize   int                `json:"mem_size,omitempty"`
}

// Store writes bundles under a shared output root. Several stores, in one
// process or many, may share a root: keys never collide and no store ever
// touches a bundle it did not create.
type Store struct {
	fs   afero.Fs
	root string
	pid  int
	seq  atomic.Uint64

	now   func() time.Time
	newID func() string
}

// NewStore creates a Store rooted at root on fs.
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{
		fs:    fs,
		root:  root,
		pid:   os.Getpid(),
		now:   time.Now,
		newID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// Root returns the output root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) nextKey(t time.Time) Key {
	return Key{
		Time: t,
		PID:  s.pid,
		Seq:  s.seq.Add(1),
		ID:   s.newID(),
	}
}

// create makes a fresh bundle directory. Mkdir is not recursive, so an
// existing directory is reported instead of silently reused.
func (s *Store) create(t time.Time) (string, error) {
	if err := s.fs.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create output root %s: %w", s.root, err)
	}
	for i := 0; i < maxKeyAttempts; i++ {
		dir := filepath.Join(s.root, s.nextKey(t).Name())
		err := s.fs.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create bundle directory %s: %w", dir, err)
		}
		logger.Debug("bundle %s already exists, regenerating key", dir)
	}
	return "", fmt.Errorf("failed to allocate a unique bundle under %s after %d attempts", s.root, maxKeyAttempts)
}

// Save writes r as a new bundle and returns its directory. A failing
// individual file is logged and skipped; only failing to create the
// bundle directory itself is an error.
func (s *Store) Save(r *Report) (string, error) {
	t := r.Time
	if t.IsZero() {
		t = s.now()
	}
	dir, err := s.create(t)
	if err != nil {
		return "", err
	}

	var errs error
	write := func(name string, data []byte) {
		path := filepath.Join(dir, name)
		if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to write %s: %w", path, err))
		}
	}

	write(SeedFile, r.Input)

	meta := Meta{
		Timestamp: t.UTC().Format(timestampLayout),
		Reason:    r.Verdict.Reason,
		Regs:      r.Snapshot.Map(),
		InputAddr: r.InputAddr,
		InputSize: len(r.Input),
	}
	if r.Memory != nil {
		start := r.Memory.Start
		meta.MemStart = &start
		meta.MemSize = len(r.Memory.Data)
	}
	if data, err := json.MarshalIndent(meta, "", "  "); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to marshal metadata: %w", err))
	} else {
		write(MetaFile, data)
	}

	write(RegistersFile, []byte(r.Snapshot.Dump()))

	if r.Memory != nil {
		write(MemoryFile, r.Memory.Data)
	}

	for _, e := range multierr.Errors(errs) {
		logger.Warn("crash bundle %s is incomplete: %v", dir, e)
	}
	logger.Info("saved crash report to %s", dir)
	return dir, nil
}
