// Package state keeps the running statistics of a batch campaign so an
// interrupted run can be inspected or resumed.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// StateFileName is the name of the campaign state file.
	StateFileName = "campaign_state.json"
)

// CampaignState is the persistent summary of a batch campaign.
type CampaignState struct {
	Iterations   uint64            `json:"iterations"`
	Crashes      uint64            `json:"crashes"`
	NoCrash      uint64            `json:"no_crash"`
	Inconclusive uint64            `json:"inconclusive"`
	Reasons      map[string]uint64 `json:"reasons"`
	LastSeed     string            `json:"last_seed"`
	LastBundle   string            `json:"last_bundle,omitempty"`
}

// Manager handles the persistence and modification of campaign state.
type Manager interface {
	// Load reads the state from disk.
	Load() error
	// Save writes the state to disk.
	Save() error
	// RecordCrash counts a crashing seed and the bundle it produced.
	RecordCrash(seed, reason, bundle string)
	// RecordNoCrash counts a seed that left the target healthy.
	RecordNoCrash(seed string)
	// RecordInconclusive counts a seed whose iteration failed.
	RecordInconclusive(seed string)
	// GetState returns a copy of the current state.
	GetState() CampaignState
}

// FileManager is a file-backed implementation of the Manager interface.
type FileManager struct {
	mu       sync.Mutex
	filePath string
	state    CampaignState
}

// NewFileManager creates a new FileManager for the given directory.
// The state file will be stored at dir/campaign_state.json.
func NewFileManager(dir string) *FileManager {
	return &FileManager{
		filePath: filepath.Join(dir, StateFileName),
		state:    CampaignState{Reasons: make(map[string]uint64)},
	}
}

// Load reads the state from disk. A missing file starts a fresh campaign.
func (m *FileManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = CampaignState{Reasons: make(map[string]uint64)}
			return nil
		}
		return fmt.Errorf("failed to read state file %s: %w", m.filePath, err)
	}

	var loaded CampaignState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", m.filePath, err)
	}
	if loaded.Reasons == nil {
		loaded.Reasons = make(map[string]uint64)
	}
	m.state = loaded
	return nil
}

// Save writes the state to disk.
func (m *FileManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.filePath, err)
	}

	return nil
}

func (m *FileManager) RecordCrash(seed, reason, bundle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Iterations++
	m.state.Crashes++
	m.state.Reasons[reason]++
	m.state.LastSeed = seed
	m.state.LastBundle = bundle
}

func (m *FileManager) RecordNoCrash(seed string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Iterations++
	m.state.NoCrash++
	m.state.LastSeed = seed
}

func (m *FileManager) RecordInconclusive(seed string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Iterations++
	m.state.Inconclusive++
	m.state.LastSeed = seed
}

// GetState returns a copy of the current state.
func (m *FileManager) GetState() CampaignState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.state
	cp.Reasons = make(map[string]uint64, len(m.state.Reasons))
	for k, v := range m.state.Reasons {
		cp.Reasons[k] = v
	}
	return cp
}

// GetFilePath returns the path to the state file.
func (m *FileManager) GetFilePath() string {
	return m.filePath
}
