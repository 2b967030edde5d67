package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileManager(t *testing.T) {
	t.Run("should initialize with empty state", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := NewFileManager(tmpDir)

		if err := manager.Load(); err != nil {
			t.Fatalf("failed to load: %v", err)
		}

		state := manager.GetState()
		if state.Iterations != 0 {
			t.Errorf("expected 0 iterations, got %d", state.Iterations)
		}
		if state.Reasons == nil {
			t.Error("expected reasons map to be initialized")
		}
	})

	t.Run("should count outcomes", func(t *testing.T) {
		manager := NewFileManager(t.TempDir())
		_ = manager.Load()

		manager.RecordCrash("a", "sp_outside_ram", "/out/crash_1")
		manager.RecordCrash("b", "sp_outside_ram", "/out/crash_2")
		manager.RecordNoCrash("c")
		manager.RecordInconclusive("d")

		state := manager.GetState()
		if state.Iterations != 4 {
			t.Errorf("expected 4 iterations, got %d", state.Iterations)
		}
		if state.Crashes != 2 || state.NoCrash != 1 || state.Inconclusive != 1 {
			t.Errorf("unexpected counters: %+v", state)
		}
		if state.Reasons["sp_outside_ram"] != 2 {
			t.Errorf("expected 2 sp_outside_ram, got %d", state.Reasons["sp_outside_ram"])
		}
		if state.LastSeed != "d" || state.LastBundle != "/out/crash_2" {
			t.Errorf("unexpected last seed/bundle: %q %q", state.LastSeed, state.LastBundle)
		}
	})

	t.Run("should return a copy", func(t *testing.T) {
		manager := NewFileManager(t.TempDir())
		manager.RecordCrash("a", "cannot_read_pc", "/out/crash_1")

		state := manager.GetState()
		state.Reasons["cannot_read_pc"] = 99

		if got := manager.GetState().Reasons["cannot_read_pc"]; got != 1 {
			t.Errorf("internal state mutated through copy: %d", got)
		}
	})

	t.Run("should save and load state", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := NewFileManager(tmpDir)
		_ = manager.Load()
		manager.RecordCrash("seed_crash", "entered_handler:HardFault_Handler", "/out/crash_1")
		manager.RecordNoCrash("seed_ok")

		if err := manager.Save(); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		if _, err := os.Stat(filepath.Join(tmpDir, StateFileName)); err != nil {
			t.Fatalf("state file not created: %v", err)
		}

		reloaded := NewFileManager(tmpDir)
		if err := reloaded.Load(); err != nil {
			t.Fatalf("failed to reload: %v", err)
		}
		state := reloaded.GetState()
		if state.Iterations != 2 || state.Crashes != 1 {
			t.Errorf("unexpected reloaded state: %+v", state)
		}
		if state.Reasons["entered_handler:HardFault_Handler"] != 1 {
			t.Errorf("reason counts not persisted: %+v", state.Reasons)
		}
	})

	t.Run("should reject corrupted state", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, StateFileName), []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := NewFileManager(tmpDir).Load(); err == nil {
			t.Error("expected error for corrupted state file")
		}
	})
}
