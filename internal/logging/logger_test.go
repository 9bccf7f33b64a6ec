package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize(""); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

func TestProductionModeIsSilent(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	// No config file means production mode: no logs directory.
	Broker("this should go nowhere")
	if _, err := os.Stat(filepath.Join(ws, ".mecha", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestDebugModeWritesCategoryFiles(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".mecha")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "logging:\n  debug_mode: true\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Broker("routing request model=%s", "claude-sonnet")
	BrokerDebug("detail")

	entries, err := os.ReadDir(filepath.Join(ws, ".mecha", "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	if !found {
		t.Error("expected at least one log file in debug mode")
	}
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".mecha")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "logging:\n  debug_mode: true\n  level: info\n  categories:\n    provider: false\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryProvider) {
		t.Error("provider category should be disabled")
	}
	if !IsCategoryEnabled(CategoryBroker) {
		t.Error("broker category should default to enabled")
	}
}
