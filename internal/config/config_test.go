package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
log.level debug
cbf.gain 2.5

[run]
control.period 10ms
steps 500

[report]
run 5d1e`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.HasWarnings() {
		t.Fatalf("unexpected warnings: %v", config.Warnings)
	}

	if value, ok := config.GetGlobalOption("log.level"); !ok || value != "debug" {
		t.Errorf("Expected log.level=debug, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("run", "control.period"); !ok || value != "10ms" {
		t.Errorf("Expected run control.period=10ms, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("run", "cbf.gain"); !ok || value != "2.5" {
		t.Errorf("Expected run cbf.gain=2.5 (fallback), got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("report", "run"); !ok || value != "5d1e" {
		t.Errorf("Expected report run=5d1e, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("nonexistent", "option"); ok {
		t.Errorf("Expected nonexistent option to not exist, but got %s", value)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if len(config.Global) != 0 || len(config.Commands) != 0 {
		t.Errorf("Expected empty config, got %v %v", config.Global, config.Commands)
	}
}

func TestConfigWarnings(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("log.level loud\nbogus 1\n[run]\ncbf.enabled maybe\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(config.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", config.Warnings)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	config, err := LoadFromPath(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(config.Global) != 0 {
		t.Errorf("expected empty config, got %v", config.Global)
	}
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(target, []byte("log.level info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := LoadFromPath(link); err == nil {
		t.Fatal("expected symlink to be rejected")
	}
}
