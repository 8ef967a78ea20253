package flowcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listen.UDPAddr == "" || cfg.Listen.TCPAddr == "" {
		t.Fatal("DefaultConfig left listen addresses empty")
	}
	if cfg.FlowTree.MaxEntries <= 0 {
		t.Fatal("DefaultConfig left FlowTree.MaxEntries unset")
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("listen:\n  udpAddr: \":1234\"\ntemplateAgeout: 2m\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen.UDPAddr != ":1234" {
		t.Fatalf("UDPAddr = %q, want :1234", cfg.Listen.UDPAddr)
	}
	if cfg.TemplateAgeout != 2*time.Minute {
		t.Fatalf("TemplateAgeout = %v, want 2m", cfg.TemplateAgeout)
	}
	// Untouched defaults should survive the overlay.
	if cfg.Listen.TCPAddr != DefaultConfig().Listen.TCPAddr {
		t.Fatalf("TCPAddr = %q, want default to be preserved", cfg.Listen.TCPAddr)
	}
	if cfg.FlowTree.MaxEntries != DefaultConfig().FlowTree.MaxEntries {
		t.Fatal("FlowTree defaults were not preserved by the overlay")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
