package studio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, projectConfigName)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("COSMOS_TEST_SEED", "0xCAFE")
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
origin: proc-gallery-1
seed: ${COSMOS_TEST_SEED}
history_size: 500

server:
  port: 9090
  cors_origin: "https://studio.example"

clock:
  bpm: 97.5
  autostart: true

audit:
  max_entries: 2000
  archive_path: audit.db
  retention_days: 30

mirror:
  url: nats://localhost:4222
  subject: gallery.events
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Origin != "proc-gallery-1" {
		t.Errorf("Origin = %q", cfg.Origin)
	}
	if cfg.Seed != "0xCAFE" {
		t.Errorf("Seed = %q, want env-expanded 0xCAFE", cfg.Seed)
	}
	if cfg.HistorySize != 500 {
		t.Errorf("HistorySize = %d", cfg.HistorySize)
	}
	if cfg.Server.Port != 9090 || cfg.Server.CORSOrigin != "https://studio.example" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Clock.BPM != 97.5 || !cfg.Clock.Autostart {
		t.Errorf("Clock = %+v", cfg.Clock)
	}
	if cfg.Audit.MaxEntries != 2000 || cfg.Audit.RetentionDays != 30 {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if want := filepath.Join(dir, "audit.db"); cfg.Audit.ArchivePath != want {
		t.Errorf("ArchivePath = %q, want %q (resolved against the config dir)", cfg.Audit.ArchivePath, want)
	}
	if cfg.Mirror.URL != "nats://localhost:4222" || cfg.Mirror.Subject != "gallery.events" {
		t.Errorf("Mirror = %+v", cfg.Mirror)
	}
}

func TestLoadConfigKeepsSQLiteURIs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
audit:
  archive_path: "file:audit.db?mode=memory"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audit.ArchivePath != "file:audit.db?mode=memory" {
		t.Errorf("ArchivePath = %q, want the URI untouched", cfg.Audit.ArchivePath)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "server: [not, a, mapping]")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDiscoverConfigPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	// Nothing anywhere.
	path, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil || found {
		t.Fatalf("empty discovery = (%q, %v, %v), want not found", path, found, err)
	}

	// Home fallback.
	homeConfig := filepath.Join(home, ".cosmos", homeConfigName)
	if err := os.MkdirAll(filepath.Dir(homeConfig), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(homeConfig, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != homeConfig {
		t.Fatalf("home discovery = (%q, %v, %v), want %q", path, found, err, homeConfig)
	}

	// Project file wins over home.
	projectConfig := writeConfigFile(t, cwd, "{}")
	path, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != projectConfig {
		t.Fatalf("project discovery = (%q, %v, %v), want %q", path, found, err, projectConfig)
	}

	// Explicit path wins over both.
	explicit := filepath.Join(t.TempDir(), "other.yaml")
	if err := os.WriteFile(explicit, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, found, err = DiscoverConfigPathFrom(explicit, cwd, home)
	if err != nil || !found || path != explicit {
		t.Fatalf("explicit discovery = (%q, %v, %v), want %q", path, found, err, explicit)
	}

	// An explicit path that does not exist is an error.
	_, _, err = DiscoverConfigPathFrom(filepath.Join(cwd, "missing.yaml"), cwd, home)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing explicit path error = %v", err)
	}
}
