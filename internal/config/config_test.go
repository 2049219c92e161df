package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	yaml := `
stages:
  port_scan:
    enabled: true
    tools:
      masscan:
        timeout: auto
        rate: 1000
  site_scan:
    enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ps := cfg.Enabled("port_scan")
	if !ps.Enabled {
		t.Fatal("expected port_scan enabled")
	}
	opts := ps.Tools["masscan"]
	if !opts.IsAuto() {
		t.Fatal("expected auto timeout")
	}
	if opts.Rate != 1000 {
		t.Fatalf("got rate %d", opts.Rate)
	}
	if cfg.Enabled("site_scan").Enabled {
		t.Fatal("expected site_scan disabled")
	}
	if cfg.Enabled("unknown_stage").Enabled {
		t.Fatal("expected unknown stage to default disabled")
	}
}

func TestDefaultEnablesEveryStage(t *testing.T) {
	cfg := Default()
	for _, name := range StageNames {
		if !cfg.Enabled(name).Enabled {
			t.Fatalf("expected %s enabled by default", name)
		}
	}
}

func TestFixedTimeoutParsing(t *testing.T) {
	o := ToolOptions{Timeout: "90"}
	if o.IsAuto() {
		t.Fatal("expected non-auto")
	}
	if o.FixedTimeout().Seconds() != 90 {
		t.Fatalf("got %v", o.FixedTimeout())
	}
}

func TestResolveWordlistHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "common.txt")
	if err := os.WriteFile(path, []byte("admin\nlogin\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := ResolveWordlist(dir, "common.txt", WordlistManifest{"common.txt": "deadbeef"})
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}

	got, err := ResolveWordlist(dir, "common.txt", WordlistManifest{})
	if err != nil || got != path {
		t.Fatalf("got %q, %v", got, err)
	}
}
