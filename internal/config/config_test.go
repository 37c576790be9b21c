package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := Defaults()
	if cfg.Server.Host != want.Server.Host || cfg.Server.Port != want.Server.Port {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr(), want.Server.Addr())
	}
	if cfg.Session.IdleTTLSecs != want.Session.IdleTTLSecs {
		t.Errorf("IdleTTLSecs = %d, want %d", cfg.Session.IdleTTLSecs, want.Session.IdleTTLSecs)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yamlContent := `
server:
  host: "0.0.0.0"
  port: 9000
security:
  auth:
    enabled: true
    api_keys:
      - label: ci
        hash: "$2a$10$abcdefghijklmnopqrstuv"
  rate_limit:
    enabled: true
    requests_per_window: 5
    window_secs: 10
session:
  idle_ttl_secs: 120
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("Addr = %q, want 0.0.0.0:9000", cfg.Server.Addr())
	}
	if !cfg.Security.Auth.Enabled {
		t.Error("Auth.Enabled = false, want true")
	}
	if len(cfg.Security.Auth.APIKeys) != 1 || cfg.Security.Auth.APIKeys[0].Label != "ci" {
		t.Errorf("APIKeys = %+v, want one entry labeled ci", cfg.Security.Auth.APIKeys)
	}
	if cfg.Security.RateLimit.RequestsPerWindow != 5 {
		t.Errorf("RequestsPerWindow = %d, want 5", cfg.Security.RateLimit.RequestsPerWindow)
	}
	if cfg.Security.RateLimit.WindowSecs != 10 {
		t.Errorf("WindowSecs = %d, want 10", cfg.Security.RateLimit.WindowSecs)
	}
	if cfg.Session.IdleTTLSecs != 120 {
		t.Errorf("IdleTTLSecs = %d, want 120", cfg.Session.IdleTTLSecs)
	}
	// Unset field should still fall back to the documented default.
	if cfg.Session.ReaperPeriodS != Defaults().Session.ReaperPeriodS {
		t.Errorf("ReaperPeriodS = %d, want default %d", cfg.Session.ReaperPeriodS, Defaults().Session.ReaperPeriodS)
	}
}

func TestLoadParsesDebugCapturePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yamlContent := "session:\n  debug_capture_path: /var/log/shellgate/raw\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.DebugCapturePath != "/var/log/shellgate/raw" {
		t.Errorf("DebugCapturePath = %q, want /var/log/shellgate/raw", cfg.Session.DebugCapturePath)
	}
}

func TestWatchSecurityLoadsInitialSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("security:\n  rate_limit:\n    requests_per_window: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cw, err := WatchSecurity(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	if cw.Security().RateLimit.RequestsPerWindow != 5 {
		t.Fatalf("initial RequestsPerWindow = %d, want 5", cw.Security().RateLimit.RequestsPerWindow)
	}
}
