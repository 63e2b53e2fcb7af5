package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}

	if cfg.Server.Host != "archipelago.gg" {
		t.Errorf("Server.Host want = archipelago.gg, got = %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 38281 {
		t.Errorf("Server.Port want = 38281, got = %d", cfg.Server.Port)
	}
	if cfg.Client.HandshakeTimeoutMs != 0 {
		t.Errorf("Client.HandshakeTimeoutMs want = 0, got = %d", cfg.Client.HandshakeTimeoutMs)
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  host: multiworld.example.com
  port: 12345
client:
  game: Selaco
  slot: Dawn
logging:
  log_level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}

	if diff := cmp.Diff("multiworld.example.com:12345", cfg.ServerAddress()); diff != "" {
		t.Errorf("ServerAddress() mismatch; diff:\n%s", diff)
	}
	if cfg.Client.Slot != "Dawn" {
		t.Errorf("Client.Slot want = Dawn, got = %s", cfg.Client.Slot)
	}
	if cfg.Logging.LogLevel != "debug" {
		t.Errorf("Logging.LogLevel want = debug, got = %s", cfg.Logging.LogLevel)
	}
}

func TestConfig_SetServerAddress(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Host = "archipelago.gg"
	cfg.Server.Port = 38281

	cfg.SetServerAddress("multiworld.example.com:12345")
	if cfg.ServerAddress() != "multiworld.example.com:12345" {
		t.Errorf("ServerAddress() want = multiworld.example.com:12345, got = %s", cfg.ServerAddress())
	}

	// A bare hostname keeps the configured port.
	cfg.SetServerAddress("other.example.com")
	if cfg.ServerAddress() != "other.example.com:12345" {
		t.Errorf("ServerAddress() want = other.example.com:12345, got = %s", cfg.ServerAddress())
	}
}

func TestConfig_ServerAddress(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 38281

	addr := cfg.ServerAddress()
	expected := "127.0.0.1:38281"
	if addr != expected {
		t.Errorf("ServerAddress() want = %s, got = %s", expected, addr)
	}
}
