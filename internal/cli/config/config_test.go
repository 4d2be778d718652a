package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server != "localhost:5080" {
		t.Errorf("Server = %q, want %q", cfg.Server, "localhost:5080")
	}
	if cfg.Output != "table" {
		t.Errorf("Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".segmesh", "cli.yaml")) {
		t.Errorf("Path = %q, should end with .segmesh/cli.yaml", path)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	t.Setenv(EnvServer, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load should not error for nonexistent file: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvServer, "")

	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := "server: 10.0.0.5:5080\noutput: json\ntimeout: 5s\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != "10.0.0.5:5080" || cfg.Output != "json" || cfg.Timeout != 5*time.Second {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvServer, "")

	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("output: yaml\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output != "yaml" {
		t.Errorf("Output = %q, want yaml", cfg.Output)
	}
	if cfg.Server != "localhost:5080" {
		t.Errorf("Server = %q, want default", cfg.Server)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvServer, "segmesh.internal:8080")

	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("server: 10.0.0.5:5080\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "segmesh.internal:8080" {
		t.Errorf("Server = %q, want env override", cfg.Server)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv(EnvServer, "")

	tests := []struct {
		name    string
		content string
	}{
		{"Syntax", "server: [unclosed\n"},
		{"NegativeTimeout", "timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cli.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv(EnvServer, "")

	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	want := &CLIConfig{Server: "http://example:5080", Output: "json", Timeout: 2 * time.Minute}
	if err := Save(want, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %v, want 0600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
