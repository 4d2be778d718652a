package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCheck_Server(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		path := writeFile(t, "segmesh.yaml", "cseg-max-leaf-population: 200\nlog:\n  level: debug\n")
		out, err := runCLI(t, "", "config", "check", path)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !strings.Contains(out, "configuration is valid") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		path := writeFile(t, "segmesh.yaml", "log:\n  level: loud\n")
		_, err := runCLI(t, "", "config", "check", path)
		if err == nil || !strings.Contains(err.Error(), "log.level") {
			t.Errorf("err = %v, want log.level problem", err)
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		path := writeFile(t, "segmesh.yaml", "cseg:\n  rebalance_intervall: 1s\n")
		_, err := runCLI(t, "", "config", "check", path)
		if err == nil || !strings.Contains(err.Error(), "rebalance_intervall") {
			t.Errorf("err = %v, want unknown key reported", err)
		}
		if _, err := runCLI(t, "", "config", "check", "--strict=false", path); err != nil {
			t.Errorf("non-strict check: %v", err)
		}
	})

	t.Run("ShowMasksSecrets", func(t *testing.T) {
		path := writeFile(t, "segmesh.yaml", "oseg:\n  backend: redis\n  redis:\n    addr: 127.0.0.1:6379\n    password: hunter2secret\n")
		out, err := runCLI(t, "", "-o", "json", "config", "check", "--show", path)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if strings.Contains(out, "hunter2secret") {
			t.Error("password printed in clear")
		}
		if !strings.Contains(out, "hu*********et") {
			t.Errorf("output = %q, want masked password", out)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := runCLI(t, "", "config", "check", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestConfigCheck_KVD(t *testing.T) {
	path := writeFile(t, "kvd.yaml", "storage:\n  engine: memory\n")
	if _, err := runCLI(t, "", "config", "check", "--kvd", path); err != nil {
		t.Fatalf("check: %v", err)
	}

	path = writeFile(t, "kvd.yaml", "storage:\n  engine: floppy\n")
	if _, err := runCLI(t, "", "config", "check", "--kvd", path); err == nil {
		t.Error("expected error for unknown engine")
	}
}
