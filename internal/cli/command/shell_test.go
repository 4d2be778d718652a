package command

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/cli/config"
)

func TestShell(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /healthz", map[string]string{"status": "healthy"})
	srv.reply("GET /v1/stats", map[string]any{"cache_entries": 5})
	t.Setenv(config.EnvServer, "")

	history := filepath.Join(t.TempDir(), "history")
	input := strings.Join([]string{
		"system health",
		"-o json system stats",
		"object get not-a-uuid",
		"shell",
		"system s?",
		"exit",
	}, "\n") + "\n"

	app := App()
	var out bytes.Buffer
	app.Reader = strings.NewReader(input)
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	args := []string{"segmesh-cli", "--config", filepath.Join(t.TempDir(), "cli.yaml"), "--server", srv.URL, "shell", "--history", history}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("shell: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Server is healthy",
		`"cache_entries": 5`,
		"parse object id",
		"Error: already in a shell",
		"system stats",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	// Completion requests are not recorded.
	reloaded := readHistory(t, history)
	if len(reloaded) != 4 {
		t.Errorf("history = %q, want 4 entries", reloaded)
	}
}

func readHistory(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestCommandPaths(t *testing.T) {
	paths := commandPaths(App().Commands, "")
	have := make(map[string]bool)
	for _, p := range paths {
		have[p] = true
	}
	for _, want := range []string{"cseg", "cseg lookup", "object put", "system version", "servermap check"} {
		if !have[want] {
			t.Errorf("missing path %q", want)
		}
	}
	if have["shell"] {
		t.Error("shell should not be offered inside itself")
	}
}
