package command

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/clusterserver"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/segmesh-go/internal/servermap"
)

func TestServers(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /v1/servers", []servermap.Entry{
		{ID: 1, Address: domain.ServerAddress{External: domain.Address{Host: "10.0.0.1", Port: 5090}}},
		{ID: 2, Address: domain.ServerAddress{External: domain.Address{Host: "10.0.0.2", Port: 5090}}},
	})

	out, err := runCLI(t, srv.URL, "servers")
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if !strings.Contains(out, "ID") || !strings.Contains(out, "10.0.0.2") {
		t.Errorf("output = %q", out)
	}
}

func TestClusterStatus(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /v1/cluster", clusterserver.Status{
		ServerID: 1,
		Leader:   true,
		LeaderID: "cseg-1",
		Voters:   []string{"cseg-1", "cseg-2"},
	})

	out, err := runCLI(t, srv.URL, "cluster", "status")
	if err != nil {
		t.Fatalf("cluster status: %v", err)
	}
	for _, want := range []string{"leader_id", "cseg-1,cseg-2", "true"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestClusterStatus_Disabled(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/cluster", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusServiceUnavailable, handler.CodeUnavailable, "cluster is not enabled")
	})

	_, err := runCLI(t, srv.URL, "cluster", "status")
	if !domain.IsError(err, handler.CodeUnavailable) {
		t.Errorf("err = %v, want %s", err, handler.CodeUnavailable)
	}
}

func TestServerMapCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "servers.txt")
	if err := os.WriteFile(good, []byte("10.0.0.1:6000:5090\n10.0.0.2:6000:5090\n"), 0644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("10.0.0.1:notaport:5090\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// No server is contacted.
	out, err := runCLI(t, "127.0.0.1:1", "servermap", "check", good)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "10.0.0.1:6000") || !strings.Contains(out, "10.0.0.2:5090") {
		t.Errorf("output = %q", out)
	}

	if _, err := runCLI(t, "", "servermap", "check", bad); err == nil {
		t.Error("expected error for malformed file")
	}
	if _, err := runCLI(t, "", "servermap", "check"); err == nil {
		t.Error("expected error for missing FILE")
	}
}
