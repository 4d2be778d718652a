package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

func TestSystemHealth(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /healthz", map[string]string{"status": "healthy"})

	out, err := runCLI(t, srv.URL, "system", "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "Server is healthy") {
		t.Errorf("output = %q", out)
	}

	out, err = runCLI(t, srv.URL, "-o", "json", "sys", "health")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"status": "healthy"`) {
		t.Errorf("output = %q", out)
	}
}

func TestSystemHealth_Unreachable(t *testing.T) {
	srv := newMockServer(t)
	url := srv.URL
	srv.Close()

	_, err := runCLI(t, url, "system", "health")
	if !domain.IsError(err, domain.ErrNetwork.Code) {
		t.Errorf("err = %v, want %s", err, domain.ErrNetwork.Code)
	}
}

func TestSystemReady(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		srv := newMockServer(t)
		srv.reply("GET /readyz", map[string]any{
			"status": "ready",
			"checks": map[string]string{"oseg": "ok", "cluster": "ok"},
		})

		out, err := runCLI(t, srv.URL, "system", "ready")
		if err != nil {
			t.Fatalf("ready: %v", err)
		}
		if !strings.Contains(out, "Server is ready") || !strings.Contains(out, "cluster") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		srv := newMockServer(t)
		srv.handle("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
			resp := handler.NewErrorResponse("req-test", handler.CodeUnavailable, "not ready", "cluster: no leader")
			writeEnvelope(w, http.StatusServiceUnavailable, resp)
		})

		_, err := runCLI(t, srv.URL, "system", "ready")
		if !domain.IsError(err, handler.CodeUnavailable) {
			t.Fatalf("err = %v, want %s", err, handler.CodeUnavailable)
		}
		if !strings.Contains(err.Error(), "no leader") {
			t.Errorf("err = %v, want failing check in details", err)
		}
	})
}

func TestSystemStats(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /v1/stats", map[string]any{
		"cache_entries": 12,
		"pending":       0,
	})

	out, err := runCLI(t, srv.URL, "system", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "cache_entries") || !strings.Contains(out, "12") {
		t.Errorf("output = %q", out)
	}
}

func TestSystemVersion(t *testing.T) {
	out, err := runCLI(t, "", "-o", "json", "system", "version")
	if err != nil {
		t.Fatal(err)
	}
	var got buildinfo.Info
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Version != buildinfo.Version || got.GoVersion == "" {
		t.Errorf("got %+v", got)
	}
}
