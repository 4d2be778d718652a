package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/cli/config"

	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

// mockServer is a test HTTP server answering with API envelopes.
type mockServer struct {
	*httptest.Server
	mux *http.ServeMux
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{mux: http.NewServeMux()}
	m.Server = httptest.NewServer(m.mux)
	t.Cleanup(m.Close)
	return m
}

// handle registers a handler for a route pattern such as "GET /healthz".
func (m *mockServer) handle(pattern string, fn http.HandlerFunc) {
	m.mux.HandleFunc(pattern, fn)
}

// reply registers a route answering with data in a success envelope.
func (m *mockServer) reply(pattern string, data any) {
	m.handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, data)
	})
}

func okResponse(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, handler.NewResponse("req-test", data))
}

func errorResponse(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, handler.NewErrorResponse("req-test", code, message, ""))
}

func writeEnvelope(w http.ResponseWriter, status int, resp *handler.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// runCLI runs the app against server with an empty settings file and
// returns what it printed.
func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvServer, "")

	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := []string{"segmesh-cli", "--config", filepath.Join(t.TempDir(), "cli.yaml")}
	if server != "" {
		full = append(full, "--server", server)
	}
	full = append(full, args...)

	err := app.RunContext(context.Background(), full)
	return out.String(), err
}
