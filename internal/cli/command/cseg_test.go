package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

var testWorld = domain.BoundingBox{
	Min: domain.Vector3{X: 0, Y: 0, Z: 0},
	Max: domain.Vector3{X: 100, Y: 100, Z: 100},
}

func TestCSegLookup(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/cseg/lookup", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("x") != "10" || q.Get("y") != "-2.5" || q.Get("z") != "0" {
			errorResponse(w, http.StatusBadRequest, handler.CodeBadRequest, "unexpected query "+r.URL.RawQuery)
			return
		}
		okResponse(w, handler.LookupResponse{ServerID: 2, Leaf: "01", Bounds: testWorld, Version: 4})
	})

	out, err := runCLI(t, srv.URL, "cseg", "lookup", "10", "-2.5", "0")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	for _, want := range []string{"server_id", "2", "01", "<0,0,0>-<100,100,100>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	for _, args := range [][]string{{"1", "2"}, {"1", "2", "x"}, {"1", "2", "NaN"}} {
		if _, err := runCLI(t, srv.URL, append([]string{"cseg", "lookup"}, args...)...); err == nil {
			t.Errorf("lookup %v: expected error", args)
		}
	}
}

func TestCSegLeaves(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /v1/cseg/leaves", handler.LeavesResponse{
		Version: 3,
		World:   testWorld,
		Leaves: []cseg.LeafInfo{
			{Path: "0", Owner: 1},
			{Path: "1", Owner: 2},
		},
	})

	out, err := runCLI(t, srv.URL, "cseg", "leaves")
	if err != nil {
		t.Fatalf("leaves: %v", err)
	}
	if !strings.Contains(out, "version 3") || !strings.Contains(out, "OWNER") {
		t.Errorf("output = %q", out)
	}

	out, err = runCLI(t, srv.URL, "-o", "json", "cseg", "leaves")
	if err != nil {
		t.Fatal(err)
	}
	var got handler.LeavesResponse
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Leaves) != 2 || got.Leaves[1].Owner != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestCSegSample(t *testing.T) {
	srv := newMockServer(t)
	var got handler.SamplesRequest
	srv.handle("POST /v1/cseg/samples", func(w http.ResponseWriter, r *http.Request) {
		got = handler.SamplesRequest{}
		json.NewDecoder(r.Body).Decode(&got)
		resp := handler.SamplesResponse{}
		for _, s := range got.Samples {
			if s.Path == "" && s.X > 100 {
				resp.Rejected++
			} else {
				resp.Accepted++
			}
		}
		okResponse(w, resp)
	})

	t.Run("Point", func(t *testing.T) {
		if _, err := runCLI(t, srv.URL, "cseg", "sample", "--weight", "4", "1", "2", "3"); err != nil {
			t.Fatal(err)
		}
		want := handler.Sample{X: 1, Y: 2, Z: 3, Weight: 4}
		if len(got.Samples) != 1 || got.Samples[0] != want {
			t.Errorf("samples = %+v, want %+v", got.Samples, want)
		}
	})

	t.Run("Path", func(t *testing.T) {
		if _, err := runCLI(t, srv.URL, "cseg", "sample", "--path", "01"); err != nil {
			t.Fatal(err)
		}
		if got.Samples[0].Path != "01" || got.Samples[0].Weight != 1 {
			t.Errorf("sample = %+v", got.Samples[0])
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		if _, err := runCLI(t, srv.URL, "cseg", "sample", "500", "0", "0"); err == nil {
			t.Error("expected error for rejected sample")
		}
	})

	t.Run("Usage", func(t *testing.T) {
		if _, err := runCLI(t, srv.URL, "cseg", "sample", "--path", "0", "1", "2", "3"); err == nil {
			t.Error("expected error for path and point together")
		}
		if _, err := runCLI(t, srv.URL, "cseg", "sample", "--weight", "0", "1", "2", "3"); err == nil {
			t.Error("expected error for zero weight")
		}
	})
}

func TestCSegWatch(t *testing.T) {
	srv := newMockServer(t)
	upgrader := websocket.Upgrader{}
	srv.handle("GET /v1/cseg/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(handler.WatchMessage{Type: "snapshot", Version: 1, Leaves: 1})
		conn.WriteJSON(handler.WatchMessage{
			Type:    "transition",
			Version: 2,
			Leaves:  2,
			Transition: &cseg.Transition{
				ID: "t1", Kind: cseg.KindSplit, Path: "", Axis: domain.AxisX,
				Value: 50, LeftOwner: 1, RightOwner: 2,
			},
		})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		// Wait for the client to close its side.
		conn.ReadMessage()
	})

	t.Run("UntilClose", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "cseg", "watch")
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 {
			t.Fatalf("lines = %q, want 2", lines)
		}
		if lines[0] != "v1 snapshot leaves=1" {
			t.Errorf("line 0 = %q", lines[0])
		}
		if lines[1] != `v2 split "" at x=50 -> 1,2 leaves=2` {
			t.Errorf("line 1 = %q", lines[1])
		}
	})

	t.Run("Count", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "-o", "json", "cseg", "watch", "--count", "1")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, `"type": "snapshot"`) || strings.Contains(out, "transition") {
			t.Errorf("output = %q, want only the snapshot frame", out)
		}
	})
}

func TestDescribeWatch_Merge(t *testing.T) {
	msg := handler.WatchMessage{
		Type:       "transition",
		Version:    7,
		Leaves:     3,
		Transition: &cseg.Transition{Kind: cseg.KindMerge, Path: "01", Owner: 3, Released: 4},
	}
	if got, want := describeWatch(msg), `v7 merge "01" -> 3 released 4 leaves=3`; got != want {
		t.Errorf("describeWatch() = %q, want %q", got, want)
	}
}
