package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

const testObjectID = "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b"

func TestObjectGet(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/oseg/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != testObjectID {
			errorResponse(w, http.StatusNotFound, domain.ErrNotFound.Code, "object not found")
			return
		}
		okResponse(w, handler.ObjectResponse{
			ObjectID: testObjectID,
			Status:   "found",
			Owner:    7,
			Radius:   1.5,
			Epoch:    3,
		})
	})

	t.Run("Table", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "object", "get", testObjectID)
		if err != nil {
			t.Fatalf("object get: %v", err)
		}
		for _, want := range []string{"owner", "7", "1.5", "found"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "-o", "json", "object", "get", testObjectID)
		if err != nil {
			t.Fatal(err)
		}
		var got handler.ObjectResponse
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if got.Owner != 7 || got.Epoch != 3 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := runCLI(t, srv.URL, "object", "get", "00000000-0000-0000-0000-000000000001")
		if !domain.IsError(err, domain.ErrNotFound.Code) {
			t.Errorf("err = %v, want %s", err, domain.ErrNotFound.Code)
		}
	})

	t.Run("BadID", func(t *testing.T) {
		if _, err := runCLI(t, srv.URL, "object", "get", "not-a-uuid"); err == nil {
			t.Error("expected error for malformed object id")
		}
		if _, err := runCLI(t, srv.URL, "object", "get"); err == nil {
			t.Error("expected error for missing object id")
		}
	})
}

func TestObjectPut(t *testing.T) {
	srv := newMockServer(t)
	var got handler.UpsertRequest
	srv.handle("PUT /v1/oseg/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			errorResponse(w, http.StatusBadRequest, handler.CodeBadRequest, err.Error())
			return
		}
		if got.Epoch == 1 {
			errorResponse(w, http.StatusConflict, domain.ErrStaleWrite.Code, "stale write")
			return
		}
		status := http.StatusAccepted
		if got.Wait {
			status = http.StatusOK
		}
		writeEnvelope(w, status, handler.NewResponse("req-test", nil))
	})

	t.Run("Wait", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "object", "put", "--owner", "4", "--radius", "2.5", "--epoch", "9", "--wait", testObjectID)
		if err != nil {
			t.Fatalf("object put: %v", err)
		}
		want := handler.UpsertRequest{Owner: 4, Radius: 2.5, Epoch: 9, Wait: true}
		if got != want {
			t.Errorf("request = %+v, want %+v", got, want)
		}
		if !strings.Contains(out, "stored (owner 4)") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("Queued", func(t *testing.T) {
		out, err := runCLI(t, srv.URL, "object", "put", "--owner", "4", testObjectID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Wait || got.Epoch != 0 {
			t.Errorf("request = %+v, want fire-and-forget", got)
		}
		if !strings.Contains(out, "queued") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("Stale", func(t *testing.T) {
		_, err := runCLI(t, srv.URL, "object", "put", "--owner", "4", "--epoch", "1", "--wait", testObjectID)
		if !domain.IsError(err, domain.ErrStaleWrite.Code) {
			t.Errorf("err = %v, want %s", err, domain.ErrStaleWrite.Code)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{"NullOwner", []string{"--owner", "0", testObjectID}},
			{"MissingOwner", []string{testObjectID}},
			{"EpochRange", []string{"--owner", "1", "--epoch", "70000", testObjectID}},
			{"NegativeRadius", []string{"--owner", "1", "--radius", "-1", testObjectID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				args := append([]string{"object", "put"}, tt.args...)
				if _, err := runCLI(t, srv.URL, args...); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}
