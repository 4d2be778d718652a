package kvserver

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/storage"
)

// failingEngine fails every call.
type failingEngine struct{ storage.Engine }

func (failingEngine) Get(context.Context, string) (domain.OSegEntry, error) {
	return domain.NullEntry, errors.New("disk on fire\nsecond line")
}

func (failingEngine) Put(context.Context, string, domain.OSegEntry) (bool, error) {
	return false, domain.ErrClosed
}

func TestHandler_EngineErrors(t *testing.T) {
	h := NewHandler(failingEngine{}, quietLogger())
	ctx := context.Background()

	tests := []struct {
		name string
		req  craq.Request
		want string
	}{
		{"GetText", craq.Request{Cmd: craq.CmdGet, Key: "k"}, "disk on fire second line"},
		{"SetCode", craq.Request{Cmd: craq.CmdSet, Key: "k"}, "SM-OSEG-5031"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(ctx, tt.req)
			if resp.Kind != craq.ResponseError {
				t.Fatalf("got %v, want ERROR", resp.Kind)
			}
			if resp.Message != tt.want {
				t.Errorf("message = %q, want %q", resp.Message, tt.want)
			}
		})
	}
}

func TestHandler_UnknownCommand(t *testing.T) {
	h := NewHandler(failingEngine{}, quietLogger())
	resp := h.Handle(context.Background(), craq.Request{Cmd: "DEL", Key: "k"})
	if resp.Kind != craq.ResponseError {
		t.Errorf("got %v, want ERROR", resp.Kind)
	}
}
