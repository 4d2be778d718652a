package handler

import (
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics and /v1/cseg/watch).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   string `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message, details string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ObjectResponse is the body of GET /v1/oseg/{objectID}.
type ObjectResponse struct {
	ObjectID string          `json:"object_id"`
	Status   string          `json:"status"`
	Owner    domain.ServerID `json:"owner"`
	Radius   float32         `json:"radius"`
	Epoch    uint16          `json:"epoch"`
}

// UpsertRequest is the body of PUT /v1/oseg/{objectID}.
type UpsertRequest struct {
	Owner  domain.ServerID `json:"owner"`
	Radius float32         `json:"radius"`
	// Epoch 0 asks the index to stamp the next epoch.
	Epoch uint16 `json:"epoch,omitempty"`
	// Wait blocks until the backing store acknowledges the write.
	Wait bool `json:"wait,omitempty"`
}

// LookupResponse is the body of GET /v1/cseg/lookup.
type LookupResponse struct {
	ServerID domain.ServerID    `json:"server_id"`
	Leaf     string             `json:"leaf"`
	Bounds   domain.BoundingBox `json:"bounds"`
	Version  uint64             `json:"version"`
}

// LeavesResponse is the body of GET /v1/cseg/leaves.
type LeavesResponse struct {
	Version uint64             `json:"version"`
	World   domain.BoundingBox `json:"world"`
	Leaves  []cseg.LeafInfo    `json:"leaves"`
}

// Sample is one population observation. Either Path or a position is set.
type Sample struct {
	Path   string  `json:"path,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Weight float64 `json:"weight"`
}

// SamplesRequest is the body of POST /v1/cseg/samples.
type SamplesRequest struct {
	Samples []Sample `json:"samples"`
}

// SamplesResponse reports how many samples were recorded.
type SamplesResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// WatchMessage is one websocket frame of /v1/cseg/watch.
type WatchMessage struct {
	// Type is "snapshot" for the first frame and "transition" after.
	Type       string           `json:"type"`
	Version    uint64           `json:"version"`
	Leaves     int              `json:"leaves"`
	Transition *cseg.Transition `json:"transition,omitempty"`
	Snapshot   *cseg.Snapshot   `json:"snapshot,omitempty"`
}
