package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 30 * time.Second

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(h *HTTPClient) { h.userAgent = ua }
}

// NewHTTPClient creates a client for server, given as host:port or a URL.
func NewHTTPClient(server string, opts ...Option) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	c := &HTTPClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "segmesh-cli",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends a request and decodes the envelope's data into out, which may
// be nil.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ErrNetwork.WithDetails("%s %s", method, path).WithCause(err)
	}
	return ParseResponse(resp, out)
}

// ParseResponse decodes a response envelope. Error envelopes become
// *domain.Error values carrying the server's code.
func ParseResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	var env struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details string          `json:"details"`
		Data    json.RawMessage `json:"data"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Code != "" {
			return &domain.Error{Code: env.Code, Message: env.Message, Details: env.Details}
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return domain.ErrProtocol.WithDetails("decode response").WithCause(decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.ErrProtocol.WithDetails("decode response data").WithCause(err)
		}
	}
	return nil
}

// Health calls GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// Ready calls GET /readyz. A server that is up but not ready answers with
// an error carrying its checks in the message.
func (c *HTTPClient) Ready(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Do(ctx, http.MethodGet, "/readyz", nil, &out)
	return out, err
}

// Object resolves the owner of id.
func (c *HTTPClient) Object(ctx context.Context, id domain.ObjectID) (handler.ObjectResponse, error) {
	var out handler.ObjectResponse
	err := c.Do(ctx, http.MethodGet, "/v1/oseg/"+id.String(), nil, &out)
	return out, err
}

// PutObject records the owner of id.
func (c *HTTPClient) PutObject(ctx context.Context, id domain.ObjectID, req handler.UpsertRequest) error {
	return c.Do(ctx, http.MethodPut, "/v1/oseg/"+id.String(), req, nil)
}

// Stats returns the index counters.
func (c *HTTPClient) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Do(ctx, http.MethodGet, "/v1/stats", nil, &out)
	return out, err
}

// Lookup returns the server owning p.
func (c *HTTPClient) Lookup(ctx context.Context, p domain.Vector3) (handler.LookupResponse, error) {
	q := url.Values{}
	q.Set("x", strconv.FormatFloat(p.X, 'g', -1, 64))
	q.Set("y", strconv.FormatFloat(p.Y, 'g', -1, 64))
	q.Set("z", strconv.FormatFloat(p.Z, 'g', -1, 64))

	var out handler.LookupResponse
	err := c.Do(ctx, http.MethodGet, "/v1/cseg/lookup?"+q.Encode(), nil, &out)
	return out, err
}

// Leaves lists the partition.
func (c *HTTPClient) Leaves(ctx context.Context) (handler.LeavesResponse, error) {
	var out handler.LeavesResponse
	err := c.Do(ctx, http.MethodGet, "/v1/cseg/leaves", nil, &out)
	return out, err
}

// Samples reports population samples.
func (c *HTTPClient) Samples(ctx context.Context, samples []handler.Sample) (handler.SamplesResponse, error) {
	var out handler.SamplesResponse
	err := c.Do(ctx, http.MethodPost, "/v1/cseg/samples", handler.SamplesRequest{Samples: samples}, &out)
	return out, err
}

// Servers lists the server directory.
func (c *HTTPClient) Servers(ctx context.Context, out any) error {
	return c.Do(ctx, http.MethodGet, "/v1/servers", nil, out)
}

// Cluster returns the replication status.
func (c *HTTPClient) Cluster(ctx context.Context, out any) error {
	return c.Do(ctx, http.MethodGet, "/v1/cluster", nil, out)
}
