package kvserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/storage"
)

// Config holds the backing-store server configuration.
type Config struct {
	// Address is the TCP listen address.
	Address string
	// ReadTimeout bounds reading one request once its first byte arrived
	// (default: 30s).
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing responses (default: 30s).
	WriteTimeout time.Duration
	// IdleTimeout closes connections idle between requests (default: 5m).
	IdleTimeout time.Duration
	// RateLimit is the maximum number of requests per second per client IP.
	// 0 disables rate limiting.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:5344",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
}

// maxTrackedClients bounds the per-IP limiter table.
const maxTrackedClients = 4096

// Server serves the CRAQ line protocol.
type Server struct {
	cfg     *Config
	handler *Handler
	logger  *slog.Logger

	limiters *lru.Cache

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	running atomic.Bool
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
}

// New creates a server over engine.
func New(cfg *Config, engine storage.Engine, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kvserver")

	s := &Server{
		cfg:     cfg,
		handler: NewHandler(engine, logger),
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
		stop:    make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		// Only fails for a non-positive size.
		s.limiters, _ = lru.New(maxTrackedClients)
	}
	return s
}

// Start listens on cfg.Address and serves connections in the background
// until Shutdown or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves connections accepted on ln in the background.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.running.Store(true)

	s.logger.Info("kv server listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("kv server accept error", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.closeListener()
		case <-s.stop:
		}
	}()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting, closes open connections and waits for their
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)
	s.once.Do(func() { close(s.stop) })
	err := s.closeListener()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			c.Close()
			return nil
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(c)
			s.serveConn(ctx, c)
		}()
	}
}

func (s *Server) forget(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) allow(c net.Conn) bool {
	if s.limiters == nil {
		return true
	}
	ip := c.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	v, ok := s.limiters.Get(ip)
	if !ok {
		v = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateLimit)
		s.limiters.Add(ip, v)
	}
	return v.(*rate.Limiter).Allow()
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	m := s.handler.metrics
	m.connections.Inc()
	defer m.connections.Dec()

	readTimeout := s.cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}

	remote := c.RemoteAddr()
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	var out []byte

	flush := func() bool {
		if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return false
		}
		return bw.Flush() == nil
	}

	for {
		// Idle between requests; pipelined input is already buffered.
		if br.Buffered() == 0 {
			if err := c.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return
			}
			if _, err := br.Peek(1); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					s.logger.Debug("connection read error", "remote", remote, "error", err)
				}
				return
			}
		}

		if err := c.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		req, err := craq.ReadRequest(br)
		if err != nil {
			if craq.IsProtocolError(err) {
				// The stream may be misaligned; answer and drop the client.
				s.logger.Warn("protocol error", "remote", remote, "error", err)
				out = craq.AppendResponse(out[:0], craq.Response{Kind: craq.ResponseError, Message: errorMessage(err)})
				bw.Write(out)
				flush()
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug("connection timed out", "remote", remote)
			}
			return
		}

		var resp craq.Response
		if s.allow(c) {
			resp = s.handler.Handle(ctx, req)
		} else {
			m.rejected.Inc()
			resp = craq.Response{Kind: craq.ResponseError, Message: "rate limit exceeded"}
		}

		out = craq.AppendResponse(out[:0], resp)
		if _, err := bw.Write(out); err != nil {
			return
		}
		if br.Buffered() == 0 && !flush() {
			return
		}
	}
}
