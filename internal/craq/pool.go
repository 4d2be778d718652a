package craq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Endpoints are the backing-store routers, host:port.
	Endpoints []string

	// NumConnections is the fixed number of sockets. Default: 10
	NumConnections int

	// IOTimeout bounds one request/response exchange. Default: 2s
	IOTimeout time.Duration

	// DialTimeout bounds one dial. Default: 2s
	DialTimeout time.Duration

	// MaxAttempts is how many times an operation is tried on a socket
	// before it is reported in TickResults.Errors. Default: 3
	MaxAttempts int

	// RedialRate and RedialBurst pace reconnects across the pool.
	// Default: 20/s, burst NumConnections
	RedialRate  float64
	RedialBurst int

	// Dial opens sockets. Default: net.Dialer.DialContext
	Dial DialFunc

	Logger *slog.Logger
}

// DefaultPoolConfig returns a pool configuration with defaults.
func DefaultPoolConfig(endpoints ...string) PoolConfig {
	return PoolConfig{
		Endpoints:      endpoints,
		NumConnections: 10,
		IOTimeout:      2 * time.Second,
		DialTimeout:    2 * time.Second,
		MaxAttempts:    3,
		RedialRate:     20,
	}
}

func (c *PoolConfig) applyDefaults() {
	def := DefaultPoolConfig()
	if c.NumConnections <= 0 {
		c.NumConnections = def.NumConnections
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = def.IOTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RedialRate <= 0 {
		c.RedialRate = def.RedialRate
	}
	if c.RedialBurst <= 0 {
		c.RedialBurst = c.NumConnections
	}
	if c.Dial == nil {
		d := &net.Dialer{}
		c.Dial = d.DialContext
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pool multiplexes GET/SET operations over a fixed set of connections.
// Queued operations go FIFO to the least recently used READY connection.
type Pool struct {
	cfg     PoolConfig
	logger  *slog.Logger
	conns   []*Connection
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     []Operation
	buf       resultBuffer
	redialing map[int]bool
	retryArm  bool
	closed    bool
	stats     PoolStats
}

// PoolStats counts pool activity since creation.
type PoolStats struct {
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Requeued   uint64
	Redials    uint64
	DialErrors uint64
}

// NewPool creates a pool. Sockets are dialed lazily when work arrives.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, domain.ErrConfig.WithDetails("backing store pool needs at least one endpoint")
	}
	cfg.applyDefaults()

	p := &Pool{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "craq_pool"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RedialRate), cfg.RedialBurst),
		buf:       newResultBuffer(),
		redialing: make(map[int]bool),
	}

	// Spread connections over endpoints the way routers are assigned:
	// slot i serves endpoint i*len(endpoints)/N.
	n := len(cfg.Endpoints)
	for i := 0; i < cfg.NumConnections; i++ {
		ep := cfg.Endpoints[i*n/cfg.NumConnections]
		p.conns = append(p.conns, NewConnection(i, ep, cfg.IOTimeout))
	}

	return p, nil
}

// Get enqueues a read of key.
func (p *Pool) Get(key string) {
	p.enqueue(Operation{Kind: OpGet, Key: key})
}

// Set enqueues an untracked write.
func (p *Pool) Set(key string, entry domain.OSegEntry) {
	p.enqueue(Operation{Kind: OpSet, Key: key, Value: entry})
}

// SetTracked enqueues a write whose completion is reported with tracking.
func (p *Pool) SetTracked(key string, entry domain.OSegEntry, tracking uint64) {
	p.enqueue(Operation{Kind: OpSet, Key: key, Value: entry, Tracked: true, Tracking: tracking})
}

func (p *Pool) enqueue(op Operation) {
	op.Enqueued = time.Now()

	p.mu.Lock()
	if p.closed {
		p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{Op: op, Err: domain.ErrClosed})
		p.buf.signal()
		p.mu.Unlock()
		return
	}
	if !ValidKey(op.Key) {
		p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{
			Op:  op,
			Err: domain.ErrProtocol.WithDetails("invalid key %q", op.Key),
		})
		p.buf.signal()
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, op)
	p.mu.Unlock()

	p.checkConnections()
}

// Tick drains completions accumulated since the previous Tick and
// services the queue.
func (p *Pool) Tick() TickResults {
	p.mu.Lock()
	r := p.buf.drain()
	p.mu.Unlock()

	p.checkConnections()
	return r
}

// Notify fires (coalesced) when completions are waiting for Tick.
func (p *Pool) Notify() <-chan struct{} {
	return p.buf.notify
}

// Stats returns a copy of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// QueueLen returns the number of operations waiting for a connection.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ConnectionStates reports the state of every slot.
func (p *Pool) ConnectionStates() []State {
	out := make([]State, len(p.conns))
	for i, c := range p.conns {
		out[i] = c.State()
	}
	return out
}

// checkConnections dispatches queued work to READY connections and
// redials broken ones while work is waiting.
func (p *Pool) checkConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	for len(p.queue) > 0 {
		c := p.leastRecentlyUsedReady()
		if c == nil {
			break
		}
		op := p.queue[0]
		if err := c.Dispatch(op, p.complete); err != nil {
			// Lost a race with a failure; pick again.
			continue
		}
		p.queue = p.queue[1:]
		p.stats.Dispatched++
	}

	if len(p.queue) == 0 {
		return
	}

	for _, c := range p.conns {
		if c.State() != StateNeedNewSocket || p.redialing[c.ID()] {
			continue
		}
		if !p.limiter.Allow() {
			p.armRetryLocked()
			break
		}
		p.redialing[c.ID()] = true
		p.stats.Redials++
		go p.redial(c)
	}
}

func (p *Pool) leastRecentlyUsedReady() *Connection {
	var best *Connection
	var bestUsed time.Time
	for _, c := range p.conns {
		if c.State() != StateReady {
			continue
		}
		used := c.LastUsed()
		if best == nil || used.Before(bestUsed) {
			best, bestUsed = c, used
		}
	}
	return best
}

func (p *Pool) armRetryLocked() {
	if p.retryArm {
		return
	}
	p.retryArm = true
	delay := time.Duration(float64(time.Second) / p.cfg.RedialRate)
	time.AfterFunc(delay, func() {
		p.mu.Lock()
		p.retryArm = false
		p.mu.Unlock()
		p.checkConnections()
	})
}

func (p *Pool) redial(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
	err := c.Connect(ctx, p.cfg.Dial)
	cancel()

	p.mu.Lock()
	delete(p.redialing, c.ID())
	if err != nil {
		p.stats.DialErrors++
		p.logger.Warn("backing store dial failed",
			"conn", c.ID(),
			"endpoint", c.Endpoint(),
			"error", err)

		// Charge the failure to the oldest waiting operation so a dead
		// store cannot hold the queue forever.
		if len(p.queue) > 0 {
			op := p.queue[0]
			p.queue = p.queue[1:]
			p.failLocked(op, err)
		}
		p.armRetryLocked()
	}
	p.mu.Unlock()

	if err == nil {
		p.logger.Debug("backing store connected", "conn", c.ID(), "endpoint", c.Endpoint())
		p.checkConnections()
	}
}

// complete is the CompletionFunc for every dispatch.
func (p *Pool) complete(c *Connection, op Operation, resp Response, err error) {
	p.mu.Lock()
	if err != nil {
		p.logger.Debug("backing store request failed",
			"conn", c.ID(),
			"op", op.Kind.String(),
			"key", op.Key,
			"attempt", op.Attempts+1,
			"error", err)
		p.failLocked(op, err)
	} else {
		p.stats.Completed++
		p.deliverLocked(op, resp)
	}
	p.mu.Unlock()

	p.checkConnections()
}

func (p *Pool) failLocked(op Operation, err error) {
	op.Attempts++
	if op.Attempts < p.cfg.MaxAttempts && !p.closed {
		p.stats.Requeued++
		p.queue = append([]Operation{op}, p.queue...)
		return
	}
	p.stats.Failed++
	p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{Op: op, Err: err})
	p.buf.signal()
}

func (p *Pool) deliverLocked(op Operation, resp Response) {
	switch op.Kind {
	case OpGet:
		res := GetResult{Key: op.Key}
		if resp.Kind == ResponseValue {
			entry, err := domain.UnmarshalEntry(resp.Value[:])
			if err != nil {
				p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{Op: op, Err: err})
				p.buf.signal()
				return
			}
			res.Entry = entry
			res.Found = true
		}
		p.buf.results.Gets = append(p.buf.results.Gets, res)
		p.buf.signal()

	case OpSet:
		if !op.Tracked {
			if resp.Kind == ResponseNotStored {
				p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{Op: op, Err: staleWrite(op)})
				p.buf.signal()
			}
			return
		}
		p.buf.results.TrackedSets = append(p.buf.results.TrackedSets, SetResult{
			Key:      op.Key,
			Tracking: op.Tracking,
			Stored:   resp.Kind == ResponseStored,
		})
		p.buf.signal()
	}
}

// Close closes every socket. Queued operations are reported as errors on
// the next Tick; in-flight ones drain as network errors.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, op := range p.queue {
		p.buf.results.Errors = append(p.buf.results.Errors, ErrorResult{Op: op, Err: domain.ErrClosed})
	}
	p.queue = nil
	p.buf.signal()
	p.mu.Unlock()

	var errs []error
	for _, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conn %d: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

var _ Store = (*Pool)(nil)
