package craq

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// setIfNotOlder applies a SET unless the stored entry carries a strictly
// newer epoch (bytes 9-10 of the value, 16-bit serial arithmetic).
// Returns 1 when stored, 0 when refused.
var setIfNotOlder = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and string.len(cur) == 10 then
  local old = string.byte(cur, 9) * 256 + string.byte(cur, 10)
  local new = tonumber(ARGV[2])
  if old ~= 0 then
    if new == 0 then return 0 end
    local d = (old - new) % 65536
    if d ~= 0 and d < 32768 then return 0 end
  end
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Timeout bounds one command. Default: 2s
	Timeout time.Duration

	// Concurrency caps in-flight commands. Default: 10
	Concurrency int

	Logger *slog.Logger
}

// RedisStore is a Store backed by Redis. Each request runs on its own
// goroutine, bounded by a semaphore; completions are gathered for Tick.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	sem     chan struct{}
	logger  *slog.Logger

	mu     sync.Mutex
	buf    resultBuffer
	closed bool
	wg     sync.WaitGroup
}

// NewRedisStore connects to Redis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, domain.ErrConfig.WithDetails("redis backing store needs an address")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return newRedisStore(client, cfg), nil
}

func newRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisStore{
		client:  client,
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, cfg.Concurrency),
		logger:  cfg.Logger.With("component", "redis_store"),
		buf:     newResultBuffer(),
	}
}

// Get implements Store.
func (s *RedisStore) Get(key string) {
	s.run(Operation{Kind: OpGet, Key: key})
}

// Set implements Store.
func (s *RedisStore) Set(key string, entry domain.OSegEntry) {
	s.run(Operation{Kind: OpSet, Key: key, Value: entry})
}

// SetTracked implements Store.
func (s *RedisStore) SetTracked(key string, entry domain.OSegEntry, tracking uint64) {
	s.run(Operation{Kind: OpSet, Key: key, Value: entry, Tracked: true, Tracking: tracking})
}

func (s *RedisStore) run(op Operation) {
	op.Enqueued = time.Now()

	s.mu.Lock()
	if s.closed {
		s.buf.results.Errors = append(s.buf.results.Errors, ErrorResult{Op: op, Err: domain.ErrClosed})
		s.buf.signal()
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		switch op.Kind {
		case OpGet:
			s.doGet(ctx, op)
		case OpSet:
			s.doSet(ctx, op)
		}
	}()
}

func (s *RedisStore) doGet(ctx context.Context, op Operation) {
	raw, err := s.client.Get(ctx, op.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.deliver(func(r *TickResults) {
			r.Gets = append(r.Gets, GetResult{Key: op.Key})
		})
		return
	}
	if err != nil {
		s.fail(op, err)
		return
	}

	entry, err := domain.UnmarshalEntry(raw)
	if err != nil {
		s.fail(op, err)
		return
	}
	s.deliver(func(r *TickResults) {
		r.Gets = append(r.Gets, GetResult{Key: op.Key, Entry: entry, Found: true})
	})
}

func (s *RedisStore) doSet(ctx context.Context, op Operation) {
	value := op.Value.Marshal()
	n, err := setIfNotOlder.Run(ctx, s.client, []string{op.Key}, value[:], int(op.Value.Epoch)).Int()
	if err != nil {
		s.fail(op, err)
		return
	}
	if !op.Tracked {
		if n == 0 {
			s.deliver(func(r *TickResults) {
				r.Errors = append(r.Errors, ErrorResult{Op: op, Err: staleWrite(op)})
			})
		}
		return
	}
	s.deliver(func(r *TickResults) {
		r.TrackedSets = append(r.TrackedSets, SetResult{Key: op.Key, Tracking: op.Tracking, Stored: n == 1})
	})
}

func (s *RedisStore) fail(op Operation, err error) {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		err = domain.ErrTimeout.WithCause(err)
	} else if !domain.IsError(err, "") {
		err = domain.ErrNetwork.WithCause(err)
	}
	s.logger.Debug("redis request failed", "op", op.Kind.String(), "key", op.Key, "error", err)
	s.deliver(func(r *TickResults) {
		r.Errors = append(r.Errors, ErrorResult{Op: op, Err: err})
	})
}

func (s *RedisStore) deliver(fn func(*TickResults)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.buf.results)
	s.buf.signal()
}

// Tick implements Store.
func (s *RedisStore) Tick() TickResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.drain()
}

// Notify implements Store.
func (s *RedisStore) Notify() <-chan struct{} {
	return s.buf.notify
}

// Close waits for in-flight commands and closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
