package craq

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// fakeStore is a minimal line-protocol server for tests.
type fakeStore struct {
	ln net.Listener

	mu   sync.Mutex
	data map[string]domain.OSegEntry

	gets  atomic.Int64
	sets  atomic.Int64
	conns atomic.Int64

	// delay is applied before each response.
	delay atomic.Int64
	// dropNext closes the connection instead of answering the next request.
	dropNext atomic.Bool
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeStore{ln: ln, data: make(map[string]domain.OSegEntry)}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeStore) Addr() string { return s.ln.Addr().String() }

func (s *fakeStore) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns.Add(1)
		go s.handle(c)
	}
}

func (s *fakeStore) handle(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		req, err := ReadRequest(r)
		if err != nil {
			return
		}
		if d := s.delay.Load(); d > 0 {
			time.Sleep(time.Duration(d))
		}
		if s.dropNext.CompareAndSwap(true, false) {
			return
		}

		var resp Response
		switch req.Cmd {
		case CmdGet:
			s.gets.Add(1)
			s.mu.Lock()
			e, ok := s.data[req.Key]
			s.mu.Unlock()
			if ok {
				resp = Response{Kind: ResponseValue, Key: req.Key, Value: e.Marshal()}
			} else {
				resp = Response{Kind: ResponseNotFound, Key: req.Key}
			}
		case CmdSet:
			s.sets.Add(1)
			e, _ := domain.UnmarshalEntry(req.Value[:])
			s.mu.Lock()
			cur, ok := s.data[req.Key]
			stored := !ok || domain.AcceptWrite(cur, e)
			if stored {
				s.data[req.Key] = e
			}
			s.mu.Unlock()
			if stored {
				resp = Response{Kind: ResponseStored, Key: req.Key}
			} else {
				resp = Response{Kind: ResponseNotStored, Key: req.Key}
			}
		}
		if _, err := c.Write(AppendResponse(nil, resp)); err != nil {
			return
		}
	}
}

// collect ticks the store until want reports true or the timeout expires.
func collect(t *testing.T, s Store, want func(TickResults) bool) TickResults {
	t.Helper()
	var all TickResults
	deadline := time.After(5 * time.Second)
	for {
		r := s.Tick()
		all.Gets = append(all.Gets, r.Gets...)
		all.Errors = append(all.Errors, r.Errors...)
		all.TrackedSets = append(all.TrackedSets, r.TrackedSets...)
		if want(all) {
			return all
		}
		select {
		case <-s.Notify():
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for results, have %+v", all)
		}
	}
}
