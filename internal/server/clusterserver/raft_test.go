package clusterserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

func TestHCLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := newHCLogger(logger, "raft")

	t.Run("Levels", func(t *testing.T) {
		if l.IsDebug() || l.IsTrace() {
			t.Error("debug should be disabled at info level")
		}
		if !l.IsInfo() || !l.IsWarn() || !l.IsError() {
			t.Error("info and above should be enabled")
		}
		if got := l.GetLevel(); got != hclog.Info {
			t.Errorf("GetLevel = %v, want info", got)
		}
	})

	t.Run("Log", func(t *testing.T) {
		buf.Reset()
		l.Debug("hidden")
		l.Warn("visible", "key", "value")
		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Error("debug message written")
		}
		if !strings.Contains(out, "visible") || !strings.Contains(out, "key=value") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("Named", func(t *testing.T) {
		n := l.Named("transport")
		if n.Name() != "raft.transport" {
			t.Errorf("Name = %q", n.Name())
		}
		if r := n.ResetNamed("snap"); r.Name() != "snap" {
			t.Errorf("ResetNamed = %q", r.Name())
		}
	})

	t.Run("With", func(t *testing.T) {
		w := l.With("peer", "2")
		if args := w.ImpliedArgs(); len(args) != 2 {
			t.Errorf("ImpliedArgs = %v", args)
		}
		if len(l.ImpliedArgs()) != 0 {
			t.Error("With modified the parent")
		}
	})

	t.Run("StandardLogger", func(t *testing.T) {
		buf.Reset()
		std := l.StandardLogger(nil)
		std.Print("from stdlib")
		// The standard writer logs at debug level.
		if strings.Contains(buf.String(), "from stdlib") {
			t.Error("standard writer should log below info")
		}
	})
}

func TestHCLogger_Interface(t *testing.T) {
	var _ hclog.Logger = (*hcLogger)(nil)
}

func TestNewRaftNode_ConfigErrors(t *testing.T) {
	fsm := newTestFSM(t)

	t.Run("NoDataDir", func(t *testing.T) {
		if _, err := NewRaftNode(RaftConfig{NodeID: "1", BindAddr: "127.0.0.1:0"}, fsm); err == nil {
			t.Error("expected error without data dir")
		}
	})

	t.Run("BadBindAddr", func(t *testing.T) {
		_, err := NewRaftNode(RaftConfig{NodeID: "1", BindAddr: "not an address", DataDir: t.TempDir()}, fsm)
		if err == nil {
			t.Error("expected error for bad bind address")
		}
	})
}

func startSingleNode(t *testing.T) (*RaftNode, *FSM) {
	t.Helper()
	fsm := newTestFSM(t)
	node, err := NewRaftNode(RaftConfig{
		NodeID:    "1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, fsm)
	if err != nil {
		t.Fatalf("NewRaftNode failed: %v", err)
	}
	t.Cleanup(func() { node.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := node.WaitForLeader(ctx); err != nil {
		t.Fatalf("no leader elected: %v", err)
	}
	// The leader address is known slightly before the state flips.
	deadline := time.Now().Add(5 * time.Second)
	for !node.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("node did not become leader")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return node, fsm
}

func TestRaftPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft cluster test in short mode")
	}
	node, fsm := startSingleNode(t)

	if node.LeaderID() != "1" {
		t.Errorf("LeaderID = %q, want 1", node.LeaderID())
	}
	voters, err := node.Voters()
	if err != nil || len(voters) != 1 {
		t.Fatalf("Voters = %v, %v", voters, err)
	}

	pub := NewRaftPublisher(node, time.Second)
	snap, err := pub.Publish(context.Background(), splitAt(1))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("version = %d, want 2", snap.Version)
	}
	if got := fsm.Replica().Tree().Version(); got != 2 {
		t.Errorf("replica version = %d, want 2", got)
	}

	// A plan against the old version is rejected by every replica.
	_, err = pub.Publish(context.Background(), splitAt(1))
	if !errors.Is(err, domain.ErrTreeChanged) {
		t.Errorf("expected ErrTreeChanged, got %v", err)
	}

	if err := node.Snapshot(); err != nil {
		t.Errorf("Snapshot failed: %v", err)
	}
}

func TestRaftPublisher_Expired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft cluster test in short mode")
	}
	node, _ := startSingleNode(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := NewRaftPublisher(node, 0).Publish(ctx, splitAt(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRaftPublisher_WithRebalancer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft cluster test in short mode")
	}
	node, fsm := startSingleNode(t)

	cfg := cseg.DefaultConfig()
	cfg.MaxLeafPopulation = 10
	cfg.OpsPerSecond = 1000
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	r := cseg.NewRebalancer(cfg, fsm.Replica(), NewRaftPublisher(node, time.Second), cseg.NoopHandoff{})
	defer r.Close()
	r.AddFreeServer(2)

	for i := 0; i < 11; i++ {
		if err := r.RecordSample(domain.Vector3{X: float64(i) - 5}, 1); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}
	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := fsm.Replica().Tree().Snapshot().Leaves; got != 2 {
		t.Errorf("leaves = %d, want 2", got)
	}
}
