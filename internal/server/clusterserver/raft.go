package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftConfig configures the replication log of one CSEG server.
type RaftConfig struct {
	// NodeID is the raft server id: the CSEG ServerID in decimal.
	NodeID string

	// BindAddr is the raft TCP address. Port 0 picks a free port.
	BindAddr string

	// DataDir holds raft-log.db, raft-stable.db and the snapshots.
	DataDir string

	// Bootstrap makes this node the only voter of a new cluster. Ignored
	// when DataDir already carries a configuration.
	Bootstrap bool

	Logger *slog.Logger
}

// Tree transitions are rare, so the timings favour fast failover over
// throughput.
const (
	raftHeartbeat   = time.Second
	raftElection    = time.Second
	raftCommit      = 50 * time.Millisecond
	raftLeaderLease = 500 * time.Millisecond

	raftMaxPool         = 3
	raftTransportIO     = 10 * time.Second
	raftSnapshotsRetain = 3
)

// RaftNode replicates CSEG tree transitions through hashicorp/raft.
type RaftNode struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *FSM
	logger    *slog.Logger

	// closers release the transport and bolt stores, last opened first.
	closers []io.Closer

	leaderCh chan bool
}

// NewRaftNode opens the raft stores under cfg.DataDir and starts a raft
// instance that applies committed transitions to fsm.
func NewRaftNode(cfg RaftConfig, fsm *FSM) (_ *RaftNode, err error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raft: data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "raft")
	hcl := newHCLogger(logger, "raft")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("raft: create data dir: %w", err)
	}
	bind, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raft: resolve %q: %w", cfg.BindAddr, err)
	}

	n := &RaftNode{fsm: fsm, logger: logger, leaderCh: make(chan bool, 10)}
	defer func() {
		if err != nil {
			n.closeResources()
		}
	}()

	var advertise net.Addr
	if bind.Port != 0 {
		advertise = bind
	}
	n.transport, err = raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, raftMaxPool, raftTransportIO, hcl)
	if err != nil {
		return nil, fmt.Errorf("raft: transport: %w", err)
	}
	n.closers = append(n.closers, n.transport)

	logs, err := openBolt(cfg.DataDir, "raft-log.db")
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, logs)
	stable, err := openBolt(cfg.DataDir, "raft-stable.db")
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, stable)

	snaps, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, raftSnapshotsRetain, hcl)
	if err != nil {
		return nil, fmt.Errorf("raft: snapshot store: %w", err)
	}

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeID)
	rc.Logger = hcl
	rc.HeartbeatTimeout = raftHeartbeat
	rc.ElectionTimeout = raftElection
	rc.CommitTimeout = raftCommit
	rc.LeaderLeaseTimeout = raftLeaderLease
	rc.NotifyCh = n.leaderCh

	n.raft, err = raft.NewRaft(rc, fsm, logs, stable, snaps, n.transport)
	if err != nil {
		return nil, fmt.Errorf("raft: start: %w", err)
	}

	if cfg.Bootstrap {
		boot := raft.Configuration{Servers: []raft.Server{{
			ID:      rc.LocalID,
			Address: n.transport.LocalAddr(),
		}}}
		if berr := n.raft.BootstrapCluster(boot).Error(); berr != nil && berr != raft.ErrCantBootstrap {
			n.raft.Shutdown()
			return nil, fmt.Errorf("raft: bootstrap: %w", berr)
		}
	}

	logger.Info("raft node started",
		"node_id", cfg.NodeID,
		"addr", n.transport.LocalAddr(),
		"bootstrap", cfg.Bootstrap)
	return n, nil
}

func openBolt(dir, name string) (*raftboltdb.BoltStore, error) {
	store, err := raftboltdb.NewBoltStore(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("raft: open %s: %w", name, err)
	}
	return store, nil
}

// Apply commits data and returns the FSM's response. An error returned by
// the FSM is returned as the error.
func (n *RaftNode) Apply(data []byte, timeout time.Duration) (any, error) {
	f := n.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	resp := f.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}

// IsLeader returns true if this node is the Raft leader.
func (n *RaftNode) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Leader returns the current leader address.
func (n *RaftNode) Leader() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the current leader ID.
func (n *RaftNode) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// Addr returns the transport's local address.
func (n *RaftNode) Addr() string {
	return string(n.transport.LocalAddr())
}

// WaitForLeader blocks until some node leads the cluster.
func (n *RaftNode) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.Leader() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AddVoter adds a voting member to the Raft cluster.
func (n *RaftNode) AddVoter(nodeID, addr string, timeout time.Duration) error {
	f := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster.
func (n *RaftNode) RemoveServer(nodeID string, timeout time.Duration) error {
	f := n.raft.RemoveServer(raft.ServerID(nodeID), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// Voters returns the ids of the current voters.
func (n *RaftNode) Voters() ([]string, error) {
	f := n.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	var out []string
	for _, s := range f.Configuration().Servers {
		if s.Suffrage == raft.Voter {
			out = append(out, string(s.ID))
		}
	}
	return out, nil
}

// Snapshot triggers a snapshot.
func (n *RaftNode) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// LeaderCh notifies on leadership changes of this node.
func (n *RaftNode) LeaderCh() <-chan bool {
	return n.leaderCh
}

// Close stops raft and releases its stores.
func (n *RaftNode) Close() error {
	var errs []error
	if err := n.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("raft shutdown: %w", err))
	}
	errs = append(errs, n.closeResources())
	n.logger.Info("raft node stopped")
	return errors.Join(errs...)
}

func (n *RaftNode) closeResources() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// hcLogger adapts slog.Logger to hashicorp/go-hclog.Logger.
type hcLogger struct {
	logger *slog.Logger
	name   string
	args   []any
}

func newHCLogger(logger *slog.Logger, name string) *hcLogger {
	return &hcLogger{logger: logger, name: name}
}

func slogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace, hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), slogLevel(level), msg, args...)
}

func (l *hcLogger) Trace(msg string, args ...any) { l.Log(hclog.Trace, msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.Log(hclog.Debug, msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.Log(hclog.Info, msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.Log(hclog.Warn, msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.Log(hclog.Error, msg, args...) }

func (l *hcLogger) enabled(level hclog.Level) bool {
	return l.logger.Enabled(context.Background(), slogLevel(level))
}

func (l *hcLogger) IsTrace() bool { return l.enabled(hclog.Trace) }
func (l *hcLogger) IsDebug() bool { return l.enabled(hclog.Debug) }
func (l *hcLogger) IsInfo() bool  { return l.enabled(hclog.Info) }
func (l *hcLogger) IsWarn() bool  { return l.enabled(hclog.Warn) }
func (l *hcLogger) IsError() bool { return l.enabled(hclog.Error) }

func (l *hcLogger) ImpliedArgs() []any { return l.args }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return &hcLogger{
		logger: l.logger.With(args...),
		name:   l.name,
		args:   append(append([]any(nil), l.args...), args...),
	}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return l.ResetNamed(full)
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{logger: l.logger.With("subsystem", name), name: name, args: l.args}
}

// Levels follow the slog handler; hclog cannot change them.
func (l *hcLogger) SetLevel(hclog.Level) {}

func (l *hcLogger) GetLevel() hclog.Level {
	for _, lv := range []hclog.Level{hclog.Trace, hclog.Info, hclog.Warn, hclog.Error} {
		if l.enabled(lv) {
			return lv
		}
	}
	return hclog.Off
}

func (l *hcLogger) StandardLogger(*hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(nil), "", 0)
}

func (l *hcLogger) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return &slogWriter{logger: l.logger}
}
