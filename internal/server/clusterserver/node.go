package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

// Config configures a replicated CSEG node.
type Config struct {
	// ServerID identifies this CSEG node; it is also its raft id.
	ServerID domain.ServerID

	// NodeName is the gossip member name. Default: cseg-<ServerID>
	NodeName string

	// RaftBindAddr is the raft transport address.
	RaftBindAddr string

	// GossipBindAddr and GossipBindPort are where memberlist listens.
	GossipBindAddr string
	GossipBindPort int

	// DataDir holds the raft log and snapshots.
	DataDir string

	// Bootstrap forms a new cluster with this node as the only voter.
	Bootstrap bool

	// ExpectedVoters is the number of CSEG nodes expected to vote; a
	// warning is logged while the cluster is smaller.
	ExpectedVoters int

	// Seeds are gossip addresses of existing members.
	Seeds []string

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if !c.ServerID.Valid() {
		return errors.New("server_id is required")
	}
	if c.RaftBindAddr == "" {
		return errors.New("raft_bind_addr is required")
	}
	if c.GossipBindAddr == "" {
		return errors.New("gossip_bind_addr is required")
	}
	if c.GossipBindPort < 0 || c.GossipBindPort > 65535 {
		return fmt.Errorf("gossip_bind_port %d out of range", c.GossipBindPort)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ExpectedVoters < 0 {
		return errors.New("expected_voters must not be negative")
	}
	return nil
}

// Node runs the CSEG replication stack: the raft log of tree transitions,
// gossip discovery, and leader-only rebalancing.
type Node struct {
	cfg        Config
	fsm        *FSM
	raft       *RaftNode
	discovery  *Discovery
	rebalancer *cseg.Rebalancer
	publisher  *RaftPublisher
	logger     *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewNode starts raft and gossip for replica. Call Attach once the
// rebalancer exists to hand it leadership and membership events.
func NewNode(cfg Config, replica *cseg.Replica) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, domain.ErrConfig.WithDetails("cluster").WithCause(err)
	}

	logger := cfg.Logger.With("component", "cluster", "server", cfg.ServerID)
	fsm := NewFSM(replica, cfg.Logger)

	rn, err := NewRaftNode(RaftConfig{
		NodeID:    nodeID(cfg.ServerID),
		BindAddr:  cfg.RaftBindAddr,
		DataDir:   cfg.DataDir,
		Bootstrap: cfg.Bootstrap,
		Logger:    cfg.Logger,
	}, fsm)
	if err != nil {
		return nil, err
	}

	name := cfg.NodeName
	if name == "" {
		name = "cseg-" + nodeID(cfg.ServerID)
	}
	disc, err := NewDiscovery(DiscoveryConfig{
		NodeID:    name,
		BindAddr:  cfg.GossipBindAddr,
		BindPort:  cfg.GossipBindPort,
		RaftAddr:  rn.Addr(),
		ServerID:  cfg.ServerID,
		Role:      RoleCSEG,
		SeedNodes: cfg.Seeds,
		Logger:    cfg.Logger,
	})
	if err != nil {
		rn.Close()
		return nil, err
	}

	return &Node{
		cfg:       cfg,
		fsm:       fsm,
		raft:      rn,
		discovery: disc,
		publisher: NewRaftPublisher(rn, DefaultApplyTimeout),
		logger:    logger,
		stop:      make(chan struct{}),
	}, nil
}

func nodeID(id domain.ServerID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Publisher returns the raft-backed publisher for the rebalancer.
func (n *Node) Publisher() *RaftPublisher {
	return n.publisher
}

// Raft returns the raft node.
func (n *Node) Raft() *RaftNode {
	return n.raft
}

// Discovery returns the gossip membership.
func (n *Node) Discovery() *Discovery {
	return n.discovery
}

// Attach wires r to cluster events: it runs only while this node leads,
// and space servers that join or leave gossip enter or leave its pool.
// CSEG peers that join are added as raft voters by the leader.
func (n *Node) Attach(r *cseg.Rebalancer) {
	n.rebalancer = r
	r.SetActive(n.raft.IsLeader())

	n.discovery.OnLeave(n.memberLeft)
	n.discovery.OnJoin(n.memberJoined)

	n.wg.Add(1)
	go n.watchLeadership()
}

func (n *Node) memberJoined(m Member) {
	switch m.Role {
	case RoleSpace:
		if n.rebalancer != nil && m.ServerID.Valid() {
			n.rebalancer.AddFreeServer(m.ServerID)
		}
	case RoleCSEG:
		if m.ServerID == n.cfg.ServerID || m.RaftAddr == "" || !n.raft.IsLeader() {
			return
		}
		// Off the gossip goroutine; AddVoter blocks until committed.
		go func() {
			if err := n.raft.AddVoter(nodeID(m.ServerID), m.RaftAddr, 10*time.Second); err != nil {
				n.logger.Warn("add voter failed", "peer", m.ServerID, "error", err)
				return
			}
			n.logger.Info("voter added", "peer", m.ServerID, "raft_addr", m.RaftAddr)
		}()
	}
}

func (n *Node) memberLeft(m Member) {
	switch m.Role {
	case RoleSpace:
		if n.rebalancer != nil && m.ServerID.Valid() {
			n.rebalancer.RemoveServer(m.ServerID)
		}
	case RoleCSEG:
		if m.ServerID == n.cfg.ServerID || !n.raft.IsLeader() {
			return
		}
		go func() {
			if err := n.raft.RemoveServer(nodeID(m.ServerID), 10*time.Second); err != nil {
				n.logger.Warn("remove voter failed", "peer", m.ServerID, "error", err)
			}
		}()
	}
}

func (n *Node) watchLeadership() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stop:
			return
		case leader := <-n.raft.LeaderCh():
			n.logger.Info("leadership changed", "leader", leader)
			n.rebalancer.SetActive(leader)
			if leader {
				n.checkVoters()
				// Catch peers that joined gossip while another node led.
				for _, m := range n.discovery.Members() {
					n.memberJoined(m)
				}
			}
		}
	}
}

func (n *Node) checkVoters() {
	if n.cfg.ExpectedVoters == 0 {
		return
	}
	voters, err := n.raft.Voters()
	if err != nil {
		n.logger.Warn("read raft configuration failed", "error", err)
		return
	}
	if len(voters) < n.cfg.ExpectedVoters {
		n.logger.Warn("cluster below expected size", "voters", len(voters), "expected", n.cfg.ExpectedVoters)
	}
}

// WaitForLeader blocks until the cluster has a leader.
func (n *Node) WaitForLeader(ctx context.Context) error {
	return n.raft.WaitForLeader(ctx)
}

// Status summarizes the node for operators.
type Status struct {
	ServerID domain.ServerID `json:"server_id"`
	Leader   bool            `json:"leader"`
	LeaderID string          `json:"leader_id"`
	Voters   []string        `json:"voters"`
	Members  []Member        `json:"members"`
}

// Status returns the current node status.
func (n *Node) Status() Status {
	voters, _ := n.raft.Voters()
	return Status{
		ServerID: n.cfg.ServerID,
		Leader:   n.raft.IsLeader(),
		LeaderID: n.raft.LeaderID(),
		Voters:   voters,
		Members:  n.discovery.Members(),
	}
}

// Close leaves gossip and shuts down raft.
func (n *Node) Close() error {
	n.once.Do(func() {
		close(n.stop)
		n.wg.Wait()
		if err := n.discovery.Leave(); err != nil {
			n.logger.Warn("leave gossip failed", "error", err)
		}
		if err := n.discovery.Shutdown(); err != nil {
			n.logger.Warn("shutdown gossip failed", "error", err)
		}
		n.raft.Close()
	})
	return nil
}
