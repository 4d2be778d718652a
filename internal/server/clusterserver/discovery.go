package clusterserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Role tells what a gossip member does.
type Role string

const (
	// RoleCSEG members replicate the tree and vote in raft.
	RoleCSEG Role = "cseg"
	// RoleSpace members host regions and join the rebalancer's pool.
	RoleSpace Role = "space"
)

// nodeMetadata is gossiped with every member.
type nodeMetadata struct {
	RaftAddr string          `json:"raft_addr,omitempty"`
	ServerID domain.ServerID `json:"server_id"`
	Role     Role            `json:"role"`
}

// Member is a discovered node.
type Member struct {
	Name       string          `json:"name"`
	GossipAddr string          `json:"gossip_addr"`
	RaftAddr   string          `json:"raft_addr,omitempty"`
	ServerID   domain.ServerID `json:"server_id"`
	Role       Role            `json:"role"`
}

// Discovery tracks cluster membership over memberlist gossip.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger

	mu       sync.Mutex
	shutdown bool
	onJoin   func(Member)
	onLeave  func(Member)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique member name.
	NodeID string

	// BindAddr and BindPort are where gossip listens. Port 0 picks a free one.
	BindAddr string
	BindPort int

	// RaftAddr is advertised so peers can add this node as a voter.
	RaftAddr string

	// ServerID and Role describe this member.
	ServerID domain.ServerID
	Role     Role

	// SeedNodes are the initial nodes to join.
	SeedNodes []string

	Logger *slog.Logger
}

// NewDiscovery creates a memberlist and joins the seeds.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Role == "" {
		cfg.Role = RoleCSEG
	}

	meta, err := json.Marshal(nodeMetadata{RaftAddr: cfg.RaftAddr, ServerID: cfg.ServerID, Role: cfg.Role})
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node metadata is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
	}

	d := &Discovery{logger: cfg.Logger.With("component", "discovery")}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.Events = &eventDelegate{discovery: d}
	mlConfig.LogOutput = &slogWriter{logger: d.logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		d.logger.Info("joined cluster",
			"node_id", cfg.NodeID,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		d.logger.Info("started discovery (bootstrap mode)", "node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the current members.
func (d *Discovery) Members() []Member {
	nodes := d.memberList.Members()
	out := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toMember(n))
	}
	return out
}

// LocalNode returns the local member.
func (d *Discovery) LocalNode() Member {
	return toMember(d.memberList.LocalNode())
}

// GossipAddr returns the address peers use to join this node.
func (d *Discovery) GossipAddr() string {
	n := d.memberList.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// OnJoin registers fn for join events. Members already present when fn is
// registered are replayed to it.
func (d *Discovery) OnJoin(fn func(Member)) {
	d.mu.Lock()
	d.onJoin = fn
	d.mu.Unlock()

	for _, m := range d.Members() {
		fn(m)
	}
}

// OnLeave registers fn for leave events.
func (d *Discovery) OnLeave(fn func(Member)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLeave = fn
}

// leaveTimeout bounds the wait for the leave broadcast.
const leaveTimeout = 5 * time.Second

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave() error {
	if err := d.memberList.Leave(leaveTimeout); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops gossip.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.mu.Unlock()

	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

func toMember(n *memberlist.Node) Member {
	m := Member{
		Name:       n.Name,
		GossipAddr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
	}
	var meta nodeMetadata
	if len(n.Meta) > 0 && json.Unmarshal(n.Meta, &meta) == nil {
		m.RaftAddr = meta.RaftAddr
		m.ServerID = meta.ServerID
		m.Role = meta.Role
	}
	return m
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	m := toMember(node)
	if m.Role == RoleCSEG && m.RaftAddr == "" {
		e.discovery.logger.Warn("cseg node joined without raft metadata", "node_id", m.Name, "gossip_addr", m.GossipAddr)
	}
	e.discovery.logger.Info("node joined",
		"node_id", m.Name,
		"role", m.Role,
		"server", m.ServerID,
		"gossip_addr", m.GossipAddr,
		"raft_addr", m.RaftAddr)

	e.discovery.mu.Lock()
	fn := e.discovery.onJoin
	e.discovery.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// NotifyLeave is called when a node leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	m := toMember(node)
	e.discovery.logger.Info("node left", "node_id", m.Name, "role", m.Role, "server", m.ServerID)

	e.discovery.mu.Lock()
	fn := e.discovery.onLeave
	e.discovery.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// NotifyUpdate is called when a node's metadata changes.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated", "node_id", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist and raft.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return nil
	}
	return m.meta
}

func (m *metadataDelegate) NotifyMsg([]byte)                           {}
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool)     {}
