package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/clusterserver"
)

// ToClusterConfig converts ServerConfig to clusterserver.Config.
//
// A raft address without a port gets cseg-server-ll-port.
func ToClusterConfig(cfg *ServerConfig, logger *slog.Logger) (clusterserver.Config, error) {
	if cfg == nil {
		return clusterserver.Config{}, fmt.Errorf("server config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	raftAddr, err := raftBindAddr(cfg.Cluster.RaftAddr, cfg.CSEGServerLLPort)
	if err != nil {
		return clusterserver.Config{}, domain.ErrConfig.WithDetails("cluster.raft_addr").WithCause(err)
	}

	return clusterserver.Config{
		ServerID:       domain.ServerID(cfg.CSEGID),
		NodeName:       cfg.Cluster.NodeID,
		RaftBindAddr:   raftAddr,
		GossipBindAddr: cfg.Cluster.GossipAddr,
		GossipBindPort: cfg.Cluster.GossipPort,
		DataDir:        cfg.Cluster.DataDir,
		Bootstrap:      cfg.Cluster.Bootstrap,
		ExpectedVoters: int(cfg.NumCSEGServers),
		Seeds:          cfg.Cluster.Seeds,
		Logger:         logger,
	}, nil
}

func raftBindAddr(addr string, port uint16) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	if port == 0 {
		port = DefaultCSEGServerLLPort
	}
	return net.JoinHostPort(addr, strconv.Itoa(int(port))), nil
}
