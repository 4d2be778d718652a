package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Verify validates the configuration. Every problem is reported, joined
// into one ErrConfig.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyCSEGKeys(cfg)...)
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyServerMap(&cfg.ServerMap)...)
	if cfg.OSeg.Enabled {
		errs = append(errs, verifyOSeg(&cfg.OSeg)...)
	}
	if cfg.CSeg.Enabled {
		errs = append(errs, verifyCSeg(cfg)...)
		if cfg.Cluster.Enabled {
			errs = append(errs, verifyCluster(&cfg.Cluster)...)
		}
	}
	if !cfg.OSeg.Enabled && !cfg.CSeg.Enabled {
		errs = append(errs, errors.New("at least one of oseg.enabled and cseg.enabled must be set"))
	}
	errs = append(errs, verifyLog(&cfg.Log)...)

	if len(errs) == 0 {
		return nil
	}
	return domain.ErrConfig.WithCause(errors.Join(errs...))
}

func verifyCSEGKeys(cfg *ServerConfig) []error {
	var errs []error
	if cfg.CSEGMaxLeafPopulation == 0 {
		errs = append(errs, errors.New("cseg-max-leaf-population must be positive"))
	}
	if cfg.NumCSEGServers == 0 {
		errs = append(errs, errors.New("num-cseg-servers must be at least 1"))
	}
	if cfg.CSEGID == 0 {
		errs = append(errs, errors.New("cseg-id must not be the null server id"))
	}
	if cfg.CSEGUsesWorldPop {
		if cfg.CSEGWorldWidth == 0 || cfg.CSEGWorldHeight == 0 {
			errs = append(errs, errors.New("cseg-uses-world-pop requires cseg-world-width and cseg-world-height"))
		}
		if cfg.CSeg.DensityFile == "" {
			errs = append(errs, errors.New("cseg-uses-world-pop requires cseg.density_file"))
		}
	}
	return errs
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	if err := checkHostPort("server.http.addr", cfg.HTTP.Addr); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
	}
	return errs
}

func verifyServerMap(cfg *ServerMapSection) []error {
	switch cfg.Kind {
	case "tabular":
		if cfg.File == "" {
			return []error{errors.New("servermap.file is required for the tabular kind")}
		}
	case "local":
		if _, err := domain.ParseAddress(cfg.Address); err != nil {
			return []error{fmt.Errorf("servermap.address: %w", err)}
		}
	default:
		return []error{fmt.Errorf("servermap.kind %q is not one of tabular, local", cfg.Kind)}
	}
	return nil
}

func verifyOSeg(cfg *OSegSection) []error {
	var errs []error
	switch cfg.Backend {
	case "craq":
		if len(cfg.Endpoints) == 0 {
			errs = append(errs, errors.New("oseg.endpoints is required for the craq backend"))
		}
		for _, ep := range cfg.Endpoints {
			if err := checkHostPort("oseg.endpoints", ep); err != nil {
				errs = append(errs, err)
			}
		}
	case "redis":
		if err := checkHostPort("oseg.redis.addr", cfg.Redis.Addr); err != nil {
			errs = append(errs, err)
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("oseg.backend %q is not one of craq, redis, memory", cfg.Backend))
	}
	if cfg.ServerID == 0 {
		errs = append(errs, errors.New("oseg.server_id must not be the null server id"))
	}
	if cfg.Connections < 0 {
		errs = append(errs, errors.New("oseg.connections must not be negative"))
	}
	if cfg.CacheSize < 0 {
		errs = append(errs, errors.New("oseg.cache_size must not be negative"))
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, errors.New("oseg.max_retries must not be negative"))
	}
	if cfg.MaxBackoff > 0 && cfg.InitialBackoff > cfg.MaxBackoff {
		errs = append(errs, errors.New("oseg.initial_backoff must not exceed oseg.max_backoff"))
	}
	return errs
}

func verifyCSeg(cfg *ServerConfig) []error {
	var errs []error
	if _, err := cfg.World(); err != nil {
		errs = append(errs, err)
	}
	if cfg.CSeg.RebalanceInterval < 0 {
		errs = append(errs, errors.New("cseg.rebalance_interval must not be negative"))
	}
	if cfg.CSeg.HandoffTimeout < 0 {
		errs = append(errs, errors.New("cseg.handoff_timeout must not be negative"))
	}
	if cfg.CSeg.OpsPerSecond < 0 {
		errs = append(errs, errors.New("cseg.ops_per_second must not be negative"))
	}
	return errs
}

func verifyCluster(cfg *ClusterSection) []error {
	var errs []error
	if cfg.RaftAddr == "" {
		errs = append(errs, errors.New("cluster.raft_addr is required"))
	}
	if cfg.GossipAddr == "" {
		errs = append(errs, errors.New("cluster.gossip_addr is required"))
	}
	if cfg.GossipPort < 0 || cfg.GossipPort > 65535 {
		errs = append(errs, fmt.Errorf("cluster.gossip_port %d out of range", cfg.GossipPort))
	}
	if cfg.Bootstrap && len(cfg.Seeds) > 0 {
		errs = append(errs, errors.New("cluster.bootstrap and cluster.seeds are mutually exclusive"))
	}
	if !cfg.Bootstrap && len(cfg.Seeds) == 0 {
		errs = append(errs, errors.New("cluster.seeds is required unless cluster.bootstrap is set"))
	}
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("cluster.data_dir is required"))
	}
	return errs
}

func verifyLog(cfg *LogSection) []error {
	var errs []error
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", cfg.Format))
	}
	return errs
}

func checkHostPort(key, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s %q: %w", key, addr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%s %q: invalid port", key, addr)
	}
	return nil
}
