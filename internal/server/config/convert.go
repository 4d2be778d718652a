package config

import (
	"fmt"
	"log/slog"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/cseg"
	"github.com/yndnr/segmesh-go/internal/oseg"
	"github.com/yndnr/segmesh-go/internal/servermap"
)

// World returns cseg.world as a bounding box.
func (c *ServerConfig) World() (domain.BoundingBox, error) {
	lo, err := vector("cseg.world.min", c.CSeg.World.Min)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	hi, err := vector("cseg.world.max", c.CSeg.World.Max)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	box := domain.NewBoundingBox(lo, hi)
	if !box.Valid() {
		return domain.BoundingBox{}, fmt.Errorf("cseg.world %v has no volume", box)
	}
	return box, nil
}

func vector(key string, v []float64) (domain.Vector3, error) {
	if len(v) != 3 {
		return domain.Vector3{}, fmt.Errorf("%s must have 3 coordinates, got %d", key, len(v))
	}
	return domain.Vector3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// ServerMapOptions returns the directory options for servermap.Registry.
func (c *ServerConfig) ServerMapOptions() servermap.Options {
	return servermap.Options{
		File:         c.ServerMap.File,
		LocalID:      domain.ServerID(c.OSeg.ServerID),
		LocalAddress: c.ServerMap.Address,
	}
}

// StoreConfig returns the backing store settings for craq.Registry.
func (c *ServerConfig) StoreConfig() craq.StoreConfig {
	return craq.StoreConfig{
		Endpoints:      c.OSeg.Endpoints,
		NumConnections: c.OSeg.Connections,
		IOTimeout:      c.OSeg.LookupTimeout,
		RedisAddr:      c.OSeg.Redis.Addr,
		RedisPassword:  c.OSeg.Redis.Password,
		RedisDB:        c.OSeg.Redis.DB,
	}
}

// IndexConfig returns the OSEG index configuration.
func (c *ServerConfig) IndexConfig(logger *slog.Logger) oseg.Config {
	cfg := oseg.DefaultConfig(domain.ServerID(c.OSeg.ServerID))
	if c.OSeg.CacheSize > 0 {
		cfg.CacheSize = c.OSeg.CacheSize
	}
	if c.OSeg.LookupTimeout > 0 {
		cfg.LookupTimeout = c.OSeg.LookupTimeout
	}
	cfg.MaxRetries = c.OSeg.MaxRetries
	if c.OSeg.InitialBackoff > 0 {
		cfg.InitialBackoff = c.OSeg.InitialBackoff
	}
	if c.OSeg.MaxBackoff > 0 {
		cfg.MaxBackoff = c.OSeg.MaxBackoff
	}
	cfg.Logger = logger
	return cfg
}

// RebalancerConfig returns the CSEG rebalancer configuration.
func (c *ServerConfig) RebalancerConfig(logger *slog.Logger) cseg.Config {
	cfg := cseg.DefaultConfig()
	if c.CSEGMaxLeafPopulation > 0 {
		cfg.MaxLeafPopulation = c.CSEGMaxLeafPopulation
	}
	if c.CSeg.RebalanceInterval > 0 {
		cfg.Interval = c.CSeg.RebalanceInterval
	}
	if c.CSeg.OpsPerSecond > 0 {
		cfg.OpsPerSecond = c.CSeg.OpsPerSecond
	}
	if c.CSeg.HandoffTimeout > 0 {
		cfg.HandoffTimeout = c.CSeg.HandoffTimeout
	}
	cfg.RandomSplitsMerges = c.RandomSplitsMerges
	cfg.Logger = logger
	return cfg
}
