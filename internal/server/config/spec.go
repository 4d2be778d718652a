package config

import "time"

// ServerConfig is the root configuration for segmesh-server.
//
// The CSEG tuning options keep their historical hyphenated names at the top
// level; everything else is grouped in sections.
type ServerConfig struct {
	// CSEGMaxLeafPopulation splits a leaf once its population exceeds it.
	CSEGMaxLeafPopulation uint32 `koanf:"cseg-max-leaf-population"`

	// CSEGWorldWidth and CSEGWorldHeight are the density grid dimensions
	// in cells.
	CSEGWorldWidth  uint32 `koanf:"cseg-world-width"`
	CSEGWorldHeight uint32 `koanf:"cseg-world-height"`

	// CSEGUsesWorldPop pre-splits the tree from cseg.density_file.
	CSEGUsesWorldPop bool `koanf:"cseg-uses-world-pop"`

	// RandomSplitsMerges enables chaos rebalancing.
	RandomSplitsMerges bool `koanf:"random-splits-merges"`

	// NumCSEGServers is the number of raft voters expected.
	NumCSEGServers uint16 `koanf:"num-cseg-servers"`

	// CSEGID is this CSEG node's ServerID.
	CSEGID uint32 `koanf:"cseg-id"`

	// CSEGServerLLPort is the raft transport port used when
	// cluster.raft_addr carries none.
	CSEGServerLLPort uint16 `koanf:"cseg-server-ll-port"`

	Server    ServerSection    `koanf:"server"`
	ServerMap ServerMapSection `koanf:"servermap"`
	OSeg      OSegSection      `koanf:"oseg"`
	CSeg      CSegSection      `koanf:"cseg"`
	Cluster   ClusterSection   `koanf:"cluster"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `koanf:"addr"`

	// RateLimit is the per-client request rate of the public API.
	// 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ServerMapSection selects the server directory.
type ServerMapSection struct {
	// Kind is "tabular" or "local".
	Kind string `koanf:"kind"`

	// File is the tabular directory file.
	File string `koanf:"file"`

	// Address is the external address of the local kind.
	Address string `koanf:"address"`
}

// OSegSection configures the object segmentation index.
type OSegSection struct {
	Enabled bool `koanf:"enabled"`

	// Backend is the backing store kind: "craq", "redis" or "memory".
	Backend string `koanf:"backend"`

	// Endpoints are the CRAQ routers, host:port.
	Endpoints []string `koanf:"endpoints"`

	// Connections is the number of backing-store sockets.
	Connections int `koanf:"connections"`

	CacheSize      int           `koanf:"cache_size"`
	LookupTimeout  time.Duration `koanf:"lookup_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`

	// ServerID is the space server this index answers for.
	ServerID uint32 `koanf:"server_id"`

	Redis RedisConfig `koanf:"redis"`
}

// RedisConfig configures the redis backing store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// CSegSection configures the spatial partition tree.
type CSegSection struct {
	Enabled bool `koanf:"enabled"`

	World WorldConfig `koanf:"world"`

	// DensityFile is the grid read when cseg-uses-world-pop is set.
	DensityFile string `koanf:"density_file"`

	RebalanceInterval time.Duration `koanf:"rebalance_interval"`
	HandoffTimeout    time.Duration `koanf:"handoff_timeout"`
	OpsPerSecond      float64       `koanf:"ops_per_second"`
}

// WorldConfig is the world volume as two [x, y, z] corners.
type WorldConfig struct {
	Min []float64 `koanf:"min"`
	Max []float64 `koanf:"max"`
}

// ClusterSection configures CSEG replication. Without it the tree is kept
// in this process only.
type ClusterSection struct {
	// Enabled turns on raft replication and gossip discovery.
	Enabled bool `koanf:"enabled"`

	// NodeID is the gossip member name. Default: cseg-<cseg-id>
	NodeID string `koanf:"node_id"`

	// RaftAddr is the raft TCP bind address (e.g., "192.168.1.10:5343").
	// A bare host uses cseg-server-ll-port.
	RaftAddr string `koanf:"raft_addr"`

	// GossipAddr and GossipPort are the memberlist bind address.
	GossipAddr string `koanf:"gossip_addr"`
	GossipPort int    `koanf:"gossip_port"`

	// Bootstrap forms a new cluster. Mutually exclusive with Seeds.
	Bootstrap bool `koanf:"bootstrap"`

	// Seeds are gossip addresses of existing members.
	// Format: ["192.168.1.10:5345", "192.168.1.11:5345"]
	Seeds []string `koanf:"seeds"`

	// DataDir holds the raft log and snapshots.
	DataDir string `koanf:"data_dir"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EnvAliases maps environment spellings of the hyphenated keys.
var EnvAliases = map[string]string{
	"cseg.max.leaf.population": "cseg-max-leaf-population",
	"cseg.world.width":         "cseg-world-width",
	"cseg.world.height":        "cseg-world-height",
	"cseg.uses.world.pop":      "cseg-uses-world-pop",
	"random.splits.merges":     "random-splits-merges",
	"num.cseg.servers":         "num-cseg-servers",
	"cseg.id":                  "cseg-id",
	"cseg.server.ll.port":      "cseg-server-ll-port",
}
