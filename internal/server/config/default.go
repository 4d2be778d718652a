package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxLeafPopulation = 800
	DefaultNumCSEGServers    = 1
	DefaultCSEGID            = 1
	DefaultCSEGServerLLPort  = 5343

	DefaultServerMapKind    = "local"
	DefaultServerMapAddress = "127.0.0.1:5090"

	DefaultOSegBackend        = "memory"
	DefaultOSegConnections    = 10
	DefaultOSegCacheSize      = 100000
	DefaultOSegLookupTimeout  = 3 * time.Second
	DefaultOSegMaxRetries     = 5
	DefaultOSegInitialBackoff = 50 * time.Millisecond
	DefaultOSegMaxBackoff     = 2 * time.Second

	DefaultRebalanceInterval = time.Second
	DefaultHandoffTimeout    = 5 * time.Second
	DefaultOpsPerSecond      = 10

	DefaultRaftAddr   = "127.0.0.1"
	DefaultGossipAddr = "127.0.0.1"
	DefaultGossipPort = 5345
	DefaultClusterDir = "/var/lib/segmesh-server/raft"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultWorld is a 2 km square, 200 m tall world centred on the origin.
var (
	DefaultWorldMin = []float64{-1000, -1000, -100}
	DefaultWorldMax = []float64{1000, 1000, 100}
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		CSEGMaxLeafPopulation: DefaultMaxLeafPopulation,
		NumCSEGServers:        DefaultNumCSEGServers,
		CSEGID:                DefaultCSEGID,
		CSEGServerLLPort:      DefaultCSEGServerLLPort,
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				ShutdownTimeout: DefaultShutdownTimeout,
			},
		},
		ServerMap: ServerMapSection{
			Kind:    DefaultServerMapKind,
			Address: DefaultServerMapAddress,
		},
		OSeg: OSegSection{
			Enabled:        true,
			Backend:        DefaultOSegBackend,
			Connections:    DefaultOSegConnections,
			CacheSize:      DefaultOSegCacheSize,
			LookupTimeout:  DefaultOSegLookupTimeout,
			MaxRetries:     DefaultOSegMaxRetries,
			InitialBackoff: DefaultOSegInitialBackoff,
			MaxBackoff:     DefaultOSegMaxBackoff,
			ServerID:       DefaultCSEGID,
		},
		CSeg: CSegSection{
			Enabled: true,
			World: WorldConfig{
				Min: append([]float64(nil), DefaultWorldMin...),
				Max: append([]float64(nil), DefaultWorldMax...),
			},
			RebalanceInterval: DefaultRebalanceInterval,
			HandoffTimeout:    DefaultHandoffTimeout,
			OpsPerSecond:      DefaultOpsPerSecond,
		},
		Cluster: ClusterSection{
			RaftAddr:   DefaultRaftAddr,
			GossipAddr: DefaultGossipAddr,
			GossipPort: DefaultGossipPort,
			DataDir:    DefaultClusterDir,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
