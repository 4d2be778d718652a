package config

import (
	"errors"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/kvserver"
	"github.com/yndnr/segmesh-go/internal/storage"
)

// KVDConfig is the root configuration for segmesh-kvd.
type KVDConfig struct {
	Listen  KVDListenSection  `koanf:"listen"`
	Storage KVDStorageSection `koanf:"storage"`
	Metrics KVDMetricsSection `koanf:"metrics"`
	Log     LogSection        `koanf:"log"`
}

// KVDListenSection configures the line protocol listener.
type KVDListenSection struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	RateLimit    int           `koanf:"rate_limit"`
}

// KVDStorageSection configures the KV engine.
type KVDStorageSection struct {
	// Engine is "badger" or "memory".
	Engine string `koanf:"engine"`
	Dir    string `koanf:"dir"`

	// MemorySize is the freecache size in bytes.
	MemorySize int `koanf:"memory_size"`

	GCInterval  string  `koanf:"gc_interval"`
	GCThreshold float64 `koanf:"gc_threshold"`
	CacheSize   int64   `koanf:"cache_size"`
	SyncWrites  bool    `koanf:"sync_writes"`
}

// KVDMetricsSection configures the metrics endpoint. An empty address
// disables it.
type KVDMetricsSection struct {
	Addr string `koanf:"addr"`
}

// Default segmesh-kvd values.
const (
	DefaultKVDAddr        = "127.0.0.1:5344"
	DefaultKVDMetricsAddr = "127.0.0.1:5081"
	DefaultKVDDir         = "/var/lib/segmesh-kvd/data"
)

// DefaultKVD returns the default segmesh-kvd configuration.
func DefaultKVD() *KVDConfig {
	srv := kvserver.DefaultConfig()
	badger := storage.DefaultBadgerConfig()
	return &KVDConfig{
		Listen: KVDListenSection{
			Addr:         DefaultKVDAddr,
			ReadTimeout:  srv.ReadTimeout,
			WriteTimeout: srv.WriteTimeout,
			IdleTimeout:  srv.IdleTimeout,
		},
		Storage: KVDStorageSection{
			Engine:      storage.EngineBadger,
			Dir:         DefaultKVDDir,
			MemorySize:  64 << 20,
			GCInterval:  badger.GCInterval,
			GCThreshold: badger.GCThreshold,
			CacheSize:   badger.CacheSize,
		},
		Metrics: KVDMetricsSection{
			Addr: DefaultKVDMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// VerifyKVD validates a segmesh-kvd configuration.
func VerifyKVD(cfg *KVDConfig) error {
	var errs []error
	if err := checkHostPort("listen.addr", cfg.Listen.Addr); err != nil {
		errs = append(errs, err)
	}
	if cfg.Listen.RateLimit < 0 {
		errs = append(errs, errors.New("listen.rate_limit must not be negative"))
	}
	switch cfg.Storage.Engine {
	case storage.EngineBadger:
		if cfg.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the badger engine"))
		}
		if cfg.Storage.GCInterval != "" {
			if _, err := time.ParseDuration(cfg.Storage.GCInterval); err != nil {
				errs = append(errs, errors.New("storage.gc_interval: "+err.Error()))
			}
		}
		if cfg.Storage.GCThreshold < 0 || cfg.Storage.GCThreshold >= 1 {
			errs = append(errs, errors.New("storage.gc_threshold must be in [0, 1)"))
		}
	case storage.EngineMemory:
		if cfg.Storage.MemorySize < 0 {
			errs = append(errs, errors.New("storage.memory_size must not be negative"))
		}
	default:
		errs = append(errs, errors.New("storage.engine must be badger or memory"))
	}
	if cfg.Metrics.Addr != "" {
		if err := checkHostPort("metrics.addr", cfg.Metrics.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, verifyLog(&cfg.Log)...)

	if len(errs) == 0 {
		return nil
	}
	return domain.ErrConfig.WithCause(errors.Join(errs...))
}

// StorageConfig returns the KV engine configuration.
func (c *KVDConfig) StorageConfig() storage.Config {
	sc := storage.DefaultConfig(c.Storage.Dir)
	sc.Engine = c.Storage.Engine
	sc.Memory.Size = c.Storage.MemorySize
	if c.Storage.GCInterval != "" {
		sc.Badger.GCInterval = c.Storage.GCInterval
	}
	if c.Storage.GCThreshold > 0 {
		sc.Badger.GCThreshold = c.Storage.GCThreshold
	}
	if c.Storage.CacheSize > 0 {
		sc.Badger.CacheSize = c.Storage.CacheSize
	}
	sc.Badger.SyncWrites = c.Storage.SyncWrites
	return sc
}

// ServerConfig returns the line protocol server configuration.
func (c *KVDConfig) ServerConfig() *kvserver.Config {
	return &kvserver.Config{
		Address:      c.Listen.Addr,
		ReadTimeout:  c.Listen.ReadTimeout,
		WriteTimeout: c.Listen.WriteTimeout,
		IdleTimeout:  c.Listen.IdleTimeout,
		RateLimit:    c.Listen.RateLimit,
	}
}
