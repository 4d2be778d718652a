package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/cseg"
	"github.com/yndnr/segmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/segmesh-go/internal/infra/confloader"
	"github.com/yndnr/segmesh-go/internal/infra/shutdown"
	"github.com/yndnr/segmesh-go/internal/oseg"
	"github.com/yndnr/segmesh-go/internal/server/clusterserver"
	"github.com/yndnr/segmesh-go/internal/server/config"
	"github.com/yndnr/segmesh-go/internal/server/httpserver"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/segmesh-go/internal/servermap"
	"github.com/yndnr/segmesh-go/internal/telemetry/logger"
	"github.com/yndnr/segmesh-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("segmesh-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.Slog()

	info := buildinfo.Get()
	log.Info("starting segmesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"oseg", cfg.OSeg.Enabled,
		"cseg", cfg.CSeg.Enabled,
		"cluster", cfg.Cluster.Enabled)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	reg := metric.NewRegistry()
	shutdownHandler := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, slogger)

	servers, err := servermap.DefaultRegistry().New(cfg.ServerMap.Kind, cfg.ServerMapOptions())
	if err != nil {
		return err
	}
	log.Info("server map loaded", "kind", cfg.ServerMap.Kind, "servers", len(servers.Servers()))

	deps := handler.Deps{
		Servers: servers,
		Handoff: handler.NewHandoffLog(slogger),
	}

	// Hooks run in reverse order: HTTP first, then CSEG, then OSEG.
	if cfg.OSeg.Enabled {
		index, store, err := startIndex(cfg, reg, slogger)
		if err != nil {
			return fmt.Errorf("start oseg: %w", err)
		}
		deps.Index = index
		shutdownHandler.OnShutdown("oseg", func(context.Context) error {
			index.Close()
			return store.Close()
		})
	}

	if cfg.CSeg.Enabled {
		cs, err := startCSeg(cfg, servers, reg, slogger)
		if err != nil {
			return fmt.Errorf("start cseg: %w", err)
		}
		deps.Replica = cs.replica
		deps.Samples = cs.rebalancer
		if cs.node != nil {
			deps.Cluster = cs.node
		}
		shutdownHandler.OnShutdown("cseg", cs.close)
	}

	httpMetrics := metric.NewHTTPMetrics("http")
	if err := httpMetrics.Register(reg); err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Deps:      deps,
		Gatherer:  reg,
		Metrics:   httpMetrics,
		RateLimit: cfg.Server.HTTP.RateLimit,
		Logger:    slogger,
	})

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Addr = cfg.Server.HTTP.Addr
	httpServer := httpserver.New(httpCfg, router, slogger)
	httpServer.OnShutdown(router.CloseStreams)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start http: %w", err)
	}
	log.Info("HTTP server listening", "addr", httpServer.Addr().String())
	shutdownHandler.OnShutdown("http", httpServer.Shutdown)
	go func() {
		<-httpServer.Done()
		shutdownHandler.Trigger("http server stopped")
	}()

	if *configFile != "" {
		if err := watchConfig(*configFile, shutdownHandler, slogger); err != nil {
			log.Warn("configuration watcher disabled", "error", err)
		}
	}
	shutdownHandler.OnReload(func() { reloadLogLevel(*configFile, slogger) })

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithEnvAliases(config.EnvAliases)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startIndex opens the backing store and the OSEG index over it.
func startIndex(cfg *config.ServerConfig, reg prometheus.Registerer, slogger *slog.Logger) (*oseg.Index, craq.Store, error) {
	store, err := craq.DefaultRegistry().New(cfg.OSeg.Backend, cfg.StoreConfig(), slogger)
	if err != nil {
		return nil, nil, err
	}

	index, err := oseg.New(cfg.IndexConfig(slogger), store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := index.RegisterMetrics(reg); err != nil {
		index.Close()
		store.Close()
		return nil, nil, err
	}

	slogger.Info("oseg index started",
		"backend", cfg.OSeg.Backend,
		"server_id", cfg.OSeg.ServerID,
		"cache_size", cfg.OSeg.CacheSize)
	return index, store, nil
}

// csegStack is the running partition: the replica the API reads, the
// rebalancer, and the raft node when replicated.
type csegStack struct {
	replica    *cseg.Replica
	rebalancer *cseg.Rebalancer
	node       *clusterserver.Node
}

func (s *csegStack) close(context.Context) error {
	var err error
	if s.rebalancer != nil {
		err = s.rebalancer.Close()
	}
	if s.node != nil {
		if nerr := s.node.Close(); err == nil {
			err = nerr
		}
	}
	return err
}

func startCSeg(cfg *config.ServerConfig, servers servermap.ServerIDMap, reg prometheus.Registerer, slogger *slog.Logger) (*csegStack, error) {
	world, err := cfg.World()
	if err != nil {
		return nil, err
	}
	ids := servers.Servers()
	if len(ids) == 0 {
		return nil, fmt.Errorf("server map lists no servers")
	}

	var (
		snap *cseg.Snapshot
		seed map[string]float64
	)
	if cfg.CSEGUsesWorldPop {
		grid, err := cseg.LoadDensityGrid(cfg.CSeg.DensityFile, int(cfg.CSEGWorldWidth), int(cfg.CSEGWorldHeight))
		if err != nil {
			return nil, err
		}
		maxLeaf := cfg.RebalancerConfig(slogger).MaxLeafPopulation
		snap, seed, err = cseg.BuildFromDensity(world, grid, float64(maxLeaf), len(ids))
		if err != nil {
			return nil, err
		}
	} else {
		snap, err = cseg.NewSnapshot(world, ids[0])
		if err != nil {
			return nil, err
		}
	}
	replica := cseg.NewReplica(cseg.NewTree(snap), slogger)
	slogger.Info("cseg tree built", "world", world.String(), "leaves", snap.Leaves)

	// A local directory has no internal addresses to notify.
	var handoff cseg.Handoff = cseg.NoopHandoff{}
	if cfg.ServerMap.Kind != "local" {
		handoff = cseg.NewHTTPHandoff(servers, &http.Client{Timeout: cfg.CSeg.HandoffTimeout}, slogger)
	}

	stack := &csegStack{replica: replica}
	var publisher cseg.Publisher = cseg.NewLocalPublisher(replica)
	if cfg.Cluster.Enabled {
		cc, err := config.ToClusterConfig(cfg, slogger)
		if err != nil {
			return nil, err
		}
		node, err := clusterserver.NewNode(cc, replica)
		if err != nil {
			return nil, err
		}
		stack.node = node
		publisher = node.Publisher()
	}

	rebalancer := cseg.NewRebalancer(cfg.RebalancerConfig(slogger), replica, publisher, handoff)
	stack.rebalancer = rebalancer
	for _, id := range ids {
		rebalancer.AddFreeServer(id)
	}
	if err := rebalancer.RegisterMetrics(reg); err != nil {
		stack.close(context.Background())
		return nil, err
	}
	if seed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rebalancer.SeedPopulation(ctx, seed)
		cancel()
		if err != nil {
			stack.close(context.Background())
			return nil, err
		}
	}
	if stack.node != nil {
		stack.node.Attach(rebalancer)
	}
	rebalancer.Start()
	return stack, nil
}

// watchConfig re-reads log.level whenever the file is saved.
func watchConfig(path string, h *shutdown.Handler, slogger *slog.Logger) error {
	w, err := confloader.NewWatcher(path, func(string) { reloadLogLevel(path, slogger) },
		confloader.WithWatcherLogger(slogger))
	if err != nil {
		return err
	}
	w.Start()
	h.OnShutdown("config-watcher", func(context.Context) error { return w.Close() })
	return nil
}

// reloadLogLevel applies log.level from a fresh load. Other keys need a
// restart.
func reloadLogLevel(path string, slogger *slog.Logger) {
	cfg, err := loadConfig(path)
	if err != nil {
		slogger.Warn("configuration reload rejected", "error", err)
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		slogger.Warn("log level not applied", "level", cfg.Log.Level, "error", err)
		return
	}
	slogger.Info("log level applied", "level", cfg.Log.Level)
}
