package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/segmesh-go/internal/infra/confloader"
	"github.com/yndnr/segmesh-go/internal/infra/shutdown"
	"github.com/yndnr/segmesh-go/internal/server/config"
	"github.com/yndnr/segmesh-go/internal/server/httpserver"
	"github.com/yndnr/segmesh-go/internal/server/kvserver"
	"github.com/yndnr/segmesh-go/internal/storage"
	"github.com/yndnr/segmesh-go/internal/telemetry/logger"
	"github.com/yndnr/segmesh-go/internal/telemetry/metric"
)

const (
	envPrefix       = "SEGMESH_KVD_"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
	}
	return &cli.App{
		Name:    "segmesh-kvd",
		Usage:   "CRAQ line protocol key/value store",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the line protocol",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:  "backup",
				Usage: "Write a backup of a badger store",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file", Required: true},
				},
				Action: backup,
			},
			{
				Name:  "restore",
				Usage: "Load a backup into a badger store",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "Backup file", Required: true},
				},
				Action: restore,
			},
		},
	}
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.KVDConfig, error) {
	cfg := config.DefaultKVD()

	opts := []confloader.Option{confloader.WithEnvPrefix(envPrefix)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.VerifyKVD(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.KVDConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	slogger := log.Slog()

	info := buildinfo.Get()
	log.Info("starting segmesh-kvd",
		"version", info.Version,
		"engine", cfg.Storage.Engine,
		"addr", cfg.Listen.Addr)

	engine, err := storage.Open(cfg.StorageConfig(), slogger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	reg := metric.NewRegistry()
	if be, ok := engine.(*storage.BadgerEngine); ok {
		if err := be.RegisterMetrics(reg); err != nil {
			engine.Close()
			return err
		}
	}

	srv := kvserver.New(cfg.ServerConfig(), engine, slogger)
	if err := srv.RegisterMetrics(reg); err != nil {
		engine.Close()
		return err
	}

	h := shutdown.NewHandler(shutdownTimeout, slogger)
	h.OnShutdown("storage", func(context.Context) error { return engine.Close() })

	if err := srv.Start(c.Context); err != nil {
		engine.Close()
		return fmt.Errorf("start kvd: %w", err)
	}
	h.OnShutdown("kvd", srv.Shutdown)
	log.Info("kvd listening", "addr", srv.Addr().String())

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metric.Handler(reg))
		httpCfg := httpserver.DefaultConfig()
		httpCfg.Addr = cfg.Metrics.Addr
		ms := httpserver.New(httpCfg, mux, slogger)
		if err := ms.Start(); err != nil {
			log.Warn("metrics endpoint disabled", "addr", cfg.Metrics.Addr, "error", err)
		} else {
			h.OnShutdown("metrics", ms.Shutdown)
			log.Info("metrics listening", "addr", ms.Addr().String())
		}
	}

	if err := h.Wait(c.Context); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("kvd stopped gracefully")
	return nil
}

// openBadger opens the configured store for offline maintenance.
func openBadger(c *cli.Context) (*storage.BadgerEngine, *slog.Logger, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Engine != storage.EngineBadger {
		return nil, nil, fmt.Errorf("storage engine %q has nothing to back up", cfg.Storage.Engine)
	}
	log, err := initLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := storage.NewBadgerEngine(cfg.StorageConfig(), log.Slog())
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return engine, log.Slog(), nil
}

func backup(c *cli.Context) error {
	engine, slogger, err := openBadger(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	path := c.String("out")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	var w io.WriteCloser = f
	if compressed(path) {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return err
		}
		w = zw
	}

	version, err := engine.Backup(c.Context, w)
	if err != nil {
		w.Close()
		if w != f {
			f.Close()
		}
		return fmt.Errorf("backup: %w", err)
	}
	if w != f {
		if err := w.Close(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	slogger.Info("backup written", "file", path, "version", version)
	fmt.Fprintf(c.App.Writer, "backup written to %s (version %d)\n", path, version)
	return nil
}

func restore(c *cli.Context) error {
	engine, slogger, err := openBadger(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	path := c.String("in")
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}

	if err := engine.Restore(c.Context, r); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	slogger.Info("backup restored", "file", path)
	fmt.Fprintf(c.App.Writer, "restored %s\n", path)
	return nil
}

func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}
