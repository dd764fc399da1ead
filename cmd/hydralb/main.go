package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jroosing/hydralb/internal/api"
	"github.com/jroosing/hydralb/internal/api/handlers"
	"github.com/jroosing/hydralb/internal/config"
	"github.com/jroosing/hydralb/internal/database"
	"github.com/jroosing/hydralb/internal/logging"
	"github.com/jroosing/hydralb/internal/metrics"
	"github.com/jroosing/hydralb/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file (or set HYDRALB_CONFIG)")
		host       = flag.String("host", "", "Override bind host")
		port       = flag.Int("port", 0, "Override bind port")
		workers    = flag.Int("workers", -1, "Number of UDP listener sockets (-1 means config/auto)")
		dbPath     = flag.String("db", "", "Override registry database path")
		jsonLogs   = flag.Bool("json-logs", false, "Enable JSON structured logging")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(config.ResolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *workers >= 0 {
		cfg.Server.WorkersRaw = strconv.Itoa(*workers)
		cfg.Server.Workers = config.WorkerSetting{Mode: config.WorkersFixed, Value: *workers}
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if *debug {
		cfg.Logging.Level = "DEBUG"
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})

	var db *database.DB
	if cfg.Database.Path != "" {
		db, err = database.Open(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Sync(context.Background(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load registry: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("HydraLB starting",
		"version", server.Version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"pools", len(cfg.Pools),
		"backends", len(cfg.Backends),
		"rules", len(cfg.Rules),
		"doh", cfg.Server.DoH.Enabled,
		"registry", cfg.Database.Path,
	)

	attach := func(bal *server.Balancer) ([]server.Service, error) {
		if !cfg.API.Enabled {
			return nil, nil
		}
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg, bal.Collector()); err != nil {
			return nil, err
		}
		srv := api.New(handlers.Deps{
			Config: cfg,
			Engine: bal.Engine,
			Pools:  bal.Pools,
			Rules:  bal.Rules,
			DB:     db,
		}, reg, logger)
		return []server.Service{srv.Run}, nil
	}

	runner := server.NewRunner(logger)
	if err := runner.Run(cfg, attach); err != nil {
		logger.Error("server exited with error", "err", err)
		if db != nil {
			_ = db.Close()
		}
		os.Exit(1)
	}
}
