package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/config"
	"github.com/marmos91/dittohttp/pkg/server"
)

const usage = `Usage:
  dittohttp [flags] <port>
  dittohttp init [-force] [-config path]

Flags:
`

func printUsage(fs *flag.FlagSet) {
	fmt.Fprint(os.Stderr, usage)
	fs.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		runInit(os.Args[2:])
		return
	}

	fs := flag.NewFlagSet("dittohttp", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittohttp/config.yaml)")
	docRoot := fs.String("docroot", "", "Document root directory (overrides config)")
	logLevel := fs.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.Usage = func() { printUsage(fs) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", fs.Arg(0))
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command-line values take precedence over env and file
	cfg.Adapters.HTTP.Enabled = true
	cfg.Adapters.HTTP.Port = port
	if *docRoot != "" {
		cfg.DocRoot.Path = *docRoot
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	// Writes to a peer that already closed must surface as EPIPE, not kill the process
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("DittoHTTP - Static HTTP Server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Document root: %s (source: %s)", cfg.DocRoot.Path, cfg.DocRoot.Source)

	root, err := config.CreateDocRoot(ctx, &cfg.DocRoot)
	if err != nil {
		log.Fatalf("Failed to create document root: %v", err)
	}

	metricsResult := config.InitializeMetrics(cfg)

	adapters, err := config.CreateAdapters(cfg, metricsResult.HTTPMetrics)
	if err != nil {
		log.Fatalf("Failed to create adapters: %v", err)
	}

	httpCfg := cfg.Adapters.HTTP
	logger.Info("HTTP adapter configuration:")
	logger.Info("  Listen: %s:%d", httpCfg.ListenAddress, httpCfg.Port)
	logger.Info("  Max fd: %d, max connections: %d", httpCfg.MaxFD, httpCfg.MaxConnections)
	logger.Info("  Workers: %d, queue size: %d", httpCfg.Workers, httpCfg.QueueSize)
	logger.Info("  Saturation policy: %s", httpCfg.SaturationPolicy)
	if httpCfg.AcceptRate > 0 {
		logger.Info("  Accept rate: %d/s (burst %d)", httpCfg.AcceptRate, httpCfg.AcceptBurst)
	}
	if httpCfg.MetricsLogInterval == 0 {
		logger.Info("  (metrics logging disabled)")
	}

	srv := server.New(root)
	srv.SetStopTimeout(cfg.Server.ShutdownTimeout)
	if metricsResult.Server != nil {
		srv.SetMetricsServer(metricsResult.Server)
		logger.Info("Metrics enabled on port %d", metricsResult.Server.Port())
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			log.Fatalf("Failed to register %s adapter: %v", a.Protocol(), err)
		}
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	configPath := fs.String("config", "", "Where to write the config file (default: $XDG_CONFIG_HOME/dittohttp/config.yaml)")
	_ = fs.Parse(args)

	if *configPath != "" {
		if err := config.InitConfigToPath(*configPath, *force); err != nil {
			log.Fatalf("Failed to initialize config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return
	}

	path, err := config.InitConfig(*force)
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	fmt.Printf("Configuration written to %s\n", path)
}
