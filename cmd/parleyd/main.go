// Command parleyd runs the chat server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parley-chat/parley/pkg/database"
	"github.com/parley-chat/parley/pkg/logging"
	"github.com/parley-chat/parley/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.parley/config.toml", "path to config file")
	tcpPort := flag.Int("port", 0, "TCP port (overrides config)")
	httpPort := flag.Int("http-port", -1, "HTTP port for /ws and /metrics, 0 disables (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg := tomlConfig.ToServerConfig()
	if *tcpPort != 0 {
		cfg.TCPPort = *tcpPort
	}
	if *httpPort >= 0 {
		cfg.HTTPPort = *httpPort
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	} else {
		expanded, err := tomlConfig.GetDatabasePath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve database path: %v\n", err)
			os.Exit(1)
		}
		if expanded != "" {
			cfg.DatabasePath = expanded
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create database directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := database.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	srv := server.NewServer(db, cfg, logger, metrics)

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	logger.Info("parleyd running", "tcp_port", cfg.TCPPort, "http_port", cfg.HTTPPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())
	srv.Stop()
}
