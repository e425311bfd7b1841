package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/wfunc/coursesync/config"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/server"
)

func main() {
	logger.Init("info")

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	mon := monitor.NewMonitor("coursesync")
	mon.StartServer(cfg.Server.MetricsAddress)

	// Initialize relay server
	relayServer, err := server.NewRelayServer(cfg.Server, mon)
	if err != nil {
		logger.Log.Fatalf("Failed to create relay server: %v", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Log.Info("Shutting down relay server.")
		relayServer.Shutdown()
	}()

	// Start Server
	logger.Log.Infof("Starting relay server on %s", cfg.Server.HTTPAddress)
	if err := relayServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
