// Package main provides the entry point for the cowork server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jasonwang82/opencowork-sub001/internal/auth"
	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/logging"
	"github.com/jasonwang82/opencowork-sub001/internal/manager"
	"github.com/jasonwang82/opencowork-sub001/internal/permission"
	"github.com/jasonwang82/opencowork-sub001/internal/server"
	"github.com/jasonwang82/opencowork-sub001/internal/session"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
)

var (
	port     = flag.Int("port", 8080, "Server port")
	logLevel = flag.String("log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	version  = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("cowork-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logging.Init(logging.Config{Level: logging.ParseLevel(*logLevel)})

	log.Printf("Starting cowork server v%s", Version)

	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	ctx := context.Background()

	// Initialize storage and stores
	store := storage.New(paths.StoragePath())
	cfgStore, err := config.NewStore(ctx, store, paths.OverridePath())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	sessions := session.NewStore(store)

	// Event bus and permission gate
	bus := event.NewBus()
	gate := permission.NewManager(cfgStore)
	prompter := permission.NewPrompter(bus)

	// Worker manager and auth orchestrator
	mgr := manager.New(cfgStore, sessions, gate, prompter, bus)
	orchestrator := auth.New(cfgStore, bus, auth.NewHTTPAuthenticator())

	// Configure server
	serverConfig := server.DefaultConfig()
	serverConfig.Port = *port

	srv := server.New(serverConfig, server.Deps{
		Config:   cfgStore,
		Sessions: sessions,
		Gate:     gate,
		Prompter: prompter,
		Manager:  mgr,
		Auth:     orchestrator,
		Bus:      bus,
	})

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", *port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	mgr.Close()
	bus.Close()

	log.Println("Server stopped")
}
