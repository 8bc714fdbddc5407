package commands

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonwang82/opencowork-sub001/internal/auth"
	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/manager"
	"github.com/jasonwang82/opencowork-sub001/internal/permission"
	"github.com/jasonwang82/opencowork-sub001/internal/server"
	"github.com/jasonwang82/opencowork-sub001/internal/session"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cowork backend server",
	Long: `Start the backend that desktop windows attach to over HTTP and SSE.

Each window connects to /event and drives its session through the
session and message endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Printf("Starting cowork server v%s", Version)

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	ctx := cmd.Context()

	store := storage.New(paths.StoragePath())
	cfgStore, err := config.NewStore(ctx, store, paths.OverridePath())
	if err != nil {
		return err
	}
	sessions := session.NewStore(store)

	bus := event.NewBus()
	gate := permission.NewManager(cfgStore)
	prompter := permission.NewPrompter(bus)

	mgr := manager.New(cfgStore, sessions, gate, prompter, bus)
	orchestrator := auth.New(cfgStore, bus, auth.NewHTTPAuthenticator())

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort

	srv := server.New(serverConfig, server.Deps{
		Config:   cfgStore,
		Sessions: sessions,
		Gate:     gate,
		Prompter: prompter,
		Manager:  mgr,
		Auth:     orchestrator,
		Bus:      bus,
	})

	go func() {
		log.Printf("Server listening on http://localhost:%d", servePort)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	mgr.Close()
	bus.Close()

	log.Println("Server stopped")
	return nil
}
