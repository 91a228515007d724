package venue

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/loungenpark/PosProject-sub001/internal/config"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
)

// Execute runs the venue server until a signal or fatal error stops it.
func Execute(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet("venue-server", flag.ContinueOnError)
	configPath := fs.String("config-path", "config.yaml", "path to the YAML config file")
	port := fs.Int("port", 0, "listen port, overrides the config value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.NewLogger("venue-server")
	log.Info("startup", "service_started", "Venue server starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("startup", "config_load_failed", "Failed to load configuration", err)
		return err
	}

	listenPort := cfg.Server.Port
	if *port != 0 {
		listenPort = *port
	}
	if listenPort <= 0 || listenPort > 65535 {
		err := fmt.Errorf("port out of range: %d", listenPort)
		log.Error("startup", "invalid_port", "Listen port must be between 1 and 65535", err)
		return err
	}

	server := NewServer(listenPort, cfg, log)
	if err := server.Start(ctx); err != nil {
		log.Error("", "server_failed", "Venue server stopped with error", err)
		return err
	}

	log.Info("", "service_stopped", "Venue server exiting")
	return nil
}
