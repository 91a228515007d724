package printer

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/loungenpark/PosProject-sub001/internal/config"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
)

// Execute runs the print subscriber until a signal stops it.
func Execute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("print-subscriber", flag.ContinueOnError)
	configPath := fs.String("config-path", "config.yaml", "path to the YAML config file")
	printerName := fs.String("printer", "", "only render lines routed to this printer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogger("print-subscriber")
	log.Info("startup", "service_started", "Print subscriber starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("startup", "config_load_failed", "Failed to load configuration", err)
		return err
	}

	sub := NewPrintSubscriber(cfg, log, *printerName)
	defer sub.Stop()
	if err := sub.Start(ctx); err != nil {
		log.Error("", "subscriber_failed", "Print subscriber stopped with error", err)
		return err
	}

	log.Info("", "service_stopped", "Print subscriber exiting")
	return nil
}
