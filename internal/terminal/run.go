package terminal

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loungenpark/PosProject-sub001/pkg/logger"
)

// Execute runs the interactive terminal until EOF, quit or a signal.
func Execute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("terminal", flag.ContinueOnError)
	server := fs.String("server", "localhost:4000", "venue server host:port")
	user := fs.String("user", "", "operator name stamped on order lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("user is required")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogger("terminal")
	log.Info("startup", "service_started", fmt.Sprintf("Terminal starting for %s against %s", *user, *server))

	client := NewClient(*server, log)
	boot, err := client.Bootstrap(ctx)
	if err != nil {
		log.Error("startup", "bootstrap_failed", "Could not hydrate from the venue server", err)
		return err
	}

	go client.Run(ctx)

	newREPL(client, boot, *user, os.Stdout).loop(ctx, os.Stdin)

	log.Info("", "service_stopped", "Terminal exiting")
	return nil
}
