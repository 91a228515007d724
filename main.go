package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loungenpark/PosProject-sub001/internal/printer"
	"github.com/loungenpark/PosProject-sub001/internal/terminal"
	"github.com/loungenpark/PosProject-sub001/internal/venue"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Extract mode from arguments
	var mode string
	var serviceArgs []string

	for i := 1; i < len(os.Args); i++ {
		arg := os.Args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
		} else if arg == "--mode" && i+1 < len(os.Args) {
			mode = os.Args[i+1]
			i++ // skip the next argument
		} else {
			serviceArgs = append(serviceArgs, arg)
		}
	}

	if mode == "" {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch mode {
	case "venue-server":
		err = venue.Execute(context.Background(), serviceArgs)
	case "terminal":
		err = terminal.Execute(context.Background(), serviceArgs)
	case "print-subscriber":
		err = printer.Execute(context.Background(), serviceArgs)
	default:
		fmt.Printf("Invalid mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: pos-system --mode=<service-mode> [service-specific-flags]")
	fmt.Println("Available modes:")
	fmt.Println("  venue-server --config-path=config.yaml --port=4000")
	fmt.Println("  terminal --server=localhost:4000 --user=anna")
	fmt.Println("  print-subscriber --config-path=config.yaml --printer=kitchen")
}
