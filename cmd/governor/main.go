// Command governor starts the access governor service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aziztraorebf-ctrl/arbitragevault-bookfinder-sub007/internal/governor"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "print_config":
			if err := runPrintConfig(args[1:]); err != nil {
				log.Fatalf("failed to print config: %v", err)
			}
			return
		case "help", "-h", "--help":
			printUsage(os.Stdout)
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := governor.LoadConfig(governor.LoadOptions{Args: args})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	cfg.Logger = governor.NewZapLogger(zapLogger)

	app, err := governor.NewApplication(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("failed to shutdown application: %v", err)
	}
}

func runPrintConfig(args []string) error {
	cfg, err := governor.LoadConfig(governor.LoadOptions{Args: args})
	if err != nil {
		return err
	}
	return governor.PrintConfig(os.Stdout, cfg)
}
