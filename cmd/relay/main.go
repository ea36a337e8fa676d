package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/bdobrica/relay/common/environment"
	"github.com/bdobrica/relay/common/version"
	"github.com/bdobrica/relay/internal/relay/app"
)

func main() {
	configPath := flag.StringP("config", "c", os.Getenv("RELAY_CONFIG_FILE"), "path to a YAML config file (env: RELAY_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("relay", version.Info())
		return
	}

	cfg, err := app.LoadConfig(*configPath, environment.NewOverlay())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	app.SetupLogging(cfg.Log.Level, cfg.Log.Format)
	slog.Info("starting relay", "version", version.Version, "commit", version.GitCommit)
	slog.Debug("effective configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize relay: %v\n", err)
		os.Exit(1)
	}
	defer relay.Close()

	if err := relay.Run(ctx); err != nil {
		slog.Error("relay stopped", "err", err)
		relay.Close()
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
