// Command relay-agent executes commands from the command bus against local
// Docker containers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/relay/common/environment"
	"github.com/bdobrica/relay/common/version"
	"github.com/bdobrica/relay/internal/agent/docker"
	"github.com/bdobrica/relay/internal/agent/executor"
	"github.com/bdobrica/relay/internal/relay/app"
	"github.com/bdobrica/relay/internal/relay/bus"
)

func main() {
	configPath := flag.StringP("config", "c", os.Getenv("RELAY_CONFIG_FILE"), "path to a YAML config file (env: RELAY_CONFIG_FILE)")
	label := flag.String("label", docker.DefaultLabel, "label selecting managed containers when a command names none")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics; empty disables it")
	maxTimeout := flag.Duration("max-timeout", executor.DefaultMaxTimeout, "upper bound for start_with_timeout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("relay-agent", version.Info())
		return
	}

	// The agent shares the relay's bus and logging settings; Matrix and
	// model settings are ignored.
	cfg, err := app.LoadConfig(*configPath, environment.NewOverlay())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg.Bus, *label, *metricsAddr, *maxTimeout); err != nil {
		slog.Error("relay-agent stopped", "err", err)
		os.Exit(1)
	}
}

func run(busCfg bus.Config, label, metricsAddr string, maxTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := docker.New(label)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Ping(ctx); err != nil {
		return err
	}

	b, err := bus.Open(ctx, busCfg)
	if err != nil {
		return fmt.Errorf("connect command bus: %w", err)
	}
	defer b.Close()

	exec := executor.New(rt, maxTimeout)
	defer exec.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("relay-agent: waiting for commands", "version", version.Version, "bus", busCfg.Backend)
		return b.Subscribe(ctx, exec.Handle)
	})
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
