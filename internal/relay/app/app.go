// Package app wires the relay together: store, bus, model, chat transport,
// dispatcher and the health server, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/relay/common/version"
	"github.com/bdobrica/relay/internal/relay/bus"
	"github.com/bdobrica/relay/internal/relay/confirm"
	"github.com/bdobrica/relay/internal/relay/dispatch"
	"github.com/bdobrica/relay/internal/relay/intent"
	"github.com/bdobrica/relay/internal/relay/llm"
	"github.com/bdobrica/relay/internal/relay/matrix"
	"github.com/bdobrica/relay/internal/relay/metrics"
	"github.com/bdobrica/relay/internal/relay/reply"
	"github.com/bdobrica/relay/internal/relay/store"
)

const (
	housekeepingInterval = time.Hour
	limiterIdle          = 10 * time.Minute
)

// App is a running relay.
type App struct {
	config     Config
	store      *store.Store
	bus        bus.Bus
	matrix     *matrix.Client
	registry   *confirm.Registry
	limiter    *dispatch.RateLimiter
	dispatcher *dispatch.Dispatcher
	health     *HealthServer
}

// New opens the store and the bus, logs in to Matrix and builds the
// dispatcher. On error everything opened so far is closed again.
func New(ctx context.Context, cfg Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, _ := reply.ParseMode(cfg.Relay.ReplyMatch)

	a := &App{config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = store.New(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a.bus, err = bus.Open(ctx, cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect command bus: %w", err)
	}

	a.matrix, err = matrix.New(ctx, matrix.Config{
		Homeserver:     cfg.Matrix.Homeserver,
		AccessToken:    cfg.Matrix.AccessToken,
		UserID:         cfg.Matrix.UserID,
		Username:       cfg.Matrix.Username,
		Password:       cfg.Matrix.Password,
		DeviceName:     cfg.Matrix.DeviceName,
		Rooms:          cfg.Matrix.Rooms,
		AllowedSenders: cfg.Matrix.AllowedSenders,
		MaxEventAge:    cfg.Matrix.MaxEventAge,
		State:          a.store,
		Events:         a.store,
		LogLevel:       cfg.Matrix.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	llmCfg := llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BotName: cfg.LLM.BotName,
		Timeout: cfg.LLM.Timeout,
	}
	if cfg.LLM.StructuredOutput {
		llmCfg.ResponseSchema = intent.ResponseSchema()
	}

	a.registry = confirm.NewRegistry(cfg.Relay.ConfirmTTL)
	if cfg.Relay.RateLimit >= 0 {
		a.limiter = dispatch.NewRateLimiter(cfg.Relay.RateLimit, time.Minute)
	}
	a.dispatcher = dispatch.New(dispatch.Config{
		Model:          llm.New(llmCfg),
		Publisher:      a.bus,
		Sender:         a.matrix,
		Registry:       a.registry,
		Replies:        reply.NewClassifier(mode),
		Recorder:       a.store,
		Limiter:        a.limiter,
		ModelTimeout:   cfg.LLM.Timeout,
		PublishTimeout: cfg.Relay.PublishTimeout,
	})

	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, a)
	}

	slog.Info("relay initialised",
		"version", version.Version,
		"user_id", a.matrix.UserID(),
		"bus", cfg.Bus.Backend,
		"reply_match", mode,
		"confirm_ttl", a.registry.TTL(),
	)
	return a, nil
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.matrix.Run(ctx, a.handleMessage)
	})
	g.Go(func() error {
		a.registry.RunSweeper(ctx, a.config.Relay.ConfirmSweep, func(removed int) {
			metrics.ExpiredConfirmationsTotal.Add(float64(removed))
			metrics.PendingConfirmations.Set(float64(a.registry.Len()))
		})
		return nil
	})
	g.Go(func() error {
		a.housekeeping(ctx)
		return nil
	})
	if a.health != nil {
		g.Go(func() error {
			return a.health.Run(ctx)
		})
	}

	slog.Info("relay is running; press Ctrl+C to stop")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the bus and the store. It is safe to call on a partially
// constructed App.
func (a *App) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			slog.Warn("app: close bus", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("app: close store", "err", err)
		}
	}
}

// PendingConfirmations reports the registry size for /status.
func (a *App) PendingConfirmations() int {
	return a.registry.Len()
}

// CommandCounts reports published and failed command totals for /status.
func (a *App) CommandCounts(ctx context.Context) (map[string]int, error) {
	return a.store.CommandCounts(ctx)
}

// Ping checks the store for /status.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

func (a *App) handleMessage(ctx context.Context, msg matrix.Message) {
	a.dispatcher.Handle(ctx, dispatch.IncomingMessage{
		SenderID:  msg.Sender,
		ChannelID: msg.RoomID,
		EventID:   msg.EventID,
		Body:      msg.Body,
	})
}

// housekeeping drops idle rate-limit buckets and old dedupe rows.
func (a *App) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.limiter != nil {
				a.limiter.Prune(limiterIdle)
			}
			n, err := a.store.PruneProcessed(ctx, a.config.Relay.EventRetention)
			if err != nil {
				slog.Warn("app: prune processed events", "err", err)
			} else if n > 0 {
				slog.Info("app: pruned processed events", "removed", n)
			}
		}
	}
}
