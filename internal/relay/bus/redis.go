package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/relay/common/retry"
	"github.com/bdobrica/relay/common/spec/command"
	"github.com/bdobrica/relay/common/trace"
)

const defaultRedisChannel = "dry_agent:commands"

// RedisConfig configures the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // host:port
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Redis is a Bus over Redis pub/sub. Messages published while no agent is
// subscribed are lost.
type Redis struct {
	client  *redis.Client
	channel string
}

// DialRedis connects and pings the server, retrying while it is unreachable.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("bus: redis addr is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultRedisChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  retry.DefaultConfig.MaxAttempts,
		InitialDelay: time.Second,
		Name:         "redis ping",
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bus: redis connect %s: %w", cfg.Addr, err)
	}

	slog.Info("bus: redis connected", "addr", cfg.Addr, "db", cfg.DB, "channel", cfg.Channel)
	return &Redis{client: client, channel: cfg.Channel}, nil
}

// Publish sends cmd on the configured channel. It returns ErrNotConnected
// when no subscriber received the message, since Redis does not buffer.
func (r *Redis) Publish(ctx context.Context, cmd command.Command) error {
	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("bus: redis publish: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: no agent subscribed to %s", ErrNotConnected, r.channel)
	}
	trace.Logger(ctx).Debug("bus: published", "channel", r.channel, "request_id", cmd.RequestID, "receivers", receivers)
	return nil
}

// Subscribe delivers commands from the channel to h until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus: redis subscribe %s: %w", r.channel, err)
	}
	slog.Info("bus: subscribed", "channel", r.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			cmd, err := command.Decode([]byte(msg.Payload))
			if err != nil {
				slog.Warn("bus: dropping malformed command", "channel", msg.Channel, "err", err)
				continue
			}
			h(trace.WithTraceID(ctx, cmd.RequestID), cmd)
		}
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
