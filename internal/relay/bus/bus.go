// Package bus carries commands from the relay to executor agents.
//
// Two transports are supported: MQTT (the deployed default, with mutual TLS)
// and Redis pub/sub. A log-only backend is available for dry runs. Every
// backend serialises commands with command.Encode and validates inbound
// payloads with command.Decode.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/relay/common/spec/command"
)

// ErrNotConnected is returned by Publish when the transport has no live
// connection and cannot queue the message.
var ErrNotConnected = errors.New("bus: not connected")

// Publisher sends commands to agents. Delivery is at-least-once at best;
// callers must not assume exactly-once.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command) error
}

// Handler is called for every valid command received. Malformed payloads
// are logged and dropped before reaching it.
type Handler func(ctx context.Context, cmd *command.Command)

// Subscriber delivers commands to h until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
}

// Bus is a connected transport usable in both directions.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Backend names a transport.
type Backend string

const (
	BackendMQTT  Backend = "mqtt"
	BackendRedis Backend = "redis"
	BackendLog   Backend = "log"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend     `yaml:"backend"`
	MQTT    MQTTConfig  `yaml:"mqtt"`
	Redis   RedisConfig `yaml:"redis"`
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Bus, error) {
	switch Backend(strings.ToLower(string(cfg.Backend))) {
	case "", BackendMQTT:
		return DialMQTT(ctx, cfg.MQTT)
	case BackendRedis:
		return DialRedis(ctx, cfg.Redis)
	case BackendLog:
		return NewLog(), nil
	}
	return nil, fmt.Errorf("bus: unknown backend %q", cfg.Backend)
}
