package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/relay/common/environment"
	"github.com/bdobrica/relay/common/redact"
	"github.com/bdobrica/relay/internal/relay/bus"
	"github.com/bdobrica/relay/internal/relay/confirm"
	"github.com/bdobrica/relay/internal/relay/dispatch"
	"github.com/bdobrica/relay/internal/relay/reply"
)

// Config is the relay's complete configuration. Values come from an optional
// YAML file, then environment variables override them.
type Config struct {
	Matrix MatrixConfig `yaml:"matrix"`
	LLM    LLMConfig    `yaml:"llm"`
	Bus    bus.Config   `yaml:"bus"`
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`

	// StorePath is the SQLite database holding sync state, processed events
	// and the command log.
	StorePath string `yaml:"store_path"`

	// HTTPAddr is the listen address of the health server. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`
}

// MatrixConfig holds chat transport settings.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	AccessToken string `yaml:"access_token"`
	UserID      string `yaml:"user_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`

	Rooms []string `yaml:"rooms"`
	// AllowedSenders is the friend list; empty admits everyone.
	AllowedSenders []string `yaml:"allowed_senders"`

	MaxEventAge time.Duration `yaml:"max_event_age"`
	LogLevel    string        `yaml:"log_level"`
}

// LLMConfig holds model endpoint settings.
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BotName string        `yaml:"bot_name"`
	Timeout time.Duration `yaml:"timeout"`

	// StructuredOutput sends the envelope schema as a json_schema response
	// format. Turn it off for endpoints that reject response_format.
	StructuredOutput bool `yaml:"structured_output"`
}

// RelayConfig tunes the dispatcher.
type RelayConfig struct {
	// ConfirmTTL is how long a pending action waits for its reply. Negative
	// disables expiry.
	ConfirmTTL   time.Duration `yaml:"confirm_ttl"`
	ConfirmSweep time.Duration `yaml:"confirm_sweep"`

	// ReplyMatch is "token" or "substring".
	ReplyMatch string `yaml:"reply_match"`

	// RateLimit is model calls per sender per minute. Negative disables it.
	RateLimit int `yaml:"rate_limit"`

	PublishTimeout time.Duration `yaml:"publish_timeout"`

	// EventRetention is how long processed event ids are kept for dedupe.
	EventRetention time.Duration `yaml:"event_retention"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Matrix: MatrixConfig{
			DeviceName:  "relay",
			MaxEventAge: 5 * time.Minute,
			LogLevel:    "warn",
		},
		LLM: LLMConfig{
			BaseURL:          "http://localhost:1234/v1",
			Model:            "gpt-4o-mini",
			BotName:          "dry_agent",
			Timeout:          dispatch.DefaultModelTimeout,
			StructuredOutput: true,
		},
		Bus: bus.Config{Backend: bus.BackendMQTT},
		Relay: RelayConfig{
			ConfirmTTL:     confirm.DefaultTTL,
			ConfirmSweep:   time.Minute,
			ReplyMatch:     string(reply.ModeToken),
			RateLimit:      dispatch.DefaultRateLimit,
			PublishTimeout: dispatch.DefaultPublishTimeout,
			EventRetention: 7 * 24 * time.Hour,
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		StorePath: "./relay.db",
		HTTPAddr:  ":8080",
	}
}

// LoadConfig reads path (when non-empty) over the defaults and then applies
// env. Unknown YAML fields are rejected.
func LoadConfig(path string, env *environment.Overlay) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(env)
	if err := env.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(env *environment.Overlay) {
	env.String(&c.Matrix.Homeserver, "MATRIX_HOMESERVER")
	env.String(&c.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	env.String(&c.Matrix.UserID, "MATRIX_USER_ID")
	env.String(&c.Matrix.Username, "MATRIX_USERNAME")
	env.String(&c.Matrix.Password, "MATRIX_PASSWORD")
	env.String(&c.Matrix.DeviceName, "MATRIX_DEVICE_NAME")
	env.List(&c.Matrix.Rooms, "MATRIX_ROOMS")
	env.List(&c.Matrix.AllowedSenders, "BOT_FRIEND_IDS")
	env.Duration(&c.Matrix.MaxEventAge, "MATRIX_MAX_EVENT_AGE")
	env.String(&c.StorePath, "MATRIX_STORE_PATH")

	env.String(&c.LLM.BaseURL, "LLM_API_URL")
	env.String(&c.LLM.APIKey, "LLM_API_KEY")
	env.String(&c.LLM.Model, "LLM_MODEL")
	env.String(&c.LLM.BotName, "LLM_BOT_NAME")
	env.Duration(&c.LLM.Timeout, "LLM_TIMEOUT")
	env.Bool(&c.LLM.StructuredOutput, "LLM_STRUCTURED_OUTPUT")

	var backend string
	env.String(&backend, "BUS_BACKEND")
	if backend != "" {
		c.Bus.Backend = bus.Backend(strings.ToLower(backend))
	}
	env.String(&c.Bus.MQTT.Broker, "MQTT_BROKER")
	env.Int(&c.Bus.MQTT.Port, "MQTT_PORT")
	env.String(&c.Bus.MQTT.Topic, "MQTT_TOPIC")
	env.String(&c.Bus.MQTT.Username, "MQTT_USERNAME")
	env.String(&c.Bus.MQTT.Password, "MQTT_PASSWORD")
	env.String(&c.Bus.MQTT.ClientCert, "MQTT_CLIENT_CERT")
	env.String(&c.Bus.MQTT.ClientKey, "MQTT_CLIENT_KEY")
	env.String(&c.Bus.MQTT.CACert, "MQTT_CA_CERT")
	env.String(&c.Bus.Redis.Addr, "REDIS_ADDR")
	env.String(&c.Bus.Redis.Password, "REDIS_PASSWORD")
	env.Int(&c.Bus.Redis.DB, "REDIS_DB")
	env.String(&c.Bus.Redis.Channel, "REDIS_CHANNEL")

	env.Duration(&c.Relay.ConfirmTTL, "RELAY_CONFIRM_TTL")
	env.Duration(&c.Relay.ConfirmSweep, "RELAY_CONFIRM_SWEEP")
	env.String(&c.Relay.ReplyMatch, "RELAY_REPLY_MATCH")
	env.Int(&c.Relay.RateLimit, "RELAY_RATE_LIMIT")
	env.Duration(&c.Relay.PublishTimeout, "BUS_PUBLISH_TIMEOUT")
	env.Duration(&c.Relay.EventRetention, "RELAY_EVENT_RETENTION")

	env.String(&c.HTTPAddr, "HTTP_ADDR")
	env.String(&c.Log.Level, "LOG_LEVEL")
	env.String(&c.Log.Format, "LOG_FORMAT")
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("MATRIX_HOMESERVER is required"))
	}
	if c.Matrix.AccessToken == "" && (c.Matrix.Username == "" || c.Matrix.Password == "") {
		errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN or MATRIX_USERNAME and MATRIX_PASSWORD are required"))
	}
	if c.Matrix.AccessToken != "" && c.Matrix.UserID == "" {
		errs = append(errs, errors.New("MATRIX_USER_ID is required with MATRIX_ACCESS_TOKEN"))
	}
	if c.StorePath == "" {
		errs = append(errs, errors.New("MATRIX_STORE_PATH must not be empty"))
	}

	switch c.Bus.Backend {
	case bus.BackendMQTT, "":
		if c.Bus.MQTT.Broker == "" {
			errs = append(errs, errors.New("MQTT_BROKER is required for the mqtt bus"))
		}
		if (c.Bus.MQTT.ClientCert == "") != (c.Bus.MQTT.ClientKey == "") {
			errs = append(errs, errors.New("MQTT_CLIENT_CERT and MQTT_CLIENT_KEY must be set together"))
		}
	case bus.BackendRedis:
		if c.Bus.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis bus"))
		}
	case bus.BackendLog:
	default:
		errs = append(errs, fmt.Errorf("BUS_BACKEND %q is not one of mqtt, redis, log", c.Bus.Backend))
	}

	if _, err := reply.ParseMode(c.Relay.ReplyMatch); err != nil {
		errs = append(errs, err)
	}
	if c.Relay.PublishTimeout < 0 || c.LLM.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Redacted returns the configuration as a loggable map with credentials
// replaced.
func (c *Config) Redacted() map[string]any {
	return redact.Map(map[string]any{
		"matrix": map[string]any{
			"homeserver":      c.Matrix.Homeserver,
			"user_id":         c.Matrix.UserID,
			"username":        c.Matrix.Username,
			"access_token":    c.Matrix.AccessToken,
			"password":        c.Matrix.Password,
			"rooms":           c.Matrix.Rooms,
			"allowed_senders": c.Matrix.AllowedSenders,
		},
		"llm": map[string]any{
			"base_url":          redact.URL(c.LLM.BaseURL),
			"api_key":           c.LLM.APIKey,
			"model":             c.LLM.Model,
			"timeout":           c.LLM.Timeout.String(),
			"structured_output": c.LLM.StructuredOutput,
		},
		"bus": map[string]any{
			"backend":          string(c.Bus.Backend),
			"mqtt_broker":      c.Bus.MQTT.Broker,
			"mqtt_port":        c.Bus.MQTT.Port,
			"mqtt_topic":       c.Bus.MQTT.Topic,
			"mqtt_password":    c.Bus.MQTT.Password,
			"mqtt_client_cert": c.Bus.MQTT.ClientCert,
			"redis_addr":       c.Bus.Redis.Addr,
			"redis_password":   c.Bus.Redis.Password,
			"redis_channel":    c.Bus.Redis.Channel,
		},
		"relay": map[string]any{
			"confirm_ttl": c.Relay.ConfirmTTL.String(),
			"reply_match": c.Relay.ReplyMatch,
			"rate_limit":  c.Relay.RateLimit,
		},
		"store_path": c.StorePath,
		"http_addr":  c.HTTPAddr,
	})
}
