// Package matrix connects the relay to a Matrix homeserver: it logs in,
// follows the /sync stream, accepts invites from allowed users and hands
// each admitted text message to a handler.
//
// End-to-end encrypted rooms are not supported; the relay only sees
// plaintext events.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/relay/common/retry"
	"github.com/bdobrica/relay/internal/relay/metrics"
)

const (
	defaultDeviceName = "relay"
	defaultMaxAge     = 5 * time.Minute
	syncBackoffMin    = 2 * time.Second
	syncBackoffMax    = 5 * time.Minute
)

// Config holds Matrix connection settings.
type Config struct {
	Homeserver string

	// AccessToken and UserID authenticate directly. When AccessToken is
	// empty, Username and Password are used to log in.
	AccessToken string
	UserID      string
	Username    string
	Password    string
	DeviceName  string

	// Rooms are joined at startup. When non-empty, messages from any other
	// room are ignored.
	Rooms []string

	// AllowedSenders restricts who may issue requests and invite the
	// relay. Empty admits everyone.
	AllowedSenders []string

	// MaxEventAge drops events older than this, so the first sync after a
	// fresh install does not replay old requests. Defaults to 5 minutes.
	MaxEventAge time.Duration

	// State persists the sync position. Nil keeps it in memory.
	State SyncState

	// Events deduplicates redelivered events. Nil disables deduplication.
	Events EventLog

	// LogLevel is the minimum level for mautrix's internal zerolog output,
	// e.g. "warn" (the default) or "debug".
	LogLevel string
}

// EventLog remembers which events were already handled.
type EventLog interface {
	MarkProcessed(ctx context.Context, eventID, channelID string) (bool, error)
}

// Message is an admitted inbound text message.
type Message struct {
	EventID string
	RoomID  string
	Sender  string
	Body    string
}

// Handler processes one Message. Handlers run concurrently.
type Handler func(ctx context.Context, msg Message)

// Client wraps a mautrix client.
type Client struct {
	client *mautrix.Client
	config Config
	admit  *admission

	handler Handler
	runCtx  context.Context
	wg      sync.WaitGroup
}

// New creates a client and, when no access token is configured, logs in with
// the password.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Homeserver == "" {
		return nil, fmt.Errorf("matrix: homeserver is required")
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	if cfg.MaxEventAge == 0 {
		cfg.MaxEventAge = defaultMaxAge
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	client.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("component", "mautrix").Logger()

	if cfg.AccessToken == "" {
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("matrix: either an access token or username and password are required")
		}
		resp, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: cfg.Username,
			},
			Password:                 cfg.Password,
			InitialDeviceDisplayName: cfg.DeviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("matrix: login as %s: %w", cfg.Username, err)
		}
		slog.Info("matrix: logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	}

	if cfg.State != nil {
		client.Store = &syncStore{state: cfg.State}
	} else {
		slog.Warn("matrix: no sync store configured; position is kept in memory only")
	}

	return &Client{
		client: client,
		config: cfg,
		admit: &admission{
			self:    client.UserID,
			rooms:   cfg.Rooms,
			senders: cfg.AllowedSenders,
			maxAge:  cfg.MaxEventAge,
			now:     time.Now,
		},
	}, nil
}

// UserID returns the relay's own Matrix id.
func (c *Client) UserID() string {
	return c.client.UserID.String()
}

// Run joins the configured rooms and follows /sync until ctx is done,
// reconnecting with backoff on errors. It returns after every in-flight
// handler has finished.
func (c *Client) Run(ctx context.Context, h Handler) error {
	c.handler = h
	c.runCtx = ctx
	defer c.wg.Wait()

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("matrix: unexpected syncer type %T", c.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMember)

	for _, room := range c.config.Rooms {
		if err := c.join(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}

	slog.Info("matrix: syncing", "user_id", c.client.UserID, "rooms", len(c.config.Rooms))
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  -1,
		InitialDelay: syncBackoffMin,
		MaxDelay:     syncBackoffMax,
		Name:         "matrix sync",
	}, func() error {
		err := c.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, mautrix.MUnknownToken) {
			return retry.Permanent(fmt.Errorf("matrix: access token rejected: %w", err))
		}
		slog.Error("matrix: sync stopped; reconnecting", "err", err)
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// SendText posts body to roomID as a plain text message.
func (c *Client) SendText(ctx context.Context, roomID, body string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), body); err != nil {
		return fmt.Errorf("matrix: send to %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	body, ok := c.admit.message(evt)
	if !ok {
		return
	}

	if c.config.Events != nil {
		fresh, err := c.config.Events.MarkProcessed(ctx, evt.ID.String(), evt.RoomID.String())
		if err != nil {
			slog.Warn("matrix: dedupe check failed; handling anyway", "event_id", evt.ID, "err", err)
		} else if !fresh {
			slog.Debug("matrix: skipping already handled event", "event_id", evt.ID)
			metrics.MessagesTotal.WithLabelValues(metrics.RouteDuplicate).Inc()
			return
		}
	}

	msg := Message{
		EventID: evt.ID.String(),
		RoomID:  evt.RoomID.String(),
		Sender:  evt.Sender.String(),
		Body:    body,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.handler(c.runCtx, msg)
	}()
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if !c.admit.invite(evt) {
		return
	}
	slog.Info("matrix: accepting invite", "room", evt.RoomID, "inviter", evt.Sender)
	if err := c.join(ctx, evt.RoomID); err != nil {
		slog.Error("matrix: join after invite failed", "room", evt.RoomID, "err", err)
	}
}

func (c *Client) join(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join forbidden, assuming already a member", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
