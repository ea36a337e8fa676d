// Package dispatch routes each inbound chat message through the relay.
//
// A message is either a reply that resolves a pending confirmation, or a new
// request that goes to the model. For a new request the model output is
// normalised into an intent, and the intent decides what happens next:
// relay chat text, publish a command, or park the command in the
// confirmation registry and ask the user.
//
// Every handled message produces at most one chat reply and at most one bus
// publish.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/relay/common/spec/command"
	"github.com/bdobrica/relay/common/trace"
	"github.com/bdobrica/relay/internal/relay/confirm"
	"github.com/bdobrica/relay/internal/relay/intent"
	"github.com/bdobrica/relay/internal/relay/llm"
	"github.com/bdobrica/relay/internal/relay/metrics"
	"github.com/bdobrica/relay/internal/relay/reply"
	"github.com/bdobrica/relay/internal/relay/store"
)

const (
	DefaultModelTimeout   = 60 * time.Second
	DefaultPublishTimeout = 10 * time.Second
)

// IncomingMessage is one chat message addressed to the relay. Messages sent
// by the relay itself must be filtered out before reaching Handle.
type IncomingMessage struct {
	SenderID  string
	ChannelID string
	// EventID is the transport's id for the message, used only for logging.
	EventID string
	Body    string
}

// Sender delivers a reply to a chat channel.
type Sender interface {
	SendText(ctx context.Context, channelID, body string) error
}

// Publisher puts a command on the bus.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command) error
}

// Recorder persists an audit record for every attempted publish. Recording
// failures are logged and never affect the reply.
type Recorder interface {
	RecordCommand(ctx context.Context, rec store.CommandRecord) error
}

// Config wires a Dispatcher. Model, Publisher, Sender and Registry are
// required.
type Config struct {
	Model     llm.Model
	Publisher Publisher
	Sender    Sender
	Registry  *confirm.Registry

	// Replies defaults to a token-mode classifier.
	Replies *reply.Classifier

	// Recorder is optional.
	Recorder Recorder

	// Limiter is optional; nil disables per-sender rate limiting.
	Limiter *RateLimiter

	ModelTimeout   time.Duration
	PublishTimeout time.Duration

	// NewID generates action and conversation ids. Defaults to UUIDv4.
	NewID func() string
}

// Dispatcher handles inbound messages. It is safe for concurrent use; the
// only shared mutable state is the confirmation registry and the rate
// limiter, both of which lock internally.
type Dispatcher struct {
	model          llm.Model
	publisher      Publisher
	sender         Sender
	registry       *confirm.Registry
	replies        *reply.Classifier
	recorder       Recorder
	limiter        *RateLimiter
	modelTimeout   time.Duration
	publishTimeout time.Duration
	newID          func() string
}

// New returns a Dispatcher. It panics if a required collaborator is missing,
// since that is a wiring bug rather than a runtime condition.
func New(cfg Config) *Dispatcher {
	if cfg.Model == nil || cfg.Publisher == nil || cfg.Sender == nil || cfg.Registry == nil {
		panic("dispatch: Model, Publisher, Sender and Registry are required")
	}
	if cfg.Replies == nil {
		cfg.Replies = reply.NewClassifier(reply.ModeToken)
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Dispatcher{
		model:          cfg.Model,
		publisher:      cfg.Publisher,
		sender:         cfg.Sender,
		registry:       cfg.Registry,
		replies:        cfg.Replies,
		recorder:       cfg.Recorder,
		limiter:        cfg.Limiter,
		modelTimeout:   cfg.ModelTimeout,
		publishTimeout: cfg.PublishTimeout,
		newID:          cfg.NewID,
	}
}

// Handle processes msg to completion. It never returns an error: every
// failure ends in a chat reply and a log line.
func (d *Dispatcher) Handle(ctx context.Context, msg IncomingMessage) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := trace.Logger(ctx).With("channel", msg.ChannelID, "sender", msg.SenderID, "event_id", msg.EventID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch: panic while handling message", "panic", r, "stack", string(debug.Stack()))
			d.reply(ctx, log, msg.ChannelID, ProcessingFailMessage)
		}
	}()

	if res, ok := d.replies.Classify(msg.Body); ok {
		metrics.MessagesTotal.WithLabelValues(metrics.RouteResolve).Inc()
		d.resolve(ctx, log, msg, res)
		return
	}

	if d.limiter != nil && !d.limiter.Allow(msg.SenderID) {
		metrics.MessagesTotal.WithLabelValues(metrics.RouteRateLimited).Inc()
		log.Info("dispatch: sender rate limited")
		d.reply(ctx, log, msg.ChannelID, RateLimitedMessage)
		return
	}

	metrics.MessagesTotal.WithLabelValues(metrics.RouteNormalize).Inc()
	d.normalize(ctx, log, msg)
}

func (d *Dispatcher) resolve(ctx context.Context, log *slog.Logger, msg IncomingMessage, res reply.Resolution) {
	log = log.With("action_id", res.ActionID, "confirm", res.Confirm)

	pending, ok := d.registry.Take(res.ActionID)
	metrics.PendingConfirmations.Set(float64(d.registry.Len()))
	if !ok {
		metrics.ConfirmationsTotal.WithLabelValues("not_found").Inc()
		log.Info("dispatch: confirmation not found")
		d.reply(ctx, log, msg.ChannelID, NotFoundMessage)
		return
	}

	if !res.Confirm {
		metrics.ConfirmationsTotal.WithLabelValues("cancelled").Inc()
		log.Info("dispatch: action cancelled", "kind", pending.Kind)
		d.reply(ctx, log, msg.ChannelID, CancelledMessage)
		return
	}

	metrics.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
	cmd := pending.Command()
	if err := d.publish(ctx, log, cmd, store.OriginConfirmed, msg); err != nil {
		// The entry is already consumed; the action is lost and the user
		// has to ask again.
		d.reply(ctx, log, msg.ChannelID, ConfirmFailedMessage)
		return
	}
	d.reply(ctx, log, msg.ChannelID, fmt.Sprintf(ConfirmedFormat, cmd.Kind, command.DescribeServices(cmd.Services)))
}

func (d *Dispatcher) normalize(ctx context.Context, log *slog.Logger, msg IncomingMessage) {
	conversationID := d.newID()
	log = log.With("conversation_id", conversationID)

	completion, err := d.complete(ctx, msg, conversationID)
	if err != nil {
		log.Warn("dispatch: model call failed", "err", err)
		if errors.Is(err, llm.ErrRateLimit) {
			d.reply(ctx, log, msg.ChannelID, ModelBusyMessage)
		} else {
			d.reply(ctx, log, msg.ChannelID, ProcessingFailMessage)
		}
		return
	}

	env := d.interpret(log, completion, conversationID)

	switch in := env.Intent.(type) {
	case intent.Chat:
		text := in.Text
		if strings.TrimSpace(text) == "" {
			text = EmptyChatMessage
		}
		d.reply(ctx, log, msg.ChannelID, text)

	case intent.Action:
		if in.RequiresConfirmation {
			id := d.newID()
			d.park(log, id, in, msg)
			lead := fmt.Sprintf(PromptFormat, in.Kind, command.DescribeServices(in.Services))
			d.reply(ctx, log, msg.ChannelID, confirmationPrompt(lead, id))
			return
		}
		cmd := in.Command(d.newID())
		if err := d.publish(ctx, log, cmd, store.OriginDirect, msg); err != nil {
			d.reply(ctx, log, msg.ChannelID, ActionFailedMessage)
			return
		}
		d.reply(ctx, log, msg.ChannelID, fmt.Sprintf(ExecutingFormat, cmd.Kind, command.DescribeServices(cmd.Services)))

	case intent.ConfirmationRequest:
		id := in.ActionID
		if !reply.Resolvable(id) {
			id = d.newID()
			log.Debug("dispatch: model action_id cannot be replied to, generated one", "model_action_id", in.ActionID, "action_id", id)
		}
		d.park(log, id, in.Action, msg)
		lead := strings.TrimSpace(in.Description)
		if lead == "" {
			lead = fmt.Sprintf(PromptFormat, in.Action.Kind, command.DescribeServices(in.Action.Services))
		}
		d.reply(ctx, log, msg.ChannelID, confirmationPrompt(lead, id))

	default:
		log.Error("dispatch: unhandled intent type", "type", fmt.Sprintf("%T", env.Intent))
		d.reply(ctx, log, msg.ChannelID, ProcessingFailMessage)
	}
}

// complete calls the model with a bounded deadline.
func (d *Dispatcher) complete(ctx context.Context, msg IncomingMessage, conversationID string) (llm.Completion, error) {
	mctx, cancel := context.WithTimeout(ctx, d.modelTimeout)
	defer cancel()

	start := time.Now()
	completion, err := d.model.Complete(mctx, llm.Request{
		Message:        msg.Body,
		ConversationID: conversationID,
		SenderID:       msg.SenderID,
	})
	metrics.ModelLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ModelErrorsTotal.WithLabelValues(modelErrorReason(err)).Inc()
	}
	return completion, err
}

func modelErrorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty"
	}
	return "transport"
}

// interpret turns a completion into an envelope, degrading any rejected
// output to the single fallback chat reply.
func (d *Dispatcher) interpret(log *slog.Logger, c llm.Completion, conversationID string) intent.Envelope {
	if c.PlainText {
		metrics.IntentsTotal.WithLabelValues(string(intent.MessageChat)).Inc()
		return intent.Plain(c.Content, conversationID)
	}

	env, err := intent.Normalize(c.Content, conversationID)
	if err != nil {
		stage := "unknown"
		var nerr *intent.NormalizeError
		if errors.As(err, &nerr) {
			stage = string(nerr.Stage)
		}
		metrics.NormalizeErrorsTotal.WithLabelValues(stage).Inc()
		metrics.IntentsTotal.WithLabelValues("fallback").Inc()
		log.Warn("dispatch: model output rejected", "stage", stage, "err", err)
		return intent.Fallback(c.Content, conversationID)
	}

	metrics.IntentsTotal.WithLabelValues(string(env.Intent.Type())).Inc()
	log.Debug("dispatch: intent", "type", env.Intent.Type(), "model_conversation_id", env.ConversationID)
	return env
}

func (d *Dispatcher) park(log *slog.Logger, id string, a intent.Action, msg IncomingMessage) {
	p := d.registry.Put(id, confirm.PendingAction{
		Kind:       a.Kind,
		Services:   a.Services,
		Parameters: a.Parameters,
		Channel:    msg.ChannelID,
		Requester:  msg.SenderID,
	})
	metrics.PendingConfirmations.Set(float64(d.registry.Len()))
	log.Info("dispatch: action awaiting confirmation", "action_id", id, "kind", a.Kind, "expires_at", p.ExpiresAt)
}

func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, cmd command.Command, origin string, msg IncomingMessage) error {
	pctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	err := d.publisher.Publish(pctx, cmd)
	cancel()

	rec := store.CommandRecord{
		RequestID:  cmd.RequestID,
		Kind:       string(cmd.Kind),
		Services:   cmd.Services,
		Parameters: cmd.Parameters,
		Origin:     origin,
		Requester:  msg.SenderID,
		ChannelID:  msg.ChannelID,
		TraceID:    trace.FromContext(ctx),
		Status:     store.StatusPublished,
	}
	if err != nil {
		metrics.PublishTotal.WithLabelValues(origin, "error").Inc()
		log.Error("dispatch: publish failed", "request_id", cmd.RequestID, "kind", cmd.Kind, "err", err)
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
	} else {
		metrics.PublishTotal.WithLabelValues(origin, "ok").Inc()
		log.Info("dispatch: command published", "request_id", cmd.RequestID, "kind", cmd.Kind, "services", cmd.Services)
	}

	if d.recorder != nil {
		if rerr := d.recorder.RecordCommand(ctx, rec); rerr != nil {
			log.Warn("dispatch: audit record failed", "request_id", cmd.RequestID, "err", rerr)
		}
	}
	return err
}

func (d *Dispatcher) reply(ctx context.Context, log *slog.Logger, channelID, body string) {
	if err := d.sender.SendText(ctx, channelID, body); err != nil {
		log.Error("dispatch: reply failed", "err", err)
	}
}
