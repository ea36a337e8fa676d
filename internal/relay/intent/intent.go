// Package intent turns raw language-model output into a typed Intent.
//
// A model completion is untrusted text. Normalize extracts the JSON candidate
// from it, checks the envelope, validates the tagged payload against its
// schema and returns exactly one of Chat, Action or ConfirmationRequest.
// Output that is not JSON at all becomes Chat; output that is JSON but does
// not satisfy the contract becomes a *NormalizeError, which callers degrade
// with Fallback.
package intent

import (
	"github.com/bdobrica/relay/common/spec/command"
)

// MessageType is the envelope tag that selects the payload schema.
type MessageType string

const (
	MessageChat         MessageType = "chat"
	MessageAction       MessageType = "action"
	MessageConfirmation MessageType = "confirmation"
)

// Intent is the sealed sum of things the relay can do with a model reply.
// The only implementations are Chat, Action and ConfirmationRequest.
type Intent interface {
	Type() MessageType
	isIntent()
}

// Chat is free text to relay to the user.
type Chat struct {
	Text string
}

// Action is a service operation the model wants performed.
type Action struct {
	Kind       command.Kind
	Services   []string
	Parameters map[string]any

	// RequiresConfirmation is true when the user must explicitly approve the
	// action before anything is published.
	RequiresConfirmation bool
}

// ConfirmationRequest is an action the model has already framed as a
// question to the user. ActionID may be empty or unusable as a reply token;
// the dispatcher then assigns one.
type ConfirmationRequest struct {
	ActionID    string
	Description string
	Action      Action
}

func (Chat) Type() MessageType                { return MessageChat }
func (Action) Type() MessageType              { return MessageAction }
func (ConfirmationRequest) Type() MessageType { return MessageConfirmation }

func (Chat) isIntent()                {}
func (Action) isIntent()              {}
func (ConfirmationRequest) isIntent() {}

// Command builds the bus command for a, tagged with requestID.
func (a Action) Command(requestID string) command.Command {
	return command.Command{
		Kind:       a.Kind,
		Services:   a.Services,
		Parameters: a.Parameters,
		RequestID:  requestID,
	}
}

// Envelope pairs an Intent with the conversation it belongs to.
type Envelope struct {
	Intent         Intent
	ConversationID string
}
