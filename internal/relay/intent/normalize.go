package intent

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/bdobrica/relay/common/spec/command"
)

// Normalize converts one raw model completion into an Envelope.
//
// If no JSON can be found in raw, the result is a Chat carrying raw verbatim
// and a nil error. If JSON is found but violates the envelope or payload
// contract, a *NormalizeError is returned and the Envelope is empty.
//
// A missing or empty conversation_id in the output is replaced with
// conversationID.
func Normalize(raw, conversationID string) (Envelope, error) {
	candidate := extractCandidate(raw)
	if !gjson.Valid(candidate) {
		return Plain(raw, conversationID), nil
	}

	root := gjson.Parse(candidate)
	tag, content, outputID, nerr := splitEnvelope(root)
	if nerr != nil {
		return Envelope{}, nerr
	}

	in, nerr := decodePayload(tag, content)
	if nerr != nil {
		return Envelope{}, nerr
	}

	if outputID == "" {
		outputID = conversationID
	}
	return Envelope{Intent: in, ConversationID: outputID}, nil
}

// Plain wraps text that is known not to be structured output.
func Plain(raw, conversationID string) Envelope {
	return Envelope{Intent: Chat{Text: raw}, ConversationID: conversationID}
}

func splitEnvelope(root gjson.Result) (string, gjson.Result, string, *NormalizeError) {
	if !root.IsObject() {
		return "", gjson.Result{}, "", stageError(StageEnvelope, "", ErrMalformedOutput, "expected a JSON object")
	}

	tag := root.Get("message_type")
	if !tag.Exists() {
		return "", gjson.Result{}, "", stageError(StageEnvelope, "", ErrMalformedOutput, "message_type is missing")
	}
	if tag.Type != gjson.String {
		return "", gjson.Result{}, "", stageError(StageEnvelope, "", ErrMalformedOutput, "message_type must be a string")
	}

	content := root.Get("content")
	if !content.IsObject() {
		return "", gjson.Result{}, "", stageError(StageEnvelope, tag.Str, ErrMalformedOutput, "content must be a JSON object")
	}

	var id string
	switch cid := root.Get("conversation_id"); cid.Type {
	case gjson.String:
		id = cid.Str
	case gjson.Null:
		// absent or explicit null
	default:
		return "", gjson.Result{}, "", stageError(StageEnvelope, tag.Str, ErrMalformedOutput, "conversation_id must be a string")
	}

	return tag.Str, content, id, nil
}

type actionContent struct {
	ActionType           command.Kind   `json:"action_type"`
	Services             []string       `json:"services"`
	Parameters           map[string]any `json:"parameters"`
	ConfirmationRequired bool           `json:"confirmation_required"`
}

type confirmationContent struct {
	ActionID      string `json:"action_id"`
	Description   string `json:"description"`
	ActionDetails struct {
		ActionType command.Kind   `json:"action_type"`
		Services   []string       `json:"services"`
		Parameters map[string]any `json:"parameters"`
	} `json:"action_details"`
}

func decodePayload(tag string, content gjson.Result) (Intent, *NormalizeError) {
	schema, ok := payloadSchemas[MessageType(tag)]
	if !ok {
		return nil, stageError(StageMessageType, tag, ErrUnknownMessageType, "%q", tag)
	}

	var doc any
	if err := json.Unmarshal([]byte(content.Raw), &doc); err != nil {
		return nil, stageError(StagePayload, tag, ErrSchemaViolation, "decode content: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, stageError(StagePayload, tag, ErrSchemaViolation, "%v", err)
	}

	switch MessageType(tag) {
	case MessageChat:
		return Chat{Text: content.Get("text").Str}, nil

	case MessageAction:
		var c actionContent
		if err := json.Unmarshal([]byte(content.Raw), &c); err != nil {
			return nil, stageError(StagePayload, tag, ErrSchemaViolation, "%v", err)
		}
		return Action{
			Kind:                 c.ActionType,
			Services:             nonNil(c.Services),
			Parameters:           c.Parameters,
			RequiresConfirmation: c.ConfirmationRequired,
		}, nil

	case MessageConfirmation:
		var c confirmationContent
		if err := json.Unmarshal([]byte(content.Raw), &c); err != nil {
			return nil, stageError(StagePayload, tag, ErrSchemaViolation, "%v", err)
		}
		return ConfirmationRequest{
			ActionID:    c.ActionID,
			Description: c.Description,
			Action: Action{
				Kind:       c.ActionDetails.ActionType,
				Services:   nonNil(c.ActionDetails.Services),
				Parameters: c.ActionDetails.Parameters,
			},
		}, nil
	}

	return nil, stageError(StageMessageType, tag, ErrUnknownMessageType, "%q", tag)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// fallbackNotice prefixes degraded replies so users can tell the relay did
// not understand the model's answer as a command.
const fallbackNotice = "I couldn't turn that into a command, so here is the raw answer:"

// Fallback is the single user-safe degradation for a completion Normalize
// rejected. The raw text is kept so the user still sees what the model said.
func Fallback(raw, conversationID string) Envelope {
	return Envelope{
		Intent:         Chat{Text: fmt.Sprintf("%s\n\n%s", fallbackNotice, raw)},
		ConversationID: conversationID,
	}
}
