package intent

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOutput means the candidate parsed as JSON but is not a
	// valid envelope (not an object, missing message_type or content).
	ErrMalformedOutput = errors.New("intent: malformed model output")

	// ErrUnknownMessageType means the envelope tag is not chat, action or
	// confirmation.
	ErrUnknownMessageType = errors.New("intent: unknown message type")

	// ErrSchemaViolation means the payload does not satisfy the schema for
	// its tag.
	ErrSchemaViolation = errors.New("intent: payload schema violation")
)

// Stage names the pipeline step a NormalizeError came from.
type Stage string

const (
	StageEnvelope    Stage = "envelope"
	StageMessageType Stage = "message_type"
	StagePayload     Stage = "payload"
)

// NormalizeError describes why a JSON candidate was rejected. It unwraps to
// one of the package sentinels so callers can use errors.Is.
type NormalizeError struct {
	Stage       Stage
	MessageType string
	Err         error
}

func (e *NormalizeError) Error() string {
	if e.MessageType != "" {
		return fmt.Sprintf("normalize %s (%s): %v", e.Stage, e.MessageType, e.Err)
	}
	return fmt.Sprintf("normalize %s: %v", e.Stage, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

func stageError(stage Stage, messageType string, sentinel error, format string, args ...any) *NormalizeError {
	return &NormalizeError{
		Stage:       stage,
		MessageType: messageType,
		Err:         fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}
