// Package llm wraps the language-model completion call the relay depends on.
//
// The relay only needs one capability from a model: given the user's text,
// return raw output (hopefully JSON matching the response schema) or report
// a transport failure. Interpreting that output is the intent package's job.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrTransport is returned when the model endpoint could not be reached
	// or rejected the request.
	ErrTransport = errors.New("llm: transport failure")

	// ErrRateLimit is returned when the upstream API reports HTTP 429.
	// Callers should tell the user to retry later rather than apologise
	// generically.
	ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

	// ErrEmptyResponse is returned when the API answered but produced no
	// choices.
	ErrEmptyResponse = errors.New("llm: no choices in completion")
)

// Request is the input to a single completion.
type Request struct {
	// Message is the user's text, unmodified.
	Message string

	// ConversationID is the id generated for this turn. It is shown to the
	// model so that it can echo it back in the envelope.
	ConversationID string

	// SenderID identifies the chat user. It is used for logging only and is
	// never sent to the model.
	SenderID string
}

// Usage reports token accounting for a completion when the API provides it.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the raw result of a model call.
type Completion struct {
	// Content is the model's output text. It may be empty, prose, fenced
	// JSON or anything else.
	Content string

	// PlainText is set when the endpoint itself reports that Content is not
	// structured output, for example a structured-output refusal.
	PlainText bool

	Usage *Usage
}

// Model produces completions. Implementations must be safe for concurrent
// use.
type Model interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}
