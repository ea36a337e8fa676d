// Package command defines the wire contract for service-control commands
// carried on the command bus. The relay publishes Commands; executor agents
// subscribe to them and act on the named services.
//
// The JSON field names are part of the contract shared with deployed agents
// and must not change: action_type, services, parameters, request_id.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of actions an agent knows how to perform.
type Kind string

const (
	KindStatus           Kind = "status"
	KindStart            Kind = "start"
	KindStop             Kind = "stop"
	KindRestart          Kind = "restart"
	KindStartWithTimeout Kind = "start_with_timeout"
	KindConfigure        Kind = "configure"
)

var allKinds = []Kind{
	KindStatus,
	KindStart,
	KindStop,
	KindRestart,
	KindStartWithTimeout,
	KindConfigure,
}

// ErrUnknownKind is returned when an action kind is outside the closed set.
var ErrUnknownKind = errors.New("command: unknown action kind")

// Kinds returns every valid Kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts s into a Kind. Matching is exact; "Restart" is not
// accepted for "restart".
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// UnmarshalJSON rejects kinds outside the closed set.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("action kind must be a string: %w", err)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Command is the payload published on the bus for every approved action.
type Command struct {
	// Kind is the action to perform.
	Kind Kind `json:"action_type"`

	// Services lists the target service identifiers in the order the user
	// named them. An empty list means "fleet-wide"; whether that is allowed
	// is the agent's decision.
	Services []string `json:"services"`

	// Parameters carries action-specific options (e.g. "timeout" for
	// start_with_timeout). Values are opaque to the relay.
	Parameters map[string]any `json:"parameters"`

	// RequestID correlates the command with the chat turn or confirmation
	// that produced it.
	RequestID string `json:"request_id"`
}

// Validate checks the structural invariants of a Command.
func (c *Command) Validate() error {
	if c == nil {
		return fmt.Errorf("command must not be nil")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if strings.TrimSpace(c.RequestID) == "" {
		return fmt.Errorf("request_id must not be empty")
	}
	for i, s := range c.Services {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("services[%d] must not be empty", i)
		}
	}
	return nil
}

// Encode validates c and serialises it to JSON. Nil Services and Parameters
// are emitted as [] and {} so consumers never see null.
func Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("command encode: %w", err)
	}
	if c.Services == nil {
		c.Services = []string{}
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	return json.Marshal(c)
}

// Decode parses a JSON payload into a Command and validates it. It is the
// canonical entry point for agents reading from the bus.
func Decode(data []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("command decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("command validate: %w", err)
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	return &c, nil
}

// DescribeServices renders a service list for human-facing messages.
func DescribeServices(services []string) string {
	if len(services) == 0 {
		return "all services"
	}
	return strings.Join(services, ", ")
}
