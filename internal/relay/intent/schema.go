package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/relay/common/spec/command"
)

const chatSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "The chat message text"}
  },
  "required": ["text"],
  "additionalProperties": false
}`

const actionSchemaTemplate = `{
  "type": "object",
  "properties": {
    "action_type": {"type": "string", "enum": %[1]s, "description": "The type of action to perform"},
    "services": {"type": "array", "items": {"type": "string", "minLength": 1}, "description": "List of service names to act upon"},
    "parameters": {"type": "object", "description": "Action-specific parameters"},
    "confirmation_required": {"type": "boolean", "description": "Whether this action requires confirmation"}
  },
  "required": ["action_type", "services", "parameters", "confirmation_required"],
  "additionalProperties": false
}`

const confirmationSchemaTemplate = `{
  "type": "object",
  "properties": {
    "action_id": {"type": "string", "description": "Unique identifier for the action"},
    "description": {"type": "string", "description": "Description of the action requiring confirmation"},
    "action_details": {
      "type": "object",
      "properties": {
        "action_type": {"type": "string", "enum": %[1]s},
        "services": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "parameters": {"type": "object"}
      },
      "required": ["action_type", "services", "parameters"],
      "additionalProperties": false
    }
  },
  "required": ["action_id", "description", "action_details"],
  "additionalProperties": false
}`

const envelopeSchemaTemplate = `{
  "type": "object",
  "properties": {
    "message_type": {"type": "string", "enum": ["chat", "action", "confirmation"], "description": "The type of message being sent"},
    "content": {"type": "object", "oneOf": [%[1]s, %[2]s, %[3]s]},
    "conversation_id": {"type": "string", "description": "Unique identifier for the conversation"}
  },
  "required": ["message_type", "content", "conversation_id"],
  "additionalProperties": false
}`

var (
	actionSchema       = fmt.Sprintf(actionSchemaTemplate, kindEnum())
	confirmationSchema = fmt.Sprintf(confirmationSchemaTemplate, kindEnum())

	payloadSchemas = map[MessageType]*jsonschema.Schema{
		MessageChat:         jsonschema.MustCompileString("relay://intent/chat.json", chatSchema),
		MessageAction:       jsonschema.MustCompileString("relay://intent/action.json", actionSchema),
		MessageConfirmation: jsonschema.MustCompileString("relay://intent/confirmation.json", confirmationSchema),
	}
)

func kindEnum() string {
	quoted := make([]string, 0, len(command.Kinds()))
	for _, k := range command.Kinds() {
		quoted = append(quoted, fmt.Sprintf("%q", k))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// ResponseSchema returns the JSON schema of the full envelope. It is sent to
// the model as a structured-output constraint so that well-behaved models
// produce text Normalize accepts without falling back.
func ResponseSchema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(envelopeSchemaTemplate, chatSchema, actionSchema, confirmationSchema))
}
