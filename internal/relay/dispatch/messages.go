package dispatch

import "fmt"

// User-facing replies. NotFoundMessage is matched verbatim by existing chat
// integrations and must not change.
const (
	NotFoundMessage       = "I couldn't find that confirmation request. It may have expired."
	CancelledMessage      = "Action cancelled."
	ConfirmedFormat       = "Action confirmed! Executing %s on services: %s."
	ConfirmFailedMessage  = "Sorry, I encountered an error executing your confirmation."
	ExecutingFormat       = "Executing %s on services: %s."
	ActionFailedMessage   = "Sorry, I encountered an error executing your action request."
	PromptFormat          = "I'll perform this action: %s on services: %s."
	ProcessingFailMessage = "Sorry, I encountered an error processing your request."
	ModelBusyMessage      = "The language model is rate-limiting requests right now. Please try again in a minute."
	RateLimitedMessage    = "You're sending requests faster than I can handle. Please wait a moment and try again."
	EmptyChatMessage      = "I don't have anything to say to that. Could you rephrase?"

	// ReplyInstructionFormat is appended to every confirmation prompt.
	ReplyInstructionFormat = "Reply with 'confirm %[1]s' to proceed or 'cancel %[1]s' to abort."
)

func confirmationPrompt(lead, actionID string) string {
	return lead + " " + fmt.Sprintf(ReplyInstructionFormat, actionID)
}
