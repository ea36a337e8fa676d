// Package reply decides whether a chat message resolves a pending
// confirmation, and if so which one and in which direction.
package reply

import (
	"fmt"
	"strings"
	"unicode"
)

// Mode selects how keywords are matched against the message.
type Mode string

const (
	// ModeToken matches whole words only, so "now" does not read as "no".
	ModeToken Mode = "token"
	// ModeSubstring matches keywords anywhere in the text, including inside
	// other words. It reproduces the behaviour older chat transcripts rely on.
	ModeSubstring Mode = "substring"
)

// ParseMode converts a config string into a Mode. The empty string selects
// ModeToken.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeToken:
		return ModeToken, nil
	case ModeSubstring:
		return ModeSubstring, nil
	}
	return "", fmt.Errorf("reply: unknown match mode %q (want %q or %q)", s, ModeToken, ModeSubstring)
}

// Resolution is a classified confirm/cancel reply.
type Resolution struct {
	// ActionID is the candidate id taken from the last word of the message.
	// It is not checked against any format.
	ActionID string
	// Confirm is true for an affirmation and false for a cancellation.
	Confirm bool
}

var (
	triggerWords     = []string{"confirm", "cancel"}
	affirmationWords = []string{"yes", "confirm"}
	negationWords    = []string{"no", "cancel"}
)

// idQuotes are stripped from both ends of the id token so that replies like
// "confirm `3f2a`" copied from a formatted prompt still resolve.
const idQuotes = "`'\"<>"

// Resolvable reports whether a reply of the form "confirm <id>" would
// resolve back to id exactly. Ids with whitespace or with leading or
// trailing quote characters would not.
func Resolvable(id string) bool {
	if id == "" || strings.ContainsFunc(id, unicode.IsSpace) {
		return false
	}
	return strings.Trim(id, idQuotes) == id
}

// Classifier recognises confirm/cancel replies.
type Classifier struct {
	mode Mode
}

// NewClassifier returns a Classifier using mode. An invalid mode falls back to
// ModeToken.
func NewClassifier(mode Mode) *Classifier {
	if mode != ModeSubstring {
		mode = ModeToken
	}
	return &Classifier{mode: mode}
}

// Mode reports the active matching mode.
func (c *Classifier) Mode() Mode { return c.mode }

// Classify reports whether text resolves a confirmation. The id is the last
// whitespace-separated word of the original text. When the text both affirms
// and negates, affirmation wins.
func (c *Classifier) Classify(text string) (Resolution, bool) {
	lower := strings.ToLower(text)
	words := strings.Fields(text)

	match := c.matcher(lower)
	if !match(triggerWords) {
		return Resolution{}, false
	}
	if len(words) < 2 {
		return Resolution{}, false
	}

	id := strings.Trim(words[len(words)-1], idQuotes)
	if id == "" {
		return Resolution{}, false
	}

	switch {
	case match(affirmationWords):
		return Resolution{ActionID: id, Confirm: true}, true
	case match(negationWords):
		return Resolution{ActionID: id, Confirm: false}, true
	}
	return Resolution{}, false
}

func (c *Classifier) matcher(lower string) func([]string) bool {
	if c.mode == ModeSubstring {
		return func(keywords []string) bool {
			for _, k := range keywords {
				if strings.Contains(lower, k) {
					return true
				}
			}
			return false
		}
	}

	tokens := make(map[string]struct{})
	for _, w := range strings.Fields(lower) {
		tokens[strings.Trim(w, idQuotes+".,;:!?()[]")] = struct{}{}
	}
	return func(keywords []string) bool {
		for _, k := range keywords {
			if _, ok := tokens[k]; ok {
				return true
			}
		}
		return false
	}
}
