package matrix

import (
	"slices"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// admission decides which inbound events reach the relay.
type admission struct {
	self    id.UserID
	rooms   []string
	senders []string
	maxAge  time.Duration
	now     func() time.Time
}

// allowSender reports whether sender may talk to the relay. An empty
// allowlist admits everyone.
func (a *admission) allowSender(sender id.UserID) bool {
	return len(a.senders) == 0 || slices.Contains(a.senders, sender.String())
}

// allowRoom reports whether messages in room are handled. An empty room list
// admits every joined room.
func (a *admission) allowRoom(room id.RoomID) bool {
	return len(a.rooms) == 0 || slices.Contains(a.rooms, room.String())
}

// message extracts the text body of evt, or reports false when the event
// should be ignored: own messages, non-text types, stale history, or
// disallowed rooms and senders.
func (a *admission) message(evt *event.Event) (string, bool) {
	if evt.Sender == a.self {
		return "", false
	}
	if a.maxAge > 0 && evt.Timestamp > 0 {
		sent := time.UnixMilli(evt.Timestamp)
		if a.now().Sub(sent) > a.maxAge {
			return "", false
		}
	}
	if !a.allowRoom(evt.RoomID) || !a.allowSender(evt.Sender) {
		return "", false
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return "", false
	}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
	default:
		return "", false
	}
	if content.Body == "" {
		return "", false
	}
	return content.Body, true
}

// invite reports whether evt invites the relay from an allowed sender.
func (a *admission) invite(evt *event.Event) bool {
	if evt.GetStateKey() != a.self.String() {
		return false
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return false
	}
	return a.allowSender(evt.Sender)
}
